package encoding

import (
	"bytes"
	"testing"

	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
)

func TestRawSendWritesExactBytes(t *testing.T) {
	var buf bytes.Buffer
	raw := NewRaw()
	region := framebuffer.Rectangle{Width: 2, Height: 1}
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8} // 2 pixels * 4 bytes
	n, err := raw.Send(&buf, pixfmt.RGB888, region, data)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 8 || buf.Len() != 8 {
		t.Fatalf("Send wrote %d bytes (buf has %d), want 8", n, buf.Len())
	}
}

func TestRawSendRejectsWrongLength(t *testing.T) {
	raw := NewRaw()
	region := framebuffer.Rectangle{Width: 2, Height: 1}
	if _, err := raw.Send(&bytes.Buffer{}, pixfmt.RGB888, region, []byte{1, 2, 3}); err == nil {
		t.Fatal("Send should reject a short payload")
	}
}

func TestCopyRectSendWritesSrcPoint(t *testing.T) {
	var buf bytes.Buffer
	cr := NewCopyRect()
	n, err := cr.Send(&buf, pixfmt.RGB888, framebuffer.Rectangle{}, EncodeSrcPoint(1, 0))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 4 {
		t.Fatalf("Send wrote %d bytes, want 4", n)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x00, 0x01, 0x00, 0x00}) {
		t.Fatalf("payload = %x, want 00010000", buf.Bytes())
	}
}

func TestRegistrySelectPrefersClientOrder(t *testing.T) {
	r := NewRegistry()
	e := r.Select([]Code{ExtendedDesktopSize, Raw, CopyRect})
	if e.Code() != Raw {
		t.Fatalf("Select() = %v, want Raw (first registered non-CopyRect match in client order)", e.Code())
	}
}

func TestRegistrySelectNeverReturnsCopyRect(t *testing.T) {
	r := NewRegistry()
	e := r.Select([]Code{CopyRect})
	if e.Code() != Raw {
		t.Fatalf("Select() = %v, want Raw fallback: CopyRect is never a generic pixel encoder", e.Code())
	}
}

func TestRegistrySelectFallsBackToRaw(t *testing.T) {
	r := NewRegistry()
	e := r.Select([]Code{99})
	if e.Code() != Raw {
		t.Fatalf("Select() = %v, want Raw fallback", e.Code())
	}
}

func TestStatsRecordAccumulates(t *testing.T) {
	var s Stats
	s.Record(100, 50)
	s.Record(200, 80)
	snap := s.Snapshot()
	if snap.Rectangles != 2 || snap.RawBytes != 300 || snap.EncodedBytes != 130 {
		t.Fatalf("Snapshot = %+v, want {2 300 130}", snap)
	}
}

func TestSupports(t *testing.T) {
	if !Supports([]Code{Raw, CopyRect}, CopyRect) {
		t.Fatal("Supports should find CopyRect in the list")
	}
	if Supports([]Code{Raw}, CopyRect) {
		t.Fatal("Supports should not find CopyRect when absent")
	}
}

func TestContentsPoolRoundTrip(t *testing.T) {
	buf := GetContents(100)
	if len(buf) != 100 {
		t.Fatalf("GetContents(100) length = %d, want 100", len(buf))
	}
	PutContents(buf)
	buf2 := GetContents(100)
	if len(buf2) != 100 {
		t.Fatalf("GetContents(100) after Put length = %d, want 100", len(buf2))
	}
}

package session

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/breeze-rmm/rfbserver/internal/rfb/captransport"
	"github.com/breeze-rmm/rfbserver/internal/rfb/encoding"
	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
	"github.com/breeze-rmm/rfbserver/internal/rfb/wire"
)

func readN(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if err := wire.ReadFull(r, buf); err != nil {
		t.Fatalf("reading %d bytes: %v", n, err)
	}
	return buf
}

func newScenarioFramebuffer(t *testing.T) *framebuffer.Framebuffer {
	t.Helper()
	buf := []byte{0xFF, 0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF}
	fb, err := framebuffer.NewWithBuffer("t", 2, 1, pixfmt.RGB888, buf)
	if err != nil {
		t.Fatalf("NewWithBuffer: %v", err)
	}
	return fb
}

// TestHandshakeOKNoneAuthAndNonIncrementalUpdate drives spec.md §8 scenarios
// 1 and 2 end to end over a net.Pipe: version exchange, None auth,
// ClientInit/ServerInit, then a non-incremental FramebufferUpdateRequest.
func TestHandshakeOKNoneAuthAndNonIncrementalUpdate(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fb := newScenarioFramebuffer(t)
	src := captransport.NewStaticSource(fb)

	connected := make(chan ConnectedEvent, 1)
	cfg := Config{
		Name:           "t",
		MaxFrameRateHz: 1000,
		Capture:        src,
		Listener: Listener{
			Connected: func(ev ConnectedEvent) { connected <- ev },
		},
	}
	sess := New(serverConn, cfg)

	done := make(chan error, 1)
	go func() { done <- sess.Connect() }()

	banner := readN(t, clientConn, 12)
	if string(banner) != versionBanner {
		t.Fatalf("banner = %q, want %q", banner, versionBanner)
	}
	if _, err := clientConn.Write([]byte(versionBanner)); err != nil {
		t.Fatalf("write version: %v", err)
	}

	methods := readN(t, clientConn, 2)
	if !bytes.Equal(methods, []byte{0x01, 0x01}) {
		t.Fatalf("security methods = % x, want 01 01 (one method, None)", methods)
	}
	if _, err := clientConn.Write([]byte{0x01}); err != nil {
		t.Fatalf("write selected method: %v", err)
	}

	result := readN(t, clientConn, 4)
	if !bytes.Equal(result, []byte{0, 0, 0, 0}) {
		t.Fatalf("security result = % x, want 00 00 00 00", result)
	}

	if _, err := clientConn.Write([]byte{0x01}); err != nil { // shared=true
		t.Fatalf("write ClientInit: %v", err)
	}

	serverInit := readN(t, clientConn, 2+2+pixfmt.WireSize+4+1)
	want := append([]byte{0x00, 0x02, 0x00, 0x01}, pixfmt.RGB888.Encode()...)
	want = append(want, 0x00, 0x00, 0x00, 0x01, 't')
	if !bytes.Equal(serverInit, want) {
		t.Fatalf("ServerInit = % x, want % x", serverInit, want)
	}

	select {
	case ev := <-connected:
		if ev.ClientWidth != 2 || ev.ClientHeight != 1 {
			t.Fatalf("ConnectedEvent = %+v, want 2x1", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Connected listener event never fired")
	}

	fbur := []byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01}
	if _, err := clientConn.Write(fbur); err != nil {
		t.Fatalf("write FramebufferUpdateRequest: %v", err)
	}

	header := readN(t, clientConn, 4)
	if !bytes.Equal(header, []byte{0x00, 0x00, 0x00, 0x01}) {
		t.Fatalf("FramebufferUpdate header = % x, want 00 00 00 01", header)
	}

	var rectWant bytes.Buffer
	if err := encoding.WriteRectHeader(&rectWant, framebuffer.Rectangle{X: 0, Y: 0, Width: 2, Height: 1}, encoding.Raw); err != nil {
		t.Fatalf("building expected rect header: %v", err)
	}
	rectHeader := readN(t, clientConn, rectWant.Len())
	if !bytes.Equal(rectHeader, rectWant.Bytes()) {
		t.Fatalf("rect header = % x, want % x", rectHeader, rectWant.Bytes())
	}

	pixels := readN(t, clientConn, 8)
	if !bytes.Equal(pixels, []byte{0xFF, 0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF}) {
		t.Fatalf("pixels = % x, want original framebuffer bytes", pixels)
	}

	sess.Close()
	clientConn.Close()
	<-done
}

// TestBadVersionFiresConnectionFailed drives spec.md §8 scenario 4.
func TestBadVersionFiresConnectionFailed(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fb := newScenarioFramebuffer(t)
	cfg := Config{
		Capture: captransport.NewStaticSource(fb),
	}

	var gotFailed bool
	failed := make(chan struct{}, 1)
	var gotConnected bool
	cfg.Listener = Listener{
		ConnectionFailed: func(ConnectionFailedEvent) { gotFailed = true; failed <- struct{}{} },
		Connected:        func(ConnectedEvent) { gotConnected = true },
	}
	sess := New(serverConn, cfg)

	done := make(chan error, 1)
	go func() { done <- sess.Connect() }()

	_ = readN(t, clientConn, 12) // version banner
	if _, err := clientConn.Write([]byte("RFB 003.003\n")); err != nil {
		t.Fatalf("write version: %v", err)
	}

	countByte := readN(t, clientConn, 1)
	if countByte[0] != 0 {
		t.Fatalf("security method count = %d, want 0 for an unsupported version", countByte[0])
	}

	reasonLen := readN(t, clientConn, 4)
	n := int(reasonLen[0])<<24 | int(reasonLen[1])<<16 | int(reasonLen[2])<<8 | int(reasonLen[3])
	_ = readN(t, clientConn, n) // reason text, content not asserted

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("ConnectionFailed listener event never fired")
	}
	if !gotFailed || gotConnected {
		t.Fatalf("gotFailed=%v gotConnected=%v, want failed only", gotFailed, gotConnected)
	}

	clientConn.Close()
	<-done
}

// TestCopyRectFromHintedMove drives spec.md §8 scenario 3: once the cache
// has a warm snapshot, a capture-aware source's move hint becomes a CopyRect
// rectangle instead of a fresh pixel read.
func TestCopyRectFromHintedMove(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fb := newScenarioFramebuffer(t)
	dest := framebuffer.Rectangle{X: 1, Y: 0, Width: 1, Height: 1}

	hinted := false
	producer := func() (*framebuffer.CapturedFramebuffer, error) {
		if !hinted {
			return &framebuffer.CapturedFramebuffer{Framebuffer: fb}, nil
		}
		return &framebuffer.CapturedFramebuffer{
			Framebuffer:    fb,
			MoveRectangles: []framebuffer.MoveRect{{SrcX: 0, SrcY: 0, Dest: dest}},
		}, nil
	}

	cfg := Config{
		MaxFrameRateHz: 1000,
		Capture:        captransport.NewTickerSource(producer, nil),
	}
	sess := New(serverConn, cfg)

	done := make(chan error, 1)
	go func() { done <- sess.Connect() }()

	_ = readN(t, clientConn, 12)
	if _, err := clientConn.Write([]byte(versionBanner)); err != nil {
		t.Fatalf("write version: %v", err)
	}
	_ = readN(t, clientConn, 2)
	if _, err := clientConn.Write([]byte{0x01}); err != nil {
		t.Fatalf("write selected method: %v", err)
	}
	_ = readN(t, clientConn, 4)
	if _, err := clientConn.Write([]byte{0x01}); err != nil {
		t.Fatalf("write ClientInit: %v", err)
	}
	_ = readN(t, clientConn, 2+2+pixfmt.WireSize+4+1)

	// SetEncodings: [CopyRect, Raw].
	setEnc := []byte{0x02, 0x00, 0x00, 0x02}
	setEnc = append(setEnc, 0x00, 0x00, 0x00, 0x01) // CopyRect = 1
	setEnc = append(setEnc, 0x00, 0x00, 0x00, 0x00) // Raw = 0
	if _, err := clientConn.Write(setEnc); err != nil {
		t.Fatalf("write SetEncodings: %v", err)
	}

	// First, non-incremental request to warm the cache (no hints yet).
	if _, err := clientConn.Write([]byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01}); err != nil {
		t.Fatalf("write first FramebufferUpdateRequest: %v", err)
	}
	_ = readN(t, clientConn, 4) // FramebufferUpdate header
	var rawRectWant bytes.Buffer
	if err := encoding.WriteRectHeader(&rawRectWant, framebuffer.Rectangle{X: 0, Y: 0, Width: 2, Height: 1}, encoding.Raw); err != nil {
		t.Fatalf("building expected rect header: %v", err)
	}
	_ = readN(t, clientConn, rawRectWant.Len())
	_ = readN(t, clientConn, 8) // raw pixel payload

	// Second capture now reports the move hint.
	hinted = true
	if _, err := clientConn.Write([]byte{0x03, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01}); err != nil {
		t.Fatalf("write incremental FramebufferUpdateRequest: %v", err)
	}

	header := readN(t, clientConn, 4)
	if !bytes.Equal(header, []byte{0x00, 0x00, 0x00, 0x01}) {
		t.Fatalf("FramebufferUpdate header = % x, want 00 00 00 01", header)
	}

	var copyRectWant bytes.Buffer
	if err := encoding.WriteRectHeader(&copyRectWant, dest, encoding.CopyRect); err != nil {
		t.Fatalf("building expected CopyRect header: %v", err)
	}
	rectHeader := readN(t, clientConn, copyRectWant.Len())
	if !bytes.Equal(rectHeader, copyRectWant.Bytes()) {
		t.Fatalf("rect header = % x, want % x", rectHeader, copyRectWant.Bytes())
	}

	srcPoint := readN(t, clientConn, 4)
	if !bytes.Equal(srcPoint, []byte{0x00, 0x00, 0x00, 0x00}) {
		t.Fatalf("CopyRect source point = % x, want 00 00 00 00", srcPoint)
	}

	sess.Close()
	clientConn.Close()
	<-done
}

// TestResizeViaSetDesktopSize drives spec.md §8 scenario 5.
func TestResizeViaSetDesktopSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fb := newScenarioFramebuffer(t)
	var resizeCalled bool
	src := captransport.NewTickerSource(
		func() (*framebuffer.CapturedFramebuffer, error) {
			return &framebuffer.CapturedFramebuffer{Framebuffer: fb}, nil
		},
		func(w, h int) (encoding.DesktopSizeStatus, error) {
			resizeCalled = true
			if w != 100 || h != 50 {
				t.Fatalf("SetDesktopSize called with %dx%d, want 100x50", w, h)
			}
			return encoding.StatusSuccess, nil
		},
	)

	cfg := Config{MaxFrameRateHz: 1000, Capture: src}
	sess := New(serverConn, cfg)

	done := make(chan error, 1)
	go func() { done <- sess.Connect() }()

	_ = readN(t, clientConn, 12)
	if _, err := clientConn.Write([]byte(versionBanner)); err != nil {
		t.Fatalf("write version: %v", err)
	}
	_ = readN(t, clientConn, 2)
	if _, err := clientConn.Write([]byte{0x01}); err != nil {
		t.Fatalf("write selected method: %v", err)
	}
	_ = readN(t, clientConn, 4)
	if _, err := clientConn.Write([]byte{0x01}); err != nil {
		t.Fatalf("write ClientInit: %v", err)
	}
	_ = readN(t, clientConn, 2+2+pixfmt.WireSize+4+1)

	// SetDesktopSize: opcode, padding, width=100, height=50, numScreens=0, padding.
	req := []byte{0xFB, 0x00, 0x00, 0x64, 0x00, 0x32, 0x00, 0x00}
	if _, err := clientConn.Write(req); err != nil {
		t.Fatalf("write SetDesktopSize: %v", err)
	}

	header := readN(t, clientConn, 4)
	if !bytes.Equal(header, []byte{0x00, 0x00, 0x00, 0x01}) {
		t.Fatalf("FramebufferUpdate header = % x, want 00 00 00 01", header)
	}
	var rectWant bytes.Buffer
	if err := encoding.WriteExtendedDesktopSize(&rectWant, encoding.ReasonClient, encoding.StatusSuccess, 100, 50, nil); err != nil {
		t.Fatalf("building expected ExtendedDesktopSize rectangle: %v", err)
	}
	rect := readN(t, clientConn, rectWant.Len())
	if !bytes.Equal(rect, rectWant.Bytes()) {
		t.Fatalf("ExtendedDesktopSize rectangle = % x, want % x", rect, rectWant.Bytes())
	}
	if !resizeCalled {
		t.Fatal("CaptureSource.SetDesktopSize was never called")
	}

	sess.Close()
	clientConn.Close()
	<-done
}

// TestBellDoesNotInterleaveWithPumpTick drives spec.md §8 scenario 6: a
// direct Bell() call and a concurrent pump-driven FramebufferUpdate must
// each appear on the wire as an unbroken byte run, serialized by streamLock.
func TestBellDoesNotInterleaveWithPumpTick(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	fb := newScenarioFramebuffer(t)
	src := captransport.NewStaticSource(fb)
	cfg := Config{MaxFrameRateHz: 1000, Capture: src}
	sess := New(serverConn, cfg)

	done := make(chan error, 1)
	go func() { done <- sess.Connect() }()

	_ = readN(t, clientConn, 12)
	if _, err := clientConn.Write([]byte(versionBanner)); err != nil {
		t.Fatalf("write version: %v", err)
	}
	_ = readN(t, clientConn, 2)
	if _, err := clientConn.Write([]byte{0x01}); err != nil {
		t.Fatalf("write selected method: %v", err)
	}
	_ = readN(t, clientConn, 4)
	if _, err := clientConn.Write([]byte{0x01}); err != nil {
		t.Fatalf("write ClientInit: %v", err)
	}
	_ = readN(t, clientConn, 2+2+pixfmt.WireSize+4+1)

	if _, err := clientConn.Write([]byte{0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01}); err != nil {
		t.Fatalf("write FramebufferUpdateRequest: %v", err)
	}

	bellDone := make(chan error, 1)
	go func() { bellDone <- sess.Bell() }()

	first := readN(t, clientConn, 1)
	switch first[0] {
	case 0x02: // Bell won the race: the entire next message must be an intact FramebufferUpdate.
		updateHeader := readN(t, clientConn, 4)
		if !bytes.Equal(updateHeader, []byte{0x00, 0x00, 0x00, 0x01}) {
			t.Fatalf("FramebufferUpdate header after Bell = % x, want 00 00 00 01", updateHeader)
		}
		var rectWant bytes.Buffer
		if err := encoding.WriteRectHeader(&rectWant, framebuffer.Rectangle{X: 0, Y: 0, Width: 2, Height: 1}, encoding.Raw); err != nil {
			t.Fatalf("building expected rect header: %v", err)
		}
		_ = readN(t, clientConn, rectWant.Len())
		_ = readN(t, clientConn, 8)
	case 0x00: // update won the race: Bell's single byte must follow only after the whole update.
		rest := readN(t, clientConn, 3)
		if !bytes.Equal(rest, []byte{0x00, 0x00, 0x01}) {
			t.Fatalf("FramebufferUpdate header tail = % x, want 00 00 01", rest)
		}
		var rectWant bytes.Buffer
		if err := encoding.WriteRectHeader(&rectWant, framebuffer.Rectangle{X: 0, Y: 0, Width: 2, Height: 1}, encoding.Raw); err != nil {
			t.Fatalf("building expected rect header: %v", err)
		}
		_ = readN(t, clientConn, rectWant.Len())
		_ = readN(t, clientConn, 8)
		bell := readN(t, clientConn, 1)
		if bell[0] != 0x02 {
			t.Fatalf("expected Bell byte 02 after the update, got %x", bell[0])
		}
	default:
		t.Fatalf("unexpected first byte %x", first[0])
	}

	if err := <-bellDone; err != nil {
		t.Fatalf("Bell: %v", err)
	}

	sess.Close()
	clientConn.Close()
	<-done
}

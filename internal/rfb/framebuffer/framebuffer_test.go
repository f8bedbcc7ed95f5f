package framebuffer

import (
	"testing"

	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
)

func TestNewComputesStride(t *testing.T) {
	fb, err := New("t", 4, 2, pixfmt.RGB888)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if fb.Stride() != 16 {
		t.Fatalf("Stride() = %d, want 16 (4 * 4 bytes/px)", fb.Stride())
	}
	if len(fb.GetBuffer()) != 32 {
		t.Fatalf("buffer length = %d, want 32", len(fb.GetBuffer()))
	}
}

func TestNewWithBufferRejectsWrongLength(t *testing.T) {
	if _, err := NewWithBuffer("t", 4, 2, pixfmt.RGB888, make([]byte, 4)); err == nil {
		t.Fatal("NewWithBuffer should reject a buffer of the wrong length")
	}
}

func TestSameLayout(t *testing.T) {
	a, _ := New("a", 4, 2, pixfmt.RGB888)
	b, _ := New("b", 4, 2, pixfmt.RGB888)
	c, _ := New("c", 8, 2, pixfmt.RGB888)
	if !a.SameLayout(b) {
		t.Fatal("same dimensions/format should report SameLayout")
	}
	if a.SameLayout(c) {
		t.Fatal("different widths should not report SameLayout")
	}
}

func TestCaptureHints(t *testing.T) {
	fb, _ := New("t", 4, 2, pixfmt.RGB888)
	cf := &CapturedFramebuffer{
		Framebuffer:     fb,
		DirtyRectangles: []Rectangle{{Width: 1, Height: 1}},
	}
	_, dirty, _ := cf.CaptureHints()
	if len(dirty) != 1 {
		t.Fatalf("CaptureHints dirty = %d, want 1", len(dirty))
	}
}

// Package captransport defines the out-of-scope capture-source contract a
// Session drives (spec.md §4.7 step 3: "invoke captureSource.Capture()")
// plus small in-memory fixtures for exercising the session and pump without
// a real platform capturer. Grounded on the teacher's ScreenCapturer
// interface (internal/remote/desktop/capture.go): only Capture survives,
// generalized from image.RGBA to framebuffer.CapturedFramebuffer, and the
// interface adds SupportsResizing/SetDesktopSize for spec.md §6's
// SetDesktopSize opcode, which the teacher's capturer never needed.
package captransport

import (
	"sync"

	"github.com/breeze-rmm/rfbserver/internal/rfb/encoding"
	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
)

// CaptureSource produces framebuffer snapshots on demand. A real
// implementation (platform screen capture) is out of scope; Session only
// depends on this interface.
type CaptureSource interface {
	// Capture returns the current framebuffer snapshot wrapped in a
	// CapturedFramebuffer, the tagged variant the cache inspects for
	// move/dirty hints (spec.md §3, §9). A source with nothing to report
	// leaves the hint fields nil/empty; the embedded *framebuffer.Framebuffer
	// identity is what the cache compares to detect instance swaps, so a
	// source with unchanged content must keep returning the same embedded
	// pointer even though the wrapper itself may be freshly allocated.
	Capture() (*framebuffer.CapturedFramebuffer, error)

	// SupportsResizing reports whether SetDesktopSize requests can succeed.
	SupportsResizing() bool

	// SetDesktopSize attempts to resize the captured desktop, returning the
	// outcome status defined for the ExtendedDesktopSize pseudo-encoding.
	SetDesktopSize(width, height int) (encoding.DesktopSizeStatus, error)
}

// StaticSource always returns the same framebuffer, the simplest fixture for
// exercising a session against a fixed image (tests, demos).
type StaticSource struct {
	mu sync.Mutex
	fb *framebuffer.Framebuffer
}

// NewStaticSource wraps an existing framebuffer.
func NewStaticSource(fb *framebuffer.Framebuffer) *StaticSource {
	return &StaticSource{fb: fb}
}

func (s *StaticSource) Capture() (*framebuffer.CapturedFramebuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &framebuffer.CapturedFramebuffer{Framebuffer: s.fb}, nil
}

func (s *StaticSource) SupportsResizing() bool { return false }

func (s *StaticSource) SetDesktopSize(width, height int) (encoding.DesktopSizeStatus, error) {
	return encoding.StatusProhibited, nil
}

// Replace swaps the framebuffer instance returned by future Capture calls,
// letting tests simulate a new frame (and thus a cache reset, per spec.md
// §4.5) without a real capture backend.
func (s *StaticSource) Replace(fb *framebuffer.Framebuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fb = fb
}

// TickerSource wraps a caller-supplied producer function, grounded on the
// teacher's ticker-paced captureLoop in ws_stream.go: there, a ticker
// fired and the loop called capturer.Capture() directly on each tick. Here
// the equivalent ticking lives in the pump; TickerSource just adapts a plain
// func() (*framebuffer.CapturedFramebuffer, error) to the CaptureSource
// interface.
type TickerSource struct {
	produce   func() (*framebuffer.CapturedFramebuffer, error)
	resizable bool
	resize    func(width, height int) (encoding.DesktopSizeStatus, error)
}

// NewTickerSource builds a CaptureSource around produce. resize may be nil,
// in which case SetDesktopSize always reports StatusProhibited.
func NewTickerSource(produce func() (*framebuffer.CapturedFramebuffer, error), resize func(width, height int) (encoding.DesktopSizeStatus, error)) *TickerSource {
	return &TickerSource{produce: produce, resizable: resize != nil, resize: resize}
}

func (t *TickerSource) Capture() (*framebuffer.CapturedFramebuffer, error) { return t.produce() }

func (t *TickerSource) SupportsResizing() bool { return t.resizable }

func (t *TickerSource) SetDesktopSize(width, height int) (encoding.DesktopSizeStatus, error) {
	if t.resize == nil {
		return encoding.StatusProhibited, nil
	}
	return t.resize(width, height)
}

// Package framebuffer holds the pixel-buffer data model shared by the
// capture source, the diff cache, and the session: Rectangle, Framebuffer,
// CapturedFramebuffer, and the client UpdateRequest contract (spec.md
// §4.2/§4.3).
package framebuffer

import (
	"fmt"
	"sync"

	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
)

// Framebuffer is a named pixel buffer with dimensions, stride, and a coarse
// mutex (SyncRoot) held for the duration of any multi-byte consistent read
// or write. Created by the capture source; mutated only under SyncRoot.
type Framebuffer struct {
	name   string
	width  int
	height int
	format pixfmt.PixelFormat
	stride int
	buf    []byte
	mu     sync.Mutex
}

// New builds a Framebuffer, computing stride = width * bytesPerPixel per
// spec.md §3 and allocating a zeroed buffer of stride*height bytes.
func New(name string, width, height int, format pixfmt.PixelFormat) (*Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("framebuffer: invalid dimensions %dx%d", width, height)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	stride := width * format.BytesPerPixel()
	return &Framebuffer{
		name:   name,
		width:  width,
		height: height,
		format: format,
		stride: stride,
		buf:    make([]byte, stride*height),
	}, nil
}

// NewWithBuffer builds a Framebuffer around an existing, already-filled
// buffer (the capture source's normal path), validating its length matches
// stride*height.
func NewWithBuffer(name string, width, height int, format pixfmt.PixelFormat, buf []byte) (*Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("framebuffer: invalid dimensions %dx%d", width, height)
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	stride := width * format.BytesPerPixel()
	if len(buf) != stride*height {
		return nil, fmt.Errorf("framebuffer: buffer length %d != stride*height (%d*%d)", len(buf), stride, height)
	}
	return &Framebuffer{name: name, width: width, height: height, format: format, stride: stride, buf: buf}, nil
}

func (f *Framebuffer) Name() string              { return f.name }
func (f *Framebuffer) Width() int                { return f.width }
func (f *Framebuffer) Height() int                { return f.height }
func (f *Framebuffer) Stride() int                { return f.stride }
func (f *Framebuffer) PixelFormat() pixfmt.PixelFormat { return f.format }

// Bounds returns the framebuffer's full extent as a Rectangle, for clipping
// incoming update requests (spec.md §4.3).
func (f *Framebuffer) Bounds() Rectangle {
	return Rectangle{Width: f.width, Height: f.height}
}

// GetBuffer returns a borrow of the raw pixel bytes. Callers that need a
// consistent multi-byte read must hold SyncRoot for the duration.
func (f *Framebuffer) GetBuffer() []byte {
	return f.buf
}

// SyncRoot returns the coarse mutex guarding reads/writes of the buffer.
func (f *Framebuffer) SyncRoot() *sync.Mutex {
	return &f.mu
}

// SameLayout reports whether o has identical dimensions and pixel format,
// the condition under which the diff cache's cached snapshot stays valid
// (spec.md §4.5).
func (f *Framebuffer) SameLayout(o *Framebuffer) bool {
	if f == nil || o == nil {
		return false
	}
	return f.width == o.width && f.height == o.height && pixfmt.Equal(f.format, o.format)
}

// MoveRect is a hint that a rectangular region was copied unchanged from
// another location in the previous snapshot (spec.md §3).
type MoveRect struct {
	SrcX, SrcY int
	Dest       Rectangle
}

// PointerInfo is a hint about the system cursor's current state.
type PointerInfo struct {
	X, Y    int
	Visible bool
	Shape   *Framebuffer // optional cursor shape image
}

// CapturedFramebuffer extends Framebuffer with advisory move/dirty hints a
// capture-aware source can supply so the cache can skip pixel diffing
// (spec.md §3). It embeds *Framebuffer and is what every capture source
// returns; a source with no hints leaves the hint fields empty.
type CapturedFramebuffer struct {
	*Framebuffer
	MoveRectangles  []MoveRect
	DirtyRectangles []Rectangle
	Pointer         *PointerInfo
}

// CaptureHints returns the move/dirty/pointer hints attached to this
// capture, letting the cache skip pixel diffing when the source already
// knows what changed (spec.md §3).
func (c *CapturedFramebuffer) CaptureHints() ([]MoveRect, []Rectangle, *PointerInfo) {
	return c.MoveRectangles, c.DirtyRectangles, c.Pointer
}

// UpdateRequest is a client's FramebufferUpdateRequest, clipped to the
// framebuffer bounds by the caller before being stored (spec.md §4.3). At
// most one is pending per session; a new request overwrites the prior one.
type UpdateRequest struct {
	Incremental bool
	Region      Rectangle
}

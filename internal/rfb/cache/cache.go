// Package cache implements the framebuffer diff engine (spec.md §4.5): given
// the current framebuffer and the pending update request, it produces the
// minimal set of rectangles (moves, dirty regions, or line diffs) needed to
// bring the client's view up to date.
package cache

import (
	"bytes"
	"sync"

	"github.com/breeze-rmm/rfbserver/internal/rfb/encoding"
	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
)

// Responder is the subset of Session the cache drives: BeginUpdate,
// zero-or-more ManualCopyRegion/ManualInvalidate calls, then EndUpdate
// (spec.md §4.7 step 5). Defined here, implemented by session, to avoid an
// import cycle — the cache doesn't need to know about the protocol state
// machine, only this narrow update-queue contract.
type Responder interface {
	BeginUpdate()
	// ManualCopyRegion enqueues a CopyRect rectangle: dest's new contents
	// came unchanged from (srcX, srcY) in the previous framebuffer snapshot.
	ManualCopyRegion(dest framebuffer.Rectangle, srcX, srcY int)
	// ManualInvalidate enqueues a raw (or registry-selected) rectangle
	// covering region, reading fresh pixels from fb.
	ManualInvalidate(fb *framebuffer.Framebuffer, region framebuffer.Rectangle)
	EndUpdate() (sent bool, err error)
}

// Cache holds the prior snapshot used for diff-driven comparisons, plus the
// framebuffer identity it was built from (spec.md §4.5, §9: "the cache
// holds a second framebuffer of identical dimensions for diffs; its
// identity is compared to detect framebuffer-instance swaps").
type Cache struct {
	mu       sync.Mutex
	lastFB   *framebuffer.Framebuffer
	snapshot []byte
	width    int
	height   int
	format   pixfmt.PixelFormat
	stride   int
}

// New returns an empty cache; the first RespondToUpdateRequest call
// populates it.
func New() *Cache {
	return &Cache{}
}

// reset rebuilds the cached snapshot to match fb's current dimensions and
// format, per spec.md §4.5: "reset whenever the underlying framebuffer
// instance identity changes or its dimensions/format change." Caller must
// hold c.mu.
func (c *Cache) reset(fb *framebuffer.Framebuffer) {
	c.lastFB = fb
	c.width = fb.Width()
	c.height = fb.Height()
	c.format = fb.PixelFormat()
	c.stride = fb.Stride()
	c.snapshot = make([]byte, len(fb.GetBuffer()))
}

func (c *Cache) needsReset(fb *framebuffer.Framebuffer) bool {
	return c.lastFB != fb || c.width != fb.Width() || c.height != fb.Height() || !pixfmt.Equal(c.format, fb.PixelFormat())
}

// RespondToUpdateRequest is the cache's sole entry point, called from the
// update pump with FramebufferUpdateRequestLock already held (spec.md §4.7).
// It chooses hint-driven or diff-driven mode, drives resp through
// BeginUpdate/Manual*/EndUpdate, and returns EndUpdate's result.
func (c *Cache) RespondToUpdateRequest(resp Responder, captured *framebuffer.CapturedFramebuffer, req framebuffer.UpdateRequest, clientEncodings []encoding.Code) (bool, error) {
	fb := captured.Framebuffer
	region := req.Region.Clip(fb.Bounds())
	if region.IsEmpty() {
		return false, nil
	}

	c.mu.Lock()
	justReset := c.needsReset(fb)
	if justReset {
		c.reset(fb)
	}
	c.mu.Unlock()

	resp.BeginUpdate()

	moves, dirty, _ := captured.CaptureHints()

	switch {
	case len(moves) > 0 || len(dirty) > 0:
		c.respondHinted(resp, fb, region, moves, dirty, clientEncodings)
	case justReset:
		// A fresh snapshot has no diffing value yet: send the whole region
		// regardless of what the client asked for, the same as a
		// non-incremental request.
		resp.ManualInvalidate(fb, region)
		c.syncSnapshot(fb)
	case req.Incremental:
		c.respondDiff(resp, fb, region)
	default:
		resp.ManualInvalidate(fb, region)
		c.syncSnapshot(fb)
	}

	return resp.EndUpdate()
}

// respondHinted implements spec.md §4.5's hint-driven mode: move rectangles
// become CopyRect (or a raw invalidation if the client doesn't support
// CopyRect), dirty rectangles become raw invalidations clipped to region.
func (c *Cache) respondHinted(resp Responder, fb *framebuffer.Framebuffer, region framebuffer.Rectangle, moves []framebuffer.MoveRect, dirty []framebuffer.Rectangle, clientEncodings []encoding.Code) {
	for _, m := range moves {
		dest := m.Dest.Clip(region)
		if dest.IsEmpty() {
			continue
		}
		if encoding.Supports(clientEncodings, encoding.CopyRect) {
			resp.ManualCopyRegion(dest, m.SrcX, m.SrcY)
		} else {
			resp.ManualInvalidate(fb, dest)
		}
	}

	for _, d := range dirty {
		clipped := d.Clip(region)
		if clipped.IsEmpty() {
			continue
		}
		resp.ManualInvalidate(fb, clipped)
	}

	// Pointer hints are not acted on: no Cursor pseudo-rectangle is emitted,
	// here or in the session.
	c.syncSnapshot(fb)
}

// respondDiff implements spec.md §4.5's diff-driven mode: line-by-line byte
// comparison against the cached snapshot, coalescing consecutive differing
// lines into sub-rectangles.
func (c *Cache) respondDiff(resp Responder, fb *framebuffer.Framebuffer, region framebuffer.Rectangle) {
	buf := fb.GetBuffer()
	bpp := c.format.BytesPerPixel()
	rowBytes := region.Width * bpp

	c.mu.Lock()
	defer c.mu.Unlock()

	start := -1
	flush := func(endExclusive int) {
		if start < 0 {
			return
		}
		rect := framebuffer.Rectangle{
			X:      region.X,
			Y:      start,
			Width:  region.Width,
			Height: endExclusive - start,
		}
		resp.ManualInvalidate(fb, rect)
		for y := start; y < endExclusive; y++ {
			srcOff := y*c.stride + region.X*bpp
			copy(c.snapshot[srcOff:srcOff+rowBytes], buf[srcOff:srcOff+rowBytes])
		}
		start = -1
	}

	for y := region.Y; y < region.Y+region.Height; y++ {
		off := y*c.stride + region.X*bpp
		changed := !bytes.Equal(buf[off:off+rowBytes], c.snapshot[off:off+rowBytes])
		if changed {
			if start < 0 {
				start = y
			}
		} else {
			flush(y)
		}
	}
	flush(region.Y + region.Height)
}

// syncSnapshot copies the whole current framebuffer content into the
// cached snapshot so the next incremental diff compares against it.
// Used after hint-driven and non-incremental responses,
// where the entire region (or more) has just been sent.
func (c *Cache) syncSnapshot(fb *framebuffer.Framebuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snapshot) == len(fb.GetBuffer()) {
		copy(c.snapshot, fb.GetBuffer())
	}
}

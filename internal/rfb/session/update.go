package session

import (
	"fmt"

	"github.com/breeze-rmm/rfbserver/internal/rfb/encoding"
	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
	"github.com/breeze-rmm/rfbserver/internal/rfb/rfberrors"
	"github.com/breeze-rmm/rfbserver/internal/rfb/wire"
)

// FramebufferSendChanges is the pump's action (spec.md §4.7). It is the
// only place that acquires FramebufferUpdateRequestLock end to end across a
// capture + cache + send cycle.
func (s *Session) FramebufferSendChanges() (bool, error) {
	s.fbuMu.Lock()
	defer s.fbuMu.Unlock()

	if s.pending == nil {
		return false, nil
	}
	req := *s.pending
	s.pending = nil
	s.lastIncremental = req.Incremental

	if s.cfg.Listener.FramebufferCapturing != nil {
		s.cfg.Listener.FramebufferCapturing(FramebufferCapturingEvent{})
	}

	captured, err := s.cfg.Capture.Capture()
	if err != nil {
		// CaptureError is recovered locally: logged, no rectangles this
		// tick (spec.md §7).
		s.log.Warn("capture error", "error", err)
		return false, nil
	}
	s.currentFB = captured

	if s.cfg.Listener.FramebufferUpdating != nil {
		ev := &FramebufferUpdatingEvent{Framebuffer: captured.Framebuffer}
		s.cfg.Listener.FramebufferUpdating(ev)
		if ev.Handled {
			return ev.SentChanges, nil
		}
	}

	sent, err := s.cacheEng.RespondToUpdateRequest(s, captured, req, s.client.SupportedEncodings)
	if err != nil {
		return false, err
	}
	return sent, nil
}

// BeginUpdate starts a new rectangle batch (cache.Responder).
func (s *Session) BeginUpdate() {
	s.rectQueue = s.rectQueue[:0]
}

// ManualCopyRegion enqueues a CopyRect rectangle (cache.Responder).
func (s *Session) ManualCopyRegion(dest framebuffer.Rectangle, srcX, srcY int) {
	if !encoding.Supports(s.client.SupportedEncodings, encoding.CopyRect) {
		// Cache only calls this when the client supports CopyRect; defensive
		// fallback to a raw invalidation keeps the contract safe regardless.
		s.ManualInvalidate(s.currentFB.Framebuffer, dest)
		return
	}
	s.rectQueue = append(s.rectQueue, queuedRect{
		region: dest,
		code:   encoding.CopyRect,
		srcX:   srcX,
		srcY:   srcY,
	})
}

// ManualInvalidate enqueues a rectangle whose pixel contents must be read
// fresh from fb and encoded with the session's selected encoder
// (cache.Responder).
func (s *Session) ManualInvalidate(fb *framebuffer.Framebuffer, region framebuffer.Rectangle) {
	enc := s.client.SelectedEncoder
	if enc == nil {
		enc = s.registry.Select(s.client.SupportedEncodings)
	}

	clientFormat := s.client.PixelFormat
	contents := convertRegion(fb, region, clientFormat)

	s.rectQueue = append(s.rectQueue, queuedRect{
		region:   region,
		code:     enc.Code(),
		contents: contents,
	})
}

// convertRegion extracts region from fb and converts it to clientFormat,
// using the size-classed pool to avoid a fresh allocation per rectangle
// (spec.md §9).
func convertRegion(fb *framebuffer.Framebuffer, region framebuffer.Rectangle, clientFormat pixfmt.PixelFormat) []byte {
	fb.SyncRoot().Lock()
	defer fb.SyncRoot().Unlock()

	out := encoding.GetContents(region.Width * region.Height * clientFormat.BytesPerPixel())
	pixfmt.Copy(
		fb.GetBuffer(), fb.Stride(), fb.PixelFormat(),
		pixfmt.Rect{X: region.X, Y: region.Y, Width: region.Width, Height: region.Height},
		out, region.Width*clientFormat.BytesPerPixel(), clientFormat,
		0, 0,
	)
	return out
}

// EndUpdate drains the rectangle queue to the wire: desktop-size
// pseudo-rectangle first if due (spec.md §4.3), then each queued rectangle,
// all under streamLock so a concurrent Bell/ServerCutText can't interleave
// (spec.md §8 scenario 6). Returns true iff at least one rectangle was
// written.
func (s *Session) EndUpdate() (bool, error) {
	defer s.returnContents()

	pseudo := s.desktopSizePseudoDue()
	rectCount := len(s.rectQueue)
	if pseudo {
		rectCount++
	}
	if rectCount == 0 {
		return false, nil
	}

	s.streamLock.Lock()
	defer s.streamLock.Unlock()

	if err := wire.WriteU8(s.conn, 0); err != nil {
		return false, fmt.Errorf("%w: writing FramebufferUpdate header: %v", rfberrors.Transport, err)
	}
	if err := wire.WritePad(s.conn, 1); err != nil {
		return false, fmt.Errorf("%w: writing FramebufferUpdate padding: %v", rfberrors.Transport, err)
	}
	if err := wire.WriteU16(s.conn, uint16(rectCount)); err != nil {
		return false, fmt.Errorf("%w: writing FramebufferUpdate rect count: %v", rfberrors.Transport, err)
	}

	if pseudo {
		if err := encoding.WriteExtendedDesktopSize(s.conn, encoding.ReasonServer, encoding.StatusSuccess,
			s.currentFB.Width(), s.currentFB.Height(), nil); err != nil {
			return false, fmt.Errorf("%w: writing ExtendedDesktopSize pseudo-rectangle: %v", rfberrors.Transport, err)
		}
	}

	for _, rect := range s.rectQueue {
		if err := s.writeRect(rect); err != nil {
			// An I/O error here leaves the stream state undefined mid
			// rectangle; close the session (spec.md §7).
			return false, fmt.Errorf("%w: %v", rfberrors.EncoderError, err)
		}
	}

	s.client.Width, s.client.Height = s.currentFB.Width(), s.currentFB.Height()
	return true, nil
}

// desktopSizePseudoDue reports whether this update must carry an
// ExtendedDesktopSize pseudo-rectangle: an ExtendedDesktopSize-capable
// client gets one on every non-incremental request, and independently on
// any request (incremental or not) whose capture resulted in a resize
// (spec.md §4.3/§4.6 — these are two OR'd triggers, not one).
func (s *Session) desktopSizePseudoDue() bool {
	if s.currentFB == nil {
		return false
	}
	if !encoding.Supports(s.client.SupportedEncodings, encoding.ExtendedDesktopSize) {
		return false
	}
	resized := s.currentFB.Width() != s.client.Width || s.currentFB.Height() != s.client.Height
	return !s.lastIncremental || resized
}

func (s *Session) writeRect(rect queuedRect) error {
	if err := encoding.WriteRectHeader(s.conn, rect.region, rect.code); err != nil {
		return err
	}

	stats := s.stats.For(rect.code)

	switch rect.code {
	case encoding.CopyRect:
		cr := encoding.NewCopyRect()
		payload := encoding.EncodeSrcPoint(rect.srcX, rect.srcY)
		n, err := cr.Send(s.conn, s.client.PixelFormat, rect.region, payload)
		if err != nil {
			return err
		}
		stats.Record(n, n)
		return nil
	default:
		enc, ok := s.registry.Lookup(rect.code)
		if !ok {
			enc = encoding.NewRaw()
		}
		n, err := enc.Send(s.conn, s.client.PixelFormat, rect.region, rect.contents)
		if err != nil {
			return err
		}
		stats.Record(len(rect.contents), n)
		return nil
	}
}

func (s *Session) returnContents() {
	for _, rect := range s.rectQueue {
		if rect.contents != nil {
			encoding.PutContents(rect.contents)
		}
	}
}

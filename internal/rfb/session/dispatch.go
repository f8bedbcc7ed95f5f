package session

import (
	"fmt"

	"github.com/breeze-rmm/rfbserver/internal/rfb/encoding"
	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
	"github.com/breeze-rmm/rfbserver/internal/rfb/rfberrors"
	"github.com/breeze-rmm/rfbserver/internal/rfb/wire"
)

// Client -> server opcodes (spec.md §6).
const (
	opSetPixelFormat          = 0
	opSetEncodings            = 2
	opFramebufferUpdateRequest = 3
	opKeyEvent                = 4
	opPointerEvent             = 5
	opClientCutText            = 6
	opSetDesktopSize            = 251
)

// runLoop is the Running-state message loop (spec.md §4.1): one reader,
// opcode-dispatched, each message fully consumed before the next read.
func (s *Session) runLoop() error {
	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		op, err := wire.ReadU8(s.r)
		if err != nil {
			return fmt.Errorf("%w: reading opcode: %v", rfberrors.Transport, err)
		}

		if err := s.dispatch(op); err != nil {
			if !rfberrors.Closes(err) {
				s.log.Warn("recoverable error", "error", err)
				continue
			}
			return err
		}
	}
}

func (s *Session) dispatch(op uint8) error {
	switch op {
	case opSetPixelFormat:
		return s.handleSetPixelFormat()
	case opSetEncodings:
		return s.handleSetEncodings()
	case opFramebufferUpdateRequest:
		return s.handleFramebufferUpdateRequest()
	case opKeyEvent:
		return s.handleKeyEvent()
	case opPointerEvent:
		return s.handlePointerEvent()
	case opClientCutText:
		return s.handleClientCutText()
	case opSetDesktopSize:
		return s.handleSetDesktopSize()
	default:
		return fmt.Errorf("%w: unknown opcode %d", rfberrors.ProtocolViolation, op)
	}
}

func (s *Session) handleSetPixelFormat() error {
	if err := wire.ReadPad(s.r, 3); err != nil {
		return fmt.Errorf("%w: reading SetPixelFormat padding: %v", rfberrors.Transport, err)
	}
	buf := make([]byte, pixfmt.WireSize)
	if err := wire.ReadFull(s.r, buf); err != nil {
		return fmt.Errorf("%w: reading SetPixelFormat body: %v", rfberrors.Transport, err)
	}
	format, err := pixfmt.Decode(buf)
	if err != nil {
		return fmt.Errorf("%w: decoding client pixel format: %v", rfberrors.ProtocolViolation, err)
	}
	s.client.PixelFormat = format
	return nil
}

func (s *Session) handleSetEncodings() error {
	if err := wire.ReadPad(s.r, 1); err != nil {
		return fmt.Errorf("%w: reading SetEncodings padding: %v", rfberrors.Transport, err)
	}
	count, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading SetEncodings count: %v", rfberrors.Transport, err)
	}
	if int(count) > wire.MaxEncodingCount {
		return fmt.Errorf("%w: SetEncodings count %d exceeds max %d", rfberrors.ProtocolViolation, count, wire.MaxEncodingCount)
	}

	codes := make([]encoding.Code, 0, count)
	for i := 0; i < int(count); i++ {
		v, err := wire.ReadS32(s.r)
		if err != nil {
			return fmt.Errorf("%w: reading encoding entry: %v", rfberrors.Transport, err)
		}
		codes = append(codes, encoding.Code(v))
	}
	s.client.SupportedEncodings = codes
	s.client.SelectedEncoder = s.registry.Select(codes)
	return nil
}

func (s *Session) handleFramebufferUpdateRequest() error {
	incrementalByte, err := wire.ReadU8(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading FramebufferUpdateRequest incremental flag: %v", rfberrors.Transport, err)
	}
	x, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading FramebufferUpdateRequest x: %v", rfberrors.Transport, err)
	}
	y, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading FramebufferUpdateRequest y: %v", rfberrors.Transport, err)
	}
	w, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading FramebufferUpdateRequest width: %v", rfberrors.Transport, err)
	}
	h, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading FramebufferUpdateRequest height: %v", rfberrors.Transport, err)
	}

	req := framebuffer.UpdateRequest{
		Incremental: incrementalByte != 0,
		Region:      framebuffer.Rectangle{X: int(x), Y: int(y), Width: int(w), Height: int(h)},
	}

	s.fbuMu.Lock()
	if s.currentFB != nil {
		req.Region = req.Region.Clip(s.currentFB.Bounds())
	}
	if req.Region.IsEmpty() {
		s.fbuMu.Unlock()
		return nil
	}
	s.pending = &req
	s.fbuMu.Unlock()

	if s.pump != nil {
		s.pump.Signal()
	}
	return nil
}

func (s *Session) handleKeyEvent() error {
	pressed, err := wire.ReadU8(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading KeyEvent pressed flag: %v", rfberrors.Transport, err)
	}
	if err := wire.ReadPad(s.r, 2); err != nil {
		return fmt.Errorf("%w: reading KeyEvent padding: %v", rfberrors.Transport, err)
	}
	keysym, err := wire.ReadU32(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading KeyEvent keysym: %v", rfberrors.Transport, err)
	}
	if s.cfg.Listener.KeyChanged != nil {
		s.cfg.Listener.KeyChanged(KeyChangedEvent{Keysym: keysym, Pressed: pressed != 0})
	}
	return nil
}

func (s *Session) handlePointerEvent() error {
	buttonMask, err := wire.ReadU8(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading PointerEvent button mask: %v", rfberrors.Transport, err)
	}
	x, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading PointerEvent x: %v", rfberrors.Transport, err)
	}
	y, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading PointerEvent y: %v", rfberrors.Transport, err)
	}
	if s.cfg.Listener.PointerChanged != nil {
		s.cfg.Listener.PointerChanged(PointerChangedEvent{X: int(x), Y: int(y), ButtonMask: buttonMask})
	}
	return nil
}

func (s *Session) handleClientCutText() error {
	if err := wire.ReadPad(s.r, 3); err != nil {
		return fmt.Errorf("%w: reading ClientCutText padding: %v", rfberrors.Transport, err)
	}
	text, err := wire.ReadString(s.r, wire.MaxTextLength)
	if err != nil {
		return fmt.Errorf("%w: reading ClientCutText body: %v", rfberrors.ProtocolViolation, err)
	}
	if s.cfg.Listener.RemoteClipboardChanged != nil {
		s.cfg.Listener.RemoteClipboardChanged(RemoteClipboardChangedEvent{Text: text})
	}
	return nil
}

func (s *Session) handleSetDesktopSize() error {
	if err := wire.ReadPad(s.r, 1); err != nil {
		return fmt.Errorf("%w: reading SetDesktopSize padding: %v", rfberrors.Transport, err)
	}
	width, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading SetDesktopSize width: %v", rfberrors.Transport, err)
	}
	height, err := wire.ReadU16(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading SetDesktopSize height: %v", rfberrors.Transport, err)
	}
	numScreens, err := wire.ReadU8(s.r)
	if err != nil {
		return fmt.Errorf("%w: reading SetDesktopSize screen count: %v", rfberrors.Transport, err)
	}
	if err := wire.ReadPad(s.r, 1); err != nil {
		return fmt.Errorf("%w: reading SetDesktopSize padding: %v", rfberrors.Transport, err)
	}
	if err := wire.ReadPad(s.r, 16*int(numScreens)); err != nil {
		return fmt.Errorf("%w: reading SetDesktopSize screen entries: %v", rfberrors.Transport, err)
	}

	return s.respondSetDesktopSize(int(width), int(height))
}

// respondSetDesktopSize implements spec.md §8 scenario 5: a direct,
// immediate reply on the client-requested resize, distinct from the
// pump-driven ExtendedDesktopSize pseudo-rectangle emitted from EndUpdate
// on ordinary non-incremental requests (spec.md §4.3/§4.7).
func (s *Session) respondSetDesktopSize(width, height int) error {
	status := encoding.StatusProhibited
	if s.cfg.Capture != nil && s.cfg.Capture.SupportsResizing() {
		var err error
		status, err = s.cfg.Capture.SetDesktopSize(width, height)
		if err != nil {
			return fmt.Errorf("%w: SetDesktopSize: %v", rfberrors.CaptureError, err)
		}
	}

	s.streamLock.Lock()
	defer s.streamLock.Unlock()

	if err := wire.WriteU8(s.conn, 0); err != nil { // FramebufferUpdate message type
		return fmt.Errorf("%w: writing FramebufferUpdate header: %v", rfberrors.Transport, err)
	}
	if err := wire.WritePad(s.conn, 1); err != nil {
		return fmt.Errorf("%w: writing FramebufferUpdate padding: %v", rfberrors.Transport, err)
	}
	if err := wire.WriteU16(s.conn, 1); err != nil {
		return fmt.Errorf("%w: writing FramebufferUpdate rect count: %v", rfberrors.Transport, err)
	}
	if err := encoding.WriteExtendedDesktopSize(s.conn, encoding.ReasonClient, status, width, height, nil); err != nil {
		return fmt.Errorf("%w: writing ExtendedDesktopSize rectangle: %v", rfberrors.Transport, err)
	}
	return nil
}

// Package encoding implements the RFB rectangle encoders (spec.md §4.6):
// the Encoder interface, the built-in Raw and CopyRect encodings, the
// ExtendedDesktopSize pseudo-encoding, a selection registry, and per-encoder
// statistics.
package encoding

import (
	"io"

	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
	"github.com/breeze-rmm/rfbserver/internal/rfb/wire"
)

// Code is an RFB encoding-type number (RFC 6143 §7.7). Negative values are
// pseudo-encodings that carry state rather than pixel data.
type Code int32

const (
	Raw                 Code = 0
	CopyRect            Code = 1
	DesktopSize         Code = -223
	ExtendedDesktopSize Code = -308
	Cursor              Code = -239
)

// Encoder turns one rectangle's raw pixel bytes into bytes on the wire. A
// pure function over the rectangle content: it never touches session state
// other than the stream it is handed, mirroring the teacher's encoderBackend
// interface in internal/remote/desktop/encoder.go (Encode(frame)->bytes)
// generalized from a whole-frame video codec to a per-rectangle still codec.
type Encoder interface {
	Code() Code
	// Send writes the rectangle's encoding-specific payload (the rectangle
	// header itself is written by the caller) and returns the number of
	// bytes written to the wire.
	Send(w io.Writer, clientFormat pixfmt.PixelFormat, region framebuffer.Rectangle, raw []byte) (int, error)
}

// PendingRectangle is enqueued by the session between BeginUpdate and
// EndUpdate (spec.md §3).
type PendingRectangle struct {
	Region   framebuffer.Rectangle
	Code     Code
	Contents []byte
}

// WriteRectHeader writes the common 12-byte rectangle header (RFC 6143
// §7.6.1): u16 x, y, w, h, s32 encoding-type.
func WriteRectHeader(w io.Writer, region framebuffer.Rectangle, code Code) error {
	if err := wire.WriteU16(w, uint16(region.X)); err != nil {
		return err
	}
	if err := wire.WriteU16(w, uint16(region.Y)); err != nil {
		return err
	}
	if err := wire.WriteU16(w, uint16(region.Width)); err != nil {
		return err
	}
	if err := wire.WriteU16(w, uint16(region.Height)); err != nil {
		return err
	}
	return wire.WriteS32(w, int32(code))
}

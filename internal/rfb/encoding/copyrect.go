package encoding

import (
	"encoding/binary"
	"io"

	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
)

// CopyRectEncoder signals that region's new contents are a copy of a region
// of the same size from elsewhere in the (old) framebuffer. Payload is just
// the source point: u16 srcX, u16 srcY (spec.md §4.6).
type CopyRectEncoder struct{}

func NewCopyRect() *CopyRectEncoder { return &CopyRectEncoder{} }

func (*CopyRectEncoder) Code() Code { return CopyRect }

// Send ignores clientFormat/raw — CopyRect carries no pixel data. The source
// point is passed via raw as 4 bytes (u16 srcX, u16 srcY) produced by the
// cache, keeping the Encoder interface uniform across encodings.
func (*CopyRectEncoder) Send(w io.Writer, _ pixfmt.PixelFormat, _ framebuffer.Rectangle, raw []byte) (int, error) {
	if len(raw) != 4 {
		return 0, io.ErrShortWrite
	}
	return w.Write(raw)
}

// EncodeSrcPoint packs a CopyRect source point into the 4-byte payload Send
// expects.
func EncodeSrcPoint(srcX, srcY int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], uint16(srcX))
	binary.BigEndian.PutUint16(b[2:4], uint16(srcY))
	return b
}

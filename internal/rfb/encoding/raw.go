package encoding

import (
	"io"

	"github.com/breeze-rmm/rfbserver/internal/rfb/framebuffer"
	"github.com/breeze-rmm/rfbserver/internal/rfb/pixfmt"
)

// RawEncoder emits a rectangle's pixel data verbatim, already converted to
// the client's pixel format by the session via pixfmt.Copy (spec.md §4.6).
type RawEncoder struct{}

func NewRaw() *RawEncoder { return &RawEncoder{} }

func (*RawEncoder) Code() Code { return Raw }

// Send writes region.Height*region.Width*clientBpp bytes of already-converted
// pixel data. raw must already be exactly that length.
func (*RawEncoder) Send(w io.Writer, clientFormat pixfmt.PixelFormat, region framebuffer.Rectangle, raw []byte) (int, error) {
	want := region.Width * region.Height * clientFormat.BytesPerPixel()
	if len(raw) != want {
		return 0, io.ErrShortWrite
	}
	n, err := w.Write(raw)
	return n, err
}

// Package pixfmt describes RFB pixel formats and the pixel-copy/convert
// routine between two of them (spec.md §4.4). It is pure CPU: no I/O.
package pixfmt

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/breeze-rmm/rfbserver/internal/rfb/wire"
)

// WireSize is the length in bytes of the encoded pixel format (RFC 6143 §7.4).
const WireSize = 16

// PixelFormat describes how a pixel's bits map to RGB channels. Immutable
// once constructed by Decode or one of the package-level defaults.
type PixelFormat struct {
	BitsPerPixel  uint8
	Depth         uint8
	BigEndian     bool
	TrueColor     bool
	RedMax        uint16
	GreenMax      uint16
	BlueMax       uint16
	RedShift      uint8
	GreenShift    uint8
	BlueShift     uint8
	Palette       []Color // non-nil only for non-true-color formats
}

// Color is a single palette entry, 16-bit channels per RFC 6143 §7.6.2.
type Color struct {
	R, G, B uint16
}

// BytesPerPixel returns the number of bytes one pixel occupies on the wire
// and in a Framebuffer buffer.
func (f PixelFormat) BytesPerPixel() int {
	return int(f.BitsPerPixel) / 8
}

// Validate checks the invariants from spec.md §3: bytesPerPixel*8 >=
// bitsPerPixel, and shifts/max values fit inside bitsPerPixel.
func (f PixelFormat) Validate() error {
	if f.BitsPerPixel != 8 && f.BitsPerPixel != 16 && f.BitsPerPixel != 32 {
		return fmt.Errorf("pixfmt: unsupported bits-per-pixel %d", f.BitsPerPixel)
	}
	if f.BytesPerPixel()*8 < int(f.BitsPerPixel) {
		return fmt.Errorf("pixfmt: bytesPerPixel*8 < bitsPerPixel")
	}
	if f.TrueColor {
		for _, pair := range []struct {
			name  string
			max   uint16
			shift uint8
		}{
			{"red", f.RedMax, f.RedShift},
			{"green", f.GreenMax, f.GreenShift},
			{"blue", f.BlueMax, f.BlueShift},
		} {
			bits := bitsNeeded(pair.max)
			if int(pair.shift)+bits > int(f.BitsPerPixel) {
				return fmt.Errorf("pixfmt: %s channel shift %d + width %d exceeds bpp %d",
					pair.name, pair.shift, bits, f.BitsPerPixel)
			}
		}
	}
	return nil
}

func bitsNeeded(max uint16) int {
	n := 0
	for max > 0 {
		n++
		max >>= 1
	}
	return n
}

// RGB888 is the server's conventional default format: 32bpp, true-color,
// little-endian, 8 bits per channel, matching the "32/24/0/1/255/255/255/16/8/0"
// layout used throughout the literal scenarios in spec.md §8.
var RGB888 = PixelFormat{
	BitsPerPixel: 32,
	Depth:        24,
	BigEndian:    false,
	TrueColor:    true,
	RedMax:       255,
	GreenMax:     255,
	BlueMax:      255,
	RedShift:     16,
	GreenShift:   8,
	BlueShift:    0,
}

// Decode parses the 16-byte wire pixel format (RFC 6143 §7.4).
func Decode(b []byte) (PixelFormat, error) {
	if len(b) != WireSize {
		return PixelFormat{}, fmt.Errorf("pixfmt: wire format must be %d bytes, got %d", WireSize, len(b))
	}
	f := PixelFormat{
		BitsPerPixel: b[0],
		Depth:        b[1],
		BigEndian:    b[2] != 0,
		TrueColor:    b[3] != 0,
		RedMax:       binary.BigEndian.Uint16(b[4:6]),
		GreenMax:     binary.BigEndian.Uint16(b[6:8]),
		BlueMax:      binary.BigEndian.Uint16(b[8:10]),
		RedShift:     b[10],
		GreenShift:   b[11],
		BlueShift:    b[12],
	}
	if err := f.Validate(); err != nil {
		return PixelFormat{}, err
	}
	return f, nil
}

// Encode serializes the pixel format to its 16-byte wire form.
func (f PixelFormat) Encode() []byte {
	b := make([]byte, WireSize)
	b[0] = f.BitsPerPixel
	b[1] = f.Depth
	if f.BigEndian {
		b[2] = 1
	}
	if f.TrueColor {
		b[3] = 1
	}
	binary.BigEndian.PutUint16(b[4:6], f.RedMax)
	binary.BigEndian.PutUint16(b[6:8], f.GreenMax)
	binary.BigEndian.PutUint16(b[8:10], f.BlueMax)
	b[10] = f.RedShift
	b[11] = f.GreenShift
	b[12] = f.BlueShift
	// b[13:16] are the 3 padding bytes, already zero.
	return b
}

// ReadFrom decodes a pixel format directly from a stream, for the
// SetPixelFormat client message and the ServerInit message.
func ReadFrom(r io.Reader) (PixelFormat, error) {
	buf := make([]byte, WireSize)
	if err := wire.ReadFull(r, buf); err != nil {
		return PixelFormat{}, err
	}
	return Decode(buf)
}

// Equal reports whether two formats describe the same pixel layout closely
// enough that Copy can use the fast memcpy path.
func Equal(a, b PixelFormat) bool {
	return a.BitsPerPixel == b.BitsPerPixel &&
		a.BigEndian == b.BigEndian &&
		a.TrueColor == b.TrueColor &&
		a.RedMax == b.RedMax && a.GreenMax == b.GreenMax && a.BlueMax == b.BlueMax &&
		a.RedShift == b.RedShift && a.GreenShift == b.GreenShift && a.BlueShift == b.BlueShift
}

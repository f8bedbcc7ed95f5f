package encoding

import (
	"io"

	"github.com/breeze-rmm/rfbserver/internal/rfb/wire"
)

// DesktopSizeReason is carried in the pseudo-rectangle's x field.
type DesktopSizeReason uint16

const (
	ReasonServer DesktopSizeReason = 0
	ReasonClient DesktopSizeReason = 1
)

// DesktopSizeStatus is carried in the pseudo-rectangle's y field, and is
// also the CaptureSource.SetDesktopSize result type (spec.md §6).
type DesktopSizeStatus uint16

const (
	StatusSuccess           DesktopSizeStatus = 0
	StatusProhibited        DesktopSizeStatus = 1
	StatusResizeFailed      DesktopSizeStatus = 2
	StatusInvalidScreenLayout DesktopSizeStatus = 3
)

// Screen is one entry of an ExtendedDesktopSize rectangle's screen list.
type Screen struct {
	ID           uint32
	X, Y         uint16
	Width, Height uint16
	Flags        uint32
}

// WriteExtendedDesktopSize writes a complete ExtendedDesktopSize
// pseudo-rectangle: the 12-byte header (x=reason, y=status, w/h=new desktop
// size, encoding=-308), then the screen count and each screen entry
// (spec.md §4.6 / §6).
func WriteExtendedDesktopSize(w io.Writer, reason DesktopSizeReason, status DesktopSizeStatus, width, height int, screens []Screen) error {
	if err := wire.WriteU16(w, uint16(reason)); err != nil {
		return err
	}
	if err := wire.WriteU16(w, uint16(status)); err != nil {
		return err
	}
	if err := wire.WriteU16(w, uint16(width)); err != nil {
		return err
	}
	if err := wire.WriteU16(w, uint16(height)); err != nil {
		return err
	}
	if err := wire.WriteS32(w, int32(ExtendedDesktopSize)); err != nil {
		return err
	}

	if err := wire.WriteU8(w, uint8(len(screens))); err != nil {
		return err
	}
	if err := wire.WritePad(w, 3); err != nil {
		return err
	}
	for _, s := range screens {
		if err := wire.WriteU32(w, s.ID); err != nil {
			return err
		}
		if err := wire.WriteU16(w, s.X); err != nil {
			return err
		}
		if err := wire.WriteU16(w, s.Y); err != nil {
			return err
		}
		if err := wire.WriteU16(w, s.Width); err != nil {
			return err
		}
		if err := wire.WriteU16(w, s.Height); err != nil {
			return err
		}
		if err := wire.WriteU32(w, s.Flags); err != nil {
			return err
		}
	}
	return nil
}

// Package wire implements the big-endian primitive reads and writes the RFB
// protocol is built from (RFC 6143 §7). Every multi-byte integer on the wire
// is big-endian; this package is the only place that knows that.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxTextLength bounds variable-length text payloads (ClientCutText,
// ServerCutText, failure reason strings) so a hostile or corrupt length
// field can't trigger an enormous allocation.
const MaxTextLength = 16 * 1024 * 1024

// MaxEncodingCount bounds SetEncodings' count field per spec.md §4.1.
const MaxEncodingCount = 511

func ReadU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func WriteU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func ReadU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func WriteU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func WriteU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadS32(r io.Reader) (int32, error) {
	v, err := ReadU32(r)
	return int32(v), err
}

func WriteS32(w io.Writer, v int32) error {
	return WriteU32(w, uint32(v))
}

// ReadFull reads exactly len(buf) bytes, discarding any bytes already
// received on a short read (io.ReadFull already loops; this wraps it so
// callers get a consistent error type from one place).
func ReadFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

func WriteFull(w io.Writer, buf []byte) error {
	_, err := w.Write(buf)
	return err
}

// ReadPad discards n padding bytes.
func ReadPad(r io.Reader, n int) error {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	return ReadFull(r, buf)
}

// WritePad writes n zero padding bytes.
func WritePad(w io.Writer, n int) error {
	if n <= 0 {
		return nil
	}
	return WriteFull(w, make([]byte, n))
}

// ReadString reads a u32 length prefix followed by that many bytes, bounded
// by max. Used for ClientCutText/ServerCutText and auth failure reasons.
func ReadString(r io.Reader, max uint32) (string, error) {
	n, err := ReadU32(r)
	if err != nil {
		return "", err
	}
	if n > max {
		return "", fmt.Errorf("wire: string length %d exceeds max %d", n, max)
	}
	buf := make([]byte, n)
	if err := ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteString writes a u32 length prefix followed by the string bytes.
func WriteString(w io.Writer, s string) error {
	if err := WriteU32(w, uint32(len(s))); err != nil {
		return err
	}
	return WriteFull(w, []byte(s))
}

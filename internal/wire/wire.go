// Package wire implements the length-tag-value codec shared by every
// serializer in the ebox core: templates, eboxes, challenges, responses,
// and stream headers/chunks all ride on top of it. All multi-byte integers
// are big-endian.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidFormat is returned on truncation or an overlong length prefix.
var ErrInvalidFormat = errors.New("wire: invalid format")

// End is the sentinel tag that terminates a field sequence.
const End byte = 0

// MaxBytesLen bounds the length of a single bytes/ciphertext field, per the
// sealed-box ciphertext bound in the spec (2^24 bytes).
const MaxBytesLen = 1 << 24

// Writer accumulates an encoded object into a growable buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// PutUint8 appends a single byte.
func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// PutUint16 appends a big-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutUint32 appends a big-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutUint64 appends a big-endian uint64.
func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutBytes appends a u32-length-prefixed byte string.
func (w *Writer) PutBytes(v []byte) {
	w.PutUint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// PutString appends a u8-length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) {
	w.PutUint8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

// PutField writes a (tag:u8, len:u32, value) triple.
func (w *Writer) PutField(tag byte, value []byte) {
	w.PutUint8(tag)
	w.PutBytes(value)
}

// End appends the tag=0 sentinel that terminates a field sequence.
func (w *Writer) End() {
	w.PutUint8(End)
}

// Reader consumes an encoded object from an in-memory buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for reading.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrInvalidFormat, n, r.Len())
	}

	b := r.buf[r.pos : r.pos+n]
	r.pos += n

	return b, nil
}

// GetUint8 reads a single byte.
func (r *Reader) GetUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

// GetUint16 reads a big-endian uint16.
func (r *Reader) GetUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(b), nil
}

// GetUint32 reads a big-endian uint32.
func (r *Reader) GetUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(b), nil
}

// GetUint64 reads a big-endian uint64.
func (r *Reader) GetUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(b), nil
}

// GetBytes reads a u32-length-prefixed byte string.
func (r *Reader) GetBytes() ([]byte, error) {
	n, err := r.GetUint32()
	if err != nil {
		return nil, err
	}

	if n > MaxBytesLen {
		return nil, fmt.Errorf("%w: length %d exceeds maximum", ErrInvalidFormat, n)
	}

	return r.take(int(n))
}

// GetString reads a u8-length-prefixed UTF-8 string.
func (r *Reader) GetString() (string, error) {
	n, err := r.GetUint8()
	if err != nil {
		return "", err
	}

	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// Fields loops over (tag:u8, len:u32, value) triples until it reads the
// tag=0 sentinel, invoking handler for each. A handler error aborts the
// loop and is returned to the caller. Tags the handler doesn't recognize
// should simply be ignored by the handler, which implements the "unknown
// tags are skipped" rule; a handler that re-assigns a struct field on every
// occurrence of a tag naturally keeps the last value seen for duplicates.
func (r *Reader) Fields(handler func(tag byte, value []byte) error) error {
	for {
		tag, err := r.GetUint8()
		if err != nil {
			return err
		}

		if tag == End {
			return nil
		}

		value, err := r.GetBytes()
		if err != nil {
			return err
		}

		if err := handler(tag, value); err != nil {
			return err
		}
	}
}

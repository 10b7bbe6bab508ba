package wire

import (
	"testing"

	"github.com/codahale/gubbins/assert"
)

func TestRoundTripScalars(t *testing.T) {
	t.Parallel()

	w := NewWriter()
	w.PutUint8(0x7f)
	w.PutUint16(0x1234)
	w.PutUint32(0xdeadbeef)
	w.PutUint64(0x0102030405060708)
	w.PutBytes([]byte("hello"))
	w.PutString("world")

	r := NewReader(w.Bytes())

	u8, err := r.GetUint8()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "u8", uint8(0x7f), u8)

	u16, err := r.GetUint16()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "u16", uint16(0x1234), u16)

	u32, err := r.GetUint32()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "u32", uint32(0xdeadbeef), u32)

	u64, err := r.GetUint64()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "u64", uint64(0x0102030405060708), u64)

	b, err := r.GetBytes()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "bytes", "hello", string(b))

	s, err := r.GetString()
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "string", "world", s)
	assert.Equal(t, "fully consumed", 0, r.Len())
}

func TestFieldsSkipsUnknownTags(t *testing.T) {
	t.Parallel()

	w := NewWriter()
	w.PutField(1, []byte("a"))
	w.PutField(0xfe, []byte("unknown-from-the-future"))
	w.PutField(2, []byte("b"))
	w.End()

	var got []string

	r := NewReader(w.Bytes())
	err := r.Fields(func(tag byte, value []byte) error {
		switch tag {
		case 1, 2:
			got = append(got, string(value))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "fields", []string{"a", "b"}, got)
}

func TestFieldsLastTagWins(t *testing.T) {
	t.Parallel()

	w := NewWriter()
	w.PutField(1, []byte("first"))
	w.PutField(1, []byte("second"))
	w.End()

	var got string

	r := NewReader(w.Bytes())
	err := r.Fields(func(tag byte, value []byte) error {
		if tag == 1 {
			got = string(value)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "duplicate tag", "second", got)
}

func TestTruncatedInput(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{0x00, 0x00})

	if _, err := r.GetUint32(); err == nil {
		t.Fatal("expected error on truncated input")
	}
}

func TestOverlongLength(t *testing.T) {
	t.Parallel()

	w := NewWriter()
	w.PutUint32(MaxBytesLen + 1)

	r := NewReader(w.Bytes())
	if _, err := r.GetBytes(); err == nil {
		t.Fatal("expected error on overlong length")
	}
}

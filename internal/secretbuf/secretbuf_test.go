package secretbuf

import (
	"testing"

	"github.com/codahale/gubbins/assert"
)

func TestZeroOnClose(t *testing.T) {
	t.Parallel()

	buf, _ := New(32)
	copy(buf.Bytes(), []byte("super secret recovery key bytes"))

	if err := buf.Close(); err != nil {
		t.Fatal(err)
	}

	for i, v := range buf.Bytes() {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, v)
		}
	}
}

func TestFromBytesTakesOwnership(t *testing.T) {
	t.Parallel()

	raw := []byte("some key material")
	buf := FromBytes(raw)

	assert.Equal(t, "length", len(raw), buf.Len())

	if err := buf.Close(); err != nil {
		t.Fatal(err)
	}

	for _, v := range raw {
		if v != 0 {
			t.Fatal("backing array was not zeroed")
		}
	}
}

func TestCloseIsIdempotentAndNilSafe(t *testing.T) {
	t.Parallel()

	var b *Buffer

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	buf, _ := New(4)
	if err := buf.Close(); err != nil {
		t.Fatal(err)
	}

	if err := buf.Close(); err != nil {
		t.Fatal(err)
	}
}

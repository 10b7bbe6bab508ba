package words

import (
	"testing"

	"github.com/codahale/gubbins/assert"
)

func TestEncodeIsDeterministic(t *testing.T) {
	t.Parallel()

	nonce := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

	a := Encode(nonce)
	b := Encode(nonce)

	assert.Equal(t, "words", a, b)
}

func TestEncodeDiffersOnDifferentInput(t *testing.T) {
	t.Parallel()

	a := Encode([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	b := Encode([]byte{1, 1, 2, 3, 4, 5, 6, 7})

	if a == b {
		t.Fatal("expected different words for different input")
	}
}

func TestEncodePanicsOnShortInput(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on short input")
		}
	}()

	Encode([]byte{1, 2, 3})
}

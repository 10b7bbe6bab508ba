package shamir

import (
	"bytes"
	"testing"
)

func TestSplitCombine2of3(t *testing.T) {
	t.Parallel()

	secret := bytes.Repeat([]byte{0xAA}, 32)

	shares, err := Split(secret, 3, 2)
	if err != nil {
		t.Fatal(err)
	}

	if len(shares) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(shares))
	}

	got, err := Combine(shares[:2])
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(got, secret) {
		t.Fatal("combined secret does not match original")
	}
}

func TestCombineDifferentPairs(t *testing.T) {
	t.Parallel()

	secret := []byte("recovery key material, 32 bytes.")

	shares, err := Split(secret, 3, 2)
	if err != nil {
		t.Fatal(err)
	}

	pairs := [][]Share{
		{shares[0], shares[1]},
		{shares[0], shares[2]},
		{shares[1], shares[2]},
	}

	for _, pair := range pairs {
		got, err := Combine(pair)
		if err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(got, secret) {
			t.Fatalf("pair %v did not reconstruct secret", pair)
		}
	}
}

func TestInvalidThreshold(t *testing.T) {
	t.Parallel()

	if _, err := Split([]byte("x"), 2, 3); err == nil {
		t.Fatal("expected error for threshold > n")
	}
}

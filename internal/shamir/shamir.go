// Package shamir adapts github.com/hashicorp/vault/shamir's GF(2^8)
// polynomial secret sharing to the part-indexed share convention the ebox
// core needs: share i is always generated for part index i (1..n), and
// Combine accepts shares keyed by that same 1-based index so the caller
// can select an arbitrary k-subset (e.g. the lowest-indexed k) without
// renumbering anything.
package shamir

import (
	"fmt"

	vaultshamir "github.com/hashicorp/vault/shamir"
)

// Share is one part's share of a split secret, tagged with the 1-based part
// index it belongs to.
type Share struct {
	Index uint8
	Value []byte
}

// Split divides secret into n shares such that any k of them reconstruct
// it. Share i (1-based) is returned at result index i-1.
func Split(secret []byte, n, k int) ([]Share, error) {
	if k < 1 || k > n || n < 1 || n > 255 {
		return nil, fmt.Errorf("shamir: invalid threshold %d of %d", k, n)
	}

	raw, err := vaultshamir.Split(secret, n, k)
	if err != nil {
		return nil, fmt.Errorf("shamir: split: %w", err)
	}

	shares := make([]Share, n)
	for i, v := range raw {
		shares[i] = Share{Index: uint8(i + 1), Value: v}
	}

	return shares, nil
}

// Combine reconstructs the original secret from k or more shares. The
// underlying vault/shamir.Combine only needs the share bytes themselves —
// the x-coordinate each share was generated with is already baked into its
// last byte — so Combine here is a thin pass-through that exists to keep
// callers working in terms of the Share type instead of raw [][]byte.
func Combine(shares []Share) ([]byte, error) {
	raw := make([][]byte, len(shares))
	for i, s := range shares {
		raw[i] = s.Value
	}

	secret, err := vaultshamir.Combine(raw)
	if err != nil {
		return nil, fmt.Errorf("shamir: combine: %w", err)
	}

	return secret, nil
}

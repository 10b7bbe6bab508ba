package ebox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joyent/ebox/internal/secretbuf"
	"github.com/joyent/ebox/internal/shamir"
	"github.com/joyent/ebox/internal/wire"
)

// Recover completes a RECOVERY config's unlock once at least threshold
// parts have had their shares revealed (via ChallengeResponse). It tries
// exactly one k-subset of the fulfilled parts per call — the library never
// retries internally (spec §7) — preferring the lexicographically lowest
// subset of part indices it hasn't already tried and found to fail. That
// makes the first attempt over any given fulfilled set deterministic, and
// lets a caller make forward progress by supplying one more response after
// a CORRUPT failure, without ever repeating a combination already known
// to be bad.
func (e *Ebox) Recover(cfg *EboxConfig) error {
	if cfg.TemplateConfig.Type != ConfigRecovery {
		return newErr(KindInvalidArg, "config is not a recovery config")
	}

	if e.unlocked {
		return ErrAgain
	}

	var fulfilledIdx []int

	for _, p := range cfg.Parts {
		if p.unsealed {
			fulfilledIdx = append(fulfilledIdx, partIndex(cfg, p))
		}
	}

	sort.Ints(fulfilledIdx)

	threshold := int(cfg.TemplateConfig.Threshold)
	if len(fulfilledIdx) < threshold {
		return ErrInsufficient
	}

	combo := cfg.nextUntriedCombo(fulfilledIdx, threshold)
	if combo == nil {
		return ErrCorrupt
	}

	shares := make([]shamir.Share, len(combo))
	for i, idx := range combo {
		shares[i] = shamir.Share{Index: uint8(idx), Value: cfg.Parts[idx-1].revealed}
	}

	recoveryKey, err := shamir.Combine(shares)
	if err != nil {
		return wrapErr(KindCorrupt, "combine recovery shares", err)
	}
	defer secretbuf.Zero(recoveryKey)

	plaintext, err := openWithKey(recoveryKey, configHeaderAAD(cfg.TemplateConfig), cfg.RecoveryNonce, cfg.RecoveryCiphertext)
	if err != nil {
		return err
	}
	defer secretbuf.Zero(plaintext)

	r := wire.NewReader(plaintext)

	key, err := r.GetBytes()
	if err != nil {
		return newErr(KindCorrupt, "malformed recovery payload")
	}

	token, err := r.GetBytes()
	if err != nil {
		return newErr(KindCorrupt, "malformed recovery payload")
	}

	e.recoveredKey = secretbuf.FromBytes(append([]byte(nil), key...))
	if len(token) > 0 {
		e.recoveredToken = append([]byte(nil), token...)
	}
	e.unlocked = true
	cfg.satisfied = true

	return nil
}

// nextUntriedCombo returns the lexicographically smallest k-subset of
// indices not already marked tried, marking it tried as it's returned. It
// returns nil if every k-subset of indices has already been tried.
func (c *EboxConfig) nextUntriedCombo(indices []int, k int) []int {
	if c.triedCombos == nil {
		c.triedCombos = make(map[string]bool)
	}

	var found []int

	var walk func(start int, combo []int) bool
	walk = func(start int, combo []int) bool {
		if len(combo) == k {
			key := comboKey(combo)
			if c.triedCombos[key] {
				return false
			}

			c.triedCombos[key] = true
			found = combo

			return true
		}

		for i := start; i < len(indices); i++ {
			next := make([]int, len(combo)+1)
			copy(next, combo)
			next[len(combo)] = indices[i]

			if walk(i+1, next) {
				return true
			}
		}

		return false
	}

	walk(0, nil)

	return found
}

func comboKey(combo []int) string {
	var sb strings.Builder

	for _, idx := range combo {
		fmt.Fprintf(&sb, "%d,", idx)
	}

	return sb.String()
}

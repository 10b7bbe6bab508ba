package ebox

import (
	"github.com/joyent/ebox/internal/secretbuf"
)

// UnsealPart unseals part's sealed box using provider and stores the
// plaintext on the part for a subsequent Unlock (PRIMARY parts) or
// ChallengeResponse-driven Recover (RECOVERY parts, via the challenge
// protocol rather than this method directly). Calling it twice on an
// already-unsealed part is a no-op.
func (p *EboxPart) UnsealPart(provider Provider) error {
	if p.unsealed {
		return nil
	}

	plaintext, err := p.SealedBox.Unseal(provider)
	if err != nil {
		return err
	}

	p.revealed = plaintext
	p.unsealed = true

	return nil
}

// Unlock completes a PRIMARY config's unlock. At least one of the config's
// parts must already have been unsealed (with UnsealPart) before calling
// this.
func (e *Ebox) Unlock(cfg *EboxConfig) error {
	if cfg.TemplateConfig.Type != ConfigPrimary {
		return newErr(KindInvalidArg, "config is not a primary config")
	}

	if e.unlocked {
		return ErrAgain
	}

	var keyBytes []byte

	for _, p := range cfg.Parts {
		if p.unsealed && len(p.revealed) > 0 {
			keyBytes = p.revealed
			break
		}
	}

	if keyBytes == nil {
		return newErr(KindInvalidState, "no primary part has been unsealed")
	}

	e.recoveredKey = secretbuf.FromBytes(append([]byte(nil), keyBytes...))
	e.unlocked = true
	cfg.satisfied = true

	return nil
}

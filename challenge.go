package ebox

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/joyent/ebox/internal/words"
	"github.com/joyent/ebox/internal/wire"
)

// ChallengeType distinguishes a recovery challenge from a voice-channel
// audit-verification challenge.
type ChallengeType uint8

const (
	// ChallengeRecovery asks a holder to reveal their share of a
	// recovery key.
	ChallengeRecovery ChallengeType = 1
	// ChallengeVerifyAudit asks a holder to confirm, out of band, that a
	// recovery attempt is legitimate.
	ChallengeVerifyAudit ChallengeType = 2
)

const challengeVersion = 1

const (
	challengeTagHostname    = 1
	challengeTagCreatedAt   = 2
	challengeTagDescription = 3
	challengeTagWords       = 4
	challengeTagNonce       = 5
	challengeTagKeybox      = 6
)

// Challenge is an interactive recovery message: a nonce-bearing record the
// requester seals for a recovery part's holder, asking them to reveal their
// share. EphemeralPubkey ("keybox" on the wire) is the requester's
// ephemeral public key, bound into the record so the holder's response can
// be addressed back to it without a side channel.
type Challenge struct {
	ID              uint8
	Type            ChallengeType
	Description     string
	Hostname        string
	CreatedAt       uint64
	Words           [words.Count]string
	Nonce           [16]byte
	EphemeralPubkey *PublicKey

	// ephemeralPriv is the requester-side secret matching EphemeralPubkey.
	// It never leaves the requester's process and is never serialized.
	ephemeralPriv *PrivateKey
}

// pendingChallenge tracks a challenge this process generated and is still
// waiting on a response for.
type pendingChallenge struct {
	part          *EboxPart
	ephemeralPriv *PrivateKey
	fulfilled     bool
}

// GenChallenge generates a challenge for part, a member of a RECOVERY
// config, and returns both the Challenge record and the sealed envelope
// that should be transported to the part's holder. description is recorded
// on the challenge for display on the holder's side.
func GenChallenge(cfg *EboxConfig, part *EboxPart, description string) (*Challenge, *SealedBox, error) {
	if cfg.TemplateConfig.Type != ConfigRecovery {
		return nil, nil, newErr(KindInvalidArg, "challenges are only generated for recovery configs")
	}

	if len(description) > 255 {
		return nil, nil, newErr(KindInvalidArg, "description too long")
	}

	idx := partIndex(cfg, part)
	if idx == 0 {
		return nil, nil, newErr(KindInvalidArg, "part does not belong to this config")
	}

	ephemeral, err := GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nil, wrapErr(KindCrypto, "generate nonce", err)
	}

	hostname, _ := os.Hostname()

	chal := &Challenge{
		ID:              uint8(idx),
		Type:            ChallengeRecovery,
		Description:     description,
		Hostname:        hostname,
		CreatedAt:       uint64(time.Now().Unix()),
		Words:           words.Encode(nonce[:8]),
		Nonce:           nonce,
		EphemeralPubkey: ephemeral.PublicKey(),
		ephemeralPriv:   ephemeral,
	}

	envelope, err := Seal(part.TemplatePart.RecipientPubkey, chal.Serialize())
	if err != nil {
		return nil, nil, err
	}

	if cfg.pendingChallenges == nil {
		cfg.pendingChallenges = make(map[string]*pendingChallenge)
	}

	cfg.pendingChallenges[string(ephemeral.PublicKey().Bytes())] = &pendingChallenge{
		part:          part,
		ephemeralPriv: ephemeral,
	}

	return chal, envelope, nil
}

// partIndex returns part's 1-based position within cfg.Parts, or 0 if it
// doesn't belong. Part challenge IDs are dense from 1 in part order, per
// the spec's uniqueness invariant.
func partIndex(cfg *EboxConfig, part *EboxPart) int {
	for i, p := range cfg.Parts {
		if p == part {
			return i + 1
		}
	}

	return 0
}

// RespondToChallenge is performed by a recovery part's holder: given the
// challenge (already recovered by unsealing the outer envelope with the
// holder's own oracle) and the share revealed from this part's own sealed
// box (also unsealed via the holder's oracle), it seals the share for the
// requester's ephemeral public key.
func RespondToChallenge(chal *Challenge, share []byte) (*SealedBox, error) {
	if chal.EphemeralPubkey == nil {
		return nil, newErr(KindInvalidArg, "challenge has no ephemeral pubkey to respond to")
	}

	return Seal(chal.EphemeralPubkey, share)
}

// ChallengeResponse processes an incoming response to an outstanding
// challenge on cfg. The matching challenge is found by the public key the
// response was sealed for. On success it returns the part the response
// was for and marks that part's share as revealed.
func (cfg *EboxConfig) ChallengeResponse(respbox *SealedBox) (*EboxPart, error) {
	pc, ok := cfg.pendingChallenges[string(respbox.RecipientPubkey.Bytes())]
	if !ok {
		return nil, newErr(KindInvalidState, "no outstanding challenge matches this response")
	}

	if pc.fulfilled {
		return nil, ErrAgain
	}

	share, err := respbox.Unseal(NewLocalProvider(pc.ephemeralPriv))
	if err != nil {
		return nil, err
	}

	pc.part.revealed = share
	pc.part.unsealed = true
	pc.fulfilled = true

	return pc.part, nil
}

// Serialize encodes the challenge per the spec's wire format.
func (c *Challenge) Serialize() []byte {
	w := wire.NewWriter()
	w.PutUint8(challengeVersion)
	w.PutUint8(uint8(c.Type))
	w.PutUint8(c.ID)

	w.PutField(challengeTagHostname, []byte(c.Hostname))

	var createdAt [8]byte
	binary.BigEndian.PutUint64(createdAt[:], c.CreatedAt)
	w.PutField(challengeTagCreatedAt, createdAt[:])

	w.PutField(challengeTagDescription, []byte(c.Description))

	wordsBuf := wire.NewWriter()
	for _, word := range c.Words {
		wordsBuf.PutString(word)
	}

	w.PutField(challengeTagWords, wordsBuf.Bytes())

	w.PutField(challengeTagNonce, c.Nonce[:])

	keyboxBuf := wire.NewWriter()
	c.EphemeralPubkey.putWire(keyboxBuf)
	w.PutField(challengeTagKeybox, keyboxBuf.Bytes())

	w.PutUint8(partTagEnd)

	return w.Bytes()
}

// ParseChallenge decodes a challenge previously produced by Serialize. The
// returned Challenge has no ephemeralPriv: it's meant to be used on the
// holder's side, which only ever sees the public half.
func ParseChallenge(buf []byte) (*Challenge, error) {
	r := wire.NewReader(buf)

	version, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	if version != challengeVersion {
		return nil, newErr(KindUnsupportedVersion, "unsupported challenge version")
	}

	typ, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	id, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	c := &Challenge{Type: ChallengeType(typ), ID: id}

	var gotNonce, gotKeybox bool

	err = r.Fields(func(tag byte, value []byte) error {
		switch tag {
		case challengeTagHostname:
			c.Hostname = string(value)
		case challengeTagCreatedAt:
			if len(value) != 8 {
				return newErr(KindInvalidFormat, "bad created_at field")
			}
			c.CreatedAt = binary.BigEndian.Uint64(value)
		case challengeTagDescription:
			c.Description = string(value)
		case challengeTagWords:
			wr := wire.NewReader(value)
			for i := range c.Words {
				s, err := wr.GetString()
				if err != nil {
					return err
				}
				c.Words[i] = s
			}
		case challengeTagNonce:
			if len(value) != len(c.Nonce) {
				return newErr(KindInvalidFormat, "bad nonce length")
			}
			copy(c.Nonce[:], value)
			gotNonce = true
		case challengeTagKeybox:
			pub, err := getPublicKeyWire(wire.NewReader(value))
			if err != nil {
				return err
			}
			c.EphemeralPubkey = pub
			gotKeybox = true
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if !gotNonce || !gotKeybox {
		return nil, newErr(KindInvalidFormat, fmt.Sprintf("challenge missing required fields (nonce=%v keybox=%v)", gotNonce, gotKeybox))
	}

	return c, nil
}

package ebox

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joyent/ebox/internal/secretbuf"
	"github.com/joyent/ebox/internal/shamir"
	"github.com/joyent/ebox/internal/wire"
)

var eboxMagic = [2]byte{0xEB, 0x0C}

const eboxVersion = 2

// EboxPart is a sealed instantiation of a TemplatePart. For a PRIMARY
// config the sealed box wraps the master key directly; for a RECOVERY
// config it wraps one Shamir share of the config's recovery key.
type EboxPart struct {
	TemplatePart *TemplatePart
	SealedBox    *SealedBox

	// Decrypt-time state, reset by Ebox.Clone. revealed holds the sealed
	// box's plaintext once unsealed: the master key itself for a PRIMARY
	// part, or a Shamir share for a RECOVERY part.
	unsealed bool
	revealed []byte
}

// Unsealed reports whether this part's sealed box has already been
// unsealed during the current unlock/recovery attempt.
func (p *EboxPart) Unsealed() bool {
	return p.unsealed
}

func (p *EboxPart) putWire(w *wire.Writer) {
	pubBuf := wire.NewWriter()
	p.TemplatePart.RecipientPubkey.putWire(pubBuf)
	w.PutField(partTagPubkey, pubBuf.Bytes())

	if p.TemplatePart.Name != "" {
		w.PutField(partTagName, []byte(p.TemplatePart.Name))
	}

	if p.TemplatePart.CardAuthPubkey != nil {
		cakBuf := wire.NewWriter()
		p.TemplatePart.CardAuthPubkey.putWire(cakBuf)
		w.PutField(partTagCardAuthPubkey, cakBuf.Bytes())
	}

	if p.TemplatePart.GUID != nil {
		w.PutField(partTagGUID, p.TemplatePart.GUID)
	}

	boxBuf := wire.NewWriter()
	p.SealedBox.putWire(boxBuf)
	w.PutField(eboxPartTagSealedBox, boxBuf.Bytes())

	w.PutUint8(partTagEnd)
}

const eboxPartTagSealedBox = 5

func getEboxPartWire(r *wire.Reader) (*EboxPart, error) {
	tp := &TemplatePart{}

	var box *SealedBox

	err := r.Fields(func(tag byte, value []byte) error {
		switch tag {
		case partTagPubkey:
			pub, err := getPublicKeyWire(wire.NewReader(value))
			if err != nil {
				return err
			}
			tp.RecipientPubkey = pub
		case partTagName:
			tp.Name = string(value)
		case partTagCardAuthPubkey:
			pub, err := getPublicKeyWire(wire.NewReader(value))
			if err != nil {
				return err
			}
			tp.CardAuthPubkey = pub
		case partTagGUID:
			tp.GUID = append([]byte(nil), value...)
		case eboxPartTagSealedBox:
			b, err := getSealedBoxWire(wire.NewReader(value))
			if err != nil {
				return err
			}
			box = b
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if tp.RecipientPubkey == nil || box == nil {
		return nil, newErr(KindInvalidFormat, "ebox part missing pubkey or sealed box")
	}

	return &EboxPart{TemplatePart: tp, SealedBox: box}, nil
}

// EboxConfig is a sealed instantiation of a TemplateConfig.
type EboxConfig struct {
	TemplateConfig *TemplateConfig
	Parts          []*EboxPart

	// RECOVERY configs only: the recovery key's AEAD envelope around the
	// u32-length-prefixed key followed by the u32-length-prefixed token.
	RecoveryNonce      []byte
	RecoveryCiphertext []byte

	// Decrypt-time state, reset by Ebox.Clone.
	satisfied bool

	// pendingChallenges tracks outstanding challenges this process has
	// generated via GenChallenge, keyed by the hex-free raw bytes of the
	// requester's ephemeral public key. Recovery-only.
	pendingChallenges map[string]*pendingChallenge

	// triedCombos records, by a canonical key, which k-subsets of
	// fulfilled part indices Recover has already attempted and found to
	// fail, so a subsequent call advances to the next untried subset
	// instead of repeating a combination already known to be bad.
	triedCombos map[string]bool
}

// Satisfied reports whether this config has already yielded the master
// key during the current unlock/recovery attempt.
func (c *EboxConfig) Satisfied() bool {
	return c.satisfied
}

func configHeaderAAD(tc *TemplateConfig) []byte {
	w := wire.NewWriter()
	w.PutUint8(uint8(tc.Type))
	w.PutUint8(uint8(len(tc.Parts)))
	w.PutUint8(tc.Threshold)

	return w.Bytes()
}

func (c *EboxConfig) putWire(w *wire.Writer) {
	w.PutUint8(uint8(c.TemplateConfig.Type))
	w.PutUint8(uint8(len(c.Parts)))
	w.PutUint8(c.TemplateConfig.Threshold)

	if c.TemplateConfig.Type == ConfigRecovery {
		w.PutBytes(c.RecoveryNonce)
		w.PutBytes(c.RecoveryCiphertext)
	}

	for _, p := range c.Parts {
		p.putWire(w)
	}
}

func getEboxConfigWire(r *wire.Reader) (*EboxConfig, error) {
	typ, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	nparts, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	threshold, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	ec := &EboxConfig{}

	if ConfigType(typ) == ConfigRecovery {
		nonce, err := r.GetBytes()
		if err != nil {
			return nil, err
		}

		ciphertext, err := r.GetBytes()
		if err != nil {
			return nil, err
		}

		ec.RecoveryNonce = nonce
		ec.RecoveryCiphertext = ciphertext
	}

	parts := make([]*EboxPart, nparts)
	tplParts := make([]*TemplatePart, nparts)

	for i := range parts {
		p, err := getEboxPartWire(r)
		if err != nil {
			return nil, err
		}

		parts[i] = p
		tplParts[i] = p.TemplatePart
	}

	ec.Parts = parts
	ec.TemplateConfig = &TemplateConfig{Type: ConfigType(typ), Threshold: threshold, Parts: tplParts}

	if err := ec.TemplateConfig.validate(); err != nil {
		return nil, newErr(KindInvalidFormat, "ebox config failed validation: "+err.Error())
	}

	return ec, nil
}

// Ebox is a sealed instantiation of a Template: the caller's key, sealed
// directly once per part for each primary config, and for each recovery
// config encrypted under a fresh recovery key whose Shamir shares are
// sealed one per part.
type Ebox struct {
	Version           uint8
	CiphertextPadding []byte
	Template          *Template
	Configs           []*EboxConfig

	recoveredKey   *secretbuf.Buffer
	recoveredToken []byte
	unlocked       bool
}

// Create seals key (and the optional token) under tpl, producing a new
// Ebox. tpl is deep-cloned first; the clone embedded in the returned Ebox
// is independent of any further mutation of tpl.
func Create(tpl *Template, key, token []byte) (*Ebox, error) {
	if len(key) == 0 {
		return nil, newErr(KindInvalidArg, "key must not be empty")
	}

	clone := tpl.Clone()

	eb := &Ebox{Version: eboxVersion, Template: clone}

	for _, tc := range clone.Configs {
		var ec *EboxConfig

		var err error

		switch tc.Type {
		case ConfigPrimary:
			ec, err = sealPrimary(tc, key)
		case ConfigRecovery:
			ec, err = sealRecovery(tc, key, token)
		default:
			err = newErr(KindInvalidArg, "unknown config type")
		}

		if err != nil {
			return nil, err
		}

		eb.Configs = append(eb.Configs, ec)
	}

	return eb, nil
}

func sealPrimary(tc *TemplateConfig, key []byte) (*EboxConfig, error) {
	part := tc.Parts[0]

	if part.RecipientPubkey == nil {
		return nil, newErr(KindNoKey, "primary part has no recipient pubkey")
	}

	box, err := Seal(part.RecipientPubkey, key)
	if err != nil {
		return nil, err
	}

	return &EboxConfig{
		TemplateConfig: tc,
		Parts:          []*EboxPart{{TemplatePart: part, SealedBox: box}},
	}, nil
}

func sealRecovery(tc *TemplateConfig, key, token []byte) (*EboxConfig, error) {
	rk := make([]byte, 32)
	if _, err := rand.Read(rk); err != nil {
		return nil, wrapErr(KindCrypto, "generate recovery key", err)
	}
	defer secretbuf.Zero(rk)

	payload := wire.NewWriter()
	payload.PutBytes(key)
	payload.PutBytes(token)

	nonce, ciphertext, err := sealWithKey(rk, configHeaderAAD(tc), payload.Bytes())
	if err != nil {
		return nil, err
	}

	shares, err := shamir.Split(rk, len(tc.Parts), int(tc.Threshold))
	if err != nil {
		return nil, wrapErr(KindCrypto, "split recovery key", err)
	}

	parts := make([]*EboxPart, len(tc.Parts))

	for i, part := range tc.Parts {
		if part.RecipientPubkey == nil {
			return nil, newErr(KindNoKey, "recovery part has no recipient pubkey")
		}

		box, err := Seal(part.RecipientPubkey, shares[i].Value)
		if err != nil {
			return nil, err
		}

		parts[i] = &EboxPart{TemplatePart: part, SealedBox: box}
	}

	return &EboxConfig{
		TemplateConfig:     tc,
		Parts:              parts,
		RecoveryNonce:      nonce,
		RecoveryCiphertext: ciphertext,
	}, nil
}

// Clone returns a deep copy of the Ebox with all decrypt-time state (per-
// part unsealed flags, per-config satisfied flags, recovered key/token)
// reset, per the spec's lifecycle rules.
func (e *Ebox) Clone() *Ebox {
	c := &Ebox{
		Version:           e.Version,
		CiphertextPadding: append([]byte(nil), e.CiphertextPadding...),
		Template:          e.Template.Clone(),
	}

	for _, cfg := range e.Configs {
		nc := &EboxConfig{
			TemplateConfig:     cfg.TemplateConfig.clone(),
			RecoveryNonce:      append([]byte(nil), cfg.RecoveryNonce...),
			RecoveryCiphertext: append([]byte(nil), cfg.RecoveryCiphertext...),
		}

		for i, p := range cfg.Parts {
			nc.Parts = append(nc.Parts, &EboxPart{
				TemplatePart: nc.TemplateConfig.Parts[i],
				SealedBox:    p.SealedBox,
			})
		}

		c.Configs = append(c.Configs, nc)
	}

	return c
}

// Key returns the recovered master key. It is only valid after a
// successful Unlock or Recover.
func (e *Ebox) Key() []byte {
	if e.recoveredKey == nil {
		return nil
	}

	return e.recoveredKey.Bytes()
}

// Token returns the recovered recovery token, if one was present. It is
// only set by a successful Recover: primary configs seal only the key, so
// Unlock never sets it.
func (e *Ebox) Token() []byte {
	return e.recoveredToken
}

// Serialize encodes the ebox per the spec's wire format.
func (e *Ebox) Serialize() []byte {
	w := wire.NewWriter()
	w.PutUint8(eboxMagic[0])
	w.PutUint8(eboxMagic[1])
	w.PutUint8(e.Version)
	w.PutUint8(uint8(len(e.Configs)))

	for _, c := range e.Configs {
		c.putWire(w)
	}

	w.PutBytes(e.CiphertextPadding)

	return w.Bytes()
}

// ParseEbox decodes an ebox previously produced by Serialize.
func ParseEbox(buf []byte) (*Ebox, error) {
	r := wire.NewReader(buf)

	m0, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	m1, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	if m0 != eboxMagic[0] || m1 != eboxMagic[1] {
		return nil, newErr(KindInvalidFormat, "bad ebox magic")
	}

	version, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	if version != eboxVersion {
		return nil, newErr(KindUnsupportedVersion, "unsupported ebox version")
	}

	nconfigs, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	configs := make([]*EboxConfig, nconfigs)
	tplConfigs := make([]*TemplateConfig, nconfigs)

	for i := range configs {
		c, err := getEboxConfigWire(r)
		if err != nil {
			return nil, err
		}

		configs[i] = c
		tplConfigs[i] = c.TemplateConfig
	}

	var padding []byte
	if r.Len() > 0 {
		padding, err = r.GetBytes()
		if err != nil {
			return nil, err
		}
	}

	return &Ebox{
		Version:           version,
		CiphertextPadding: padding,
		Template:          &Template{Version: templateVersion, Configs: tplConfigs},
		Configs:           configs,
	}, nil
}

func sealWithKey(key, aad, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, wrapErr(KindCrypto, "new aead", err)
	}

	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, wrapErr(KindCrypto, "generate nonce", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, aad)

	return nonce, ciphertext, nil
}

func openWithKey(key, aad, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, wrapErr(KindCrypto, "new aead", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, wrapErr(KindCorrupt, "recovery payload authentication failed", err)
	}

	return plaintext, nil
}

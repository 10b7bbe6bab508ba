package ebox

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"

	"github.com/joyent/ebox/internal/sealedbox"
	"github.com/joyent/ebox/internal/wire"
)

// p256OID is the ASN.1 object identifier for NIST P-256 (1.2.840.10045.3.1.7),
// the curve PIV hardware tokens use by default and the only curve the
// sealed-box format in this package currently supports.
const p256OID = "1.2.840.10045.3.1.7"

// PublicKey is the EC recipient public key carried by a TemplatePart's
// recipient_pubkey (and, optionally, card_auth_pubkey) fields.
type PublicKey struct {
	key *ecdh.PublicKey
}

// NewPublicKey parses a raw, uncompressed P-256 point.
func NewPublicKey(raw []byte) (*PublicKey, error) {
	key, err := sealedbox.Curve().NewPublicKey(raw)
	if err != nil {
		return nil, wrapErr(KindInvalidArg, "invalid public key", err)
	}

	return &PublicKey{key: key}, nil
}

// Bytes returns the raw, uncompressed point encoding.
func (p *PublicKey) Bytes() []byte {
	return p.key.Bytes()
}

// Equal reports whether p and o encode the same point.
func (p *PublicKey) Equal(o *PublicKey) bool {
	if p == nil || o == nil {
		return p == o
	}

	return bytes.Equal(p.Bytes(), o.Bytes())
}

func (p *PublicKey) putWire(w *wire.Writer) {
	w.PutString(p256OID)
	w.PutBytes(p.Bytes())
}

func getPublicKeyWire(r *wire.Reader) (*PublicKey, error) {
	oid, err := r.GetString()
	if err != nil {
		return nil, err
	}

	if oid != p256OID {
		return nil, newErr(KindUnsupportedVersion, "unsupported curve OID "+oid)
	}

	point, err := r.GetBytes()
	if err != nil {
		return nil, err
	}

	return NewPublicKey(point)
}

// PrivateKey is a recipient's private key. The core only ever uses one of
// these directly through localProvider, the in-process stand-in for a
// hardware-token oracle; in a real deployment the private key never leaves
// the device and the core only ever sees a Provider.
type PrivateKey struct {
	key *ecdh.PrivateKey
}

// GeneratePrivateKey generates a new P-256 keypair.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, wrapErr(KindCrypto, "generate private key", err)
	}

	return &PrivateKey{key: key}, nil
}

// PublicKey returns the corresponding public key.
func (p *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: p.key.PublicKey()}
}

// ECDH performs a key agreement against peer, as a hardware-token oracle
// would when asked to unseal a box addressed to this key.
func (p *PrivateKey) ECDH(peer *PublicKey) ([]byte, error) {
	secret, err := p.key.ECDH(peer.key)
	if err != nil {
		return nil, wrapErr(KindCrypto, "ecdh", err)
	}

	return secret, nil
}

// localProvider implements Provider directly over an in-memory private
// key. It's the default stand-in for a hardware-token oracle in tests and
// in callers that don't need real hardware backing.
type localProvider struct {
	priv *PrivateKey
}

// NewLocalProvider returns a Provider that performs ECDH with priv whenever
// the requested recipient matches priv's public key, and fails with NoKey
// otherwise.
func NewLocalProvider(priv *PrivateKey) Provider {
	return localProvider{priv: priv}
}

func (l localProvider) ECDH(recipient, ephemeral *PublicKey) ([]byte, error) {
	if !recipient.Equal(l.priv.PublicKey()) {
		return nil, newErr(KindNoKey, "provider has no matching key for this recipient")
	}

	return l.priv.ECDH(ephemeral)
}

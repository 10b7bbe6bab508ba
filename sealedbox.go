package ebox

import (
	"github.com/joyent/ebox/internal/sealedbox"
	"github.com/joyent/ebox/internal/wire"
)

// sealedBoxVersion is the only wire version this package emits or accepts.
const sealedBoxVersion = 1

// Provider is the hardware-token cryptographic oracle's contract: given a
// recipient public key (used to select which on-device private key to use)
// and an ephemeral public key, it performs ECDH and returns the shared
// secret. The core treats it as an opaque capability and never asks for
// the private key itself.
type Provider interface {
	ECDH(recipient, ephemeral *PublicKey) ([]byte, error)
}

// SealedBox is an ECDH+AEAD envelope addressed to a recipient public key.
type SealedBox struct {
	RecipientPubkey *PublicKey
	EphemeralPubkey *PublicKey
	Nonce           []byte
	Ciphertext      []byte
}

// Seal encrypts plaintext for recipient. No external provider is needed:
// sealing only requires generating an ephemeral keypair and the
// recipient's (public) key.
func Seal(recipient *PublicKey, plaintext []byte) (*SealedBox, error) {
	if len(plaintext) == 0 {
		return nil, newErr(KindInvalidArg, "plaintext must not be empty")
	}

	ephPub, nonce, ciphertext, err := sealedbox.Seal(recipient.key, plaintext)
	if err != nil {
		return nil, wrapErr(KindCrypto, "seal", err)
	}

	return &SealedBox{
		RecipientPubkey: recipient,
		EphemeralPubkey: &PublicKey{key: ephPub},
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

// Unseal decrypts the box using provider to perform the recipient-side
// ECDH. Failure modes are NoKey (the provider has no matching key) and
// AuthFailed (the AEAD tag did not verify).
func (b *SealedBox) Unseal(provider Provider) ([]byte, error) {
	shared, err := provider.ECDH(b.RecipientPubkey, b.EphemeralPubkey)
	if err != nil {
		if ee, ok := err.(*Error); ok {
			return nil, ee
		}

		return nil, wrapErr(KindNoKey, "provider ecdh failed", err)
	}

	plaintext, err := sealedbox.Open(shared, b.EphemeralPubkey.Bytes(), b.RecipientPubkey.Bytes(), b.Nonce, b.Ciphertext)
	if err != nil {
		return nil, wrapErr(KindAuthFailed, "unseal", err)
	}

	return plaintext, nil
}

// putWire appends the box's wire encoding: version, recipient pubkey,
// ephemeral pubkey, nonce, ciphertext.
func (b *SealedBox) putWire(w *wire.Writer) {
	w.PutUint8(sealedBoxVersion)
	b.RecipientPubkey.putWire(w)
	b.EphemeralPubkey.putWire(w)
	w.PutBytes(b.Nonce)
	w.PutBytes(b.Ciphertext)
}

func getSealedBoxWire(r *wire.Reader) (*SealedBox, error) {
	version, err := r.GetUint8()
	if err != nil {
		return nil, err
	}

	if version != sealedBoxVersion {
		return nil, newErr(KindUnsupportedVersion, "unsupported sealed box version")
	}

	recipient, err := getPublicKeyWire(r)
	if err != nil {
		return nil, err
	}

	ephemeral, err := getPublicKeyWire(r)
	if err != nil {
		return nil, err
	}

	nonce, err := r.GetBytes()
	if err != nil {
		return nil, err
	}

	ciphertext, err := r.GetBytes()
	if err != nil {
		return nil, err
	}

	return &SealedBox{
		RecipientPubkey: recipient,
		EphemeralPubkey: ephemeral,
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

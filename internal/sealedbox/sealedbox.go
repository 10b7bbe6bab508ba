// Package sealedbox implements the ECDH+HKDF+AEAD envelope described in the
// spec's sealed-box interface: given the recipient's public key, generate
// an ephemeral keypair on the recipient's curve, derive a shared secret via
// ECDH, derive an AEAD key with HKDF-SHA256 over (ephemeral_pub ||
// recipient_pub), and seal with a random 12-byte nonce.
//
// Structurally this keeps the shape of the teacher's internal/kem package
// (ephemeral keypair, shared-secret derivation, then seal) but replaces its
// STROBE/ristretto255 primitives with crypto/ecdh, HKDF-SHA256, and
// ChaCha20-Poly1305, the combination the spec's sealed-box section
// actually calls for.
package sealedbox

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// NonceSize is the AEAD nonce length the spec's sealed-box format uses.
const NonceSize = 12

// kdfInfo binds the derived key to this construction, distinct from any
// other protocol that might reuse the same curve.
const kdfInfo = "ebox sealed box v1"

// ErrAuthFailed is returned when the AEAD tag does not verify.
var ErrAuthFailed = errors.New("sealedbox: authentication failed")

// Curve returns the curve used for all ebox sealed boxes: NIST P-256, the
// curve PIV hardware tokens use by default.
func Curve() ecdh.Curve {
	return ecdh.P256()
}

// GenerateKey generates a new keypair on Curve().
func GenerateKey() (*ecdh.PrivateKey, error) {
	priv, err := Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: generate key: %w", err)
	}

	return priv, nil
}

// Seal encrypts plaintext for recipientPub, generating its own ephemeral
// keypair. It returns the ephemeral public key, the nonce, and the
// ciphertext (with the AEAD tag appended).
func Seal(recipientPub *ecdh.PublicKey, plaintext []byte) (ephemeralPub *ecdh.PublicKey, nonce, ciphertext []byte, err error) {
	ephemeral, err := GenerateKey()
	if err != nil {
		return nil, nil, nil, err
	}

	shared, err := ephemeral.ECDH(recipientPub)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sealedbox: ecdh: %w", err)
	}

	key, err := deriveKey(shared, ephemeral.PublicKey().Bytes(), recipientPub.Bytes())
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("sealedbox: generate nonce: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sealedbox: new aead: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)

	return ephemeral.PublicKey(), nonce, ciphertext, nil
}

// Open decrypts ciphertext given the shared secret the caller (or a
// Provider oracle standing in for a hardware token) has already computed
// between the recipient's private key and ephemeralPub.
func Open(sharedSecret, ephemeralPubBytes, recipientPubBytes, nonce, ciphertext []byte) ([]byte, error) {
	key, err := deriveKey(sharedSecret, ephemeralPubBytes, recipientPubBytes)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: new aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

func deriveKey(sharedSecret, ephemeralPub, recipientPub []byte) ([]byte, error) {
	info := make([]byte, 0, len(kdfInfo)+len(ephemeralPub)+len(recipientPub))
	info = append(info, []byte(kdfInfo)...)
	info = append(info, ephemeralPub...)
	info = append(info, recipientPub...)

	r := hkdf.New(sha256.New, sharedSecret, nil, info)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("sealedbox: derive key: %w", err)
	}

	return key, nil
}

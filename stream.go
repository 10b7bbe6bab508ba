package ebox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joyent/ebox/internal/secretbuf"
	"github.com/joyent/ebox/internal/wire"
)

// streamMagic is the four-byte prefix of a serialized stream header.
var streamMagic = [4]byte{'E', 'S', 'T', 'R'}

const streamVersion = 1

// aeadIDChaCha20Poly1305 identifies the AEAD algorithm used for a stream's
// chunks, carried in the header so a future version could introduce a
// different one without breaking old streams.
const aeadIDChaCha20Poly1305 = 1

// DefaultChunkSize is the plaintext size of a full (non-final) chunk when
// the caller doesn't specify one.
const DefaultChunkSize = 128 * 1024

// streamOutCap bounds how much ciphertext (encrypt mode) or plaintext
// (decrypt mode) Stream buffers internally before Put refuses to accept
// more input; the caller must Get to drain it first.
const streamOutCap = 4 * DefaultChunkSize

// StreamMode distinguishes an encrypting stream from a decrypting one.
type StreamMode uint8

const (
	StreamEncrypt StreamMode = 1
	StreamDecrypt StreamMode = 2
)

// Stream is a chunked AEAD container whose session key is itself sealed in
// an ebox. One instance is single-use and single-direction: encrypt with
// Put/Get/Close, or decrypt with the same three calls in the same order.
type Stream struct {
	mode         StreamMode
	chunkSize    uint32
	aead         cipher.AEAD
	headerDigest []byte
	nextSeq      uint32
	closed       bool

	// encrypt-mode state
	pending []byte

	// decrypt-mode state
	cipherBuf  []byte
	terminated bool
	corrupted  bool

	outbuf []byte
}

// NewEncryptStream generates a random session key, seals it into a
// one-shot ebox under tpl, and returns a Stream ready to accept plaintext
// via Put, plus the serialized header the decrypting side will need.
// chunkSize of 0 selects DefaultChunkSize.
func NewEncryptStream(tpl *Template, chunkSize uint32) (*Stream, []byte, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	sessionKey := make([]byte, 32)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, nil, wrapErr(KindCrypto, "generate session key", err)
	}
	defer secretbuf.Zero(sessionKey)

	eb, err := Create(tpl, sessionKey, nil)
	if err != nil {
		return nil, nil, err
	}

	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, nil, wrapErr(KindCrypto, "new aead", err)
	}

	w := wire.NewWriter()
	for _, b := range streamMagic {
		w.PutUint8(b)
	}
	w.PutUint8(streamVersion)
	w.PutBytes(eb.Serialize())
	w.PutUint32(chunkSize)
	w.PutUint8(aeadIDChaCha20Poly1305)

	header := w.Bytes()
	digest := sha256.Sum256(header)

	return &Stream{
		mode:         StreamEncrypt,
		chunkSize:    chunkSize,
		aead:         aead,
		headerDigest: digest[:],
	}, header, nil
}

// ParseStreamHeader decodes a stream header into its embedded (still
// sealed) ebox and chunk size, without unlocking anything. The caller
// unlocks or recovers the returned ebox through the normal API, then
// passes both header and ebox to NewDecryptStream.
func ParseStreamHeader(header []byte) (*Ebox, uint32, error) {
	r := wire.NewReader(header)

	for _, want := range streamMagic {
		got, err := r.GetUint8()
		if err != nil {
			return nil, 0, err
		}

		if got != want {
			return nil, 0, newErr(KindInvalidFormat, "bad stream magic")
		}
	}

	version, err := r.GetUint8()
	if err != nil {
		return nil, 0, err
	}

	if version != streamVersion {
		return nil, 0, newErr(KindUnsupportedVersion, "unsupported stream version")
	}

	eboxBytes, err := r.GetBytes()
	if err != nil {
		return nil, 0, err
	}

	eb, err := ParseEbox(eboxBytes)
	if err != nil {
		return nil, 0, err
	}

	chunkSize, err := r.GetUint32()
	if err != nil {
		return nil, 0, err
	}

	aeadID, err := r.GetUint8()
	if err != nil {
		return nil, 0, err
	}

	if aeadID != aeadIDChaCha20Poly1305 {
		return nil, 0, newErr(KindUnsupportedVersion, "unsupported stream aead id")
	}

	return eb, chunkSize, nil
}

// NewDecryptStream returns a Stream ready to accept ciphertext via Put.
// unlockedEbox must be the stream's embedded ebox (from ParseStreamHeader),
// already unlocked or recovered.
func NewDecryptStream(header []byte, unlockedEbox *Ebox) (*Stream, error) {
	_, chunkSize, err := ParseStreamHeader(header)
	if err != nil {
		return nil, err
	}

	sessionKey := unlockedEbox.Key()
	if len(sessionKey) == 0 {
		return nil, newErr(KindInvalidState, "stream ebox is not unlocked")
	}

	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, wrapErr(KindCrypto, "new aead", err)
	}

	digest := sha256.Sum256(header)

	return &Stream{
		mode:         StreamDecrypt,
		chunkSize:    chunkSize,
		aead:         aead,
		headerDigest: digest[:],
	}, nil
}

func seqNonce(seq uint32) []byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint32(nonce[len(nonce)-4:], seq)

	return nonce[:]
}

// Put feeds input into the stream: plaintext in encrypt mode, raw wire
// bytes in decrypt mode. It returns the number of bytes consumed from
// vecs, processed in order across vector boundaries. If the stream's
// internal output buffer is full, Put consumes less than the full input;
// the caller must Get to drain before retrying.
func (s *Stream) Put(vecs [][]byte) (int, error) {
	if s.closed {
		return 0, newErr(KindInvalidState, "stream is closed")
	}

	switch s.mode {
	case StreamEncrypt:
		return s.putPlaintext(vecs)
	case StreamDecrypt:
		return s.putCiphertext(vecs)
	default:
		return 0, newErr(KindInvalidState, "unknown stream mode")
	}
}

func (s *Stream) putPlaintext(vecs [][]byte) (int, error) {
	consumed := 0

	for _, vec := range vecs {
		for len(vec) > 0 {
			if len(s.outbuf) >= streamOutCap {
				return consumed, nil
			}

			room := int(s.chunkSize) - len(s.pending)
			if room > len(vec) {
				room = len(vec)
			}

			s.pending = append(s.pending, vec[:room]...)
			vec = vec[room:]
			consumed += room

			if len(s.pending) >= int(s.chunkSize) {
				if err := s.emitChunk(s.pending[:s.chunkSize]); err != nil {
					return consumed, err
				}

				s.pending = append([]byte(nil), s.pending[s.chunkSize:]...)
			}
		}
	}

	return consumed, nil
}

func (s *Stream) emitChunk(plain []byte) error {
	ciphertext := s.aead.Seal(nil, seqNonce(s.nextSeq), plain, s.headerDigest)

	w := wire.NewWriter()
	w.PutUint32(s.nextSeq)
	w.PutUint32(uint32(len(ciphertext)))
	s.outbuf = append(s.outbuf, w.Bytes()...)
	s.outbuf = append(s.outbuf, ciphertext...)
	s.nextSeq++

	return nil
}

func (s *Stream) putCiphertext(vecs [][]byte) (int, error) {
	if s.corrupted {
		return 0, ErrCorrupt
	}

	if s.terminated {
		return 0, newErr(KindInvalidState, "stream already terminated")
	}

	consumed := 0

	for _, vec := range vecs {
		if len(s.outbuf) >= streamOutCap {
			break
		}

		s.cipherBuf = append(s.cipherBuf, vec...)
		consumed += len(vec)
	}

	for !s.terminated && len(s.outbuf) < streamOutCap {
		if len(s.cipherBuf) < 8 {
			break
		}

		seq := binary.BigEndian.Uint32(s.cipherBuf[0:4])
		length := binary.BigEndian.Uint32(s.cipherBuf[4:8])

		if uint64(len(s.cipherBuf)) < 8+uint64(length) {
			break
		}

		chunk := s.cipherBuf[8 : 8+length]
		s.cipherBuf = append([]byte(nil), s.cipherBuf[8+length:]...)

		if length == 0 {
			s.terminated = true
			break
		}

		if seq != s.nextSeq {
			s.corrupted = true
			return consumed, ErrCorrupt
		}

		plain, err := s.aead.Open(nil, seqNonce(seq), chunk, s.headerDigest)
		if err != nil {
			s.corrupted = true
			return consumed, wrapErr(KindCorrupt, "stream chunk authentication failed", err)
		}

		s.outbuf = append(s.outbuf, plain...)
		s.nextSeq++
	}

	return consumed, nil
}

// Get drains buffered output into vecs (ciphertext in encrypt mode,
// verified plaintext in decrypt mode), scattering across vector
// boundaries in order. It returns the number of bytes written.
func (s *Stream) Get(vecs [][]byte) (int, error) {
	produced := 0

	for _, dst := range vecs {
		if len(s.outbuf) == 0 {
			break
		}

		n := copy(dst, s.outbuf)
		s.outbuf = append([]byte(nil), s.outbuf[n:]...)
		produced += n
	}

	return produced, nil
}

// Close finalizes the stream. In encrypt mode it flushes any buffered
// short final chunk and appends the len=0 terminator chunk to the output
// buffer (a final Get is needed to drain it). In decrypt mode it fails
// with CORRUPT if the terminator chunk was never seen, which is what a
// truncated stream looks like.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}

	switch s.mode {
	case StreamEncrypt:
		if len(s.pending) > 0 {
			if err := s.emitChunk(s.pending); err != nil {
				return err
			}

			s.pending = nil
		}

		w := wire.NewWriter()
		w.PutUint32(s.nextSeq)
		w.PutUint32(0)
		s.outbuf = append(s.outbuf, w.Bytes()...)
	case StreamDecrypt:
		if s.corrupted {
			return ErrCorrupt
		}

		if !s.terminated {
			return ErrCorrupt
		}
	}

	s.closed = true

	return nil
}

// Package cryptox implements the document envelope cipher and the hashing
// helpers shared by the sealing, signing and archival services.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes (96 bits).
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes (128 bits).
	TagSize = 16
	// Overhead is the fixed envelope prefix: nonce || tag.
	Overhead = NonceSize + TagSize
	// MinEnvelopeSize is the shortest envelope Decrypt accepts. An envelope of
	// exactly Overhead bytes carries an empty plaintext and must still
	// authenticate.
	MinEnvelopeSize = Overhead
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrEmptySecret       = errors.New("empty envelope secret")
)

// randReader is a seam for tests that need to observe nonce generation.
var randReader io.Reader = rand.Reader

// Cipher seals and opens document envelopes with a fixed AES-256 key.
//
// Envelope layout (bit-exact, no delimiters or length prefixes):
//
//	nonce[12] || tag[16] || ciphertext[N]
//
// The key is derived once as SHA-256(secret) and kept for the lifetime of
// the Cipher. A Cipher is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the 256-bit key from secret and prepares AES-GCM.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := sha256.Sum256([]byte(secret))
	defer WipeByteArray(key[:])

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext into a new envelope using a fresh random nonce.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, Overhead, Overhead+len(plaintext)+TagSize)

	nonce := out[:NonceSize]
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, err
	}

	// Go's GCM emits ciphertext || tag; move the tag in front of the ciphertext.
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - TagSize

	copy(out[NonceSize:Overhead], sealed[ctLen:])
	out = append(out, sealed[:ctLen]...)

	return out, nil
}

// Decrypt opens an envelope produced by Encrypt.
//
// Envelopes shorter than MinEnvelopeSize are rejected with
// ErrMalformedEnvelope before any cryptographic work. Any authentication
// failure yields ErrDecryptionFailed and no plaintext.
func (c *Cipher) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < MinEnvelopeSize {
		return nil, ErrMalformedEnvelope
	}

	nonce := sealed[:NonceSize]
	tag := sealed[NonceSize:Overhead]
	ct := sealed[Overhead:]

	buf := make([]byte, 0, len(ct)+TagSize)
	buf = append(buf, ct...)
	buf = append(buf, tag...)

	plaintext, err := c.aead.Open(nil, nonce, buf, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// WipeByteArray overwrites b with zeros. A nil slice is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

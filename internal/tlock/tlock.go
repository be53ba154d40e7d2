// Package tlock is the hybrid layer of the timelock engine: the 32-byte
// session key is sealed to the round identity with internal/ibe, and the
// payload itself is encrypted under that key with AES-256-GCM. The sealed
// result is a single versioned binary container (see container.go).
package tlock

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"
	"github.com/drand/kyber/pairing"

	"timelock/internal/ibe"
)

// SessionKeySize is the size of the symmetric key sealed inside the IBE
// header.
const SessionKeySize = ibe.SessionKeySize

// ErrAuthentication is returned when decryption fails for any
// integrity-related reason: a signature for the wrong round, a corrupted
// body, or a tampered header. The cases are deliberately not distinguished.
var ErrAuthentication = errors.New("tlock: authentication failed")

// Encrypt seals plaintext to the identity under the beacon public key.
// sessionKey keys the AES-256-GCM body and is itself sealed inside the IBE
// header; callers must draw it from a cryptographically secure source and
// never reuse it. Plaintext may be empty.
func Encrypt(s pairing.Suite, publicKey kyber.Point, identity, plaintext, sessionKey []byte) (*Ciphertext, error) {
	if len(sessionKey) != SessionKeySize {
		return nil, fmt.Errorf("tlock: session key must be %d bytes, got %d", SessionKeySize, len(sessionKey))
	}
	if len(plaintext) > MaxPlaintextSize {
		return nil, fmt.Errorf("tlock: plaintext exceeds %d bytes", MaxPlaintextSize)
	}

	header, err := ibe.Encrypt(s, publicKey, identity, sessionKey, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("tlock: sealing session key: %w", err)
	}

	gcm, err := newGCM(sessionKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("tlock: generating nonce: %w", err)
	}

	return &Ciphertext{
		Header: *header,
		Nonce:  nonce,
		Body:   gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt recovers the plaintext using the beacon signature for the round
// the ciphertext was sealed to. Any integrity failure, in the header or the
// body, yields ErrAuthentication and no plaintext.
func Decrypt(s pairing.Suite, signature kyber.Point, ct *Ciphertext) ([]byte, error) {
	sessionKey, err := ibe.Decrypt(s, signature, &ct.Header)
	if err != nil {
		if errors.Is(err, ibe.ErrDecryptionFailed) {
			return nil, ErrAuthentication
		}
		return nil, fmt.Errorf("tlock: unsealing session key: %w", err)
	}

	gcm, err := newGCM(sessionKey)
	if err != nil {
		return nil, err
	}
	if len(ct.Nonce) != nonceSize {
		return nil, ErrAuthentication
	}

	plaintext, err := gcm.Open(nil, ct.Nonce, ct.Body, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tlock: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tlock: creating GCM: %w", err)
	}
	return gcm, nil
}

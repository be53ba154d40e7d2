// Package ibe implements Boneh-Franklin FullIdent identity-based encryption
// over BLS12-381, oriented the way drand quicknet is: the beacon public key
// lives in G2, identities and round signatures live in G1.
//
// Encrypt seals a fixed-size session key to an identity; Decrypt recovers it
// from the round signature acting as the identity's private key. Arbitrary
// payloads are handled one layer up (internal/tlock), which uses the session
// key for bulk encryption.
package ibe

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"
	"github.com/drand/kyber/pairing"
)

// SessionKeySize is the only message length the scheme accepts. The session
// key doubles as the symmetric key of the hybrid layer, so it is fixed at
// 256 bits.
const SessionKeySize = 32

// ErrDecryptionFailed is returned when the recovered session key fails the
// U == rP consistency check. The signature was for a different identity, or
// the ciphertext was tampered with; the two cases are not distinguished.
var ErrDecryptionFailed = errors.New("ibe: decryption failed")

// Ciphertext is the IBE commitment <U, V, W>:
//
//	U = rP (in G2)
//	V = sigma XOR H2(e(Q_id, pk)^r)
//	W = key XOR H4(sigma)
//
// where r = H3(sigma || key) binds the randomness to the plaintext, giving
// the FullIdent consistency check on decryption.
type Ciphertext struct {
	U kyber.Point
	V []byte
	W []byte
}

// Encrypt seals sessionKey to the given identity under the beacon public key.
// sigma is drawn from rand; the caller supplies a cryptographically secure
// source. The identity is hashed to G1 with the suite's RFC 9380 map, so any
// byte string is a valid identity.
func Encrypt(s pairing.Suite, publicKey kyber.Point, identity, sessionKey []byte, rand io.Reader) (*Ciphertext, error) {
	if len(sessionKey) != SessionKeySize {
		return nil, fmt.Errorf("ibe: session key must be %d bytes, got %d", SessionKeySize, len(sessionKey))
	}
	if len(identity) == 0 {
		return nil, errors.New("ibe: empty identity")
	}

	hashable, ok := s.G1().Point().(kyber.HashablePoint)
	if !ok {
		return nil, errors.New("ibe: G1 points are not hashable")
	}
	qID := hashable.Hash(identity)

	sigma := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand, sigma); err != nil {
		return nil, fmt.Errorf("ibe: reading randomness: %w", err)
	}

	// r = H3(sigma || key) ties the ephemeral scalar to the plaintext.
	r := h3(s, sigma, sessionKey)
	u := s.G2().Point().Mul(r, nil)

	// e(Q_id, pk)^r, then mask sigma with its hash.
	gID := s.Pair(qID, publicKey)
	rGID := s.GT().Point().Mul(r, gID)
	mask, err := h2(rGID)
	if err != nil {
		return nil, err
	}
	v := xorBytes(sigma, mask)

	// key XOR H4(sigma)
	w := xorBytes(sessionKey, h4(sigma))

	return &Ciphertext{U: u, V: v, W: w}, nil
}

// Decrypt recovers the session key using the beacon signature for the
// identity the ciphertext was sealed to. A signature for any other identity
// fails the consistency check and yields ErrDecryptionFailed; no partial
// result is returned.
func Decrypt(s pairing.Suite, signature kyber.Point, ct *Ciphertext) ([]byte, error) {
	if ct == nil || ct.U == nil {
		return nil, errors.New("ibe: nil ciphertext")
	}
	if len(ct.V) != SessionKeySize || len(ct.W) != SessionKeySize {
		return nil, fmt.Errorf("ibe: malformed ciphertext: V/W must be %d bytes", SessionKeySize)
	}

	// sigma = V XOR H2(e(sig, U))
	gID := s.Pair(signature, ct.U)
	mask, err := h2(gID)
	if err != nil {
		return nil, err
	}
	sigma := xorBytes(ct.V, mask)

	// key = W XOR H4(sigma)
	sessionKey := xorBytes(ct.W, h4(sigma))

	// Recompute r and require U == rP. This is what turns BasicIdent into
	// FullIdent: a wrong signature produces a wrong sigma, which fails here.
	r := h3(s, sigma, sessionKey)
	if !s.G2().Point().Mul(r, nil).Equal(ct.U) {
		return nil, ErrDecryptionFailed
	}

	return sessionKey, nil
}

// h2 maps a GT element to 32 bytes: SHA-256 over its compressed encoding.
func h2(gt kyber.Point) ([]byte, error) {
	buf, err := gt.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("ibe: marshaling GT element: %w", err)
	}
	sum := sha256.Sum256(buf)
	return sum[:], nil
}

// h3 hashes two byte strings into a scalar: SHA-256(a || b) reduced mod the
// group order.
func h3(s pairing.Suite, a, b []byte) kyber.Scalar {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return s.G1().Scalar().SetBytes(h.Sum(nil))
}

// h4 is SHA-256 truncated to the input length (inputs here are 32 bytes, so
// in practice the full digest).
func h4(a []byte) []byte {
	sum := sha256.Sum256(a)
	return sum[:len(a)]
}

func xorBytes(a, b []byte) []byte {
	if len(a) != len(b) {
		panic("ibe: xor length mismatch")
	}
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

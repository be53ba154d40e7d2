// Package timelock implements timelock encryption against a drand-style
// randomness beacon: a message is encrypted to a future round of the beacon
// and becomes decryptable by anyone once the beacon publishes its BLS
// signature for that round.
//
// The package is the boundary surface of the engine. A Library value owns
// all process state (the pairing suite, the ciphertext handle registry, the
// last-error holder); the cryptographic core underneath is stateless and
// lives in internal/ibe and internal/tlock. Public keys and signatures cross
// this boundary as hex strings of the compressed group-element lengths;
// everything behind the boundary operates on validated group elements only.
package timelock

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/drand/kyber"
	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/pairing"
	"github.com/google/uuid"

	"timelock/internal/tlock"
)

// Version identifies the engine release. Retrievable for diagnostics; it
// carries no compatibility guarantees beyond the container format version.
const Version = "0.1.0"

const (
	// SecretKeySize is the required length of the session-key seed passed to
	// Encrypt.
	SecretKeySize = 32

	// PublicKeySize is the compressed G2 public key length in bytes. The hex
	// form crossing the boundary is twice this.
	PublicKeySize = 96

	// SignatureSize is the compressed G1 round-signature length in bytes.
	SignatureSize = 48

	// CiphertextOverhead is the fixed difference between ciphertext and
	// plaintext lengths.
	CiphertextOverhead = tlock.Overhead
)

// EstimateCiphertextSize returns the exact serialized ciphertext size for a
// plaintext of the given length, including zero. Pure size accounting; no
// cryptography is performed.
func EstimateCiphertextSize(plaintextLen int) int {
	return tlock.CiphertextSize(plaintextLen)
}

// Handle is an opaque reference to a sealed ciphertext owned by a Library.
// The zero Handle is invalid.
type Handle struct {
	id uuid.UUID
}

// Library owns the engine's process state. The zero value is not usable;
// construct with New and release with Close. All methods are safe for
// concurrent use; the cryptographic work itself is stateless, so concurrent
// calls do not serialize on each other beyond registry bookkeeping.
type Library struct {
	suite pairing.Suite

	mu      sync.Mutex
	handles map[uuid.UUID]*tlock.Ciphertext
	lastErr string
	closed  bool
}

// New initializes an engine instance. Instances are independent; multiple
// may coexist in one process.
func New() *Library {
	return &Library{
		suite:   bls.NewBLS12381Suite(),
		handles: make(map[uuid.UUID]*tlock.Ciphertext),
	}
}

// Close releases the instance. Every outstanding handle is invalidated and
// all subsequent calls fail with ErrClosed. Idempotent.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handles = nil
	l.lastErr = ""
	return nil
}

// CreateIdentity writes the round identity into out and returns the number
// of bytes written. Fails with ErrBufferTooSmall if out is shorter than
// IdentitySize.
func (l *Library) CreateIdentity(round uint64, out []byte) (int, error) {
	if err := l.ensureOpen(); err != nil {
		return 0, err
	}
	if len(out) < IdentitySize {
		return 0, l.fail(fmt.Errorf("%w: identity needs %d bytes, have %d", ErrBufferTooSmall, IdentitySize, len(out)))
	}
	id := DeriveIdentity(round)
	copy(out, id[:])
	l.clearErr()
	return IdentitySize, nil
}

// EstimateCiphertextSize is the method form of the package-level function.
func (l *Library) EstimateCiphertextSize(plaintextLen int) int {
	return EstimateCiphertextSize(plaintextLen)
}

// Encrypt seals plaintext to the given round identity under the beacon
// public key and returns a handle to the ciphertext. secretKey is the
// 32-byte session-key seed: it keys the bulk cipher and is itself sealed
// inside the IBE commitment. It is caller-controlled for testability and
// must come from a cryptographically secure source, fresh per call — reuse
// across two encryptions breaks confidentiality.
func (l *Library) Encrypt(plaintext, identity []byte, publicKeyHex string, secretKey []byte) (Handle, error) {
	if err := l.ensureOpen(); err != nil {
		return Handle{}, err
	}
	if len(identity) != IdentitySize {
		return Handle{}, l.fail(fmt.Errorf("%w: identity must be %d bytes, got %d", ErrInvalidInput, IdentitySize, len(identity)))
	}
	if len(secretKey) != SecretKeySize {
		return Handle{}, l.fail(fmt.Errorf("%w: secret key must be %d bytes, got %d", ErrInvalidInput, SecretKeySize, len(secretKey)))
	}

	publicKey, err := l.decodePublicKey(publicKeyHex)
	if err != nil {
		return Handle{}, l.fail(err)
	}

	ct, err := tlock.Encrypt(l.suite, publicKey, identity, plaintext, secretKey)
	if err != nil {
		return Handle{}, l.fail(fmt.Errorf("%w: %v", ErrEncryptionFailed, err))
	}

	return l.store(ct)
}

// ImportCiphertext validates a serialized container and returns a handle to
// it. Structural validation only; no signature is needed and no pairing is
// evaluated beyond decoding the commitment point.
func (l *Library) ImportCiphertext(raw []byte) (Handle, error) {
	if err := l.ensureOpen(); err != nil {
		return Handle{}, err
	}

	ct, err := tlock.Unmarshal(l.suite, raw)
	if err != nil {
		return Handle{}, l.fail(fmt.Errorf("%w: %v", ErrInvalidCiphertext, err))
	}

	return l.store(ct)
}

// CiphertextBytes returns the serialized form of the ciphertext — the only
// externally observable (Sealed) state, suitable for storage or transport.
func (l *Library) CiphertextBytes(h Handle) ([]byte, error) {
	ct, err := l.lookup(h)
	if err != nil {
		return nil, err
	}
	raw, err := ct.Marshal()
	if err != nil {
		return nil, l.fail(fmt.Errorf("%w: %v", ErrEncryptionFailed, err))
	}
	l.clearErr()
	return raw, nil
}

// CiphertextLen returns the serialized length of the ciphertext.
func (l *Library) CiphertextLen(h Handle) (int, error) {
	ct, err := l.lookup(h)
	if err != nil {
		return 0, err
	}
	return ct.Len(), nil
}

// Decrypt recovers the plaintext into out using the beacon signature for the
// round the ciphertext was sealed to, returning the number of bytes written.
//
// If out is too small, Decrypt returns the exact required length together
// with ErrBufferTooSmall, before any cryptographic work; resize and retry.
// A signature for the wrong round, or any corruption, yields
// ErrAuthenticationFailed and no partial plaintext.
func (l *Library) Decrypt(h Handle, signatureHex string, out []byte) (int, error) {
	ct, err := l.lookup(h)
	if err != nil {
		return 0, err
	}

	need := ct.PlaintextLen()
	if len(out) < need {
		return need, l.fail(fmt.Errorf("%w: plaintext needs %d bytes, have %d", ErrBufferTooSmall, need, len(out)))
	}

	signature, err := l.decodeSignature(signatureHex)
	if err != nil {
		return 0, l.fail(err)
	}

	plaintext, err := tlock.Decrypt(l.suite, signature, ct)
	if err != nil {
		return 0, l.fail(fmt.Errorf("%w: %v", ErrAuthenticationFailed, err))
	}

	l.clearErr()
	return copy(out, plaintext), nil
}

// FreeCiphertext releases the ciphertext. Exactly-once semantics: freeing a
// handle twice, or freeing a handle that was never issued, returns
// ErrInvalidHandle.
func (l *Library) FreeCiphertext(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.handles[h.id]; !ok {
		l.lastErr = ErrInvalidHandle.Error()
		return ErrInvalidHandle
	}
	delete(l.handles, h.id)
	l.lastErr = ""
	return nil
}

// Version returns the engine version string.
func (l *Library) Version() string {
	return Version
}

// LastError returns the human-readable message of the most recent failing
// call on this instance, or the empty string after a success. Diagnostic
// only; it carries no machine-checkable guarantees beyond the error values
// themselves.
func (l *Library) LastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// GenerateSecretKey draws a fresh session-key seed from crypto/rand. The
// production path for the secretKey argument of Encrypt.
func GenerateSecretKey() ([]byte, error) {
	key := make([]byte, SecretKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("timelock: generating secret key: %w", err)
	}
	return key, nil
}

func (l *Library) ensureOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

func (l *Library) store(ct *tlock.Ciphertext) (Handle, error) {
	h := Handle{id: uuid.New()}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Handle{}, ErrClosed
	}
	l.handles[h.id] = ct
	l.lastErr = ""
	return h, nil
}

func (l *Library) lookup(h Handle) (*tlock.Ciphertext, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	ct, ok := l.handles[h.id]
	if !ok {
		l.lastErr = ErrInvalidHandle.Error()
		return nil, ErrInvalidHandle
	}
	return ct, nil
}

func (l *Library) fail(err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.lastErr = err.Error()
	}
	return err
}

func (l *Library) clearErr() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.lastErr = ""
	}
}

// decodePublicKey turns the boundary hex form into a validated G2 element.
// Any wrong length, non-hex content, or off-curve/off-subgroup encoding is
// rejected here, before the key reaches the core.
func (l *Library) decodePublicKey(publicKeyHex string) (kyber.Point, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: not a hex string", ErrInvalidPublicKey)
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(raw))
	}
	p := l.suite.G2().Point()
	if err := p.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: not a valid G2 element", ErrInvalidPublicKey)
	}
	return p, nil
}

// decodeSignature is the G1 counterpart of decodePublicKey.
func (l *Library) decodeSignature(signatureHex string) (kyber.Point, error) {
	raw, err := hex.DecodeString(signatureHex)
	if err != nil {
		return nil, fmt.Errorf("%w: not a hex string", ErrInvalidSignature)
	}
	if len(raw) != SignatureSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(raw))
	}
	p := l.suite.G1().Point()
	if err := p.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: not a valid G1 element", ErrInvalidSignature)
	}
	return p, nil
}

package timelock

import "errors"

// Error taxonomy of the boundary surface. All failures map onto one of these
// sentinels (possibly wrapped with detail); callers test with errors.Is.
var (
	// ErrInvalidInput marks malformed arguments rejected before any
	// cryptographic work: wrong identity or seed length, nil buffers.
	ErrInvalidInput = errors.New("timelock: invalid input")

	// ErrInvalidPublicKey marks a public key that is not 96 hex-decoded
	// bytes or does not decode to a valid G2 group element.
	ErrInvalidPublicKey = errors.New("timelock: invalid public key")

	// ErrInvalidSignature marks a signature that is not 48 hex-decoded bytes
	// or does not decode to a valid G1 group element.
	ErrInvalidSignature = errors.New("timelock: invalid signature")

	// ErrEncryptionFailed marks an unexpected failure in the underlying
	// primitives during encryption. Not retried automatically.
	ErrEncryptionFailed = errors.New("timelock: encryption failed")

	// ErrAuthenticationFailed is returned when a ciphertext fails its
	// integrity check: wrong round signature, corruption, or tampering.
	// Which one is deliberately not disclosed.
	ErrAuthenticationFailed = errors.New("timelock: authentication failed")

	// ErrInvalidCiphertext marks a serialized container that fails
	// structural validation before any cryptographic step.
	ErrInvalidCiphertext = errors.New("timelock: invalid ciphertext")

	// ErrBufferTooSmall is returned when a caller-supplied output buffer is
	// too small; recoverable by resizing to the returned length and
	// retrying.
	ErrBufferTooSmall = errors.New("timelock: buffer too small")

	// ErrInvalidHandle is returned for a handle that was never issued or was
	// already freed. A double free is therefore a detectable error, not
	// corruption.
	ErrInvalidHandle = errors.New("timelock: invalid ciphertext handle")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("timelock: library closed")
)

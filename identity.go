package timelock

import (
	"crypto/sha256"
	"encoding/binary"
)

// IdentitySize is the length of a round identity in bytes.
const IdentitySize = 32

// DeriveIdentity deterministically maps a beacon round number to the
// identity the scheme encrypts to: SHA-256 over the 8-byte big-endian round
// number. This is the exact message drand quicknet signs for that round, so
// the published round signature is the identity's private key.
//
// Pure function; identical rounds always produce identical identities.
func DeriveIdentity(round uint64) [IdentitySize]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	return sha256.Sum256(buf[:])
}

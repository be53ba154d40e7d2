package tlock

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/drand/kyber/pairing"

	"timelock/internal/ibe"
)

// Wire format, all sizes fixed except the body:
//
//	version   1 byte  (currently 1)
//	U        96 bytes (compressed G2 point)
//	V        32 bytes
//	W        32 bytes
//	nonce    12 bytes
//	bodyLen   4 bytes (big endian, == plaintext length + GCM tag)
//	body     bodyLen bytes
//
// The container size is therefore a deterministic function of the plaintext
// length: len(plaintext) + Overhead, for every plaintext including empty.
const (
	// FormatVersion is the container version written by Marshal and the only
	// one Unmarshal accepts.
	FormatVersion = 1

	uSize     = 96 // compressed G2
	vSize     = ibe.SessionKeySize
	wSize     = ibe.SessionKeySize
	nonceSize = 12
	lenSize   = 4
	tagSize   = 16 // GCM

	headerSize = 1 + uSize + vSize + wSize + nonceSize + lenSize

	// Overhead is the fixed difference between ciphertext and plaintext
	// lengths.
	Overhead = headerSize + tagSize

	// MaxPlaintextSize bounds the plaintext so the body length fits the
	// 4-byte length field.
	MaxPlaintextSize = 1<<32 - 1 - tagSize
)

// ErrMalformed is returned by Unmarshal when the buffer fails structural
// validation: truncated, oversized, wrong version, or an invalid group
// element encoding. It is detected before any pairing work runs.
var ErrMalformed = errors.New("tlock: malformed ciphertext")

// Ciphertext is the sealed container: the IBE header carrying the session
// key and the AES-GCM body carrying the payload.
type Ciphertext struct {
	Header ibe.Ciphertext
	Nonce  []byte
	Body   []byte
}

// CiphertextSize returns the exact serialized size for a plaintext of the
// given length. Pure size accounting; no cryptography is performed.
func CiphertextSize(plaintextLen int) int {
	return plaintextLen + Overhead
}

// Len returns the serialized size of this container.
func (c *Ciphertext) Len() int {
	return headerSize + len(c.Body)
}

// PlaintextLen returns the length of the plaintext this container decrypts
// to.
func (c *Ciphertext) PlaintextLen() int {
	return len(c.Body) - tagSize
}

// Marshal serializes the container into the wire format above.
func (c *Ciphertext) Marshal() ([]byte, error) {
	uBytes, err := c.Header.U.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("tlock: marshaling U: %w", err)
	}
	if len(uBytes) != uSize {
		return nil, fmt.Errorf("tlock: unexpected U encoding length %d", len(uBytes))
	}
	if len(c.Header.V) != vSize || len(c.Header.W) != wSize {
		return nil, errors.New("tlock: header V/W have wrong lengths")
	}
	if len(c.Nonce) != nonceSize {
		return nil, errors.New("tlock: nonce has wrong length")
	}
	if len(c.Body) < tagSize || len(c.Body) > tagSize+MaxPlaintextSize {
		return nil, errors.New("tlock: body has invalid length")
	}

	out := make([]byte, 0, c.Len())
	out = append(out, FormatVersion)
	out = append(out, uBytes...)
	out = append(out, c.Header.V...)
	out = append(out, c.Header.W...)
	out = append(out, c.Nonce...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Body)))
	out = append(out, c.Body...)
	return out, nil
}

// Unmarshal parses and validates a serialized container. All structural
// checks (bounds, version, declared length, point decoding with subgroup
// validation) happen here, before any decryption is attempted on the data.
func Unmarshal(s pairing.Suite, data []byte) (*Ciphertext, error) {
	if len(data) < headerSize+tagSize {
		return nil, fmt.Errorf("%w: %d bytes is below the minimum %d", ErrMalformed, len(data), headerSize+tagSize)
	}
	if data[0] != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[0])
	}

	off := 1
	uBytes := data[off : off+uSize]
	off += uSize
	v := data[off : off+vSize]
	off += vSize
	w := data[off : off+wSize]
	off += wSize
	nonce := data[off : off+nonceSize]
	off += nonceSize
	bodyLen := binary.BigEndian.Uint32(data[off : off+lenSize])
	off += lenSize

	if bodyLen < tagSize {
		return nil, fmt.Errorf("%w: declared body length %d is below the tag size", ErrMalformed, bodyLen)
	}
	if uint64(len(data)-off) != uint64(bodyLen) {
		return nil, fmt.Errorf("%w: declared body length %d does not match remaining %d bytes", ErrMalformed, bodyLen, len(data)-off)
	}

	u := s.G2().Point()
	if err := u.UnmarshalBinary(uBytes); err != nil {
		return nil, fmt.Errorf("%w: invalid commitment point: %v", ErrMalformed, err)
	}

	ct := &Ciphertext{
		Header: ibe.Ciphertext{
			U: u,
			V: append([]byte(nil), v...),
			W: append([]byte(nil), w...),
		},
		Nonce: append([]byte(nil), nonce...),
		Body:  append([]byte(nil), data[off:]...),
	}
	return ct, nil
}

package dht

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is defined in terms of this pair, matching the wire format the transport expects.
)

// FingerprintSize is the canonical byte length of a Fingerprint (160 bits).
const FingerprintSize = 20

// Fingerprint is a 160-bit node or key identifier. The zero value is the
// all-zero fingerprint; nothing in this package rejects it as an identity.
type Fingerprint [FingerprintSize]byte

// String renders the fingerprint as lowercase 40-character hex.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether f is the all-zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Equal reports whether two fingerprints have identical bytes.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f == other
}

// ParseFingerprint validates and decodes a 40-character hex string
// (upper- or lowercase) into a Fingerprint. It is the hex-validation entry point used by
// FIND_NODE and FIND_VALUE handlers.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	if len(s) != FingerprintSize*2 {
		return f, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalidKey, FingerprintSize*2, len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	copy(f[:], decoded)
	return f, nil
}

// Distance is the 160-bit XOR distance between two fingerprints, ordered
// lexicographically (big-endian) for comparison.
type Distance [FingerprintSize]byte

// XOR computes the distance between a and b. Distance(a, a) is the zero
// distance; Distance is symmetric by construction.
func XOR(a, b Fingerprint) Distance {
	var d Distance
	for i := 0; i < FingerprintSize; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether distance d is strictly smaller than other,
// comparing bytes most-significant first.
func (d Distance) Less(other Distance) bool {
	return bytes.Compare(d[:], other[:]) < 0
}

// Compare implements the strict total order over distances required by
// sorting-by-proximity: negative if d < other, zero if equal, positive if
// d > other.
func (d Distance) Compare(other Distance) int {
	return bytes.Compare(d[:], other[:])
}

// IsZero reports whether d is the zero distance (identical fingerprints).
func (d Distance) IsZero() bool {
	return d == Distance{}
}

// BucketIndex returns the position (0..B-1) of the most-significant
// differing bit between local and key, counting bit positions from the
// most significant bit of the distance (bucket 0 holds the farthest
// contacts, bucket B-1 the nearest). If local and key are identical the
// distance is zero and B is returned, an out-of-range sentinel meaning
// "never insert."
func BucketIndex(local, key Fingerprint) int {
	d := XOR(local, key)
	if d.IsZero() {
		return B
	}
	for byteIdx := 0; byteIdx < FingerprintSize; byteIdx++ {
		b := d[byteIdx]
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return B
}

// RandomFingerprintInBucket returns a random fingerprint whose XOR
// distance to local has its highest set bit at position index (0..B-1):
// start from local, force bit `index` of the distance to one, and
// randomize every bit below it. Used by refresh() to target an
// under-explored bucket's distance range.
func RandomFingerprintInBucket(local Fingerprint, index int) (Fingerprint, error) {
	if index < 0 || index >= B {
		return Fingerprint{}, fmt.Errorf("bucket index %d out of range [0,%d)", index, B)
	}
	suffix := make([]byte, FingerprintSize)
	if _, err := rand.Read(suffix); err != nil {
		return Fingerprint{}, fmt.Errorf("generating random suffix: %w", err)
	}

	byteIdx := index / 8
	bitInByte := uint(index % 8)
	bitMask := byte(0x80 >> bitInByte)

	var d Distance
	d[byteIdx] = bitMask
	for i := byteIdx + 1; i < FingerprintSize; i++ {
		d[i] = suffix[i]
	}
	// Randomize the bits below the forced one within the same byte too.
	belowMask := bitMask - 1
	d[byteIdx] |= suffix[byteIdx] & belowMask

	var f Fingerprint
	for i := 0; i < FingerprintSize; i++ {
		f[i] = local[i] ^ d[i]
	}
	return f, nil
}

// Hash160 computes RIPEMD160(SHA256(blob)), the content hash STORE keys
// must match. This mirrors the hash160 construction used throughout the
// Kademlia reference implementations in this space.
func Hash160(blob []byte) Fingerprint {
	sha := sha256.Sum256(blob)
	h := ripemd160.New()
	h.Write(sha[:])
	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}

package pda

import (
	"crypto/sha256"

	"filippo.io/edwards25519"
)

// HashSpace supplies the hash used for derivation and the test for the
// natural-address subset a derived address must avoid.
type HashSpace interface {
	Hash(data []byte) []byte
	IsOnCurve(point []byte) bool
}

// Ed25519Space hashes with SHA-256 and treats every valid compressed
// edwards25519 point as a natural address.
type Ed25519Space struct{}

// Hash returns SHA-256 of data.
func (Ed25519Space) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// IsOnCurve reports whether point decodes to an edwards25519 point.
func (Ed25519Space) IsOnCurve(point []byte) bool {
	if len(point) != AddressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

var _ HashSpace = Ed25519Space{}

package oracle

import "encoding/binary"

const (
	// counterHeaderLen is the account discriminator preceding the value.
	counterHeaderLen = 8
	counterBlobLen   = counterHeaderLen + 4
)

// ParseCounter extracts the little-endian u32 stored after the 8-byte
// header. Blobs shorter than 12 bytes report (0, false).
func ParseCounter(blob []byte) (uint32, bool) {
	if len(blob) < counterBlobLen {
		return 0, false
	}
	return binary.LittleEndian.Uint32(blob[counterHeaderLen:counterBlobLen]), true
}

// CounterSeed encodes v as the 4-byte little-endian context seed.
func CounterSeed(v uint32) []byte {
	seed := make([]byte, 4)
	binary.LittleEndian.PutUint32(seed, v)
	return seed
}

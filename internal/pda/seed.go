package pda

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	xerrors "SolOracle-Chain/internal/errors"
)

// ParseSeed decodes the operator notation for a seed component:
//
//	utf8:agent   hex:0a0b   pubkey:<base58>   u8:1   u16:2   u32:7   u64:9
//
// Integers are little-endian. Text without a known prefix is taken as utf8.
func ParseSeed(spec string) ([]byte, error) {
	kind, value, found := strings.Cut(spec, ":")
	if !found {
		return checkSeed([]byte(spec))
	}
	switch strings.ToLower(kind) {
	case "utf8", "str":
		return checkSeed([]byte(value))
	case "hex":
		raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("seed %q is not hex", spec))
		}
		return checkSeed(raw)
	case "pubkey", "address":
		addr, err := ParseAddress(value)
		if err != nil {
			return nil, err
		}
		return addr.Bytes(), nil
	case "u8", "u16", "u32", "u64":
		bits, _ := strconv.Atoi(kind[1:])
		n, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("seed %q is not a %s", spec, kind))
		}
		return encodeUint(n, bits), nil
	default:
		return checkSeed([]byte(spec))
	}
}

// ParseSeeds applies ParseSeed to each spec in order.
func ParseSeeds(specs []string) ([][]byte, error) {
	seeds := make([][]byte, 0, len(specs))
	for _, spec := range specs {
		seed, err := ParseSeed(spec)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func encodeUint(n uint64, bits int) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, n)
	return out[:bits/8]
}

func checkSeed(seed []byte) ([]byte, error) {
	if len(seed) > MaxSeedLength {
		return nil, xerrors.New(CodeSeedTooLong, fmt.Sprintf("seed is %d bytes, limit is %d", len(seed), MaxSeedLength))
	}
	return seed, nil
}

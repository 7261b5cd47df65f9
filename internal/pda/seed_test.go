package pda

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSeedNotations(t *testing.T) {
	cases := map[string][]byte{
		"agent":           []byte("agent"),
		"utf8:agent":      []byte("agent"),
		"hex:0a0b":        {0x0a, 0x0b},
		"hex:0xff":        {0xff},
		"u8:1":            {1},
		"u16:258":         {2, 1},
		"u32:7":           {7, 0, 0, 0},
		"u64:1":           {1, 0, 0, 0, 0, 0, 0, 0},
		"pubkey:" + oracleProgram.String(): oracleProgram.Bytes(),
	}
	for spec, want := range cases {
		got, err := ParseSeed(spec)
		require.NoErrorf(t, err, "spec %s", spec)
		require.Equalf(t, want, got, "spec %s", spec)
	}
}

func TestParseSeedErrors(t *testing.T) {
	for _, spec := range []string{"hex:zz", "u8:256", "u32:-1", "pubkey:abc"} {
		_, err := ParseSeed(spec)
		require.Errorf(t, err, "spec %s", spec)
	}

	_, err := ParseSeed(strings.Repeat("a", MaxSeedLength+1))
	require.True(t, errors.Is(err, ErrSeedTooLong))
}

func TestParseSeedsKeepsOrder(t *testing.T) {
	seeds, err := ParseSeeds([]string{"test-context", "u32:7"})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("test-context"), {7, 0, 0, 0}}, seeds)
}

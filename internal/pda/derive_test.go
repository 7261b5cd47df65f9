package pda

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	xerrors "SolOracle-Chain/internal/errors"
)

var (
	oracleProgram = MustParseAddress("LLMrieZMpbJFwN52WgmBNMxYojrpRVYXdC1RCweEbab")
	agentProgram  = MustParseAddress("CpS3rNPN8bB8fW8EuBNQ2p6my2Lbh6ZTpoi9SuhTqKoE")
)

// alwaysOnCurve treats every digest as a natural address.
type alwaysOnCurve struct{ calls int }

func (s *alwaysOnCurve) Hash(data []byte) []byte {
	s.calls++
	sum := sha256.Sum256(data)
	return sum[:]
}

func (s *alwaysOnCurve) IsOnCurve([]byte) bool { return true }

type shortHash struct{}

func (shortHash) Hash([]byte) []byte    { return []byte{1, 2, 3} }
func (shortHash) IsOnCurve([]byte) bool { return false }

func TestDeriveIsDeterministic(t *testing.T) {
	seeds := [][]byte{[]byte("test-context"), {7, 0, 0, 0}}

	first, err := Derive(oracleProgram, seeds...)
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		again, err := Derive(oracleProgram, seeds...)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	viaDeriver, err := NewDeriver(Ed25519Space{}).Derive(oracleProgram, seeds...)
	require.NoError(t, err)
	require.Equal(t, first, viaDeriver)
}

func TestDeriveMatchesSolanaRuntime(t *testing.T) {
	maker := solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")

	cases := []struct {
		name    string
		program Address
		seeds   [][]byte
	}{
		{"counter", oracleProgram, [][]byte{[]byte("counter")}},
		{"identity", oracleProgram, [][]byte{[]byte("identity")}},
		{"context", oracleProgram, [][]byte{[]byte("test-context"), {0, 0, 0, 0}}},
		{"agent", agentProgram, [][]byte{[]byte("agent"), maker.Bytes()}},
		{"empty", agentProgram, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want, wantBump, err := solana.FindProgramAddress(tc.seeds, solana.PublicKey(tc.program))
			require.NoError(t, err)

			got, err := Derive(tc.program, tc.seeds...)
			require.NoError(t, err)
			require.Equal(t, Address(want), got.Address)
			require.Equal(t, wantBump, got.Bump)
		})
	}
}

func TestDeriveProgramsAreDisjoint(t *testing.T) {
	seeds := [][]byte{[]byte("agent"), bytes.Repeat([]byte{0xAB}, 32)}

	a, err := Derive(oracleProgram, seeds...)
	require.NoError(t, err)
	b, err := Derive(agentProgram, seeds...)
	require.NoError(t, err)
	require.NotEqual(t, a.Address, b.Address)
}

func TestDeriveIsSeedSensitive(t *testing.T) {
	base := [][]byte{[]byte("interaction"), bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32)}
	original, err := Derive(oracleProgram, base...)
	require.NoError(t, err)

	for i := range base {
		for j := range base[i] {
			mutated := cloneSeeds(base)
			mutated[i][j] ^= 0x01
			got, err := Derive(oracleProgram, mutated...)
			require.NoError(t, err)
			require.NotEqualf(t, original.Address, got.Address, "flip of seed %d byte %d did not change the address", i, j)
		}
	}

	reordered := [][]byte{base[0], base[2], base[1]}
	got, err := Derive(oracleProgram, reordered...)
	require.NoError(t, err)
	require.NotEqual(t, original.Address, got.Address)
}

func TestDeriveResultIsOffCurve(t *testing.T) {
	derived, err := Derive(oracleProgram, []byte("counter"))
	require.NoError(t, err)
	require.False(t, Ed25519Space{}.IsOnCurve(derived.Address[:]))

	addr, err := CreateAddress(oracleProgram, derived.Bump, []byte("counter"))
	require.NoError(t, err)
	require.Equal(t, derived.Address, addr)
	require.True(t, defaultDeriver.Verify(oracleProgram, derived.Address, derived.Bump, []byte("counter")))
	require.False(t, defaultDeriver.Verify(oracleProgram, derived.Address, derived.Bump, []byte("counters")))
}

func TestDeriveExhaustedIsReportedNotPanicked(t *testing.T) {
	space := &alwaysOnCurve{}
	_, err := NewDeriver(space).Derive(oracleProgram, []byte("counter"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrDerivationExhausted))
	require.Equal(t, 256, space.calls)

	_, err = NewDeriver(space).CreateAddress(oracleProgram, 255, []byte("counter"))
	require.True(t, errors.Is(err, ErrOnCurve))
}

func TestDeriveRejectsOversizedInput(t *testing.T) {
	_, err := Derive(oracleProgram, bytes.Repeat([]byte{1}, MaxSeedLength+1))
	require.True(t, errors.Is(err, ErrSeedTooLong))
	require.Equal(t, CodeSeedTooLong, xerrors.CodeOf(err))

	tooMany := make([][]byte, MaxSeeds)
	for i := range tooMany {
		tooMany[i] = []byte{byte(i)}
	}
	_, err = Derive(oracleProgram, tooMany...)
	require.True(t, errors.Is(err, ErrTooManySeeds))
	require.Equal(t, CodeTooManySeeds, xerrors.CodeOf(err))
	require.False(t, xerrors.RetryableError(err))

	_, err = Derive(oracleProgram, tooMany[:MaxSeeds-1]...)
	require.NoError(t, err)
}

func TestDeriveRejectsMisbehavingHashSpace(t *testing.T) {
	_, err := NewDeriver(shortHash{}).Derive(oracleProgram, []byte("x"))
	require.Error(t, err)
}

func TestAddressTextRoundTrip(t *testing.T) {
	text := oracleProgram.String()
	require.Equal(t, "LLMrieZMpbJFwN52WgmBNMxYojrpRVYXdC1RCweEbab", text)

	var decoded Address
	require.NoError(t, decoded.UnmarshalText([]byte(text)))
	require.Equal(t, oracleProgram, decoded)

	_, err := ParseAddress("not-base58-0OIl")
	require.Error(t, err)
	_, err = ParseAddress("3yZe7d")
	require.Error(t, err)
	require.True(t, Address{}.IsZero())
}

func cloneSeeds(seeds [][]byte) [][]byte {
	out := make([][]byte, len(seeds))
	for i, s := range seeds {
		out[i] = append([]byte(nil), s...)
	}
	return out
}

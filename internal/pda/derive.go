package pda

import (
	"fmt"

	xerrors "SolOracle-Chain/internal/errors"
)

const (
	// MaxSeedLength bounds a single seed component.
	MaxSeedLength = 32
	// MaxSeeds bounds the component count, bump byte included.
	MaxSeeds = 16
)

// domainTag separates derived-address preimages from every other use of the hash.
var domainTag = []byte("ProgramDerivedAddress")

const (
	CodeSeedTooLong         xerrors.Code = "SEED_TOO_LONG"
	CodeTooManySeeds        xerrors.Code = "TOO_MANY_SEEDS"
	CodeOnCurve             xerrors.Code = "ADDRESS_ON_CURVE"
	CodeDerivationExhausted xerrors.Code = "DERIVATION_EXHAUSTED"
)

var (
	// ErrSeedTooLong is returned for a component longer than MaxSeedLength.
	ErrSeedTooLong = xerrors.New(CodeSeedTooLong, "seed component too long")
	// ErrTooManySeeds is returned for more than MaxSeeds-1 components.
	ErrTooManySeeds = xerrors.New(CodeTooManySeeds, "too many seed components")
	// ErrOnCurve is returned by CreateAddress for a natural address.
	ErrOnCurve = xerrors.New(CodeOnCurve, "candidate address is a natural address")
	// ErrDerivationExhausted means all 256 bumps produced natural addresses.
	ErrDerivationExhausted = xerrors.New(CodeDerivationExhausted, "no bump yields a derived address")
)

func init() {
	xerrors.Register(CodeSeedTooLong, xerrors.Attributes{Message: "seed component too long", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeTooManySeeds, xerrors.Attributes{Message: "too many seed components", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeOnCurve, xerrors.Attributes{Message: "candidate address is a natural address", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeDerivationExhausted, xerrors.Attributes{
		Message:  "no bump yields a derived address",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// Derived pairs a derived address with the bump that produced it.
type Derived struct {
	Address Address `json:"address"`
	Bump    uint8   `json:"bump"`
}

// Deriver computes derived addresses over a HashSpace. The zero value uses
// Ed25519Space.
type Deriver struct {
	space HashSpace
}

// NewDeriver returns a Deriver bound to space.
func NewDeriver(space HashSpace) Deriver {
	return Deriver{space: space}
}

func (d Deriver) hashSpace() HashSpace {
	if d.space == nil {
		return Ed25519Space{}
	}
	return d.space
}

// Derive searches bumps 255..0 and returns the first off-curve address.
func (d Deriver) Derive(program Address, seeds ...[]byte) (Derived, error) {
	if err := validateSeeds(seeds); err != nil {
		return Derived{}, err
	}

	preimage, bumpAt := buildPreimage(program, seeds)
	space := d.hashSpace()
	for bump := 255; bump >= 0; bump-- {
		preimage[bumpAt] = byte(bump)
		addr, onCurve, err := evaluate(space, preimage)
		if err != nil {
			return Derived{}, err
		}
		if !onCurve {
			return Derived{Address: addr, Bump: uint8(bump)}, nil
		}
	}
	return Derived{}, xerrors.New(CodeDerivationExhausted,
		fmt.Sprintf("no bump yields a derived address for program %s with %d seeds", program, len(seeds)))
}

// CreateAddress evaluates a single bump, returning ErrOnCurve when the
// candidate is a natural address.
func (d Deriver) CreateAddress(program Address, bump uint8, seeds ...[]byte) (Address, error) {
	if err := validateSeeds(seeds); err != nil {
		return Address{}, err
	}
	preimage, bumpAt := buildPreimage(program, seeds)
	preimage[bumpAt] = bump
	addr, onCurve, err := evaluate(d.hashSpace(), preimage)
	if err != nil {
		return Address{}, err
	}
	if onCurve {
		return Address{}, ErrOnCurve
	}
	return addr, nil
}

// Verify reports whether (seeds, bump) reproduces want under program.
func (d Deriver) Verify(program Address, want Address, bump uint8, seeds ...[]byte) bool {
	got, err := d.CreateAddress(program, bump, seeds...)
	return err == nil && got == want
}

var defaultDeriver Deriver

// Derive uses the Ed25519Space deriver.
func Derive(program Address, seeds ...[]byte) (Derived, error) {
	return defaultDeriver.Derive(program, seeds...)
}

// CreateAddress uses the Ed25519Space deriver.
func CreateAddress(program Address, bump uint8, seeds ...[]byte) (Address, error) {
	return defaultDeriver.CreateAddress(program, bump, seeds...)
}

func validateSeeds(seeds [][]byte) error {
	limit := MaxSeeds - 1
	if len(seeds) > limit {
		return xerrors.New(CodeTooManySeeds, fmt.Sprintf("%d seed components exceed the limit of %d", len(seeds), limit))
	}
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return xerrors.New(CodeSeedTooLong, fmt.Sprintf("seed %d is %d bytes, limit is %d", i, len(seed), MaxSeedLength))
		}
	}
	return nil
}

// buildPreimage lays out seeds || bump || program || tag and returns the
// offset of the bump byte.
func buildPreimage(program Address, seeds [][]byte) ([]byte, int) {
	size := 1 + AddressLength + len(domainTag)
	for _, seed := range seeds {
		size += len(seed)
	}
	buf := make([]byte, 0, size)
	for _, seed := range seeds {
		buf = append(buf, seed...)
	}
	bumpAt := len(buf)
	buf = append(buf, 0)
	buf = append(buf, program[:]...)
	buf = append(buf, domainTag...)
	return buf, bumpAt
}

func evaluate(space HashSpace, preimage []byte) (Address, bool, error) {
	sum := space.Hash(preimage)
	addr, err := AddressFromBytes(sum)
	if err != nil {
		return Address{}, false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "hash space returned a digest of the wrong size")
	}
	return addr, space.IsOnCurve(sum), nil
}

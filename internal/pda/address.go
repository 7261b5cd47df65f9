package pda

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	xerrors "SolOracle-Chain/internal/errors"
)

// AddressLength is the byte length of program identifiers and addresses.
const AddressLength = 32

// Address is a fixed-length account or program identifier.
type Address [AddressLength]byte

// ParseAddress decodes the base-58 text form of an address.
func ParseAddress(text string) (Address, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Address{}, xerrors.New(xerrors.CodeInvalidArgument, "address is empty")
	}
	raw, err := base58.Decode(text)
	if err != nil {
		return Address{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("address %q is not base58", text))
	}
	return AddressFromBytes(raw)
}

// MustParseAddress is ParseAddress for package-level constants.
func MustParseAddress(text string) Address {
	addr, err := ParseAddress(text)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromBytes copies a 32-byte slice into an Address.
func AddressFromBytes(raw []byte) (Address, error) {
	var addr Address
	if len(raw) != AddressLength {
		return addr, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("address must be %d bytes, got %d", AddressLength, len(raw)))
	}
	copy(addr[:], raw)
	return addr, nil
}

// String renders the address in base-58.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw address bytes, suitable as a seed component.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

package oracle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"

	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
)

// Agent account limits.
const (
	MaxPromptLen   = 256
	MaxResponseLen = 512
	// AgentAccountSpace is the allocated size of an agent account.
	AgentAccountSpace = 8 + 32 + 32 + (4 + MaxPromptLen) + (4 + MaxResponseLen) + 1
)

// DiscriminatorLen is the length of instruction and account discriminators.
const DiscriminatorLen = 8

// InstructionDiscriminator returns sha256("global:" + name)[:8].
func InstructionDiscriminator(name string) [DiscriminatorLen]byte {
	return discriminator("global:" + name)
}

// AccountDiscriminator returns sha256("account:" + name)[:8].
func AccountDiscriminator(name string) [DiscriminatorLen]byte {
	return discriminator("account:" + name)
}

func discriminator(preimage string) [DiscriminatorLen]byte {
	sum := sha256.Sum256([]byte(preimage))
	var out [DiscriminatorLen]byte
	copy(out[:], sum[:DiscriminatorLen])
	return out
}

var agentDiscriminator = AccountDiscriminator("Agent")

// AgentAccount is the state the agent program stores per maker.
type AgentAccount struct {
	Maker        pda.Address `json:"maker"`
	Context      pda.Address `json:"context"`
	Prompt       string      `json:"prompt"`
	LastResponse string      `json:"last_response"`
	Bump         uint8       `json:"bump"`
}

// DecodeAgentAccount parses raw agent account data. Trailing allocation
// padding is ignored.
func DecodeAgentAccount(data []byte) (AgentAccount, error) {
	dec := bin.NewBorshDecoder(data)

	disc, err := dec.ReadNBytes(DiscriminatorLen)
	if err != nil {
		return AgentAccount{}, decodeErr(err, "discriminator")
	}
	if !bytes.Equal(disc, agentDiscriminator[:]) {
		return AgentAccount{}, xerrors.New(CodeAccountDecode, "account is not an agent account")
	}

	var out AgentAccount
	if out.Maker, err = readAddress(dec); err != nil {
		return AgentAccount{}, decodeErr(err, "maker")
	}
	if out.Context, err = readAddress(dec); err != nil {
		return AgentAccount{}, decodeErr(err, "context")
	}
	if out.Prompt, err = readString(dec, MaxPromptLen); err != nil {
		return AgentAccount{}, decodeErr(err, "prompt")
	}
	if out.LastResponse, err = readString(dec, MaxResponseLen); err != nil {
		return AgentAccount{}, decodeErr(err, "last_response")
	}
	if out.Bump, err = dec.ReadUint8(); err != nil {
		return AgentAccount{}, decodeErr(err, "bump")
	}
	return out, nil
}

// MarshalBinary encodes the account as the program stores it, without
// allocation padding.
func (a AgentAccount) MarshalBinary() ([]byte, error) {
	if len(a.Prompt) > MaxPromptLen || len(a.LastResponse) > MaxResponseLen {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent prompt or response exceeds its limit")
	}
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	steps := []func() error{
		func() error { return enc.WriteBytes(agentDiscriminator[:], false) },
		func() error { return enc.WriteBytes(a.Maker[:], false) },
		func() error { return enc.WriteBytes(a.Context[:], false) },
		func() error { return writeString(enc, a.Prompt) },
		func() error { return writeString(enc, a.LastResponse) },
		func() error { return enc.WriteUint8(a.Bump) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func readAddress(dec *bin.Decoder) (pda.Address, error) {
	raw, err := dec.ReadNBytes(pda.AddressLength)
	if err != nil {
		return pda.Address{}, err
	}
	return pda.AddressFromBytes(raw)
}

func readString(dec *bin.Decoder, limit int) (string, error) {
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return "", err
	}
	if int(n) > limit {
		return "", fmt.Errorf("length %d exceeds limit %d", n, limit)
	}
	raw, err := dec.ReadNBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}

func decodeErr(err error, field string) error {
	return xerrors.Wrap(CodeAccountDecode, err, fmt.Sprintf("decode agent account field %s", field))
}

// Package vault inspects the transfer-hook vault program: it derives the
// vault accounts, decodes the vault configuration with its whitelist and
// evaluates the hook's whitelist rule for a prospective transfer.
package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"SolOracle-Chain/internal/chain"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
	"SolOracle-Chain/pkg/logger"
)

// Seed prefixes of the vault program.
var (
	ConfigSeedPrefix     = []byte("vault_config")
	VaultSeedPrefix      = []byte("vault")
	ExtraMetasSeedPrefix = []byte("extra-account-metas")
)

const (
	// entrySize is one serialized whitelist entry.
	entrySize = 32 + 8
	// baseSize is the configuration without whitelist entries.
	baseSize = 8 + 32 + 32 + 1 + 1 + 4
)

const (
	CodeNotWhitelisted     xerrors.Code = "NOT_WHITELISTED"
	CodeAmountExceedsLimit xerrors.Code = "AMOUNT_EXCEEDS_LIMIT"
	CodeBumpMismatch       xerrors.Code = "VAULT_BUMP_MISMATCH"
	CodeConfigDecode       xerrors.Code = "VAULT_CONFIG_DECODE"
)

var (
	ErrNotWhitelisted     = xerrors.New(CodeNotWhitelisted, "owner is not whitelisted")
	ErrAmountExceedsLimit = xerrors.New(CodeAmountExceedsLimit, "transfer amount exceeds whitelist limit")
	ErrBumpMismatch       = xerrors.New(CodeBumpMismatch, "stored bump does not reproduce the account address")
	ErrConfigDecode       = xerrors.New(CodeConfigDecode, "vault config could not be decoded")
)

func init() {
	xerrors.Register(CodeNotWhitelisted, xerrors.Attributes{Message: "owner is not whitelisted", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAmountExceedsLimit, xerrors.Attributes{Message: "transfer amount exceeds whitelist limit", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeBumpMismatch, xerrors.Attributes{Message: "stored bump does not reproduce the account address", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeConfigDecode, xerrors.Attributes{Message: "vault config could not be decoded", Severity: xerrors.SeverityWarning})
}

var configDiscriminator = func() [8]byte {
	sum := sha256.Sum256([]byte("account:VaultConfig"))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}()

// Entry is a whitelisted owner and its per-transfer limit.
type Entry struct {
	Address pda.Address `json:"address"`
	Amount  uint64      `json:"amount"`
}

// Config is the vault configuration account.
type Config struct {
	Admin      pda.Address `json:"admin"`
	Mint       pda.Address `json:"mint"`
	VaultBump  uint8       `json:"vault_bump"`
	ConfigBump uint8       `json:"config_bump"`
	Whitelist  []Entry     `json:"whitelist"`
}

// Program derives the vault program's accounts.
type Program struct {
	ID      pda.Address
	Deriver pda.Deriver
}

// ConfigAddress derives the configuration account.
func (p Program) ConfigAddress() (pda.Derived, error) {
	return p.Deriver.Derive(p.ID, ConfigSeedPrefix)
}

// VaultAddress derives the token vault owned by config.
func (p Program) VaultAddress(config pda.Address) (pda.Derived, error) {
	return p.Deriver.Derive(p.ID, VaultSeedPrefix, config.Bytes())
}

// ExtraAccountMetasAddress derives the hook's extra account meta list for mint.
func (p Program) ExtraAccountMetasAddress(mint pda.Address) (pda.Derived, error) {
	return p.Deriver.Derive(p.ID, ExtraMetasSeedPrefix, mint.Bytes())
}

// DecodeConfig parses raw configuration account data.
func DecodeConfig(data []byte) (Config, error) {
	if len(data) < baseSize {
		return Config{}, xerrors.New(CodeConfigDecode, fmt.Sprintf("vault config needs %d bytes, got %d", baseSize, len(data)))
	}
	if !bytes.Equal(data[:8], configDiscriminator[:]) {
		return Config{}, xerrors.New(CodeConfigDecode, "account is not a vault config")
	}
	dec := bin.NewBorshDecoder(data[8:])

	var (
		cfg Config
		err error
	)
	if cfg.Admin, err = readAddress(dec); err != nil {
		return Config{}, xerrors.Wrap(CodeConfigDecode, err, "decode admin")
	}
	if cfg.Mint, err = readAddress(dec); err != nil {
		return Config{}, xerrors.Wrap(CodeConfigDecode, err, "decode mint")
	}
	if cfg.VaultBump, err = dec.ReadUint8(); err != nil {
		return Config{}, xerrors.Wrap(CodeConfigDecode, err, "decode vault bump")
	}
	if cfg.ConfigBump, err = dec.ReadUint8(); err != nil {
		return Config{}, xerrors.Wrap(CodeConfigDecode, err, "decode config bump")
	}
	count, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return Config{}, xerrors.Wrap(CodeConfigDecode, err, "decode whitelist length")
	}
	if remaining := len(data) - baseSize; int(count) > remaining/entrySize {
		return Config{}, xerrors.New(CodeConfigDecode, fmt.Sprintf("whitelist claims %d entries but only %d bytes remain", count, remaining))
	}
	cfg.Whitelist = make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		addr, err := readAddress(dec)
		if err != nil {
			return Config{}, xerrors.Wrap(CodeConfigDecode, err, fmt.Sprintf("decode whitelist entry %d", i))
		}
		amount, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return Config{}, xerrors.Wrap(CodeConfigDecode, err, fmt.Sprintf("decode whitelist amount %d", i))
		}
		cfg.Whitelist = append(cfg.Whitelist, Entry{Address: addr, Amount: amount})
	}
	return cfg, nil
}

// MarshalBinary encodes the configuration as the program stores it.
func (c Config) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	writes := []func() error{
		func() error { return enc.WriteBytes(configDiscriminator[:], false) },
		func() error { return enc.WriteBytes(c.Admin[:], false) },
		func() error { return enc.WriteBytes(c.Mint[:], false) },
		func() error { return enc.WriteUint8(c.VaultBump) },
		func() error { return enc.WriteUint8(c.ConfigBump) },
		func() error { return enc.WriteUint32(uint32(len(c.Whitelist)), binary.LittleEndian) },
	}
	for _, entry := range c.Whitelist {
		entry := entry
		writes = append(writes,
			func() error { return enc.WriteBytes(entry.Address[:], false) },
			func() error { return enc.WriteUint64(entry.Amount, binary.LittleEndian) },
		)
	}
	for _, write := range writes {
		if err := write(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Allowance returns the per-transfer limit of owner.
func (c Config) Allowance(owner pda.Address) (uint64, bool) {
	for _, entry := range c.Whitelist {
		if entry.Address == owner {
			return entry.Amount, true
		}
	}
	return 0, false
}

// CheckTransfer applies the hook's rule: transfers owned by the config
// account itself always pass, other owners must be whitelisted with a
// limit of at least amount.
func (c Config) CheckTransfer(configAddr, owner pda.Address, amount uint64) error {
	if owner == configAddr {
		return nil
	}
	limit, ok := c.Allowance(owner)
	if !ok {
		return xerrors.New(CodeNotWhitelisted, fmt.Sprintf("%s is not whitelisted", owner))
	}
	if amount > limit {
		return xerrors.New(CodeAmountExceedsLimit, fmt.Sprintf("amount %d exceeds limit %d for %s", amount, limit, owner))
	}
	return nil
}

// VerifyBumps recomputes the stored bumps and checks they reproduce the
// canonical configuration and vault addresses.
func VerifyBumps(cfg Config, program Program) error {
	configAddr, err := program.ConfigAddress()
	if err != nil {
		return err
	}
	if !program.Deriver.Verify(program.ID, configAddr.Address, cfg.ConfigBump, ConfigSeedPrefix) || configAddr.Bump != cfg.ConfigBump {
		return xerrors.New(CodeBumpMismatch, fmt.Sprintf("config bump %d does not reproduce %s", cfg.ConfigBump, configAddr.Address))
	}
	vaultAddr, err := program.VaultAddress(configAddr.Address)
	if err != nil {
		return err
	}
	if !program.Deriver.Verify(program.ID, vaultAddr.Address, cfg.VaultBump, VaultSeedPrefix, configAddr.Address.Bytes()) || vaultAddr.Bump != cfg.VaultBump {
		return xerrors.New(CodeBumpMismatch, fmt.Sprintf("vault bump %d does not reproduce %s", cfg.VaultBump, vaultAddr.Address))
	}
	return nil
}

// AccountReader is the read side of a cluster client.
type AccountReader interface {
	AccountInfo(ctx context.Context, addr pda.Address) (*chain.Account, error)
}

// Report summarises the vault program's on-chain state.
type Report struct {
	ConfigAddress     pda.Address `json:"config_address"`
	VaultAddress      pda.Address `json:"vault_address"`
	ExtraMetasAddress pda.Address `json:"extra_metas_address"`
	Config            *Config     `json:"config,omitempty"`
	BumpsValid        bool        `json:"bumps_valid"`
	BumpError         string      `json:"bump_error,omitempty"`
}

// Inspect derives the vault accounts and, when the configuration exists,
// decodes it and checks its bumps.
func Inspect(ctx context.Context, reader AccountReader, program Program) (Report, error) {
	configAddr, err := program.ConfigAddress()
	if err != nil {
		return Report{}, err
	}
	vaultAddr, err := program.VaultAddress(configAddr.Address)
	if err != nil {
		return Report{}, err
	}
	report := Report{ConfigAddress: configAddr.Address, VaultAddress: vaultAddr.Address}

	account, err := reader.AccountInfo(ctx, configAddr.Address)
	if err != nil {
		return Report{}, xerrors.Wrap(xerrors.CodeRPCFailure, err, "read vault config")
	}
	if account == nil {
		return report, nil
	}
	cfg, err := DecodeConfig(account.Data)
	if err != nil {
		return Report{}, err
	}
	report.Config = &cfg

	metas, err := program.ExtraAccountMetasAddress(cfg.Mint)
	if err != nil {
		return Report{}, err
	}
	report.ExtraMetasAddress = metas.Address

	if err := VerifyBumps(cfg, program); err != nil {
		report.BumpError = err.Error()
		logger.Named("vault").Warn("vault bumps do not verify", "config", configAddr.Address.String(), "error", err.Error())
	} else {
		report.BumpsValid = true
	}
	return report, nil
}

func readAddress(dec *bin.Decoder) (pda.Address, error) {
	raw, err := dec.ReadNBytes(pda.AddressLength)
	if err != nil {
		return pda.Address{}, err
	}
	return pda.AddressFromBytes(raw)
}

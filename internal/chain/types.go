package chain

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"SolOracle-Chain/internal/pda"
)

// Account is the decoded state of a single on-chain account.
type Account struct {
	Address    pda.Address `json:"address"`
	Owner      pda.Address `json:"owner"`
	Lamports   uint64      `json:"lamports"`
	Data       []byte      `json:"data"`
	Executable bool        `json:"executable"`
	RentEpoch  uint64      `json:"rent_epoch"`
	Slot       uint64      `json:"slot"`
}

// ClusterSnapshot summarises cluster metadata for reporting.
type ClusterSnapshot struct {
	Cluster string `json:"cluster"`
	Slot    uint64 `json:"slot"`
	Version string `json:"version"`
	Notes   string `json:"notes,omitempty"`
}

// SendOptions mirrors the sendTransaction configuration object.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          *uint
}

// Client defines the operations any cluster transport must provide so higher
// layers can talk to different clusters uniformly.
type Client interface {
	// AccountInfo returns nil, nil when the account does not exist.
	AccountInfo(ctx context.Context, addr pda.Address) (*Account, error)
	// MultipleAccounts fetches all addresses in one round trip. Missing
	// accounts are reported as nil entries at the matching index.
	MultipleAccounts(ctx context.Context, addrs ...pda.Address) ([]*Account, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error)
	Snapshot(ctx context.Context) (ClusterSnapshot, error)
	Close()
}

package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	sol "github.com/gagliardetto/solana-go"

	"SolOracle-Chain/internal/chain"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
)

const defaultCommitment = "confirmed"

// Config describes how to construct a cluster client.
type Config struct {
	Name       string
	RPCURL     string
	Commitment string
	Notes      string
	// RequestTimeout bounds every RPC call; zero leaves calls bounded by the caller's ctx only.
	RequestTimeout time.Duration
}

// Client implements chain.Client over the cluster's JSON-RPC 2.0 endpoint.
type Client struct {
	name       string
	notes      string
	commitment string
	timeout    time.Duration
	rpcClient  *gethrpc.Client
	mu         sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "cluster rpc url is not configured")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, fmt.Sprintf("dial cluster %s", rpcURL))
	}

	commitment := strings.TrimSpace(cfg.Commitment)
	if commitment == "" {
		commitment = defaultCommitment
	}
	return &Client{
		name:       cfg.Name,
		notes:      cfg.Notes,
		commitment: commitment,
		timeout:    cfg.RequestTimeout,
		rpcClient:  rpcClient,
	}, nil
}

// Close releases the network connection held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

func (c *Client) rpc() (*gethrpc.Client, error) {
	if c == nil {
		return nil, errors.New("cluster client is not initialised")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient == nil {
		return nil, errors.New("cluster client is closed")
	}
	return c.rpcClient, nil
}

// callContext applies the per-request timeout to ctx.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type rpcAccount struct {
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

type accountInfoResult struct {
	Context rpcContext  `json:"context"`
	Value   *rpcAccount `json:"value"`
}

type blockhashResult struct {
	Context rpcContext `json:"context"`
	Value   struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

type versionResult struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}

func (c *Client) accountParams(addr pda.Address) []any {
	return []any{addr.String(), map[string]any{"encoding": "base64", "commitment": c.commitment}}
}

// AccountInfo reads a single account.
func (c *Client) AccountInfo(ctx context.Context, addr pda.Address) (*chain.Account, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return nil, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	var res accountInfoResult
	if err := rpcClient.CallContext(callCtx, &res, "getAccountInfo", c.accountParams(addr)...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, fmt.Sprintf("getAccountInfo %s", addr))
	}
	return decodeAccount(addr, res)
}

// MultipleAccounts issues one getAccountInfo per address inside a single
// JSON-RPC batch.
func (c *Client) MultipleAccounts(ctx context.Context, addrs ...pda.Address) ([]*chain.Account, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	rpcClient, err := c.rpc()
	if err != nil {
		return nil, err
	}

	results := make([]accountInfoResult, len(addrs))
	elems := make([]gethrpc.BatchElem, len(addrs))
	for i, addr := range addrs {
		elems[i] = gethrpc.BatchElem{
			Method: "getAccountInfo",
			Args:   c.accountParams(addr),
			Result: &results[i],
		}
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	if err := rpcClient.BatchCallContext(callCtx, elems); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "batch getAccountInfo")
	}

	accounts := make([]*chain.Account, len(addrs))
	for i := range elems {
		if elems[i].Error != nil {
			return nil, xerrors.Wrap(xerrors.CodeRPCFailure, elems[i].Error, fmt.Sprintf("getAccountInfo %s", addrs[i]))
		}
		account, err := decodeAccount(addrs[i], results[i])
		if err != nil {
			return nil, err
		}
		accounts[i] = account
	}
	return accounts, nil
}

func decodeAccount(addr pda.Address, res accountInfoResult) (*chain.Account, error) {
	if res.Value == nil {
		return nil, nil
	}
	v := res.Value
	if len(v.Data) != 2 || v.Data[1] != "base64" {
		return nil, xerrors.New(xerrors.CodeRPCFailure, fmt.Sprintf("account %s returned unexpected data encoding", addr))
	}
	data, err := base64.StdEncoding.DecodeString(v.Data[0])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, fmt.Sprintf("decode data of account %s", addr))
	}
	owner, err := pda.ParseAddress(v.Owner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, fmt.Sprintf("decode owner of account %s", addr))
	}
	return &chain.Account{
		Address:    addr,
		Owner:      owner,
		Lamports:   v.Lamports,
		Data:       data,
		Executable: v.Executable,
		RentEpoch:  v.RentEpoch,
		Slot:       res.Context.Slot,
	}, nil
}

// LatestBlockhash returns the most recent blockhash at the configured commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (sol.Hash, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return sol.Hash{}, err
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	var res blockhashResult
	if err := rpcClient.CallContext(callCtx, &res, "getLatestBlockhash", map[string]any{"commitment": c.commitment}); err != nil {
		return sol.Hash{}, xerrors.Wrap(xerrors.CodeRPCFailure, err, "getLatestBlockhash")
	}
	hash, err := sol.HashFromBase58(res.Value.Blockhash)
	if err != nil {
		return sol.Hash{}, xerrors.Wrap(xerrors.CodeRPCFailure, err, "decode blockhash")
	}
	return hash, nil
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *sol.Transaction, opts chain.SendOptions) (sol.Signature, error) {
	if tx == nil {
		return sol.Signature{}, xerrors.New(xerrors.CodeInvalidArgument, "transaction is nil")
	}
	rpcClient, err := c.rpc()
	if err != nil {
		return sol.Signature{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return sol.Signature{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "serialise transaction")
	}

	preflight := opts.PreflightCommitment
	if preflight == "" {
		preflight = c.commitment
	}
	config := map[string]any{
		"encoding":            "base64",
		"skipPreflight":       opts.SkipPreflight,
		"preflightCommitment": preflight,
	}
	if opts.MaxRetries != nil {
		config["maxRetries"] = *opts.MaxRetries
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	var signature string
	if err := rpcClient.CallContext(callCtx, &signature, "sendTransaction", base64.StdEncoding.EncodeToString(raw), config); err != nil {
		return sol.Signature{}, xerrors.Wrap(xerrors.CodeRPCFailure, err, "sendTransaction")
	}
	sig, err := sol.SignatureFromBase58(signature)
	if err != nil {
		return sol.Signature{}, xerrors.Wrap(xerrors.CodeRPCFailure, err, "decode transaction signature")
	}
	return sig, nil
}

// Snapshot gathers lightweight metadata from the cluster in one batch.
func (c *Client) Snapshot(ctx context.Context) (chain.ClusterSnapshot, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return chain.ClusterSnapshot{}, err
	}
	var (
		slot    uint64
		version versionResult
	)
	elems := []gethrpc.BatchElem{
		{Method: "getSlot", Args: []any{map[string]any{"commitment": c.commitment}}, Result: &slot},
		{Method: "getVersion", Result: &version},
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	if err := rpcClient.BatchCallContext(callCtx, elems); err != nil {
		return chain.ClusterSnapshot{}, xerrors.Wrap(xerrors.CodeRPCFailure, err, "fetch cluster snapshot")
	}
	for _, elem := range elems {
		if elem.Error != nil {
			return chain.ClusterSnapshot{}, xerrors.Wrap(xerrors.CodeRPCFailure, elem.Error, elem.Method)
		}
	}
	return chain.ClusterSnapshot{
		Cluster: c.name,
		Slot:    slot,
		Version: version.SolanaCore,
		Notes:   c.notes,
	}, nil
}

var _ chain.Client = (*Client)(nil)

package oracle

import (
	"context"

	"golang.org/x/sync/errgroup"

	"SolOracle-Chain/internal/chain"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
	"SolOracle-Chain/pkg/logger"
)

// AccountReader is the read side of a cluster client.
type AccountReader interface {
	// AccountInfo returns nil, nil for an absent account.
	AccountInfo(ctx context.Context, addr pda.Address) (*chain.Account, error)
}

// Resolution is the outcome of Resolve: the derived account set plus the
// agent state when the agent account is already initialised.
type Resolution struct {
	Addresses
	AgentState *AgentAccount `json:"agent_state,omitempty"`
}

// Resolve runs the full derivation sequence for maker against reader. The
// counter is read first; the context and agent steps run concurrently; the
// interaction step runs last. An initialised agent's recorded context takes
// precedence over the counter-derived one.
func Resolve(ctx context.Context, reader AccountReader, plan Plan, maker pda.Address) (Resolution, error) {
	if reader == nil {
		return Resolution{}, xerrors.New(xerrors.CodeInitializationFailure, "account reader is not configured")
	}
	seq := plan.NewSequence()

	counterAddr, err := seq.CounterAddress()
	if err != nil {
		return Resolution{}, err
	}
	account, readErr := reader.AccountInfo(ctx, counterAddr)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Resolution{}, ctxErr
	}
	var blob []byte
	if account != nil {
		blob = account.Data
	}
	seq.ObserveCounter(blob, readErr)

	var state *AgentAccount
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := seq.DeriveContext()
		return err
	})
	g.Go(func() error {
		derived, err := seq.DeriveAgent(maker)
		if err != nil {
			return err
		}
		existing, err := reader.AccountInfo(gctx, derived.Address)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeRPCFailure, err, "read agent account")
		}
		if existing == nil || len(existing.Data) == 0 {
			return nil
		}
		decoded, err := DecodeAgentAccount(existing.Data)
		if err != nil {
			return err
		}
		state = &decoded
		seq.AdoptContext(decoded.Context)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	if _, err := seq.DeriveInteraction(); err != nil {
		return Resolution{}, err
	}
	identity, err := plan.Identity()
	if err != nil {
		return Resolution{}, err
	}

	addrs := seq.Addresses()
	addrs.Identity = identity.Address
	addrs.AgentInitialized = state != nil
	logger.Named("oracle").Info("addresses resolved",
		"maker", maker.String(),
		"counter", addrs.CounterValue,
		"context", addrs.Context.String(),
		"context_source", addrs.ContextSource,
		"agent", addrs.Agent.String(),
		"interaction", addrs.Interaction.String(),
		"agent_initialized", addrs.AgentInitialized)
	return Resolution{Addresses: addrs, AgentState: state}, nil
}

package oracle

import (
	"context"
	"time"

	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
	"SolOracle-Chain/pkg/logger"
)

// Polling defaults.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxWait      = 30 * time.Second
)

// WaitConfig bounds WaitForResponse.
type WaitConfig struct {
	Interval time.Duration
	MaxWait  time.Duration
}

func (c WaitConfig) withDefaults() WaitConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	return c
}

// WaitForResponse polls the agent account until its last response is
// non-empty and differs from baseline. Every read is bounded by the
// remaining budget, so it returns ErrResponseTimeout within MaxWait plus
// one poll even against a node that never answers.
// Read and decode failures are logged and polling continues.
func WaitForResponse(ctx context.Context, reader AccountReader, agent pda.Address, baseline string, cfg WaitConfig) (string, error) {
	if reader == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "account reader is not configured")
	}
	cfg = cfg.withDefaults()
	log := logger.Named("oracle")

	start := time.Now()
	readCtx, cancel := context.WithDeadline(ctx, start.Add(cfg.MaxWait))
	defer cancel()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if response, ok := pollOnce(readCtx, reader, agent, baseline); ok {
			log.Info("oracle response received", "agent", agent.String(), "attempt", attempt, "elapsed", time.Since(start).String())
			return response, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if readCtx.Err() != nil {
			log.Warn("oracle response timed out", "agent", agent.String(), "max_wait", cfg.MaxWait.String(), "code", string(CodeResponseTimeout))
			return "", xerrors.New(CodeResponseTimeout, "no oracle response for agent "+agent.String()+" within "+cfg.MaxWait.String())
		}
		log.Debug("waiting for oracle callback", "agent", agent.String(), "attempt", attempt, "elapsed", time.Since(start).String())

		select {
		case <-readCtx.Done():
		case <-ticker.C:
		}
	}
}

func pollOnce(ctx context.Context, reader AccountReader, agent pda.Address, baseline string) (string, bool) {
	account, err := reader.AccountInfo(ctx, agent)
	if err != nil {
		if ctx.Err() == nil {
			logger.Named("oracle").Warn("agent account read failed", "agent", agent.String(), "error", err.Error())
		}
		return "", false
	}
	if account == nil {
		return "", false
	}
	state, err := DecodeAgentAccount(account.Data)
	if err != nil {
		logger.Named("oracle").Warn("agent account decode failed", "agent", agent.String(), "error", err.Error())
		return "", false
	}
	if state.LastResponse == "" || state.LastResponse == baseline {
		return "", false
	}
	return state.LastResponse, true
}

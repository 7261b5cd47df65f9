package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SolOracle-Chain/internal/chain"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
)

func agentData(t *testing.T, response string) []byte {
	t.Helper()
	data, err := AgentAccount{Maker: testMaker, Context: pda.Address{9}, Prompt: "q", LastResponse: response}.MarshalBinary()
	require.NoError(t, err)
	return data
}

func TestWaitForResponseTimesOutWithinBudget(t *testing.T) {
	reader := newFakeReader()
	agent := pda.Address{5}
	reader.put(agent, agentData(t, ""))

	cfg := WaitConfig{Interval: 20 * time.Millisecond, MaxWait: 100 * time.Millisecond}
	start := time.Now()
	_, err := WaitForResponse(context.Background(), reader, agent, "", cfg)
	elapsed := time.Since(start)

	require.True(t, errors.Is(err, ErrResponseTimeout))
	require.False(t, xerrors.RetryableError(err))
	require.False(t, xerrors.ShouldAlert(err))
	require.GreaterOrEqual(t, elapsed, cfg.MaxWait)
	require.Less(t, elapsed, cfg.MaxWait+cfg.Interval+80*time.Millisecond)
	reader.mu.Lock()
	defer reader.mu.Unlock()
	require.GreaterOrEqual(t, reader.reads[agent], 2)
}

func TestWaitForResponseReturnsNewResponse(t *testing.T) {
	reader := newFakeReader()
	agent := pda.Address{5}
	reader.put(agent, agentData(t, "old answer"))
	answer := agentData(t, "Solana is a layer one chain.")

	go func() {
		time.Sleep(30 * time.Millisecond)
		reader.put(agent, answer)
	}()

	got, err := WaitForResponse(context.Background(), reader, agent, "old answer",
		WaitConfig{Interval: 10 * time.Millisecond, MaxWait: 2 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "Solana is a layer one chain.", got)
}

func TestWaitForResponseToleratesMissingAndBrokenAccounts(t *testing.T) {
	reader := newFakeReader()
	agent := pda.Address{5}
	reader.failures[agent] = errors.New("timeout")
	done := agentData(t, "done")

	go func() {
		time.Sleep(20 * time.Millisecond)
		reader.mu.Lock()
		delete(reader.failures, agent)
		reader.accounts[agent] = nil
		reader.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		reader.put(agent, []byte{1, 2, 3})
		time.Sleep(20 * time.Millisecond)
		reader.put(agent, done)
	}()

	got, err := WaitForResponse(context.Background(), reader, agent, "",
		WaitConfig{Interval: 5 * time.Millisecond, MaxWait: 2 * time.Second})
	require.NoError(t, err)
	require.Equal(t, "done", got)
}

func TestWaitForResponseHonoursCancellation(t *testing.T) {
	reader := newFakeReader()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := WaitForResponse(ctx, reader, pda.Address{5}, "", WaitConfig{Interval: 5 * time.Millisecond, MaxWait: time.Minute})
	require.ErrorIs(t, err, context.Canceled)
}

// stalledReader never answers until its context ends.
type stalledReader struct{}

func (stalledReader) AccountInfo(ctx context.Context, _ pda.Address) (*chain.Account, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWaitForResponseBoundsStalledReads(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cfg := WaitConfig{Interval: 50 * time.Millisecond, MaxWait: 200 * time.Millisecond}
	start := time.Now()
	_, err := WaitForResponse(ctx, stalledReader{}, pda.Address{5}, "", cfg)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrResponseTimeout)
	require.Less(t, elapsed, cfg.MaxWait+cfg.Interval+200*time.Millisecond)
}

package agent

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"SolOracle-Chain/internal/chain"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/observability/metrics"
	"SolOracle-Chain/internal/oracle"
	"SolOracle-Chain/internal/pda"
)

// fakeCluster keeps accounts in memory and reacts to submitted
// instructions through onSend.
type fakeCluster struct {
	mu       sync.Mutex
	accounts map[pda.Address]*chain.Account
	sent     []string
	onSend   func(name string)
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{accounts: map[pda.Address]*chain.Account{}}
}

func (f *fakeCluster) AccountInfo(_ context.Context, addr pda.Address) (*chain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[addr], nil
}

func (f *fakeCluster) MultipleAccounts(ctx context.Context, addrs ...pda.Address) ([]*chain.Account, error) {
	out := make([]*chain.Account, len(addrs))
	for i, addr := range addrs {
		out[i], _ = f.AccountInfo(ctx, addr)
	}
	return out, nil
}

func (f *fakeCluster) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1, 2, 3}, nil
}

func (f *fakeCluster) SendTransaction(_ context.Context, tx *solana.Transaction, _ chain.SendOptions) (solana.Signature, error) {
	name := instructionName(tx.Message.Instructions[0].Data)
	f.mu.Lock()
	f.sent = append(f.sent, name)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return tx.Signatures[0], nil
}

func (f *fakeCluster) Snapshot(context.Context) (chain.ClusterSnapshot, error) {
	return chain.ClusterSnapshot{Cluster: "fake"}, nil
}

func (f *fakeCluster) Close() {}

func (f *fakeCluster) putAgent(addr pda.Address, state oracle.AgentAccount) {
	data, err := state.MarshalBinary()
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[addr] = &chain.Account{Address: addr, Data: data}
}

func (f *fakeCluster) sentInstructions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func instructionName(data []byte) string {
	for _, name := range []string{oracle.InstructionInitialize, oracle.InstructionAskGPT} {
		disc := oracle.InstructionDiscriminator(name)
		if bytes.HasPrefix(data, disc[:]) {
			return name
		}
	}
	return "unknown"
}

type fixture struct {
	cluster *fakeCluster
	plan    oracle.Plan
	signer  solana.PrivateKey
	maker   pda.Address
	agent   pda.Address
	context pda.Address
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	plan := oracle.NewPlan(oracle.DefaultPrograms(), pda.Deriver{})
	signer := solana.NewWallet().PrivateKey
	maker := pda.Address(signer.PublicKey())

	agent, err := plan.Agent(maker)
	require.NoError(t, err)
	ctx0, err := plan.Context(0)
	require.NoError(t, err)

	return fixture{
		cluster: newFakeCluster(),
		plan:    plan,
		signer:  signer,
		maker:   maker,
		agent:   agent.Address,
		context: ctx0.Address,
	}
}

func (f fixture) newAgent(opts ...Option) *Agent {
	base := []Option{WithPollInterval(5 * time.Millisecond), WithMaxWait(200 * time.Millisecond)}
	return New(f.cluster, f.plan, f.signer, append(base, opts...)...)
}

func TestExecuteDryRunSendsNothing(t *testing.T) {
	f := newFixture(t)

	result, err := f.newAgent().Execute(context.Background(), QueryRequest{Prompt: "price of SOL?", DryRun: true})
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Equal(t, f.agent, result.Addresses.Agent)
	require.Equal(t, f.context, result.Addresses.Context)
	require.False(t, result.Addresses.AgentInitialized)
	require.NotEmpty(t, result.Notes)
	require.Empty(t, f.cluster.sentInstructions())
}

func TestExecuteDryRunForOtherMakerWithoutSigner(t *testing.T) {
	f := newFixture(t)
	ag := New(f.cluster, f.plan, nil)

	result, err := ag.Execute(context.Background(), QueryRequest{DryRun: true, Maker: f.maker.String()})
	require.NoError(t, err)
	require.Equal(t, f.agent, result.Addresses.Agent)

	_, err = ag.Execute(context.Background(), QueryRequest{Prompt: "hi"})
	require.True(t, errors.Is(err, ErrSignerUnavailable))
}

func TestExecuteInitializesThenAsks(t *testing.T) {
	f := newFixture(t)
	f.cluster.onSend = func(name string) {
		switch name {
		case oracle.InstructionInitialize:
			f.cluster.putAgent(f.agent, oracle.AgentAccount{Maker: f.maker, Context: f.context, Prompt: "price of SOL?"})
		case oracle.InstructionAskGPT:
			go func() {
				time.Sleep(15 * time.Millisecond)
				f.cluster.putAgent(f.agent, oracle.AgentAccount{
					Maker: f.maker, Context: f.context, Prompt: "price of SOL?", LastResponse: "about 150 USD",
				})
			}()
		}
	}

	reg := metrics.New()
	result, err := f.newAgent(WithMetrics(reg), WithSystemPrompt("be brief")).
		Execute(context.Background(), QueryRequest{Prompt: "price of SOL?"})
	require.NoError(t, err)
	require.Equal(t, []string{oracle.InstructionInitialize, oracle.InstructionAskGPT}, f.cluster.sentInstructions())
	require.Equal(t, "about 150 USD", result.Response)
	require.False(t, result.TimedOut)
	require.True(t, result.Addresses.AgentInitialized)
	require.NotEmpty(t, result.InitializeSignature)
	require.NotEmpty(t, result.AskSignature)
	require.NotEqual(t, result.InitializeSignature, result.AskSignature)
}

func TestExecuteExistingAgentUsesStoredPrompt(t *testing.T) {
	f := newFixture(t)
	f.cluster.putAgent(f.agent, oracle.AgentAccount{
		Maker: f.maker, Context: f.context, Prompt: "original prompt", LastResponse: "old answer",
	})
	f.cluster.onSend = func(name string) {
		if name == oracle.InstructionAskGPT {
			f.cluster.putAgent(f.agent, oracle.AgentAccount{
				Maker: f.maker, Context: f.context, Prompt: "original prompt", LastResponse: "new answer",
			})
		}
	}

	result, err := f.newAgent().Execute(context.Background(), QueryRequest{Prompt: "different prompt"})
	require.NoError(t, err)
	require.Equal(t, []string{oracle.InstructionAskGPT}, f.cluster.sentInstructions())
	require.Equal(t, "new answer", result.Response)
	require.Equal(t, "original prompt", result.StoredPrompt)
	require.Equal(t, oracle.ContextFromAgent, result.Addresses.ContextSource)
	require.Len(t, result.Notes, 2)
}

func TestExecuteTimeoutIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.cluster.putAgent(f.agent, oracle.AgentAccount{
		Maker: f.maker, Context: f.context, Prompt: "q", LastResponse: "stale",
	})

	start := time.Now()
	result, err := f.newAgent(WithMaxWait(40*time.Millisecond)).
		Execute(context.Background(), QueryRequest{Prompt: "q"})
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.Empty(t, result.Response)
	require.NotEmpty(t, result.AskSignature)
	require.Less(t, time.Since(start), time.Second)
}

func TestExecuteRejectsEmptyPrompt(t *testing.T) {
	f := newFixture(t)
	_, err := f.newAgent().Execute(context.Background(), QueryRequest{Prompt: "   "})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestExecuteRejectsForeignMaker(t *testing.T) {
	f := newFixture(t)
	other := solana.NewWallet().PublicKey()
	_, err := f.newAgent().Execute(context.Background(), QueryRequest{Prompt: "q", Maker: other.String()})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestExecuteInitializeNeverLands(t *testing.T) {
	f := newFixture(t)

	_, err := f.newAgent(WithMaxWait(30*time.Millisecond)).
		Execute(context.Background(), QueryRequest{Prompt: "q"})
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	require.Equal(t, []string{oracle.InstructionInitialize}, f.cluster.sentInstructions())
}

func TestLoadSignerErrors(t *testing.T) {
	_, err := LoadSigner("")
	require.True(t, errors.Is(err, ErrSignerUnavailable))

	_, err = LoadSigner(t.TempDir() + "/missing.json")
	require.Equal(t, CodeSignerUnavailable, xerrors.CodeOf(err))
}

// stalledCluster accepts transactions but never answers account reads.
type stalledCluster struct {
	*fakeCluster
}

func (stalledCluster) AccountInfo(ctx context.Context, _ pda.Address) (*chain.Account, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAwaitAgentBoundsStalledReads(t *testing.T) {
	f := newFixture(t)
	ag := New(stalledCluster{f.cluster}, f.plan, f.signer,
		WithPollInterval(10*time.Millisecond), WithMaxWait(100*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	_, err := ag.awaitAgent(ctx, f.agent)
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	require.Less(t, time.Since(start), time.Second)
}

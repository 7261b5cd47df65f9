package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"SolOracle-Chain/internal/chain"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/observability/metrics"
	"SolOracle-Chain/internal/oracle"
	"SolOracle-Chain/internal/pda"
	"SolOracle-Chain/pkg/logger"
)

// 查询结果的分类，用于指标与日志。
const (
	OutcomeAnswered = "answered"
	OutcomeTimedOut = "timed_out"
	OutcomeDryRun   = "dry_run"
	OutcomeFailed   = "failed"
)

// QueryRequest 描述一次预言机查询。
type QueryRequest struct {
	ID           string         `json:"id,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Prompt       string         `json:"prompt"`
	DryRun       bool           `json:"dry_run,omitempty"`
	Maker        string         `json:"maker,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// QueryResult 汇总地址推导、交易签名与预言机回复。
type QueryResult struct {
	Addresses           oracle.Addresses `json:"addresses"`
	InitializeSignature string           `json:"initialize_signature,omitempty"`
	AskSignature        string           `json:"ask_signature,omitempty"`
	Prompt              string           `json:"prompt,omitempty"`
	StoredPrompt        string           `json:"stored_prompt,omitempty"`
	Response            string           `json:"response,omitempty"`
	TimedOut            bool             `json:"timed_out"`
	DryRun              bool             `json:"dry_run"`
	Notes               []string         `json:"notes,omitempty"`
	CreatedAt           int64            `json:"created_at"`
}

// Agent 协调地址推导、交易提交与回复轮询，是系统的业务核心。
type Agent struct {
	client        chain.Client
	plan          oracle.Plan
	signer        solana.PrivateKey
	pollInterval  time.Duration
	maxWait       time.Duration
	skipPreflight bool
	systemPrompt  string
	metrics       *metrics.Registry
	now           func() time.Time
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithPollInterval 设置轮询代理账户的间隔。
func WithPollInterval(interval time.Duration) Option {
	return func(a *Agent) {
		if interval > 0 {
			a.pollInterval = interval
		}
	}
}

// WithMaxWait 设置等待预言机回复的最长时间。
func WithMaxWait(wait time.Duration) Option {
	return func(a *Agent) {
		if wait > 0 {
			a.maxWait = wait
		}
	}
}

// WithSkipPreflight 控制提交交易时是否跳过预检。
func WithSkipPreflight(skip bool) Option {
	return func(a *Agent) {
		a.skipPreflight = skip
	}
}

// WithSystemPrompt 设置请求未指定时使用的系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithMetrics 注入指标注册表。
func WithMetrics(reg *metrics.Registry) Option {
	return func(a *Agent) {
		a.metrics = reg
	}
}

// New 创建一个 Agent。signer 为空时只能执行 DryRun 查询。
func New(client chain.Client, plan oracle.Plan, signer solana.PrivateKey, opts ...Option) *Agent {
	ag := &Agent{
		client:        client,
		plan:          plan,
		signer:        signer,
		pollInterval:  oracle.DefaultPollInterval,
		maxWait:       oracle.DefaultMaxWait,
		skipPreflight: true,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Maker 返回签名者地址；未配置签名者时返回零地址。
func (a *Agent) Maker() pda.Address {
	if len(a.signer) == 0 {
		return pda.Address{}
	}
	return pda.Address(a.signer.PublicKey())
}

// Plan 返回 Agent 使用的推导计划。
func (a *Agent) Plan() oracle.Plan {
	return a.plan
}

// Execute 推导账户地址，必要时初始化代理账户，提交 ask_gpt 并等待回复。
// 等待超时不视为错误，结果中 TimedOut 为 true。
func (a *Agent) Execute(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	// 验证必要的组件是否已配置。
	if a.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置集群客户端")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" && !req.DryRun {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "查询内容不能为空")
	}
	maker, err := a.resolveMaker(req)
	if err != nil {
		return nil, err
	}

	start := a.now()
	log := logger.Named("agent").With("maker", maker.String())

	// 按计数器、上下文/代理、交互的顺序推导地址。
	resolution, err := oracle.Resolve(ctx, a.client, a.plan, maker)
	if err != nil {
		a.observe(OutcomeFailed, start)
		return nil, err
	}
	result := &QueryResult{
		Addresses: resolution.Addresses,
		Prompt:    prompt,
		DryRun:    req.DryRun,
		CreatedAt: start.Unix(),
	}
	if !resolution.CounterObserved {
		result.Notes = append(result.Notes, "计数器不可用，已使用 0 推导上下文")
	}
	if resolution.AgentState != nil {
		result.StoredPrompt = resolution.AgentState.Prompt
	}
	if req.DryRun {
		a.observe(OutcomeDryRun, start)
		return result, nil
	}

	// 首次使用时初始化代理账户。
	baseline := ""
	if resolution.AgentState == nil {
		systemPrompt := strings.TrimSpace(req.SystemPrompt)
		if systemPrompt == "" {
			systemPrompt = a.systemPrompt
		}
		ix, err := oracle.NewInitializeInstruction(a.plan, resolution.Addresses, systemPrompt, prompt)
		if err != nil {
			a.observe(OutcomeFailed, start)
			return nil, err
		}
		sig, err := a.submit(ctx, oracle.InstructionInitialize, ix)
		if err != nil {
			a.observe(OutcomeFailed, start)
			return nil, err
		}
		result.InitializeSignature = sig.String()
		state, err := a.awaitAgent(ctx, resolution.Agent)
		if err != nil {
			a.observe(OutcomeFailed, start)
			return nil, err
		}
		result.StoredPrompt = state.Prompt
		result.Addresses.AgentInitialized = true
	} else {
		baseline = resolution.AgentState.LastResponse
		if resolution.AgentState.Prompt != prompt {
			result.Notes = append(result.Notes, "代理账户已存在，链上使用初始化时保存的提示词")
		}
	}

	// 提交查询指令。
	ix, err := oracle.NewAskInstruction(a.plan, result.Addresses)
	if err != nil {
		a.observe(OutcomeFailed, start)
		return nil, err
	}
	sig, err := a.submit(ctx, oracle.InstructionAskGPT, ix)
	if err != nil {
		a.observe(OutcomeFailed, start)
		return nil, err
	}
	result.AskSignature = sig.String()

	// 轮询代理账户直到回复更新或超时。
	response, err := oracle.WaitForResponse(ctx, a.client, resolution.Agent, baseline, oracle.WaitConfig{
		Interval: a.pollInterval,
		MaxWait:  a.maxWait,
	})
	switch {
	case stdErrors.Is(err, oracle.ErrResponseTimeout):
		result.TimedOut = true
		result.Notes = append(result.Notes, fmt.Sprintf("%s 内未收到预言机回复", a.maxWait))
		log.Warn("oracle response timed out", "agent", resolution.Agent.String(), "signature", result.AskSignature)
		a.observe(OutcomeTimedOut, start)
		return result, nil
	case err != nil:
		a.observe(OutcomeFailed, start)
		return nil, err
	}
	result.Response = response
	log.Info("oracle response received", "agent", resolution.Agent.String(), "signature", result.AskSignature)
	a.observe(OutcomeAnswered, start)
	return result, nil
}

// resolveMaker 确定本次查询的发起者地址。
func (a *Agent) resolveMaker(req QueryRequest) (pda.Address, error) {
	signerAddr := a.Maker()
	requested := strings.TrimSpace(req.Maker)
	if requested == "" {
		if signerAddr.IsZero() {
			return pda.Address{}, ErrSignerUnavailable
		}
		return signerAddr, nil
	}
	maker, err := pda.ParseAddress(requested)
	if err != nil {
		return pda.Address{}, err
	}
	if req.DryRun {
		return maker, nil
	}
	if signerAddr.IsZero() {
		return pda.Address{}, ErrSignerUnavailable
	}
	if maker != signerAddr {
		return pda.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "maker 与签名者不一致，仅 DryRun 查询可指定其他 maker")
	}
	return maker, nil
}

// submit 构造、签名并提交单指令交易。
func (a *Agent) submit(ctx context.Context, name string, ix solana.Instruction) (solana.Signature, error) {
	if len(a.signer) == 0 {
		return solana.Signature{}, ErrSignerUnavailable
	}
	payer := a.signer.PublicKey()

	blockhash, err := a.client.LatestBlockhash(ctx)
	if err != nil {
		a.metrics.ObserveTransaction(name, err)
		return solana.Signature{}, err
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		a.metrics.ObserveTransaction(name, err)
		return solana.Signature{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造交易失败")
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &a.signer
		}
		return nil
	}); err != nil {
		a.metrics.ObserveTransaction(name, err)
		return solana.Signature{}, xerrors.Wrap(CodeSignerUnavailable, err, "交易签名失败")
	}

	sig, err := a.client.SendTransaction(ctx, tx, chain.SendOptions{
		SkipPreflight:       a.skipPreflight,
		PreflightCommitment: "confirmed",
	})
	a.metrics.ObserveTransaction(name, err)
	if err != nil {
		return solana.Signature{}, err
	}
	logger.Audit().Info("transaction submitted",
		"instruction", name,
		"payer", payer.String(),
		"signature", sig.String())
	return sig, nil
}

// awaitAgent 在初始化后轮询，直到代理账户可读；每次读取都受剩余等待时间约束。
func (a *Agent) awaitAgent(ctx context.Context, agent pda.Address) (oracle.AgentAccount, error) {
	readCtx, cancel := context.WithTimeout(ctx, a.maxWait)
	defer cancel()
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		account, err := a.client.AccountInfo(readCtx, agent)
		if err == nil && account != nil && len(account.Data) > 0 {
			return oracle.DecodeAgentAccount(account.Data)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return oracle.AgentAccount{}, ctxErr
		}
		if readCtx.Err() != nil {
			return oracle.AgentAccount{}, xerrors.New(xerrors.CodeTimeout,
				fmt.Sprintf("代理账户 %s 在 %s 内未完成初始化", agent, a.maxWait))
		}
		if err != nil {
			logger.Named("agent").Debug("agent account not readable yet", "agent", agent.String(), "error", err)
		}
		select {
		case <-readCtx.Done():
		case <-ticker.C:
		}
	}
}

func (a *Agent) observe(outcome string, start time.Time) {
	a.metrics.ObserveQuery(outcome, a.now().Sub(start))
}

package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"SolOracle-Chain/internal/agent"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/observability/alerting"
	"SolOracle-Chain/internal/observability/metrics"
	"SolOracle-Chain/pkg/logger"
)

// DefaultDepthSampleInterval 是队列积压指标的采样周期。
const DefaultDepthSampleInterval = 15 * time.Second

// 处理结束时所处的阶段，同时用作告警的 stage 与指标标签。
const (
	stageSucceeded       = "succeeded"
	stageResponseTimeout = "response_timeout"
	stageDegraded        = "degraded"
	stageRetry           = "retry"
	stageTerminal        = "terminal"
	stageNonRetryable    = "non_retryable"
	stageCompensate      = "compensate"
	stageClaim           = "claim"
)

// Executor 定义了处理器所需的 Agent 能力。
type Executor interface {
	Execute(ctx context.Context, req agent.QueryRequest) (*agent.QueryResult, error)
}

// Processor 从队列领取查询，交给 Agent 执行并按错误属性决定重试、降级或终止。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	metrics     *metrics.Registry
	sampleEvery time.Duration
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置不可重试错误的降级策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithProcessorMetrics 记录任务阶段计数与队列积压。
func WithProcessorMetrics(reg *metrics.Registry) ProcessorOption {
	return func(p *Processor) {
		p.metrics = reg
	}
}

// WithDepthSampleInterval 修改队列积压的采样周期。
func WithDepthSampleInterval(interval time.Duration) ProcessorOption {
	return func(p *Processor) {
		if interval > 0 {
			p.sampleEvery = interval
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("processor"),
		sampleEvery: DefaultDepthSampleInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动消费循环，配置了指标且队列支持时同时采样积压数量。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.consumer.Consume(gctx, p.workerCount, p.handle)
	})
	if _, ok := p.consumer.(DepthReporter); ok && p.metrics != nil {
		g.Go(func() error {
			p.sampleDepth(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Processor) sampleDepth(ctx context.Context) {
	ticker := time.NewTicker(p.sampleEvery)
	defer ticker.Stop()
	for {
		depth, _, err := QueueDepth(ctx, p.consumer)
		if err != nil {
			p.logger.Debug("采样队列积压失败", slog.Any("error", err))
		} else {
			p.metrics.SetQueueDepth(depth)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	switch {
	case stdErrors.Is(err, ErrTaskNotFound), stdErrors.Is(err, ErrTaskCompleted), stdErrors.Is(err, ErrTaskExhausted):
		p.logger.Debug("跳过查询", slog.String("task_id", taskID), slog.String("reason", err.Error()))
		return nil
	case err != nil:
		p.logger.Error("领取查询失败", slog.String("task_id", taskID), slog.Any("error", err))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, stageClaim)
		return err
	}

	result, execErr := p.executor.Execute(ctx, RequestFromTask(task))
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}

	record := ResultFromQuery(result)
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		return p.requeueAfterStoreFailure(ctx, task, CodeTaskProcessing, err)
	}
	logger.Audit().Info("查询执行成功",
		slog.String("task_id", task.ID),
		slog.String("agent", record.Addresses.Agent.String()),
		slog.String("interaction", record.Addresses.Interaction.String()),
		slog.String("signature", record.AskSignature),
		slog.Bool("timed_out", record.TimedOut),
		slog.Bool("dry_run", record.DryRun),
	)
	if record.TimedOut {
		p.finish(ctx, task, stageResponseTimeout, CodeTaskResponseTimeout, nil)
		return nil
	}
	p.metrics.ObserveTask(stageSucceeded)
	return nil
}

// RequestFromTask 将任务转换为 Agent 查询请求。
func RequestFromTask(task *Task) agent.QueryRequest {
	return agent.QueryRequest{
		ID:           task.ID,
		SystemPrompt: task.SystemPrompt,
		Prompt:       task.Prompt,
		DryRun:       task.DryRun,
		Maker:        task.Maker,
		Metadata:     cloneMetadata(task.Metadata),
	}
}

// ResultFromQuery 将 Agent 查询结果转换为任务结果。
func ResultFromQuery(result *agent.QueryResult) ExecutionResult {
	if result == nil {
		return ExecutionResult{}
	}
	record := ExecutionResult{
		Addresses:           result.Addresses,
		InitializeSignature: result.InitializeSignature,
		AskSignature:        result.AskSignature,
		StoredPrompt:        result.StoredPrompt,
		Response:            result.Response,
		TimedOut:            result.TimedOut,
		DryRun:              result.DryRun,
	}
	if len(result.Notes) > 0 {
		record.Notes = append([]string(nil), result.Notes...)
	}
	return record
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)

	if !retryable && p.recovery != nil {
		handled, err := p.degrade(ctx, task, code, execErr)
		if handled {
			return err
		}
	}

	terminal := !retryable || task.Attempts >= task.MaxRetries
	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记查询失败状态出错", slog.String("task_id", task.ID), slog.Any("error", storeErr))
		return storeErr
	}
	logger.Audit().Warn("查询执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	switch {
	case retryable && !terminal:
		p.finish(ctx, task, stageRetry, code, execErr)
		if err := p.producer.Publish(ctx, task.ID); err != nil {
			return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("查询 %s 重投失败", task.ID))
		}
		p.logger.Debug("查询已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	case task.Attempts >= task.MaxRetries || (!retryable && p.recovery == nil):
		p.finish(ctx, task, stageTerminal, code, execErr)
	default:
		p.finish(ctx, task, stageNonRetryable, code, execErr)
	}
	return nil
}

// degrade 调用降级策略，handled 为 true 时调用方不再记录失败。
func (p *Processor) degrade(ctx context.Context, task *Task, code xerrors.Code, execErr error) (handled bool, err error) {
	fallback, recErr := p.recovery.Recover(ctx, task, execErr)
	if recErr != nil {
		wrapped := xerrors.Wrap(CodeTaskCompensate, recErr, "查询降级失败")
		p.logger.Error("执行降级逻辑失败", slog.String("task_id", task.ID), slog.Any("error", wrapped))
		p.emitAlert(ctx, task, CodeTaskCompensate, wrapped, stageCompensate)
		return false, nil
	}
	if fallback == nil {
		return false, nil
	}
	fallback.Notes = append(fallback.Notes, fmt.Sprintf("降级处理: %v", execErr))
	if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
		return true, p.requeueAfterStoreFailure(ctx, task, code, err)
	}
	logger.Audit().Warn("查询降级完成",
		slog.String("task_id", task.ID),
		slog.String("cause", execErr.Error()),
	)
	p.finish(ctx, task, stageDegraded, code, execErr)
	return true, nil
}

// requeueAfterStoreFailure 在结果无法落库时把查询退回失败态并重新排队。
func (p *Processor) requeueAfterStoreFailure(ctx context.Context, task *Task, code xerrors.Code, cause error) error {
	p.logger.Error("写入查询结果失败", slog.String("task_id", task.ID), slog.Any("error", cause))
	if err := p.store.MarkFailed(ctx, task.ID, code, cause.Error(), false); err != nil {
		p.logger.Error("回写失败状态出错", slog.String("task_id", task.ID), slog.Any("error", err))
		return err
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("查询 %s 在结果落库失败后重投失败", task.ID))
	}
	logger.Audit().Warn("查询结果落库失败后重试", slog.String("task_id", task.ID), slog.String("error", cause.Error()))
	return nil
}

// finish 记录阶段指标并发送告警。
// 重试阶段仅对登记为需要告警的错误码发送告警。
func (p *Processor) finish(ctx context.Context, task *Task, stage string, code xerrors.Code, cause error) {
	p.metrics.ObserveTask(stage)
	if stage == stageRetry && !xerrors.ShouldAlert(cause) {
		return
	}
	p.emitAlert(ctx, task, code, cause, stage)
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    attrs.Message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   map[string]string{},
		OccurredAt: time.Now(),
	}
	if coded, ok := xerrors.From(cause); ok {
		event.Severity = xerrors.SeverityOf(coded)
		maps.Copy(event.Metadata, coded.Metadata())
	}
	if cause != nil {
		event.Message = cause.Error()
		event.Metadata["cause"] = cause.Error()
	}
	event.Metadata["stage"] = stage
	if task.DryRun {
		event.Metadata["dry_run"] = "true"
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
			slog.Any("error", err),
		)
	}
}

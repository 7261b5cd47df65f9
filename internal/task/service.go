package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"SolOracle-Chain/internal/agent"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/oracle"
	"SolOracle-Chain/internal/pda"
	"SolOracle-Chain/pkg/logger"
)

// DefaultMaxRetries 是未配置时每个查询的最大执行次数。
const DefaultMaxRetries = 3

// Service 负责查询的提交、检索与等待。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// ValidateRequest 检查查询是否能写入链上 agent 账户。
func ValidateRequest(req agent.QueryRequest) error {
	prompt := strings.TrimSpace(req.Prompt)
	switch {
	case prompt == "" && !req.DryRun:
		return xerrors.New(CodeTaskValidation, "查询内容不能为空")
	case len(prompt) > oracle.MaxPromptLen:
		return xerrors.New(CodeTaskValidation, "查询内容超过链上提示词长度上限",
			xerrors.WithMetadata("limit", "256"))
	case len(strings.TrimSpace(req.SystemPrompt)) > oracle.MaxPromptLen:
		return xerrors.New(CodeTaskValidation, "系统提示词超过链上提示词长度上限",
			xerrors.WithMetadata("limit", "256"))
	}
	if maker := strings.TrimSpace(req.Maker); maker != "" {
		if _, err := pda.ParseAddress(maker); err != nil {
			return xerrors.Wrap(CodeTaskValidation, err, "maker 不是合法的地址")
		}
	}
	return nil
}

// Submit 校验并持久化查询，然后投递到队列。
// 指定 ID 的重复提交返回已有查询，提示词不一致时返回 TASK_CONFLICT。
func (s *Service) Submit(ctx context.Context, req agent.QueryRequest) (*Task, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	task := s.newTask(req)
	if existing, err := s.existing(ctx, task); existing != nil || err != nil {
		return existing, err
	}
	if err := s.store.Create(ctx, task); err != nil {
		if !stdErrors.Is(err, ErrTaskConflict) {
			return nil, err
		}
		// 并发提交同一 ID 时以先写入者为准。
		if existing, getErr := s.existing(ctx, task); existing != nil || getErr != nil {
			return existing, getErr
		}
		return nil, err
	}

	if err := s.producer.Publish(ctx, task.ID); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布查询到队列失败")
		logger.L().Error("查询入队失败", slog.String("task_id", task.ID), slog.Any("error", err))
		_ = s.store.MarkFailed(ctx, task.ID, CodeTaskPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("查询入队成功",
		slog.String("task_id", task.ID),
		slog.Bool("dry_run", task.DryRun),
		slog.String("maker", task.Maker),
		slog.Int("prompt_bytes", len(task.Prompt)),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

func (s *Service) newTask(req agent.QueryRequest) *Task {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return &Task{
		ID:           id,
		SystemPrompt: strings.TrimSpace(req.SystemPrompt),
		Prompt:       strings.TrimSpace(req.Prompt),
		DryRun:       req.DryRun,
		Maker:        strings.TrimSpace(req.Maker),
		Metadata:     cloneMetadata(req.Metadata),
		Status:       StatusPending,
		MaxRetries:   s.maxRetries,
	}
}

// existing 查找同 ID 的已提交查询，不存在时两个返回值均为 nil。
func (s *Service) existing(ctx context.Context, task *Task) (*Task, error) {
	found, err := s.store.Get(ctx, task.ID)
	switch {
	case stdErrors.Is(err, ErrTaskNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case found.Prompt != task.Prompt || found.DryRun != task.DryRun || found.Maker != task.Maker:
		return nil, xerrors.Wrap(CodeTaskConflict, ErrTaskConflict, "相同 ID 的查询已以不同内容提交",
			xerrors.WithMetadata("task_id", task.ID))
	default:
		return found, nil
	}
}

// Get 返回指定查询的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// List 返回符合过滤条件的查询列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的查询统计。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 依次关闭存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询直到查询成功或失败，或上下文结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

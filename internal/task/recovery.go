package task

import (
	"context"

	"SolOracle-Chain/internal/agent"
	xerrors "SolOracle-Chain/internal/errors"
)

// RecoveryHandler 定义了在任务执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 ExecutionResult 将作为降级结果写入任务；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// DryRunRecovery 在签名者不可用时将查询降级为 DryRun，仍返回推导出的账户地址。
type DryRunRecovery struct {
	Executor Executor
}

// Recover 实现 RecoveryHandler。
func (r DryRunRecovery) Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error) {
	if r.Executor == nil || task == nil || xerrors.CodeOf(cause) != agent.CodeSignerUnavailable {
		return nil, nil
	}
	req := RequestFromTask(task)
	req.DryRun = true
	result, err := r.Executor.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	record := ResultFromQuery(result)
	return &record, nil
}

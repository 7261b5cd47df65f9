package task

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/pkg/logger"
)

// DefaultMemoryQueueSize 是未指定容量时的缓冲大小。
const DefaultMemoryQueueSize = 64

// MemoryQueue 基于带缓冲 channel 的单进程队列，适用于单实例部署与测试。
type MemoryQueue struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = DefaultMemoryQueueSize
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 投递查询 ID，缓冲区满时阻塞到上下文结束。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "内存队列已关闭")
	}
	select {
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeQueueFailure, ctx.Err(), "投递查询超时")
	case q.ch <- taskID:
		return nil
	}
}

// Consume 启动 workerCount 个协程处理查询，处理失败只记录日志，重投由处理器负责。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	log := logger.Named("memory_queue")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case taskID, ok := <-q.ch:
					if !ok {
						return nil
					}
					if err := handler(gctx, taskID); err != nil {
						log.Warn("处理查询失败", slog.String("task_id", taskID), slog.Int("worker", worker), slog.Any("error", err))
					}
				}
			}
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// Depth 返回缓冲区中等待处理的查询数量。
func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// Close 关闭队列，之后的 Publish 返回 QUEUE_FAILURE。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

var (
	_ Queue         = (*MemoryQueue)(nil)
	_ DepthReporter = (*MemoryQueue)(nil)
)

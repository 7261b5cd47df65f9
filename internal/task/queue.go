package task

import "context"

// Handler 处理一条出队的查询 ID，返回错误时由具体队列决定是否重投。
type Handler func(ctx context.Context, taskID string) error

// Producer 将查询 ID 投递到队列。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个协程消费查询 ID，直到上下文结束。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// DepthReporter 由能报告积压数量的队列实现，用于指标采样与健康检查。
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

// QueueDepth 返回队列积压数量，队列不支持时 ok 为 false。
func QueueDepth(ctx context.Context, queue any) (depth int64, ok bool, err error) {
	reporter, ok := queue.(DepthReporter)
	if !ok {
		return 0, false, nil
	}
	depth, err = reporter.Depth(ctx)
	return depth, true, err
}

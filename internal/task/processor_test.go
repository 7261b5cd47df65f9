package task

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SolOracle-Chain/internal/agent"
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/observability/alerting"
	"SolOracle-Chain/internal/observability/metrics"
)

type fakeAgent struct {
	processed atomic.Int32
	latency   time.Duration
	err       error
	timedOut  bool
}

func (f *fakeAgent) Execute(ctx context.Context, req agent.QueryRequest) (*agent.QueryResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	result := &agent.QueryResult{Prompt: req.Prompt, AskSignature: "sig-" + req.ID, DryRun: req.DryRun, TimedOut: f.timedOut}
	if !f.timedOut {
		result.Response = "ok"
	}
	return result, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingDispatcher) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Metadata["stage"])
	}
	return out
}

type staticRecovery struct {
	result *ExecutionResult
}

func (s staticRecovery) Recover(context.Context, *Task, error) (*ExecutionResult, error) {
	if s.result == nil {
		return nil, nil
	}
	clone := *s.result
	return &clone, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeAgent{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		prompt := fmt.Sprintf("prompt-%d", i)
		if _, err := service.Submit(ctx, agent.QueryRequest{Prompt: prompt}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// runOnce submits one task and drives it through the handler synchronously.
func runOnce(t *testing.T, executor Executor, opts ...ProcessorOption) (*MemoryStore, *MemoryQueue, *Task) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 2)

	submitted, err := service.Submit(ctx, agent.QueryRequest{ID: "q-1", Prompt: "price of SOL?"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-queue.ch

	processor := NewProcessor(executor, store, queue, queue, opts...)
	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, err := store.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return store, queue, task
}

func TestProcessorRecordsSuccess(t *testing.T) {
	_, _, task := runOnce(t, &fakeAgent{})
	if task.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", task.Status)
	}
	if task.Result == nil || task.Result.Response != "ok" || task.Result.AskSignature != "sig-q-1" {
		t.Fatalf("unexpected result: %+v", task.Result)
	}
	if task.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", task.Attempts)
	}
}

func TestProcessorAlertsOnResponseTimeout(t *testing.T) {
	alerts := &recordingDispatcher{}
	_, _, task := runOnce(t, &fakeAgent{timedOut: true}, WithAlertDispatcher(alerts))
	if task.Status != StatusSucceeded || task.Result == nil || !task.Result.TimedOut {
		t.Fatalf("timed out query should still succeed: %+v", task)
	}
	stages := alerts.stages()
	if len(stages) != 1 || stages[0] != "response_timeout" {
		t.Fatalf("unexpected alert stages: %v", stages)
	}
	if alerts.events[0].Code != CodeTaskResponseTimeout {
		t.Fatalf("unexpected alert code: %s", alerts.events[0].Code)
	}
}

func TestProcessorRequeuesRetryableFailure(t *testing.T) {
	alerts := &recordingDispatcher{}
	rpcErr := xerrors.New(xerrors.CodeRPCFailure, "node unavailable")
	store, queue, task := runOnce(t, &fakeAgent{err: rpcErr}, WithAlertDispatcher(alerts))

	if task.Status != StatusFailed || task.ErrorCode != string(xerrors.CodeRPCFailure) {
		t.Fatalf("unexpected task after retryable failure: %+v", task)
	}
	select {
	case id := <-queue.ch:
		if id != task.ID {
			t.Fatalf("unexpected requeued id %s", id)
		}
	default:
		t.Fatalf("retryable failure should be requeued")
	}
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "retry" {
		t.Fatalf("unexpected alert stages: %v", stages)
	}

	if _, err := store.Claim(context.Background(), task.ID); err != nil {
		t.Fatalf("retry claim should succeed: %v", err)
	}
}

func TestProcessorTerminalFailureStopsClaims(t *testing.T) {
	alerts := &recordingDispatcher{}
	invalid := xerrors.New(xerrors.CodeInvalidArgument, "prompt too long")
	store, queue, task := runOnce(t, &fakeAgent{err: invalid}, WithAlertDispatcher(alerts))

	if task.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", task.Status)
	}
	select {
	case id := <-queue.ch:
		t.Fatalf("non-retryable failure must not be requeued, got %s", id)
	default:
	}
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "terminal" {
		t.Fatalf("unexpected alert stages: %v", stages)
	}
	if _, err := store.Claim(context.Background(), task.ID); !errors.Is(err, ErrTaskExhausted) {
		t.Fatalf("expected exhausted after terminal failure, got %v", err)
	}
}

func TestProcessorRecoveryDegradesResult(t *testing.T) {
	alerts := &recordingDispatcher{}
	invalid := xerrors.New(xerrors.CodeInvalidArgument, "maker mismatch")
	fallback := &ExecutionResult{DryRun: true}
	_, _, task := runOnce(t, &fakeAgent{err: invalid},
		WithAlertDispatcher(alerts),
		WithRecoveryHandler(staticRecovery{result: fallback}),
	)

	if task.Status != StatusSucceeded || task.Result == nil {
		t.Fatalf("expected degraded success: %+v", task)
	}
	if len(task.Result.Notes) != 1 {
		t.Fatalf("expected degrade note, got %v", task.Result.Notes)
	}
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "degraded" {
		t.Fatalf("unexpected alert stages: %v", stages)
	}
}

func TestRequestFromTaskCopiesMetadata(t *testing.T) {
	task := &Task{ID: "x", Prompt: "p", Maker: "m", DryRun: true, Metadata: map[string]any{"k": "v"}}
	req := RequestFromTask(task)
	req.Metadata["k"] = "changed"
	if task.Metadata["k"] != "v" {
		t.Fatalf("metadata should be copied")
	}
	if req.ID != "x" || req.Prompt != "p" || req.Maker != "m" || !req.DryRun {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDryRunRecoveryOnlyHandlesMissingSigner(t *testing.T) {
	executor := &fakeAgent{}
	recovery := DryRunRecovery{Executor: executor}
	task := &Task{ID: "q", Prompt: "p"}

	result, err := recovery.Recover(context.Background(), task, agent.ErrSignerUnavailable)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if result == nil || !result.DryRun {
		t.Fatalf("expected dry run fallback, got %+v", result)
	}

	result, err = recovery.Recover(context.Background(), task, xerrors.New(xerrors.CodeInvalidArgument, "bad"))
	if err != nil || result != nil {
		t.Fatalf("other failures should not be recovered: %+v %v", result, err)
	}
}

func scrapeMetrics(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestProcessorRecordsStageMetrics(t *testing.T) {
	reg := metrics.New()
	runOnce(t, &fakeAgent{}, WithProcessorMetrics(reg))
	runOnce(t, &fakeAgent{timedOut: true}, WithProcessorMetrics(reg))

	out := scrapeMetrics(t, reg)
	for _, want := range []string{
		`soloracle_tasks_total{stage="succeeded"} 1`,
		`soloracle_tasks_total{stage="response_timeout"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, out)
		}
	}
}

func TestProcessorSamplesQueueDepth(t *testing.T) {
	reg := metrics.New()
	queue := NewMemoryQueue(8)
	for _, id := range []string{"a", "b", "c"} {
		if err := queue.Publish(context.Background(), id); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if depth, ok, err := QueueDepth(context.Background(), queue); err != nil || !ok || depth != 3 {
		t.Fatalf("unexpected depth %d ok=%v err=%v", depth, ok, err)
	}

	processor := NewProcessor(&fakeAgent{}, NewMemoryStore(), queue, queue, WithProcessorMetrics(reg))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.sampleDepth(ctx)

	deadline := time.After(2 * time.Second)
	for !strings.Contains(scrapeMetrics(t, reg), "soloracle_queue_depth 3") {
		select {
		case <-deadline:
			t.Fatalf("queue depth was not sampled:\n%s", scrapeMetrics(t, reg))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProcessorRetryAlertCarriesErrorContext(t *testing.T) {
	alerts := &recordingDispatcher{}
	rpcErr := xerrors.New(xerrors.CodeRPCFailure, "node unavailable",
		xerrors.WithSeverity(xerrors.SeverityCritical), xerrors.WithMetadata("cluster", "devnet"))
	runOnce(t, &fakeAgent{err: rpcErr}, WithAlertDispatcher(alerts))

	if len(alerts.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.events))
	}
	event := alerts.events[0]
	if event.Severity != xerrors.SeverityCritical {
		t.Fatalf("severity should follow the error, got %s", event.Severity)
	}
	if event.Metadata["cluster"] != "devnet" || event.Metadata["stage"] != "retry" {
		t.Fatalf("unexpected alert metadata: %v", event.Metadata)
	}
}

func TestProcessorSkipsRetryAlertForQuietCodes(t *testing.T) {
	const quiet xerrors.Code = "TEST_QUIET_RETRY"
	xerrors.Register(quiet, xerrors.Attributes{Message: "quiet", Severity: xerrors.SeverityInfo, Retryable: true})

	alerts := &recordingDispatcher{}
	_, queue, task := runOnce(t, &fakeAgent{err: xerrors.New(quiet, "")}, WithAlertDispatcher(alerts))
	select {
	case id := <-queue.ch:
		if id != task.ID {
			t.Fatalf("unexpected requeued id %s", id)
		}
	default:
		t.Fatalf("retryable failure should be requeued")
	}
	if stages := alerts.stages(); len(stages) != 0 {
		t.Fatalf("quiet retry should not alert, got %v", stages)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"SolOracle-Chain/internal/agent"
	"SolOracle-Chain/internal/api"
	"SolOracle-Chain/internal/auth"
	"SolOracle-Chain/internal/chain/provider"
	"SolOracle-Chain/internal/config"
	"SolOracle-Chain/internal/observability/alerting"
	"SolOracle-Chain/internal/observability/metrics"
	"SolOracle-Chain/internal/oracle"
	"SolOracle-Chain/internal/pda"
	storage "SolOracle-Chain/internal/storage/mysql"
	"SolOracle-Chain/internal/task"
	"SolOracle-Chain/internal/vault"
	"SolOracle-Chain/pkg/logger"
)

// main 是 SolOracle 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("soloracled 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logr := logger.Named("soloracled")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	reg := metrics.New()

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Solana)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	client, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}
	logr.Info("集群客户端已就绪", slog.String("cluster", chainRegistry.DefaultName()), slog.Any("clusters", chainRegistry.Clusters()))

	programs, err := oracle.ProgramsFromConfig(cfg.Programs)
	if err != nil {
		return err
	}
	vaultID, err := pda.ParseAddress(cfg.Programs.Vault)
	if err != nil {
		return err
	}
	plan := oracle.NewPlan(programs, pda.Deriver{})

	// 未配置签名密钥时仍可提供 DryRun 查询与地址推导。
	var signer solana.PrivateKey
	if cfg.Agent.KeypairPath != "" {
		signer, err = agent.LoadSigner(cfg.Agent.KeypairPath)
		if err != nil {
			return err
		}
	} else {
		logr.Warn("未配置签名密钥，仅支持 DryRun 查询")
	}

	ag := agent.New(client, plan, signer,
		agent.WithPollInterval(cfg.Agent.PollInterval()),
		agent.WithMaxWait(cfg.Agent.MaxWait()),
		agent.WithSkipPreflight(cfg.Agent.SkipsPreflight()),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithMetrics(reg),
	)
	if maker := ag.Maker(); !maker.IsZero() {
		logr.Info("签名者已加载", slog.String("maker", maker.String()))
	}

	taskStore, err := openTaskStore(ctx, cfg.Storage.TaskStore)
	if err != nil {
		return err
	}
	defer func() { _ = taskStore.Close() }()

	taskQueue, err := openTaskQueue(ctx, cfg.TaskQueue)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			logr.Error("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	processor := task.NewProcessor(ag, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("processor")),
		task.WithRecoveryHandler(task.DryRunRecovery{Executor: ag}),
		task.WithAlertDispatcher(newAlerter(cfg.Alerting)),
		task.WithProcessorMetrics(reg),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	authService, err := auth.NewServiceFromConfig(cfg.Server.Auth)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	logr.Info("API 认证模式", "mode", string(authService.Mode()))

	server := api.NewServer(cfg.Server.Address, taskService,
		api.WithAuth(authService),
		api.WithPlan(plan),
		api.WithVault(vault.Program{ID: vaultID, Deriver: plan.Deriver()}),
		api.WithAccountReader(client),
		api.WithMetrics(reg),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openTaskStore(ctx context.Context, cfg config.TaskStoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(ctx, storage.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
			ConnectAttempts: cfg.ConnectAttempts,
		})
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func openTaskQueue(ctx context.Context, cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func newAlerter(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.LogEnabled() {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout()))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"SolOracle-Chain/pkg/logger"
)

// EnvConfigPath 是指定配置文件路径的环境变量。
const EnvConfigPath = "SOLORACLE_CONFIG"

// 程序标识的默认值与链上部署保持一致。
const (
	DefaultOracleProgram = "LLMrieZMpbJFwN52WgmBNMxYojrpRVYXdC1RCweEbab"
	DefaultAgentProgram  = "CpS3rNPN8bB8fW8EuBNQ2p6my2Lbh6ZTpoi9SuhTqKoE"
	DefaultVaultProgram  = "75rznRBCfaY7do322oxyeEpcDf73xskqx8D7rTkYE66c"
)

// Config 描述了守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Log       logger.Config   `json:"log"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Solana    SolanaConfig    `json:"solana"`
	Programs  ProgramsConfig  `json:"programs"`
	Agent     AgentConfig     `json:"agent"`
	Storage   StorageConfig   `json:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Alerting  AlertingConfig  `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string     `json:"address"`
	Auth    AuthConfig `json:"auth"`
}

// AuthConfig 控制 API 的 Bearer 令牌认证，mode 为 disabled 或 token。
type AuthConfig struct {
	Mode   string            `json:"mode"`
	Tokens []AuthTokenConfig `json:"tokens"`
}

// AuthTokenConfig 描述一个静态访问令牌及其权限。
type AuthTokenConfig struct {
	Name        string   `json:"name"`
	Token       string   `json:"token"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// SolanaConfig 描述集群连接方式。
type SolanaConfig struct {
	ClusterConfig         string `json:"cluster_config"`
	DefaultCluster        string `json:"default_cluster"`
	RPCURL                string `json:"rpc_url"`
	Commitment            string `json:"commitment"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// RequestTimeout 返回单次 RPC 调用的超时时间。
func (c SolanaConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ProgramsConfig 记录预言机、智能体与金库程序的 base58 标识。
type ProgramsConfig struct {
	Oracle string `json:"oracle"`
	Agent  string `json:"agent"`
	Vault  string `json:"vault"`
}

// AgentConfig 控制智能体提交交易与轮询响应的行为。
type AgentConfig struct {
	KeypairPath         string `json:"keypair_path"`
	SystemPrompt        string `json:"system_prompt"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	MaxWaitSeconds      int    `json:"max_wait_seconds"`
	SkipPreflight       *bool  `json:"skip_preflight"`
}

// PollInterval 返回轮询间隔。
func (c AgentConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MaxWait 返回等待响应的最长时间。
func (c AgentConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

// SkipsPreflight 报告是否跳过预执行检查，未配置时默认跳过。
func (c AgentConfig) SkipsPreflight() bool {
	return c.SkipPreflight == nil || *c.SkipPreflight
}

// StorageConfig 统一描述任务存储后端的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
}

// TaskStoreConfig 支持内存与 MySQL 两种实现。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	Retries                int    `json:"retries"`
	ConnectAttempts        int    `json:"connect_attempts"`
}

// TaskQueueConfig 描述任务队列的驱动与并发度。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AlertingConfig 描述任务告警的投递渠道。
type AlertingConfig struct {
	Log                   *bool  `json:"log"`
	WebhookURL            string `json:"webhook_url"`
	WebhookTimeoutSeconds int    `json:"webhook_timeout_seconds"`
}

// LogEnabled 报告是否写入审计日志，未配置时默认开启。
func (c AlertingConfig) LogEnabled() bool {
	return c.Log == nil || *c.Log
}

// WebhookTimeout 返回 webhook 请求的超时时间。
func (c AlertingConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// Path 返回配置文件路径，优先读取环境变量。
func Path() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return filepath.Join("configs", "soloracle.json")
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置，供命令行工具在没有配置文件时使用。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Auth.Mode == "" {
		c.Server.Auth.Mode = "disabled"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	c.Log.Audit.Path = resolvePath(baseDir, c.Log.Audit.Path)

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	}

	if c.Solana.Commitment == "" {
		c.Solana.Commitment = "confirmed"
	}
	if c.Solana.RequestTimeoutSeconds <= 0 {
		c.Solana.RequestTimeoutSeconds = 15
	}
	c.Solana.ClusterConfig = resolvePath(baseDir, c.Solana.ClusterConfig)

	if c.Programs.Oracle == "" {
		c.Programs.Oracle = DefaultOracleProgram
	}
	if c.Programs.Agent == "" {
		c.Programs.Agent = DefaultAgentProgram
	}
	if c.Programs.Vault == "" {
		c.Programs.Vault = DefaultVaultProgram
	}

	if c.Agent.PollIntervalSeconds <= 0 {
		c.Agent.PollIntervalSeconds = 3
	}
	if c.Agent.MaxWaitSeconds <= 0 {
		c.Agent.MaxWaitSeconds = 30
	}
	c.Agent.KeypairPath = resolvePath(baseDir, c.Agent.KeypairPath)

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}
	if c.Storage.TaskStore.ConnectAttempts <= 0 {
		c.Storage.TaskStore.ConnectAttempts = 3
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 2
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 1024
	}

	if c.Alerting.WebhookTimeoutSeconds <= 0 {
		c.Alerting.WebhookTimeoutSeconds = 5
	}
}

// Validate 检查互相依赖的字段是否完整。
func (c *Config) Validate() error {
	switch c.Storage.TaskStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.TaskStore.DSN) == "" {
			return errors.New("storage.task_store.dsn 不能为空")
		}
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", c.Storage.TaskStore.Driver)
	}

	switch c.TaskQueue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.TaskQueue.Redis.Address) == "" {
			return errors.New("task_queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.TaskQueue.RabbitMQ.URL) == "" {
			return errors.New("task_queue.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}

	switch c.Server.Auth.Mode {
	case "disabled":
	case "token":
		if len(c.Server.Auth.Tokens) == 0 {
			return errors.New("server.auth.tokens 不能为空")
		}
	default:
		return fmt.Errorf("未知的认证模式: %s", c.Server.Auth.Mode)
	}

	if c.Agent.MaxWaitSeconds < c.Agent.PollIntervalSeconds {
		return errors.New("agent.max_wait_seconds 不能小于 poll_interval_seconds")
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

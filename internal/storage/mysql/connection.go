package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"SolOracle-Chain/pkg/logger"
)

// 连接池默认值。
const (
	DefaultMaxOpenConns    = 20
	DefaultMaxIdleConns    = 10
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultDialTimeout     = 5 * time.Second
)

// Config 描述 DSN 与连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectAttempts 是启动时 ping 的最大次数，间隔按秒递增。
	ConnectAttempts int
}

// ParseDSN 校验 DSN 并补齐查询任务表所需的驱动选项。
func ParseDSN(dsn string) (*driver.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDialTimeout
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	// 提示词与回复可能包含多字节字符。
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg, nil
}

// Open 建立连接池并确认数据库可达。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := driver.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("创建 MySQL 连接器失败: %w", err)
	}
	db := sql.OpenDB(connector)
	configurePool(db, cfg)

	if err := ping(ctx, db, cfg.ConnectAttempts); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL %s/%s: %w", dsn.Addr, dsn.DBName, err)
	}
	logger.Named("mysql").Info("MySQL 已连接", slog.String("addr", dsn.Addr), slog.String("db", dsn.DBName))
	return db, nil
}

func ping(ctx context.Context, db *sql.DB, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		logger.Named("mysql").Warn("MySQL 暂不可达，稍后重试", slog.Int("attempt", i), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}
	return err
}

func configurePool(db *sql.DB, cfg Config) {
	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, DefaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, DefaultMaxIdleConns))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

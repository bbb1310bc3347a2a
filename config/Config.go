package config

import (
	"fmt"
	"time"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_POSTGRES StorageType = "postgres"

type Config struct {
	HttpPort           int
	StorageType        StorageType
	RedisConfig        RedisStorageConfig
	PostgresConfig     PostgresStorageConfig
	DefinitionsDir     string
	DefinitionCacheTTL time.Duration
	TransformTimeout   time.Duration
	ApprovalConfig     ApprovalConfig
	ToolConfig         InvokerConfig
	LLMConfig          InvokerConfig
	AnalyticsConfig    AnalyticsConfig
	LogLevel           string
	LogFormat          string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	PoolSize  int
	Password  string
}

type PostgresStorageConfig struct {
	DSN      string
	MaxConns int
}

type ApprovalConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// InvokerConfig points at an external tool or model service. An empty
// BaseURL leaves that step kind without an invoker.
type InvokerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type AnalyticsConfig struct {
	QueueCapacity     int
	AuditLogFile      string
	RedisStream       string
	RedisStreamMaxLen int64
}

func (c Config) Validate() error {
	if c.HttpPort <= 0 || c.HttpPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HttpPort)
	}
	switch c.StorageType {
	case STORAGE_TYPE_INMEM:
	case STORAGE_TYPE_REDIS:
		if len(c.RedisConfig.Addrs) == 0 {
			return fmt.Errorf("redis storage needs at least one address")
		}
	case STORAGE_TYPE_POSTGRES:
		if c.PostgresConfig.DSN == "" {
			return fmt.Errorf("postgres storage needs a dsn")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}
	if c.AnalyticsConfig.RedisStream != "" && len(c.RedisConfig.Addrs) == 0 {
		return fmt.Errorf("redis event stream needs a redis address")
	}
	if c.ApprovalConfig.DefaultTTL < 0 || c.ApprovalConfig.SweepInterval < 0 {
		return fmt.Errorf("approval durations can not be negative")
	}
	return nil
}

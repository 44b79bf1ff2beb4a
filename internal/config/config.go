package config

import (
	"fmt"
	"time"

	pkgconfig "staffplanner/pkg/config"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// PlannerConfig 冲突与容量计算参数
type PlannerConfig struct {
	DefaultDailyCapacity   float64       `yaml:"default_daily_capacity"`
	OverutilizedThreshold  float64       `yaml:"overutilized_threshold"`
	UnderutilizedThreshold float64       `yaml:"underutilized_threshold"`
	MaxCommitRetries       int           `yaml:"max_commit_retries"`
	AutoResolveReason      string        `yaml:"auto_resolve_reason"`
	CapacityCacheTTL       time.Duration `yaml:"capacity_cache_ttl"`
	ResolutionGuardTTL     time.Duration `yaml:"resolution_guard_ttl"`
}

// OutboxConfig outbox dispatcher 参数
type OutboxConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	LogLevel string                 `yaml:"log_level"`
	Storage  StorageConfig          `yaml:"storage"`
	DB       pkgconfig.DBConfig     `yaml:"db"`
	Redis    pkgconfig.RedisConfig  `yaml:"redis"`
	MQ       pkgconfig.MQConfig     `yaml:"mq"`
	Server   pkgconfig.ServerConfig `yaml:"server"`
	Otel     pkgconfig.OtelConfig   `yaml:"otel"`
	Planner  PlannerConfig          `yaml:"planner"`
	Outbox   OutboxConfig           `yaml:"outbox"`
}

// Load reads config/<env>.yaml over config/base.yaml and applies environment overrides.
// An empty env uses CONFIG_ENV.
func Load(env, dir string) (*Config, error) {
	if env == "" {
		env = pkgconfig.GetConfigEnv()
	}
	raw, err := pkgconfig.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := pkgconfig.Decode(raw, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（生产环境使用）
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideOtelFromEnv(&cfg.Otel)
	overridePlannerFromEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overridePlannerFromEnv(cfg *Config) {
	pkgconfig.SetString(&cfg.LogLevel, "LOG_LEVEL")
	pkgconfig.SetString(&cfg.Storage.Driver, "PLANNER_STORAGE_DRIVER")
	pkgconfig.SetFloat(&cfg.Planner.DefaultDailyCapacity, "PLANNER_DEFAULT_DAILY_CAPACITY")
	pkgconfig.SetFloat(&cfg.Planner.OverutilizedThreshold, "PLANNER_OVERUTILIZED_THRESHOLD")
	pkgconfig.SetFloat(&cfg.Planner.UnderutilizedThreshold, "PLANNER_UNDERUTILIZED_THRESHOLD")
	pkgconfig.SetInt(&cfg.Planner.MaxCommitRetries, "PLANNER_MAX_COMMIT_RETRIES")
	pkgconfig.SetString(&cfg.Planner.AutoResolveReason, "PLANNER_AUTO_RESOLVE_REASON")
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = DriverPostgres
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Planner.UnderutilizedThreshold > c.Planner.OverutilizedThreshold && c.Planner.OverutilizedThreshold > 0 {
		return fmt.Errorf("underutilized threshold %.2f is above overutilized threshold %.2f",
			c.Planner.UnderutilizedThreshold, c.Planner.OverutilizedThreshold)
	}
	if c.Planner.MaxCommitRetries < 0 {
		return fmt.Errorf("max_commit_retries must not be negative")
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	return nil
}

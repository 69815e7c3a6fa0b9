// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 引擎配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`

	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Market     MarketConfig     `mapstructure:"market"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string          `mapstructure:"host"`
	Port         int             `mapstructure:"port"`
	ReadTimeout  int             `mapstructure:"read_timeout"`
	WriteTimeout int             `mapstructure:"write_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 按客户端 IP 的 GCRA 限流，依赖 Redis
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Rate    int           `mapstructure:"rate"`
	Period  time.Duration `mapstructure:"period"`
	// 为 0 时等于 rate
	Burst int `mapstructure:"burst"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, sqlite
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    int    `mapstructure:"conn_max_lifetime"`
	LogEnabled         bool   `mapstructure:"log_enabled"`
	SlowQueryThreshold int    `mapstructure:"slow_query_threshold"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// 为空时不启用事件发布
	Brokers         []string `mapstructure:"brokers"`
	MaxRetries      int      `mapstructure:"max_retries"`
	RetryBackoff    int      `mapstructure:"retry_backoff"`
	EventsTopic     string   `mapstructure:"events_topic"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// SimulationConfig 模拟时钟与每日推进配置
type SimulationConfig struct {
	// 一个模拟日对应的真实时长
	DayDuration time.Duration `mapstructure:"day_duration"`
	// 模拟日历起点 (YYYY-MM-DD)
	StartDate string `mapstructure:"start_date"`
	// 回收批处理间隔（模拟日）
	RecycleEveryDays int `mapstructure:"recycle_every_days"`
	// 是否由调度器自动推进
	AutoAdvance bool `mapstructure:"auto_advance"`
	// 随机种子，0 表示使用随机种子
	Seed uint64 `mapstructure:"seed"`
}

// MarketConfig 市场配置
type MarketConfig struct {
	// 单价下限
	PriceFloor string `mapstructure:"price_floor"`
	Currency   string `mapstructure:"currency"`
}

// RetryConfig 通知重试队列配置
type RetryConfig struct {
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// 重试耗尽后是否转入持久化通知队列
	PersistExhausted bool `mapstructure:"persist_exhausted"`
}

// QueueConfig 持久化队列消费者配置
type QueueConfig struct {
	// 驱动：redis, memory
	Driver            string        `mapstructure:"driver"`
	Prefix            string        `mapstructure:"prefix"`
	BatchSize         int           `mapstructure:"batch_size"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff"`
	MaxRetries        int           `mapstructure:"max_retries"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	DedupWindow       time.Duration `mapstructure:"dedup_window"`
}

// NotifierConfig 外部通知配置
type NotifierConfig struct {
	LogisticsURL string        `mapstructure:"logistics_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// 熔断：连续失败次数
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// CatalogConfig 商品类型映射
type CatalogConfig struct {
	// item_type_id -> bulk_material | equipment | vehicle
	ItemTypes map[string]string `mapstructure:"item_types"`
	// 未知类型处理策略：bulk_material | reject
	Fallback string `mapstructure:"fallback"`
}

// Load 从 TOML 文件加载配置，文件不存在时使用默认值，支持 APP_ 前缀环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
	}
	if c.Simulation.DayDuration <= 0 {
		return fmt.Errorf("simulation.day_duration must be positive")
	}
	if _, err := time.Parse(time.DateOnly, c.Simulation.StartDate); err != nil {
		return fmt.Errorf("invalid simulation.start_date %q: %w", c.Simulation.StartDate, err)
	}
	if c.Simulation.RecycleEveryDays <= 0 {
		return fmt.Errorf("simulation.recycle_every_days must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.max_retries must be positive")
	}
	switch c.Queue.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported queue driver: %s", c.Queue.Driver)
	}
	switch c.Catalog.Fallback {
	case "bulk_material", "reject":
	default:
		return fmt.Errorf("unsupported catalog.fallback: %s", c.Catalog.Fallback)
	}
	return nil
}

// SimulationStart 解析模拟日历起点
func (c *Config) SimulationStart() time.Time {
	t, _ := time.Parse(time.DateOnly, c.Simulation.StartDate)
	return t.UTC()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "economy")
	v.SetDefault("version", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)
	v.SetDefault("http.rate_limit.enabled", false)
	v.SetDefault("http.rate_limit.rate", 100)
	v.SetDefault("http.rate_limit.period", "1s")
	v.SetDefault("http.rate_limit.burst", 0)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:economy.db?_busy_timeout=5000")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("kafka.events_topic", "economy.events")
	v.SetDefault("kafka.dead_letter_topic", "economy.dead-letter")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/economy.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("simulation.day_duration", "2m")
	v.SetDefault("simulation.start_date", "2050-01-01")
	v.SetDefault("simulation.recycle_every_days", 7)
	v.SetDefault("simulation.auto_advance", true)
	v.SetDefault("simulation.seed", 0)

	v.SetDefault("market.price_floor", "1")
	v.SetDefault("market.currency", "ZAR")

	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.attempt_timeout", "5s")
	v.SetDefault("retry.persist_exhausted", true)

	v.SetDefault("queue.driver", "redis")
	v.SetDefault("queue.prefix", "economy:queue")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.wait_time", "20s")
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.error_backoff", "5s")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.visibility_timeout", "30s")
	v.SetDefault("queue.dedup_window", "5m")

	v.SetDefault("notifier.logistics_url", "http://localhost:8081/api/deliveries")
	v.SetDefault("notifier.timeout", "5s")
	v.SetDefault("notifier.breaker_failures", 5)
	v.SetDefault("notifier.breaker_timeout", "30s")

	v.SetDefault("catalog.fallback", "bulk_material")
	v.SetDefault("catalog.item_types", map[string]string{
		"1": "bulk_material",
		"2": "equipment",
		"3": "vehicle",
	})
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package config

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Job      JobConfig      `mapstructure:"job"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 关系型数据库配置
// Driver 支持 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	Path         string `mapstructure:"path"` // sqlite 文件路径或 DSN
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PayResult  string `mapstructure:"pay_result"`
	OrderEvent string `mapstructure:"order_event"`
}

// BusinessConfig 结算相关的业务参数
type BusinessConfig struct {
	OrderTimeoutMinutes int     `mapstructure:"order_timeout_minutes"`
	MaxRetryCount       int     `mapstructure:"max_retry_count"`
	OrderIDRetries      int     `mapstructure:"order_id_retries"`
	PointEarnRate       float64 `mapstructure:"point_earn_rate"`
	PointExpiryDays     int     `mapstructure:"point_expiry_days"`
	RefundBusinessDays  int     `mapstructure:"refund_business_days"`
	LockTTLSeconds      int     `mapstructure:"lock_ttl_seconds"`
	LockRetryIntervalMs int     `mapstructure:"lock_retry_interval_ms"`
	LockMaxRetries      int     `mapstructure:"lock_max_retries"`
}

// GatewayConfig 外部支付网关（模拟）配置
type GatewayConfig struct {
	FailureRate float64 `mapstructure:"failure_rate"`
	LatencyMs   int     `mapstructure:"latency_ms"`
	TimeoutMs   int     `mapstructure:"timeout_ms"`
}

// AuthConfig 二次认证配置
type AuthConfig struct {
	BcryptCost           int `mapstructure:"bcrypt_cost"`
	FailureWindowSeconds int `mapstructure:"failure_window_seconds"`
}

type JobConfig struct {
	OutboxIntervalMs    int `mapstructure:"outbox_interval_ms"`
	OrderExpirySeconds  int `mapstructure:"order_expiry_seconds"`
	RefundSettleSeconds int `mapstructure:"refund_settle_seconds"`
	PointExpirySeconds  int `mapstructure:"point_expiry_seconds"`
	BatchSize           int `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.pay_result", "pointpay.payment.result")
	v.SetDefault("kafka.topic.order_event", "pointpay.order.event")

	v.SetDefault("business.order_timeout_minutes", 30)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.order_id_retries", 5)
	v.SetDefault("business.point_earn_rate", 0.01)
	v.SetDefault("business.point_expiry_days", 365)
	v.SetDefault("business.refund_business_days", 3)
	v.SetDefault("business.lock_ttl_seconds", 30)
	v.SetDefault("business.lock_retry_interval_ms", 100)
	v.SetDefault("business.lock_max_retries", 30)

	v.SetDefault("gateway.failure_rate", 0.05)
	v.SetDefault("gateway.latency_ms", 1000)
	v.SetDefault("gateway.timeout_ms", 5000)

	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.failure_window_seconds", 300)

	v.SetDefault("job.outbox_interval_ms", 100)
	v.SetDefault("job.order_expiry_seconds", 10)
	v.SetDefault("job.refund_settle_seconds", 60)
	v.SetDefault("job.point_expiry_seconds", 3600)
	v.SetDefault("job.batch_size", 100)

	v.SetDefault("log.level", "info")
}

// Load 加载配置文件
//
// 优先级：环境变量（POINTPAY_ 前缀，如 POINTPAY_DATABASE_HOST）> 配置文件 > 默认值。
// 启动前会尝试加载当前目录的 .env 文件。
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POINTPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "读取配置文件失败")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "解析配置文件失败")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验关键业务参数
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return errors.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	if c.Business.PointEarnRate < 0 || c.Business.PointEarnRate > 1 {
		return errors.Errorf("point_earn_rate 必须在 0-1 之间: %v", c.Business.PointEarnRate)
	}
	if c.Gateway.FailureRate < 0 || c.Gateway.FailureRate > 1 {
		return errors.Errorf("failure_rate 必须在 0-1 之间: %v", c.Gateway.FailureRate)
	}
	if c.Gateway.TimeoutMs <= 0 {
		return errors.New("gateway.timeout_ms 必须大于0")
	}
	// 订单锁在网关扣款期间必须一直有效
	captureMs := c.Gateway.LatencyMs + c.Gateway.TimeoutMs
	if c.Business.LockTTLSeconds*1000 <= captureMs {
		return errors.Errorf("lock_ttl_seconds (%ds) 必须大于网关延迟与超时之和 (%dms)",
			c.Business.LockTTLSeconds, captureMs)
	}
	return nil
}

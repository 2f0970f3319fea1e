package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	App       AppConfig       `mapstructure:"app" yaml:"app"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	NATS      NATSConfig      `mapstructure:"nats" yaml:"nats"`
	Blob      BlobConfig      `mapstructure:"blob" yaml:"blob"`
	JWT       JWTConfig       `mapstructure:"jwt" yaml:"jwt"`
	CORS      CORSConfig      `mapstructure:"cors" yaml:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
}

type AppConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Port       int    `mapstructure:"port" yaml:"port"`
	HealthPort int    `mapstructure:"health_port" yaml:"health_port"`
	Mode       string `mapstructure:"mode" yaml:"mode"`
	NodeID     int64  `mapstructure:"node_id" yaml:"node_id"`
}

// StorageConfig 持久化驱动：memory 或 postgres；实时状态驱动：memory 或 redis
type StorageConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver"`
	EphemeralDriver string `mapstructure:"ephemeral_driver" yaml:"ephemeral_driver"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"-"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DSN 拼接 Postgres 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// Addr Redis 地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig Bus 为 local 时不连接 NATS
type NATSConfig struct {
	Bus           string        `mapstructure:"bus" yaml:"bus"`
	URL           string        `mapstructure:"url" yaml:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	WorkerCount   int           `mapstructure:"worker_count" yaml:"worker_count"`
	BufferSize    int           `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// BlobConfig 附件存储：pebble 为内嵌存储，s3 兼容 S3/R2/MinIO
type BlobConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`
	MaxBytes      int64  `mapstructure:"max_bytes" yaml:"max_bytes"`
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
	PebblePath    string `mapstructure:"pebble_path" yaml:"pebble_path"`

	S3Endpoint        string `mapstructure:"s3_endpoint" yaml:"s3_endpoint"`
	S3Region          string `mapstructure:"s3_region" yaml:"s3_region"`
	S3Bucket          string `mapstructure:"s3_bucket" yaml:"s3_bucket"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id" yaml:"-"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key" yaml:"-"`
	S3ForcePathStyle  bool   `mapstructure:"s3_force_path_style" yaml:"s3_force_path_style"`
	S3PublicBaseURL   string `mapstructure:"s3_public_base_url" yaml:"s3_public_base_url"`
}

type JWTConfig struct {
	SecretKey    string        `mapstructure:"secret_key" yaml:"-"`
	AccessExpire time.Duration `mapstructure:"access_expire" yaml:"access_expire"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int  `mapstructure:"burst" yaml:"burst"`
}

// ChatConfig 会话相关参数
type ChatConfig struct {
	TypingTTL         time.Duration `mapstructure:"typing_ttl" yaml:"typing_ttl"`
	TypingMinInterval time.Duration `mapstructure:"typing_min_interval" yaml:"typing_min_interval"`
	FeedMaxRetries    int           `mapstructure:"feed_max_retries" yaml:"feed_max_retries"`
	FeedRetryBackoff  time.Duration `mapstructure:"feed_retry_backoff" yaml:"feed_retry_backoff"`
	AutoAckDelivery   bool          `mapstructure:"auto_ack_delivery" yaml:"auto_ack_delivery"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "carechat")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.health_port", 8081)
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.ephemeral_driver", "memory")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "carechat")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("nats.bus", "local")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.worker_count", 16)
	v.SetDefault("nats.buffer_size", 1024)

	v.SetDefault("blob.driver", "pebble")
	v.SetDefault("blob.max_bytes", 25<<20)
	v.SetDefault("blob.public_base_url", "http://localhost:8080")
	v.SetDefault("blob.pebble_path", "data/media")
	v.SetDefault("blob.s3_region", "auto")

	v.SetDefault("jwt.access_expire", 2*time.Hour)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 600)
	v.SetDefault("rate_limit.burst", 60)

	v.SetDefault("chat.typing_ttl", 5*time.Second)
	v.SetDefault("chat.typing_min_interval", 2*time.Second)
	v.SetDefault("chat.feed_max_retries", 3)
	v.SetDefault("chat.feed_retry_backoff", 500*time.Millisecond)
	v.SetDefault("chat.auto_ack_delivery", true)
}

// Load 读取 YAML 配置，path 为空时只使用默认值，最后用环境变量覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Port = GetEnvInt("CARECHAT_PORT", c.App.Port)
	c.App.Mode = GetEnv("CARECHAT_MODE", c.App.Mode)
	c.App.NodeID = int64(GetEnvInt("CARECHAT_NODE_ID", int(c.App.NodeID)))

	c.Storage.Driver = GetEnv("CARECHAT_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.EphemeralDriver = GetEnv("CARECHAT_EPHEMERAL_DRIVER", c.Storage.EphemeralDriver)

	// Database
	c.Database.Host = GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = GetEnv("POSTGRES_DB", c.Database.Name)

	// Redis
	c.Redis.Host = GetEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = GetEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = GetEnvInt("REDIS_DB", c.Redis.DB)

	// NATS
	c.NATS.Bus = GetEnv("CARECHAT_BUS", c.NATS.Bus)
	c.NATS.URL = GetEnv("NATS_URL", c.NATS.URL)

	// Blob
	c.Blob.Driver = GetEnv("CARECHAT_BLOB_DRIVER", c.Blob.Driver)
	c.Blob.PublicBaseURL = GetEnv("CARECHAT_PUBLIC_BASE_URL", c.Blob.PublicBaseURL)
	c.Blob.S3Endpoint = GetEnv("S3_ENDPOINT", c.Blob.S3Endpoint)
	c.Blob.S3Bucket = GetEnv("S3_BUCKET", c.Blob.S3Bucket)
	c.Blob.S3PublicBaseURL = GetEnv("S3_PUBLIC_BASE_URL", c.Blob.S3PublicBaseURL)
	c.Blob.S3AccessKeyID = GetEnv("S3_ACCESS_KEY_ID", c.Blob.S3AccessKeyID)
	c.Blob.S3SecretAccessKey = GetEnv("S3_SECRET_ACCESS_KEY", c.Blob.S3SecretAccessKey)

	// JWT
	c.JWT.SecretKey = GetEnv("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.AccessExpire = GetEnvDuration("JWT_ACCESS_EXPIRE", c.JWT.AccessExpire)

	c.RateLimit.Enabled = GetEnvBool("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Storage.EphemeralDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown ephemeral driver %q", c.Storage.EphemeralDriver)
	}
	switch c.NATS.Bus {
	case "local", "nats":
	default:
		return fmt.Errorf("unknown bus %q", c.NATS.Bus)
	}
	switch c.Blob.Driver {
	case "pebble", "s3":
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Blob.MaxBytes <= 0 {
		return fmt.Errorf("blob.max_bytes must be positive")
	}
	if c.Chat.TypingTTL <= 0 {
		return fmt.Errorf("chat.typing_ttl must be positive")
	}
	return nil
}

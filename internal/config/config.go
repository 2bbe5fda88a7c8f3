package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"OpenRoute-Chain/pkg/logger"
)

// EnvPrefix 是覆盖配置项所用环境变量的前缀，例如 OPENROUTE_SERVER_ADDRESS。
const EnvPrefix = "OPENROUTE"

// Config 描述了 openrouted 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   logger.Config   `json:"logging"`
	Chains    ChainsConfig    `json:"chains"`
	Backend   BackendConfig   `json:"backend"`
	Wallet    WalletConfig    `json:"wallet"`
	Execution ExecutionConfig `json:"execution"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	Events    EventsConfig    `json:"events"`
	Alerting  AlertingConfig  `json:"alerting"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string        `json:"address"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// ChainsConfig 指向链定义文件。
type ChainsConfig struct {
	File         string        `json:"file"`
	PollInterval time.Duration `json:"poll_interval"`
}

// BackendConfig 描述报价与跨链状态服务。
type BackendConfig struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key"`
	Integrator string        `json:"integrator"`
	Timeout    time.Duration `json:"timeout"`
}

// WalletConfig 保存本地签名账户的私钥与 Safe 多签账户。
type WalletConfig struct {
	PrivateKeys []string     `json:"private_keys"`
	Safes       []SafeConfig `json:"safes"`
}

// SafeConfig 描述一个 Safe 多签账户，Owner 必须是已导入私钥的地址。
type SafeConfig struct {
	Address string `json:"address"`
	Owner   string `json:"owner"`
}

// ExecutionConfig 控制路由执行器。
type ExecutionConfig struct {
	Workers           int           `json:"workers"`
	SlotTTL           time.Duration `json:"slot_ttl"`
	ReceivingInterval time.Duration `json:"receiving_interval"`
	InfiniteApproval  bool          `json:"infinite_approval"`
	BalanceChunkSize  int           `json:"balance_chunk_size"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
	Redis  RedisConfig `json:"redis"`
}

// MySQLConfig 描述 MySQL 连接池。
type MySQLConfig struct {
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig 描述 Redis 连接。存储、执行槽、队列与事件共用同一实例。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// QueueConfig 选择路由队列的实现。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Size     int            `json:"size"`
	Name     string         `json:"name"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Prefetch int    `json:"prefetch"`
}

// EventsConfig 配置路由状态事件的发布渠道。
type EventsConfig struct {
	PublishTimeout time.Duration   `json:"publish_timeout"`
	Redis          RedisSinkConfig `json:"redis"`
	NATS           NATSSinkConfig  `json:"nats"`
	RabbitMQ       AMQPSinkConfig  `json:"rabbitmq"`
}

// RedisSinkConfig 启用 Redis Pub/Sub 事件。
type RedisSinkConfig struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel"`
}

// NATSSinkConfig 启用 NATS 事件。
type NATSSinkConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix"`
}

// AMQPSinkConfig 启用 RabbitMQ 主题交换机事件。
type AMQPSinkConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	Log      bool            `json:"log"`
	Webhooks []WebhookConfig `json:"webhooks"`
}

// WebhookConfig 描述一个告警 Webhook，Kind 可选 slack、dingtalk 或 webhook。
type WebhookConfig struct {
	Kind    string        `json:"kind"`
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的配置文件，并应用 .env 与环境变量覆盖。
// path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	baseDir := "."
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("打开配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
		v.SetConfigFile(path)
	}

	if err := loadDotEnv(baseDir); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	}); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(baseDir string) error {
	file := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取 .env 失败: %w", err)
	}
	// godotenv.Load 不会覆盖已存在的环境变量
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("读取 .env 失败: %w", err)
	}
	return nil
}

// setDefaults 注册所有可由环境变量覆盖的键。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.audit.enabled", false)
	v.SetDefault("logging.audit.path", "")
	v.SetDefault("chains.file", "chains.yaml")
	v.SetDefault("chains.poll_interval", "2s")
	v.SetDefault("backend.base_url", "https://li.quest/v1")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.integrator", "openroute")
	v.SetDefault("backend.timeout", "30s")
	v.SetDefault("wallet.private_keys", []string{})
	v.SetDefault("execution.workers", 4)
	v.SetDefault("execution.slot_ttl", "1m")
	v.SetDefault("execution.receiving_interval", "5s")
	v.SetDefault("execution.infinite_approval", false)
	v.SetDefault("execution.balance_chunk_size", 0)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.mysql.dsn", "")
	v.SetDefault("storage.redis.address", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "openroute:")
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.size", 256)
	v.SetDefault("queue.name", "openroute.routes")
	v.SetDefault("queue.rabbitmq.url", "")
	v.SetDefault("events.publish_timeout", "2s")
	v.SetDefault("events.redis.enabled", false)
	v.SetDefault("events.nats.enabled", false)
	v.SetDefault("events.nats.url", "")
	v.SetDefault("events.rabbitmq.enabled", false)
	v.SetDefault("events.rabbitmq.url", "")
	v.SetDefault("alerting.log", true)
	v.SetDefault("runtime.data_dir", "")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Execution.Workers <= 0 {
		c.Execution.Workers = 1
	}
	if c.Execution.SlotTTL <= 0 {
		c.Execution.SlotTTL = time.Minute
	}

	c.Chains.File = resolvePath(baseDir, c.Chains.File, "chains.yaml")
	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, "data")
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}

	keys := c.Wallet.PrivateKeys[:0]
	for _, key := range c.Wallet.PrivateKeys {
		// 环境变量中的私钥以逗号分隔
		for _, part := range strings.Split(key, ",") {
			if part = strings.TrimSpace(part); part != "" {
				keys = append(keys, part)
			}
		}
	}
	c.Wallet.PrivateKeys = keys
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Validate 检查驱动与必填连接参数。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return errors.New("storage.driver=mysql 时必须配置 storage.mysql.dsn")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("storage.driver=redis 时必须配置 storage.redis.address")
		}
	default:
		return fmt.Errorf("不支持的存储驱动 %s", c.Storage.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("queue.driver=redis 时必须配置 storage.redis.address")
		}
	case "rabbitmq":
		if c.Queue.RabbitMQ.URL == "" {
			return errors.New("queue.driver=rabbitmq 时必须配置 queue.rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的队列驱动 %s", c.Queue.Driver)
	}

	if c.Events.Redis.Enabled && c.Storage.Redis.Address == "" {
		return errors.New("启用 Redis 事件时必须配置 storage.redis.address")
	}
	if c.Events.NATS.Enabled && c.Events.NATS.URL == "" {
		return errors.New("启用 NATS 事件时必须配置 events.nats.url")
	}
	if c.Events.RabbitMQ.Enabled && c.Events.RabbitMQ.URL == "" {
		return errors.New("启用 RabbitMQ 事件时必须配置 events.rabbitmq.url")
	}
	for i, safe := range c.Wallet.Safes {
		if strings.TrimSpace(safe.Address) == "" || strings.TrimSpace(safe.Owner) == "" {
			return fmt.Errorf("第 %d 个 Safe 账户必须配置 address 与 owner", i)
		}
	}
	for i, hook := range c.Alerting.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("第 %d 个告警 Webhook 缺少 url", i)
		}
	}
	return nil
}

// UsesRedis 判断是否需要建立 Redis 连接。
func (c *Config) UsesRedis() bool {
	return c.Storage.Driver == "redis" || c.Queue.Driver == "redis" || c.Events.Redis.Enabled
}

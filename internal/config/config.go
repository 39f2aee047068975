// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Relay    RelayConfig    `mapstructure:"relay"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// StorageConfig 描述持久化层使用的键值存储底座。
// Driver 取值 memory / redis / mysql。
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	Namespace  string `mapstructure:"namespace"`
	QuotaBytes int    `mapstructure:"quota_bytes"`
	DebounceMS int    `mapstructure:"debounce_ms"`
	// IdleTimeoutMinutes 之后回收未被访问的会话，0 表示不回收
	IdleTimeoutMinutes int `mapstructure:"idle_timeout_minutes"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LLMConfig 存储各个上游模型供应商的配置。
type LLMConfig struct {
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	Gemini         ProviderConfig `mapstructure:"gemini"`
	Claude         ProviderConfig `mapstructure:"claude"`
	Mistral        ProviderConfig `mapstructure:"mistral"`
}

// ProviderConfig 是单个供应商的连接参数。APIKey 为服务端默认凭证，可为空。
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// RelayConfig 配置编排器访问中继的方式以及中继的限流参数。
type RelayConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	RateRPS   float64 `mapstructure:"rate_rps"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// JWTConfig 存储会话令牌相关的配置。
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不发送反馈事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空时上传接口不可用。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	PublicURL       string `mapstructure:"public_url"`
}

// Init 初始化配置加载：先读取可选的 .env，再读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			panic(fmt.Errorf("读取配置文件失败: %w", err))
		}
	}

	if err := v.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
	applyProviderEnv(&Conf.LLM)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.namespace", "buddychat")
	v.SetDefault("storage.quota_bytes", 5*1024*1024)
	v.SetDefault("storage.debounce_ms", 500)
	v.SetDefault("storage.idle_timeout_minutes", 30)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent")
	v.SetDefault("llm.claude.base_url", "https://api.anthropic.com/v1/messages")
	v.SetDefault("llm.claude.model", "claude-3-sonnet-20240229")
	v.SetDefault("llm.mistral.base_url", "https://api.mistral.ai/v1")
	v.SetDefault("llm.mistral.model", "mistral-tiny")
	v.SetDefault("relay.base_url", "http://127.0.0.1:8080")
	v.SetDefault("relay.rate_rps", 5)
	v.SetDefault("relay.rate_burst", 10)
	v.SetDefault("jwt.expire_hours", 24*30)
	v.SetDefault("kafka.topic", "buddychat-feedback")
	v.SetDefault("minio.bucket_name", "buddychat-uploads")
}

// applyProviderEnv 兼容原部署方式：GEMINI_API_KEY 等环境变量作为服务端默认凭证。
func applyProviderEnv(cfg *LLMConfig) {
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Claude.APIKey == "" {
		cfg.Claude.APIKey = os.Getenv("CLAUDE_API_KEY")
	}
	if cfg.Mistral.APIKey == "" {
		cfg.Mistral.APIKey = os.Getenv("MISTRAL_API_KEY")
	}
}

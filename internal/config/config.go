// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Drive         DriveConfig         `mapstructure:"drive"`
	RAG           RAGConfig           `mapstructure:"rag"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
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

// JWTConfig 存储 WebSocket 流式通道票据签发相关的配置。
type JWTConfig struct {
	Secret              string `mapstructure:"secret"`
	TicketExpireMinutes int    `mapstructure:"ticket_expire_minutes"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Provider 为 "local" 时使用进程内共享模型，不发起网络调用。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
// APIKeys 是一个密钥池：一次请求内按顺序降级切换，同一会话尽量复用同一个密钥。
type LLMConfig struct {
	APIKeys            []string            `mapstructure:"api_keys"`
	BaseURL            string              `mapstructure:"base_url"`
	Model              string              `mapstructure:"model"`
	TimeoutSeconds     int                 `mapstructure:"timeout_seconds"`
	KeyCooldownSeconds int                 `mapstructure:"key_cooldown_seconds"`
	SessionTTLMinutes  int                 `mapstructure:"session_ttl_minutes"`
	Generation         LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// DriveConfig 存储 Google Drive 同步相关的配置。
type DriveConfig struct {
	FolderID            string `mapstructure:"folder_id"`
	AccessToken         string `mapstructure:"access_token"`
	BaseURL             string `mapstructure:"base_url"`
	SyncIntervalMinutes int    `mapstructure:"sync_interval_minutes"`
}

// RAGConfig 存储检索增强问答管道的参数。
type RAGConfig struct {
	ChunkSize         int `mapstructure:"chunk_size"`
	ChunkOverlap      int `mapstructure:"chunk_overlap"`
	TopK              int `mapstructure:"top_k"`
	MaxHistoryTurns   int `mapstructure:"max_history_turns"`
	MaxQuestionLength int `mapstructure:"max_question_length"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults 为未配置的检索参数填充缺省值。
func applyDefaults() {
	if Conf.RAG.ChunkSize <= 0 {
		Conf.RAG.ChunkSize = 1000
	}
	if Conf.RAG.ChunkOverlap <= 0 {
		Conf.RAG.ChunkOverlap = 200
	}
	if Conf.RAG.TopK <= 0 {
		Conf.RAG.TopK = 5
	}
	if Conf.RAG.MaxHistoryTurns <= 0 {
		Conf.RAG.MaxHistoryTurns = 6
	}
	if Conf.RAG.MaxQuestionLength <= 0 {
		Conf.RAG.MaxQuestionLength = 2000
	}
	if Conf.Drive.SyncIntervalMinutes <= 0 {
		Conf.Drive.SyncIntervalMinutes = 5
	}
	if Conf.LLM.TimeoutSeconds <= 0 {
		Conf.LLM.TimeoutSeconds = 120
	}
	if Conf.LLM.KeyCooldownSeconds <= 0 {
		Conf.LLM.KeyCooldownSeconds = 60
	}
	if Conf.LLM.SessionTTLMinutes <= 0 {
		Conf.LLM.SessionTTLMinutes = 30
	}
}

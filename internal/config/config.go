package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	ChatAPIBaseURL string `yaml:"chatAPIBaseURL"`
	ChatModel      string `yaml:"chatModel"`

	CatalogBaseURL string `yaml:"catalogBaseURL"`

	SessionSecret string `yaml:"sessionSecret"`

	// AccessPasswordHash is the bcrypt hash exchanged for a session token.
	AccessPasswordHash string `yaml:"accessPasswordHash"`

	// Secrets fall back to a local directory when redis is not set.
	SecretsDir string `yaml:"secretsDir"`

	// Book sources go to MinIO when an endpoint is set, else to a local
	// directory.
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	UploadDir      string `yaml:"uploadDir"`

	IngestStream      string `yaml:"ingestStream"`
	IngestConcurrency int    `yaml:"ingestConcurrency"`
	IngestMaxRetries  int    `yaml:"ingestMaxRetries"`

	RabbitURL      string `yaml:"rabbitURL"`
	EventsExchange string `yaml:"eventsExchange"`

	ChatRatePerMinute int `yaml:"chatRatePerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CHAT_API_BASE_URL"); v != "" {
		cfg.ChatAPIBaseURL = v
	}
	if v := os.Getenv("CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("ACCESS_PASSWORD_HASH"); v != "" {
		cfg.AccessPasswordHash = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.SecretsDir == "" {
		cfg.SecretsDir = "data/secrets"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "data/uploads"
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "book-sources"
	}
	if cfg.CatalogBaseURL == "" {
		cfg.CatalogBaseURL = "https://openlibrary.org"
	}
	if cfg.IngestStream == "" {
		cfg.IngestStream = "readmate:ingest"
	}
	if cfg.IngestConcurrency <= 0 {
		cfg.IngestConcurrency = 2
	}
	if cfg.IngestMaxRetries <= 0 {
		cfg.IngestMaxRetries = 3
	}
	if cfg.EventsExchange == "" {
		cfg.EventsExchange = "readmate.events"
	}
	if cfg.ChatRatePerMinute <= 0 {
		cfg.ChatRatePerMinute = 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.ChatAPIBaseURL == "" {
		return errors.New("config: chatAPIBaseURL is required (set in config.yaml or CHAT_API_BASE_URL)")
	}
	if cfg.ChatModel == "" {
		return errors.New("config: chatModel is required (set in config.yaml or CHAT_MODEL)")
	}
	if cfg.SessionSecret == "" {
		return errors.New("config: sessionSecret is required (set in config.yaml or SESSION_SECRET)")
	}
	if cfg.AccessPasswordHash == "" {
		return errors.New("config: accessPasswordHash is required (set in config.yaml or ACCESS_PASSWORD_HASH)")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return errors.New("config: minio credentials are required when minioEndpoint is set")
	}
	return nil
}

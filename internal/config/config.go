// Package config loads the service configuration from YAML with environment
// overrides for everything deploy-specific.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no config path is given.
const DefaultPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	// LocalStorageDir switches blob storage to the local filesystem when
	// minioEndpoint is empty, for development setups.
	LocalStorageDir string `yaml:"localStorageDir"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	ReindexStream      string `yaml:"reindexStream"`
	ReindexGroup       string `yaml:"reindexGroup"`
	ReindexConcurrency int    `yaml:"reindexConcurrency"`

	AMQPURL       string `yaml:"amqpURL"`
	AuditExchange string `yaml:"auditExchange"`

	ExtractorURL    string `yaml:"extractorURL"`
	ExtractorAPIKey string `yaml:"extractorApiKey"`

	SearchURL    string `yaml:"searchURL"`
	SearchAPIKey string `yaml:"searchApiKey"`

	AIBaseURL string `yaml:"aiBaseURL"`
	AIAPIKey  string `yaml:"aiApiKey"`
	AIModel   string `yaml:"aiModel"`

	TokenSecret   string `yaml:"tokenSecret"`
	TokenIssuer   string `yaml:"tokenIssuer"`
	TokenAudience string `yaml:"tokenAudience"`

	UploadRatePerMinute int `yaml:"uploadRatePerMinute"`
	AskRatePerMinute    int `yaml:"askRatePerMinute"`

	ProcessingTimeoutSeconds int `yaml:"processingTimeoutSeconds"`
	SweepIntervalSeconds     int `yaml:"sweepIntervalSeconds"`
	ReconcileIntervalSeconds int `yaml:"reconcileIntervalSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = DefaultPath
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
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AUDITDESK_EXTRACTOR_URL"); v != "" {
		cfg.ExtractorURL = v
	}
	if v := os.Getenv("AUDITDESK_EXTRACTOR_API_KEY"); v != "" {
		cfg.ExtractorAPIKey = v
	}
	if v := os.Getenv("AUDITDESK_SEARCH_URL"); v != "" {
		cfg.SearchURL = v
	}
	if v := os.Getenv("AUDITDESK_SEARCH_API_KEY"); v != "" {
		cfg.SearchAPIKey = v
	}
	if v := os.Getenv("AUDITDESK_AI_BASE_URL"); v != "" {
		cfg.AIBaseURL = v
	}
	if v := os.Getenv("AUDITDESK_AI_API_KEY"); v != "" {
		cfg.AIAPIKey = v
	}
	if v := os.Getenv("AUDITDESK_AI_MODEL"); v != "" {
		cfg.AIModel = v
	}
	if v := os.Getenv("AUDITDESK_TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("AUDITDESK_UPLOAD_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadRatePerMinute = n
		}
	}
	if v := os.Getenv("AUDITDESK_ASK_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AskRatePerMinute = n
		}
	}
	if v := os.Getenv("AUDITDESK_PROCESSING_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProcessingTimeoutSeconds = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) == "" && strings.TrimSpace(cfg.LocalStorageDir) == "" {
		return errors.New("config: either minioEndpoint or localStorageDir is required")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return errors.New("config: tokenSecret is required (set in config.yaml or AUDITDESK_TOKEN_SECRET)")
	}
	if cfg.UploadRatePerMinute < 0 || cfg.AskRatePerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.ProcessingTimeoutSeconds < 0 {
		return errors.New("config: processingTimeoutSeconds must be >= 0")
	}
	return nil
}

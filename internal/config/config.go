package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Dataset      DatasetConfig      `yaml:"dataset"`
	Reasoning    ReasoningConfig    `yaml:"reasoning"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	History      HistoryConfig      `yaml:"history"`
	Session      SessionConfig      `yaml:"session"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Campaign     CampaignConfig     `yaml:"campaign"`
	Logging      LoggingConfig      `yaml:"logging"`
	Redis        RedisConfig        `yaml:"redis"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatasetConfig selects the backing store holding leads_scored, transactions
// and products.
type DatasetConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, snowflake
	DSN    string `yaml:"dsn"`    // sqlite path or driver DSN
	// Snowflake connection parts, used when DSN is empty.
	Snowflake SnowflakeConfig `yaml:"snowflake"`
	// LoadLeads also reads the raw leads table when it exists.
	LoadLeads bool `yaml:"load_leads"`
}

// SnowflakeConfig holds Snowflake data warehouse configuration
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
}

// ReasoningConfig configures the language model providers.
type ReasoningConfig struct {
	DefaultModel   string           `yaml:"default_model"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
	OpenAI         OpenAIConfig     `yaml:"openai"`
	Compatible     CompatibleConfig `yaml:"compatible"`
	Bedrock        BedrockConfig    `yaml:"bedrock"`

	// MaxRetries only applies to the hosted OpenAI endpoint; 0 disables.
	MaxRetries int `yaml:"max_retries"`
}

// Timeout returns the per-call timeout.
func (c ReasoningConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OpenAIConfig holds OpenAI API configuration. APIKey is only a fallback;
// sessions normally carry their own credential.
type OpenAIConfig struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
}

// CompatibleConfig points at an OpenAI-compatible endpoint such as Ollama.
type CompatibleConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`
}

// BedrockConfig holds AWS Bedrock settings.
type BedrockConfig struct {
	Enabled bool     `yaml:"enabled"`
	Region  string   `yaml:"region"`
	Models  []string `yaml:"models"`
}

// CatalogConfig configures where chart artifacts are written.
type CatalogConfig struct {
	Store      string `yaml:"store"` // local, s3
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c CatalogConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// HistoryConfig selects the conversation history driver.
type HistoryConfig struct {
	Driver        string `yaml:"driver"` // memory, redis, dynamodb
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	TTLHours      int    `yaml:"ttl_hours"`
}

// TTL returns how long an idle history is retained by drivers that expire keys.
func (c HistoryConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// SessionConfig controls the in-process session registry.
type SessionConfig struct {
	IdleMinutes int `yaml:"idle_minutes"`
}

// IdleTimeout returns the session expiry.
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleMinutes) * time.Minute
}

// SegmentationConfig holds the maintenance job settings.
type SegmentationConfig struct {
	Clusters       int    `yaml:"clusters"`
	Seed           int64  `yaml:"seed"`
	Restarts       int    `yaml:"restarts"`
	MaxIterations  int    `yaml:"max_iterations"`
	QueueURL       string `yaml:"queue_url"`
	AWSRegion      string `yaml:"aws_region"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the distributed lock expiry.
func (c SegmentationConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// CampaignConfig controls publishing email drafts as SES templates. The
// keys are only needed when templates live in a different AWS account;
// otherwise the default credential chain is used.
type CampaignConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// LoggingConfig configures internal/pkg/logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// RedisConfig holds the optional Redis connection shared by history and locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied, for processes
// started without a config file.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Dataset.Driver == "" {
		cfg.Dataset.Driver = "sqlite"
	}
	if cfg.Dataset.DSN == "" && cfg.Dataset.Driver == "sqlite" {
		cfg.Dataset.DSN = "data/leads_scored.db"
	}
	if cfg.Reasoning.DefaultModel == "" {
		cfg.Reasoning.DefaultModel = "gpt-5-nano"
	}
	if cfg.Reasoning.TimeoutSeconds == 0 {
		cfg.Reasoning.TimeoutSeconds = 120
	}
	if cfg.Reasoning.OpenAI.BaseURL == "" {
		cfg.Reasoning.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if len(cfg.Reasoning.OpenAI.Models) == 0 {
		cfg.Reasoning.OpenAI.Models = []string{"gpt-5-nano", "gpt-4.1-nano", "gpt-4o-mini"}
	}
	if cfg.Reasoning.Compatible.BaseURL == "" {
		cfg.Reasoning.Compatible.BaseURL = "http://localhost:11434/v1"
	}
	if len(cfg.Reasoning.Compatible.Models) == 0 {
		cfg.Reasoning.Compatible.Models = []string{"llama3.1", "gpt-oss:20b"}
	}
	if cfg.Reasoning.Bedrock.Region == "" {
		cfg.Reasoning.Bedrock.Region = "us-east-1"
	}
	if cfg.Catalog.Store == "" {
		cfg.Catalog.Store = "local"
	}
	if cfg.Catalog.LocalPath == "" {
		cfg.Catalog.LocalPath = "data/plots"
	}
	if cfg.Catalog.S3Prefix == "" {
		cfg.Catalog.S3Prefix = "plots"
	}
	if cfg.Catalog.AWSRegion == "" {
		cfg.Catalog.AWSRegion = "us-west-2"
	}
	if cfg.History.Driver == "" {
		cfg.History.Driver = "memory"
	}
	if cfg.History.TTLHours == 0 {
		cfg.History.TTLHours = 24
	}
	if cfg.History.AWSRegion == "" {
		cfg.History.AWSRegion = "us-west-2"
	}
	if cfg.Session.IdleMinutes == 0 {
		cfg.Session.IdleMinutes = 60
	}
	if cfg.Segmentation.Clusters == 0 {
		cfg.Segmentation.Clusters = 5
	}
	if cfg.Segmentation.Seed == 0 {
		cfg.Segmentation.Seed = 42
	}
	if cfg.Segmentation.Restarts == 0 {
		cfg.Segmentation.Restarts = 10
	}
	if cfg.Segmentation.MaxIterations == 0 {
		cfg.Segmentation.MaxIterations = 300
	}
	if cfg.Segmentation.LockTTLSeconds == 0 {
		cfg.Segmentation.LockTTLSeconds = 600
	}
	if cfg.Segmentation.AWSRegion == "" {
		cfg.Segmentation.AWSRegion = "us-west-2"
	}
	if cfg.Campaign.Region == "" {
		cfg.Campaign.Region = "us-west-2"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// A missing config file is not an error; defaults apply.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = Default()
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Reasoning.OpenAI.APIKey = v
	}
	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		cfg.Reasoning.DefaultModel = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Reasoning.Compatible.BaseURL = v
	}
	if v := os.Getenv("DATASET_DRIVER"); v != "" && v != cfg.Dataset.Driver {
		// DSN from the file belongs to the previous driver
		cfg.Dataset.Driver = v
		cfg.Dataset.DSN = ""
		applyDefaults(cfg)
	}
	if v := os.Getenv("DATASET_DSN"); v != "" {
		cfg.Dataset.DSN = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Dataset.Snowflake.Password = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("HISTORY_DRIVER"); v != "" {
		cfg.History.Driver = v
	}
	if v := os.Getenv("ARTIFACT_S3_BUCKET"); v != "" {
		cfg.Catalog.S3Bucket = v
		cfg.Catalog.Store = "s3"
	}
	if v := os.Getenv("SEGMENTATION_QUEUE_URL"); v != "" {
		cfg.Segmentation.QueueURL = v
	}
	if v := os.Getenv("CAMPAIGN_SES_SECRET_KEY"); v != "" {
		cfg.Campaign.SecretKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	return cfg, nil
}

// Package config loads scoutflow configuration from YAML, .env, and
// environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLM providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Failed-send handling modes for optimistic messages.
const (
	FailModeMark = "mark"
	FailModeDrop = "drop"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Principal identity
	Username       string `yaml:"username"`
	SystemUsername string `yaml:"system_username"`

	// Serverless function endpoints
	FunctionsURL   string `yaml:"functions_url"`
	FunctionsToken string `yaml:"functions_token"`

	// Object storage (public bucket serving screenshots and recordings)
	StorageURL    string `yaml:"storage_url"`
	StorageBucket string `yaml:"storage_bucket"`

	// LLM (responder worker)
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	OllamaHost      string `yaml:"ollama_host"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AWSRegion       string `yaml:"aws_region"`

	// Sync behavior
	FailMode     string        `yaml:"fail_mode"`
	HighlightTTL time.Duration `yaml:"highlight_ttl"`

	// Listen addresses
	ResponderListen string `yaml:"responder_listen"`
	BridgeListen    string `yaml:"bridge_listen"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration: defaults, then an optional YAML file named by
// SCOUTFLOW_CONFIG, then .env (if present), then environment variables.
func Load() (Config, error) {
	// .env is optional; missing files are fine
	_ = godotenv.Load()

	cfg := Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "scoutflow",
		SurrealDBDatabase:  "dashboard",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		SystemUsername: "scoutflow-system",

		FunctionsURL: "http://localhost:8090",

		StorageURL:    "http://localhost:8090/storage/v1/object/public",
		StorageBucket: "scoutflow",

		LLMProvider: ProviderOllama,
		LLMModel:    "llama3.2",
		OllamaHost:  "http://localhost:11434",
		AWSRegion:   "us-east-1",

		FailMode:     FailModeMark,
		HighlightTTL: 2 * time.Second,

		ResponderListen: ":8091",
		BridgeListen:    ":8092",

		LogFile:  "/tmp/scoutflow.log",
		LogLevel: slog.LevelInfo,
	}

	if path := os.Getenv("SCOUTFLOW_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.Username == "" {
		cfg.Username = os.Getenv("USER")
	}
	if cfg.FailMode != FailModeMark && cfg.FailMode != FailModeDrop {
		return Config{}, fmt.Errorf("invalid fail mode %q", cfg.FailMode)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setEnv(&cfg.SurrealDBURL, "SURREALDB_URL")
	setEnv(&cfg.SurrealDBNamespace, "SURREALDB_NAMESPACE")
	setEnv(&cfg.SurrealDBDatabase, "SURREALDB_DATABASE")
	setEnv(&cfg.SurrealDBUser, "SURREALDB_USER")
	setEnv(&cfg.SurrealDBPass, "SURREALDB_PASS")
	setEnv(&cfg.SurrealDBAuthLevel, "SURREALDB_AUTH_LEVEL")

	setEnv(&cfg.Username, "SCOUTFLOW_USERNAME")
	setEnv(&cfg.SystemUsername, "SCOUTFLOW_SYSTEM_USERNAME")

	setEnv(&cfg.FunctionsURL, "SCOUTFLOW_FUNCTIONS_URL")
	setEnv(&cfg.FunctionsToken, "SCOUTFLOW_FUNCTIONS_TOKEN")
	setEnv(&cfg.StorageURL, "SCOUTFLOW_STORAGE_URL")
	setEnv(&cfg.StorageBucket, "SCOUTFLOW_STORAGE_BUCKET")

	setEnv(&cfg.LLMProvider, "SCOUTFLOW_LLM_PROVIDER")
	setEnv(&cfg.LLMModel, "SCOUTFLOW_LLM_MODEL")
	setEnv(&cfg.OllamaHost, "OLLAMA_HOST")
	setEnv(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setEnv(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setEnv(&cfg.AWSRegion, "AWS_REGION")

	setEnv(&cfg.FailMode, "SCOUTFLOW_FAIL_MODE")
	if val := os.Getenv("SCOUTFLOW_HIGHLIGHT_TTL_MS"); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
			cfg.HighlightTTL = time.Duration(ms) * time.Millisecond
		}
	}

	setEnv(&cfg.ResponderListen, "SCOUTFLOW_RESPONDER_LISTEN")
	setEnv(&cfg.BridgeListen, "SCOUTFLOW_BRIDGE_LISTEN")

	setEnv(&cfg.LogFile, "SCOUTFLOW_LOG_FILE")
	if val := os.Getenv("SCOUTFLOW_LOG_LEVEL"); val != "" {
		cfg.LogLevel = parseLogLevel(val)
	}
}

func setEnv(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/visitscribe/backend/pkg/secrets"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Transcription TranscriptionConfig
	OpenAI        OpenAIConfig
	Push          PushConfig
	Email         EmailConfig
	Pipeline      PipelineConfig
	OTEL          OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// TranscriptionConfig holds external transcription service configuration
type TranscriptionConfig struct {
	BaseURL        string
	APIKey         string
	CallbackURL    string
	TimeoutSeconds int
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey         string
	Model          string
	RateLimitRPM   int
	RateLimitBurst int
}

// PushConfig holds push notification configuration
type PushConfig struct {
	BaseURL string
	APIKey  string
}

// EmailConfig holds transactional email configuration
type EmailConfig struct {
	BaseURL     string
	APIKey      string
	FromAddress string
}

// PipelineConfig holds the visit processing tunables. Defaults match the
// operational values the pipeline was designed around; they are configuration
// so tuning does not require a code change.
type PipelineConfig struct {
	MaxRetries               int
	ManualRetryMinInterval   time.Duration
	TranscribingStaleAfter   time.Duration
	SummarizingStaleAfter    time.Duration
	TranscriptionWaitCeiling time.Duration
	SweepInterval            time.Duration
	PostCommitScanInterval   time.Duration
	InitialBackoffMinutes    int
	MaxBackoffMinutes        int
	AlertThreshold           int
	MaxOperationAttempts     int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables. When Vault is
// enabled, secrets are pulled into the environment first so API keys never
// need to live in deployment manifests.
func Load() (*Config, error) {
	vaultCfg := secrets.LoadVaultConfigFromEnv("")
	if vaultCfg.Enabled {
		if _, err := secrets.ApplyVaultSecrets(context.Background(), vaultCfg); err != nil {
			return nil, fmt.Errorf("failed to load secrets from vault: %w", err)
		}
	}

	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "visitscribe"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Transcription: TranscriptionConfig{
			BaseURL:        getEnv("TRANSCRIPTION_BASE_URL", "https://api.transcription.example.com/v2"),
			APIKey:         getEnv("TRANSCRIPTION_API_KEY", ""),
			CallbackURL:    getEnv("TRANSCRIPTION_CALLBACK_URL", ""),
			TimeoutSeconds: getEnvAsInt("TRANSCRIPTION_TIMEOUT_SECONDS", 15),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			RateLimitRPM:   getEnvAsInt("OPENAI_RATE_LIMIT_RPM", 60),
			RateLimitBurst: getEnvAsInt("OPENAI_RATE_LIMIT_BURST", 5),
		},
		Push: PushConfig{
			BaseURL: getEnv("PUSH_BASE_URL", "https://exp.host/--/api/v2"),
			APIKey:  getEnv("PUSH_API_KEY", ""),
		},
		Email: EmailConfig{
			BaseURL:     getEnv("EMAIL_BASE_URL", "https://api.mail.example.com/v3"),
			APIKey:      getEnv("EMAIL_API_KEY", ""),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "care@visitscribe.app"),
		},
		Pipeline: PipelineConfig{
			MaxRetries:               getEnvAsInt("PIPELINE_MAX_RETRIES", 3),
			ManualRetryMinInterval:   getEnvAsDuration("PIPELINE_MANUAL_RETRY_MIN_INTERVAL", 30*time.Second),
			TranscribingStaleAfter:   getEnvAsDuration("PIPELINE_TRANSCRIBING_STALE_AFTER", 30*time.Minute),
			SummarizingStaleAfter:    getEnvAsDuration("PIPELINE_SUMMARIZING_STALE_AFTER", 15*time.Minute),
			TranscriptionWaitCeiling: getEnvAsDuration("PIPELINE_TRANSCRIPTION_WAIT_CEILING", 60*time.Minute),
			SweepInterval:            getEnvAsDuration("PIPELINE_SWEEP_INTERVAL", 10*time.Minute),
			PostCommitScanInterval:   getEnvAsDuration("PIPELINE_POST_COMMIT_SCAN_INTERVAL", time.Minute),
			InitialBackoffMinutes:    getEnvAsInt("PIPELINE_INITIAL_BACKOFF_MINUTES", 5),
			MaxBackoffMinutes:        getEnvAsInt("PIPELINE_MAX_BACKOFF_MINUTES", 360),
			AlertThreshold:           getEnvAsInt("PIPELINE_ALERT_THRESHOLD", 3),
			MaxOperationAttempts:     getEnvAsInt("PIPELINE_MAX_OPERATION_ATTEMPTS", 5),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "visitscribe"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}, nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

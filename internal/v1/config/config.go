package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	APIBaseURL string

	// Hub connection
	HubPath        string
	ConnectTimeout time.Duration
	MaxRetryDelay  time.Duration
	TypingTimeout  time.Duration

	// Outbound rate limits (limiter format, e.g. "30-M")
	RateLimitMessages string
	RateLimitTyping   string
	RateLimitStatus   string

	// Token persistence
	AuthToken     string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Optional variables with defaults
	GoEnv             string
	LogLevel          string
	DevelopmentMode   bool
	StatusPort        string
	OTELCollectorAddr string
	AllowedOrigins    string
}

// ValidateEnv validates all environment variables and returns a Config object.
// Every problem is collected so a single run reports all of them.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: API_BASE_URL (absolute http(s) URL)
	cfg.APIBaseURL = os.Getenv("API_BASE_URL")
	if cfg.APIBaseURL == "" {
		errors = append(errors, "API_BASE_URL is required")
	} else if !isValidBaseURL(cfg.APIBaseURL) {
		errors = append(errors, fmt.Sprintf("API_BASE_URL must be an absolute http(s) URL (got '%s')", cfg.APIBaseURL))
	}

	cfg.HubPath = getEnvOrDefault("HUB_PATH", "/hubs/chat")
	if !strings.HasPrefix(cfg.HubPath, "/") {
		errors = append(errors, fmt.Sprintf("HUB_PATH must start with '/' (got '%s')", cfg.HubPath))
	}

	cfg.ConnectTimeout = parseDuration("CONNECT_TIMEOUT", "10s", &errors)
	cfg.MaxRetryDelay = parseDuration("MAX_RETRY_DELAY", "30s", &errors)
	cfg.TypingTimeout = parseDuration("TYPING_TIMEOUT", "3s", &errors)

	cfg.RateLimitMessages = getEnvOrDefault("RATE_LIMIT_MESSAGES", "30-M")
	cfg.RateLimitTyping = getEnvOrDefault("RATE_LIMIT_TYPING", "1-S")
	cfg.RateLimitStatus = getEnvOrDefault("RATE_LIMIT_STATUS", "120-M")

	cfg.AuthToken = os.Getenv("AUTH_TOKEN")

	// Conditional: REDIS_ADDR (used if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.StatusPort = getEnvOrDefault("STATUS_PORT", "9090")
	if port, err := strconv.Atoi(cfg.StatusPort); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("STATUS_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.StatusPort))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.OTELCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidBaseURL checks for an absolute http or https URL with a host.
func isValidBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// parseDuration reads a positive duration, recording a validation error on failure.
func parseDuration(key, defaultValue string, errors *[]string) time.Duration {
	raw := getEnvOrDefault(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive duration (got '%s')", key, raw))
		return 0
	}
	return d
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"api_base_url", cfg.APIBaseURL,
		"hub_path", cfg.HubPath,
		"connect_timeout", cfg.ConnectTimeout,
		"max_retry_delay", cfg.MaxRetryDelay,
		"typing_timeout", cfg.TypingTimeout,
		"auth_token", redactSecret(cfg.AuthToken),
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"status_port", cfg.StatusPort,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}

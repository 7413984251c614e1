package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/gema-grader/pkg/scoring"
)

// Ledger backends selectable through ledger.backend.
const (
	LedgerBackendPostgres = "postgres"
	LedgerBackendRedis    = "redis"
	LedgerBackendMemory   = "memory"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	CORSOrigins      []string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	EventChannel     string
	JWTSecret        string
	JWTRefreshSecret string

	AIProvider    string
	OpenAIAPIKey  string
	AIModel       string
	AIBaseURL     string
	AIMaxTokens   int
	AITemperature float32
	AITimeout     time.Duration

	GradingUnitCost       int64
	GradingWindowSize     int
	GradingMaxAttempts    int
	GradingRetryBackoff   time.Duration
	GradingIntervals      map[string]scoring.Interval
	GradingInitialCredits int64
	RubricTemplates       map[string]map[string]string
	UploadMaxKB           int

	LedgerBackend     string
	LedgerRedisPrefix string

	RateLimitMax    int
	RateLimitWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "gema")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 2048)
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("grading.unit_cost", 1)
	v.SetDefault("grading.window_size", 10)
	v.SetDefault("grading.max_attempts", 2)
	v.SetDefault("grading.retry_backoff", "500ms")
	v.SetDefault("grading.interval.scoring", "1-15")
	v.SetDefault("grading.interval.revision", "1-13")
	v.SetDefault("grading.interval.both", "0-25")
	v.SetDefault("grading.initial_credits", 0)
	v.SetDefault("grading.upload_max_kb", 256)
	v.SetDefault("ledger.backend", LedgerBackendPostgres)
	v.SetDefault("ledger.redis_prefix", "gema:credits")
	v.SetDefault("rate_limit.max", 10)
	v.SetDefault("rate_limit.window", "1m")
}

func fromViper(v *viper.Viper) (Config, error) {
	setDefaults(v)

	aiTimeout, err := parseDuration(v, "ai.timeout")
	if err != nil {
		return Config{}, err
	}
	retryBackoff, err := parseDuration(v, "grading.retry_backoff")
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := parseDuration(v, "rate_limit.window")
	if err != nil {
		return Config{}, err
	}

	intervals := make(map[string]scoring.Interval, 3)
	for _, mode := range []string{"scoring", "revision", "both"} {
		interval, err := scoring.ParseInterval(v.GetString("grading.interval." + mode))
		if err != nil {
			return Config{}, fmt.Errorf("invalid grading.interval.%s: %w", mode, err)
		}
		intervals[mode] = interval
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		CORSOrigins:      splitList(v.GetString("app.cors_origins")),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		EventChannel:     v.GetString("events.channel"),
		JWTSecret:        v.GetString("jwt.secret"),
		JWTRefreshSecret: v.GetString("jwt.refresh_secret"),

		AIProvider:    strings.ToLower(strings.TrimSpace(v.GetString("ai.provider"))),
		OpenAIAPIKey:  v.GetString("openai_api_key"),
		AIModel:       v.GetString("ai.model"),
		AIBaseURL:     v.GetString("ai.base_url"),
		AIMaxTokens:   v.GetInt("ai.max_tokens"),
		AITemperature: float32(v.GetFloat64("ai.temperature")),
		AITimeout:     aiTimeout,

		GradingUnitCost:       v.GetInt64("grading.unit_cost"),
		GradingWindowSize:     v.GetInt("grading.window_size"),
		GradingMaxAttempts:    v.GetInt("grading.max_attempts"),
		GradingRetryBackoff:   retryBackoff,
		GradingIntervals:      intervals,
		GradingInitialCredits: v.GetInt64("grading.initial_credits"),
		RubricTemplates:       rubricTemplates(v),
		UploadMaxKB:           v.GetInt("grading.upload_max_kb"),

		LedgerBackend:     strings.ToLower(strings.TrimSpace(v.GetString("ledger.backend"))),
		LedgerRedisPrefix: v.GetString("ledger.redis_prefix"),

		RateLimitMax:    v.GetInt("rate_limit.max"),
		RateLimitWindow: rateWindow,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.LedgerBackend {
	case LedgerBackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("database url is required for the postgres ledger")
		}
	case LedgerBackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("redis url is required for the redis ledger")
		}
	case LedgerBackendMemory:
	default:
		return Config{}, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}

	switch cfg.AIProvider {
	case "openai", "mock":
	default:
		return Config{}, fmt.Errorf("unknown ai provider %q", cfg.AIProvider)
	}

	if cfg.GradingUnitCost <= 0 {
		return Config{}, fmt.Errorf("grading.unit_cost must be positive")
	}
	if cfg.GradingWindowSize <= 0 {
		cfg.GradingWindowSize = 10
	}
	if cfg.GradingMaxAttempts <= 0 {
		cfg.GradingMaxAttempts = 1
	}
	if cfg.UploadMaxKB <= 0 {
		cfg.UploadMaxKB = 256
	}
	if cfg.GradingInitialCredits < 0 {
		cfg.GradingInitialCredits = 0
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return duration, nil
}

// rubricTemplates reads optional rubric.<mode>.<severity> overrides. Missing entries fall back
// to the built-in wording.
func rubricTemplates(v *viper.Viper) map[string]map[string]string {
	templates := make(map[string]map[string]string)
	for _, mode := range []string{"scoring", "revision", "both"} {
		for _, severity := range []string{"strict", "lenient"} {
			text := strings.TrimSpace(v.GetString("rubric." + mode + "." + severity))
			if text == "" {
				continue
			}
			if templates[mode] == nil {
				templates[mode] = make(map[string]string, 2)
			}
			templates[mode][severity] = text
		}
	}
	return templates
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

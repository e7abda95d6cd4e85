package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Idempotency  IdempotencyConfig  `mapstructure:"idempotency"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	I18n         I18nConfig         `mapstructure:"i18n"`
	Personas     PersonasConfig     `mapstructure:"personas"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

// IsProduction reports whether diagnostic details must be withheld from clients
func (s ServerConfig) IsProduction() bool {
	return s.Environment != "development"
}

type ProviderConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MemoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type QuotaConfig struct {
	DefaultLimit       int64            `mapstructure:"default_limit"`
	PlanLimits         map[string]int64 `mapstructure:"plan_limits"`
	MaxOutputTokens    int              `mapstructure:"max_output_tokens"`
	ReconcileThreshold int64            `mapstructure:"reconcile_threshold"`
	RefundOnFailure    bool             `mapstructure:"refund_on_failure"`
	ResetLocation      string           `mapstructure:"reset_location"`
	ResetBatchSize     int              `mapstructure:"reset_batch_size"`
	ScheduleEnabled    bool             `mapstructure:"schedule_enabled"`
}

type ConversationConfig struct {
	MaxMessages int `mapstructure:"max_messages"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

// PersonasConfig overrides the built-in system prompts, keyed by persona id
// ("roundtable" for the round-table prompt)
type PersonasConfig struct {
	Prompts map[string]string `mapstructure:"prompts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.version", "1.0.0")

	v.SetDefault("provider.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("provider.model", "deepseek-chat")
	v.SetDefault("provider.temperature", 0.7)
	v.SetDefault("provider.timeout", 30*time.Second)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.key_prefix", "symposium")
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)

	v.SetDefault("quota.default_limit", 100000)
	v.SetDefault("quota.plan_limits", map[string]int64{
		"free":      100000,
		"lite":      1000000,
		"pro":       3000000,
		"unlimited": 1000000000,
	})
	v.SetDefault("quota.max_output_tokens", 2000)
	v.SetDefault("quota.reconcile_threshold", 100)
	v.SetDefault("quota.refund_on_failure", true)
	v.SetDefault("quota.reset_location", "Asia/Shanghai")
	v.SetDefault("quota.reset_batch_size", 500)
	v.SetDefault("quota.schedule_enabled", true)

	v.SetDefault("conversation.max_messages", 40)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.ttl", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "zh")
}

// LoadConfig loads configuration from file and environment variables.
// A missing file is not an error; defaults and the environment still apply.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("provider.api_key", "DEEPSEEK_API_KEY")
	v.BindEnv("provider.base_url", "DEEPSEEK_BASE_URL")
	v.BindEnv("server.environment", "SYMPOSIUM_ENV")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := os.Getenv("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	config.Storage.Type = strings.ToLower(strings.TrimSpace(config.Storage.Type))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	switch cfg.Storage.Type {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Quota.DefaultLimit <= 0 {
		return fmt.Errorf("quota.default_limit must be positive")
	}
	for plan, limit := range cfg.Quota.PlanLimits {
		if limit <= 0 {
			return fmt.Errorf("quota.plan_limits.%s must be positive", plan)
		}
	}
	if cfg.Quota.MaxOutputTokens <= 0 {
		return fmt.Errorf("quota.max_output_tokens must be positive")
	}
	if cfg.Quota.ResetBatchSize <= 0 {
		return fmt.Errorf("quota.reset_batch_size must be positive")
	}
	if cfg.Conversation.MaxMessages < 2 {
		return fmt.Errorf("conversation.max_messages must be at least 2")
	}
	if cfg.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	return nil
}

// Location resolves the time zone used for calendar-month resets. On an
// unknown zone name it returns UTC together with the error.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.ResetLocation == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(q.ResetLocation)
	if err != nil {
		return time.UTC, fmt.Errorf("unknown reset location %q: %w", q.ResetLocation, err)
	}
	return loc, nil
}

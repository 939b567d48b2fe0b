package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the process configuration. Every key is read from the environment
// variable of the same name in upper case, e.g. store_backend from
// STORE_BACKEND, or from an optional config file.
type Config struct {
	StoreBackend     string        `mapstructure:"store_backend"`
	RedisURL         string        `mapstructure:"redis_url"`
	StateTable       string        `mapstructure:"state_table"`
	ConversationTTL  time.Duration `mapstructure:"conversation_ttl"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	TopicKeyPrefix   string        `mapstructure:"topic_key_prefix"`
	HistoryKeyPrefix string        `mapstructure:"history_key_prefix"`

	GenerationProvider    string        `mapstructure:"generation_provider"`
	GenerationBaseURL     string        `mapstructure:"generation_base_url"`
	GenerationModel       string        `mapstructure:"generation_model"`
	GenerationTemperature float64       `mapstructure:"generation_temperature"`
	GenerationMaxTokens   int           `mapstructure:"generation_max_tokens"`
	GenerationTimeout     time.Duration `mapstructure:"generation_timeout"`
	GenerationAPIKey      string        `mapstructure:"generation_api_key"`

	ParamPrefix string `mapstructure:"param_prefix"`
	APIKey      string `mapstructure:"api_key"`

	AppendFailurePolicy string        `mapstructure:"append_failure_policy"`
	AppendRetryAttempts int           `mapstructure:"append_retry_attempts"`
	AppendRetryBackoff  time.Duration `mapstructure:"append_retry_backoff"`

	MaxMessageLength int           `mapstructure:"max_message_length"`
	ListenAddr       string        `mapstructure:"listen_addr"`
	CORSOrigins      string        `mapstructure:"cors_origins"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		StoreBackend:          StoreRedis,
		RedisURL:              "redis://localhost:6379",
		ConversationTTL:       24 * time.Hour,
		HistoryLimit:          10,
		TopicKeyPrefix:        "conversation:topic:",
		HistoryKeyPrefix:      "conversation:history:",
		GenerationProvider:    ProviderOpenAI,
		GenerationTemperature: 0.7,
		GenerationMaxTokens:   200,
		GenerationTimeout:     30 * time.Second,
		AppendFailurePolicy:   "fail",
		AppendRetryAttempts:   3,
		AppendRetryBackoff:    100 * time.Millisecond,
		MaxMessageLength:      2000,
		ListenAddr:            ":3000",
		CORSOrigins:           "*",
		RequestTimeout:        60 * time.Second,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// SetDefaults registers every key with v so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("store_backend", d.StoreBackend)
	v.SetDefault("redis_url", d.RedisURL)
	v.SetDefault("state_table", d.StateTable)
	v.SetDefault("conversation_ttl", d.ConversationTTL)
	v.SetDefault("history_limit", d.HistoryLimit)
	v.SetDefault("topic_key_prefix", d.TopicKeyPrefix)
	v.SetDefault("history_key_prefix", d.HistoryKeyPrefix)

	v.SetDefault("generation_provider", d.GenerationProvider)
	v.SetDefault("generation_base_url", d.GenerationBaseURL)
	v.SetDefault("generation_model", d.GenerationModel)
	v.SetDefault("generation_temperature", d.GenerationTemperature)
	v.SetDefault("generation_max_tokens", d.GenerationMaxTokens)
	v.SetDefault("generation_timeout", d.GenerationTimeout)
	v.SetDefault("generation_api_key", d.GenerationAPIKey)

	v.SetDefault("param_prefix", d.ParamPrefix)
	v.SetDefault("api_key", d.APIKey)

	v.SetDefault("append_failure_policy", d.AppendFailurePolicy)
	v.SetDefault("append_retry_attempts", d.AppendRetryAttempts)
	v.SetDefault("append_retry_backoff", d.AppendRetryBackoff)

	v.SetDefault("max_message_length", d.MaxMessageLength)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("cors_origins", d.CORSOrigins)
	v.SetDefault("request_timeout", d.RequestTimeout)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// Load resolves the configuration from v's defaults, environment and config
// file, then validates it.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.normalize()
	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, errs
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.GenerationProvider = strings.ToLower(strings.TrimSpace(c.GenerationProvider))
	c.AppendFailurePolicy = strings.ToLower(strings.TrimSpace(c.AppendFailurePolicy))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
}

// Origins splits CORSOrigins on commas.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

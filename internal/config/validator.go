package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is a single rejected configuration value.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func ValidStoreBackends() []string {
	return []string{StoreRedis, StoreDynamoDB, StoreMemory}
}

func ValidProviders() []string {
	return []string{ProviderOpenAI, ProviderAnthropic}
}

func ValidAppendPolicies() []string {
	return []string{"fail", "retry", "skip"}
}

func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

func ValidLogFormats() []string {
	return []string{"json", "text"}
}

// Validate returns every invalid value in c, or nil.
func (c Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}
	oneOf := func(field, value string, valid []string) {
		if !slices.Contains(valid, value) {
			add(field, value, "must be one of: "+strings.Join(valid, ", "))
		}
	}

	oneOf("store_backend", c.StoreBackend, ValidStoreBackends())
	oneOf("generation_provider", c.GenerationProvider, ValidProviders())
	oneOf("append_failure_policy", c.AppendFailurePolicy, ValidAppendPolicies())
	oneOf("log_level", c.LogLevel, ValidLogLevels())
	oneOf("log_format", c.LogFormat, ValidLogFormats())

	switch c.StoreBackend {
	case StoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			add("redis_url", c.RedisURL, "is required for the redis store")
		}
	case StoreDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			add("state_table", c.StateTable, "is required for the dynamodb store")
		}
	}

	if c.ConversationTTL <= 0 {
		add("conversation_ttl", c.ConversationTTL, "must be positive")
	}
	if c.HistoryLimit <= 0 {
		add("history_limit", c.HistoryLimit, "must be positive")
	}
	if c.TopicKeyPrefix == c.HistoryKeyPrefix {
		add("history_key_prefix", c.HistoryKeyPrefix, "must differ from topic_key_prefix")
	}
	if c.GenerationTemperature < 0 || c.GenerationTemperature > 1 {
		add("generation_temperature", c.GenerationTemperature, "must be between 0 and 1")
	}
	if c.GenerationMaxTokens <= 0 {
		add("generation_max_tokens", c.GenerationMaxTokens, "must be positive")
	}
	if c.GenerationTimeout <= 0 {
		add("generation_timeout", c.GenerationTimeout, "must be positive")
	}
	if c.GenerationAPIKey == "" && c.ParamPrefix == "" {
		add("generation_api_key", "", "is required when param_prefix is not set")
	}
	if c.AppendRetryAttempts <= 0 {
		add("append_retry_attempts", c.AppendRetryAttempts, "must be positive")
	}
	if c.AppendRetryBackoff < 0 {
		add("append_retry_backoff", c.AppendRetryBackoff, "must not be negative")
	}
	if c.MaxMessageLength <= 0 {
		add("max_message_length", c.MaxMessageLength, "must be positive")
	}
	if c.RequestTimeout <= 0 {
		add("request_timeout", c.RequestTimeout, "must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

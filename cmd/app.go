package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"debate-agent/handler"
	"debate-agent/internal/config"
	"debate-agent/internal/integrations/anthropic"
	"debate-agent/internal/integrations/openai"
	"debate-agent/internal/integrations/paramstore"
	"debate-agent/internal/metrics"
	"debate-agent/internal/repository"
	"debate-agent/internal/usecase"
)

type app struct {
	handler *handler.Handler
	logger  *slog.Logger
	closers []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}

// awsLoader is swapped in tests so nothing reaches AWS.
type awsLoader func(ctx context.Context) (aws.Config, error)

func defaultAWSLoader(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

func buildApp(ctx context.Context, cfg config.Config, logOut io.Writer, loadAWS awsLoader) (*app, error) {
	if loadAWS == nil {
		loadAWS = defaultAWSLoader
	}
	logger := cfg.Logger(logOut)
	slog.SetDefault(logger)
	a := &app{logger: logger}

	// ---- AWS SDK config, only when something needs it ----
	var (
		awsCfg aws.Config
		params paramstore.Getter
	)
	if needsAWS(cfg) {
		var err error
		awsCfg, err = loadAWS(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("create SSM client: %w", err)
		}
		params = ssmClient
	}

	// ---- Store ----
	kv, err := newKeyValue(ctx, cfg, awsCfg, a)
	if err != nil {
		return nil, err
	}
	store, err := repository.New(kv,
		repository.WithTTL(cfg.ConversationTTL),
		repository.WithKeyPrefixes(cfg.TopicKeyPrefix, cfg.HistoryKeyPrefix),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create conversation store: %w", err)
	}

	// ---- Generation backend ----
	tokens, err := secret(cfg.GenerationAPIKey, params, cfg.ParamPrefix, "generation-token")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("generation token: %w", err)
	}
	gen, err := newGenerator(cfg, tokens)
	if err != nil {
		a.Close()
		return nil, err
	}

	// ---- Metrics ----
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(registry)

	// ---- Use cases ----
	replies, err := usecase.NewReplyGenerator(store, gen, usecase.ReplyConfig{
		Temperature: cfg.GenerationTemperature,
		MaxTokens:   cfg.GenerationMaxTokens,
		Timeout:     cfg.GenerationTimeout,
		Logger:      logger,
		Recorder:    rec,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	svc, err := usecase.NewDebateService(store, replies, usecase.DebateConfig{
		HistoryLimit: cfg.HistoryLimit,
		Append: usecase.AppendPolicy{
			Mode:     usecase.AppendMode(cfg.AppendFailurePolicy),
			Attempts: cfg.AppendRetryAttempts,
			Backoff:  cfg.AppendRetryBackoff,
		},
		Logger:   logger,
		Recorder: rec,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	// ---- Handler ----
	apiKey, err := resolveAPIKey(ctx, cfg, params, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	h, err := handler.NewHandler(svc,
		handler.WithAPIKey(apiKey),
		handler.WithMaxMessageLength(cfg.MaxMessageLength),
		handler.WithRequestTimeout(cfg.RequestTimeout),
		handler.WithCORSOrigins(cfg.Origins()),
		handler.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		handler.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.handler = h

	logger.Info("debate agent ready",
		"store", cfg.StoreBackend,
		"provider", cfg.GenerationProvider,
		"appendPolicy", cfg.AppendFailurePolicy,
		"auth", apiKey != "",
	)
	return a, nil
}

func needsAWS(cfg config.Config) bool {
	return cfg.StoreBackend == config.StoreDynamoDB ||
		(cfg.ParamPrefix != "" && (cfg.GenerationAPIKey == "" || cfg.APIKey == ""))
}

func newKeyValue(ctx context.Context, cfg config.Config, awsCfg aws.Config, a *app) (repository.KeyValue, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		kv, err := repository.NewRedisKV(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		if err := kv.Ping(ctx); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, kv)
		return kv, nil
	case config.StoreDynamoDB:
		kv, err := repository.NewDynamoDBKV(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("create state client: %w", err)
		}
		return kv, nil
	case config.StoreMemory:
		a.logger.Warn("using in-memory conversation store; conversations are lost on restart")
		return repository.NewMemoryKV(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func newGenerator(cfg config.Config, tokens paramstore.TokenSource) (usecase.Generator, error) {
	httpClient := &http.Client{Timeout: cfg.GenerationTimeout}
	switch cfg.GenerationProvider {
	case config.ProviderAnthropic:
		c, err := anthropic.NewClient(tokens,
			anthropic.WithBaseURL(cfg.GenerationBaseURL),
			anthropic.WithModel(cfg.GenerationModel),
			anthropic.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return c, nil
	case config.ProviderOpenAI:
		c, err := openai.NewClient(tokens,
			openai.WithBaseURL(cfg.GenerationBaseURL),
			openai.WithModel(cfg.GenerationModel),
			openai.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown generation provider %q", cfg.GenerationProvider)
}

// secret prefers the configured value and falls back to a lazily read SSM
// parameter under prefix.
func secret(value string, params paramstore.Getter, prefix, name string) (paramstore.TokenSource, error) {
	if value != "" {
		return paramstore.StaticToken(value), nil
	}
	if params == nil || prefix == "" {
		return nil, fmt.Errorf("no value configured and no parameter prefix for %q", name)
	}
	return paramstore.NewParamToken(params, paramstore.Path(prefix, name))
}

func resolveAPIKey(ctx context.Context, cfg config.Config, params paramstore.Getter, logger *slog.Logger) (string, error) {
	if cfg.APIKey == "" && (params == nil || cfg.ParamPrefix == "") {
		logger.Warn("no API key configured; authentication is disabled")
		return "", nil
	}
	src, err := secret(cfg.APIKey, params, cfg.ParamPrefix, "api-key")
	if err != nil {
		return "", fmt.Errorf("api key: %w", err)
	}
	key, err := src.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("api key: %w", err)
	}
	return key, nil
}

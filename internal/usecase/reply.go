package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"debate-agent/internal/domain"
)

// FallbackReply is returned whenever the generation backend cannot produce a
// usable answer.
const FallbackReply = "Sorry, I don't know what to say but I'm sure you're wrong."

const (
	defaultMaxTokens         = 200
	defaultGenerationTimeout = 30 * time.Second
)

// Fallback reasons reported to the Recorder.
const (
	FallbackMissingTopic = "missing_topic"
	FallbackBackendError = "backend_error"
	FallbackEmptyReply   = "empty_reply"
)

type TopicReader interface {
	GetTopic(ctx context.Context, conversationID string) (domain.ConversationTopic, bool, error)
}

// Generator is the remote language-model collaborator.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type ReplyConfig struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      *slog.Logger
	Recorder    Recorder
}

// ReplyGenerator produces the agent's next turn. Backend failures never leave
// it as errors; only store failures do.
type ReplyGenerator struct {
	topics      TopicReader
	gen         Generator
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
	rec         Recorder
}

func NewReplyGenerator(topics TopicReader, gen Generator, cfg ReplyConfig) (*ReplyGenerator, error) {
	if topics == nil {
		return nil, errors.New("usecase: topic reader must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenerationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	return &ReplyGenerator{
		topics:      topics,
		gen:         gen,
		temperature: clampTemperature(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		rec:         cfg.Recorder,
	}, nil
}

// Generate returns the backend's reply to history, trimmed. The only error it
// returns comes from reading the conversation topic.
func (g *ReplyGenerator) Generate(ctx context.Context, history domain.History, conversationID string) (string, error) {
	topic, found, err := g.topics.GetTopic(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if !found {
		g.logger.WarnContext(ctx, "conversation topic missing, using fallback reply", "conversationId", conversationID)
		g.rec.FallbackReply(FallbackMissingTopic)
		return FallbackReply, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := g.gen.Generate(genCtx, domain.GenerationRequest{
		Prompt:      BuildPrompt(history, topic),
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	g.rec.GenerationDuration(time.Since(start))
	if err != nil {
		attrs := []any{"conversationId", conversationID, "err", err}
		if status, ok := upstreamStatusCode(err); ok {
			attrs = append(attrs, "status", status)
		}
		g.logger.WarnContext(ctx, "generation failed, using fallback reply", attrs...)
		g.rec.FallbackReply(FallbackBackendError)
		return FallbackReply, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		g.logger.WarnContext(ctx, "generation returned empty text, using fallback reply", "conversationId", conversationID)
		g.rec.FallbackReply(FallbackEmptyReply)
		return FallbackReply, nil
	}
	return text, nil
}

func clampTemperature(t float64) float64 {
	switch {
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"debate-agent/internal/domain"
	"debate-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	apiKeyHeader      = "x-api-key"

	healthText = "Debate API is running. Use POST /api/debate"

	defaultMaxMessageLength = 2000
	defaultRequestTimeout   = 60 * time.Second
	maxBodyBytes            = 64 << 10
)

const (
	reasonUnauthorized     = "Invalid API key. Use header: x-api-key"
	reasonInvalidBody      = "Request body must be a JSON object."
	reasonMessageRequired  = "Message is required and must be a string."
	reasonNotFound         = "Conversation not found."
	reasonStoreUnavailable = "Conversation store is unavailable. Please try again later."
	reasonInternal         = "Internal server error."
	reasonRouteNotFound    = "Route not found."
)

type Debater interface {
	Debate(ctx context.Context, in usecase.DebateInput) (usecase.DebateOutput, error)
}

type debateRequest struct {
	ConversationID       *string         `json:"conversationId"`
	LegacyConversationID *string         `json:"conversation_id"`
	Message              json.RawMessage `json:"message"`
}

type debateResponse struct {
	ConversationID string                       `json:"conversationId"`
	Message        []domain.ConversationMessage `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Example string `json:"example,omitempty"`
	Format  string `json:"format,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// result is a transport-neutral response shared by the Lambda and HTTP entry
// points.
type result struct {
	status int
	body   any
}

// Handler serves the debate API over API Gateway events or plain HTTP.
type Handler struct {
	uc             Debater
	apiKey         string
	maxMessageLen  int
	requestTimeout time.Duration
	corsOrigins    []string
	metrics        http.Handler
	logger         *slog.Logger
}

type Option func(*Handler)

// WithAPIKey enables the shared credential check. An empty key leaves the API
// open.
func WithAPIKey(key string) Option {
	return func(h *Handler) {
		h.apiKey = strings.TrimSpace(key)
	}
}

func WithMaxMessageLength(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxMessageLen = n
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

func WithCORSOrigins(origins []string) Option {
	return func(h *Handler) {
		h.corsOrigins = origins
	}
}

// WithMetricsHandler mounts m at /metrics on the HTTP router.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(uc Debater, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{
		uc:             uc,
		maxMessageLen:  defaultMaxMessageLength,
		requestTimeout: defaultRequestTimeout,
		corsOrigins:    []string{"*"},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) authorized(key string) bool {
	if h.apiKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(h.apiKey)) == 1
}

// debate runs one POST /api/debate request. The credential is checked before
// the body is looked at.
func (h *Handler) debate(ctx context.Context, apiKey string, body []byte) result {
	if !h.authorized(apiKey) {
		return errorResult(http.StatusUnauthorized, usecase.ErrorUnauthorized, reasonUnauthorized)
	}

	var req debateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errorResult(http.StatusBadRequest, usecase.ErrorInvalidInput, reasonInvalidBody)
	}
	var message string
	if len(req.Message) == 0 || json.Unmarshal(req.Message, &message) != nil || strings.TrimSpace(message) == "" {
		return errorResult(http.StatusBadRequest, usecase.ErrorInvalidInput, reasonMessageRequired)
	}
	if utf8.RuneCountInString(message) > h.maxMessageLen {
		return errorResult(http.StatusBadRequest, usecase.ErrorInvalidInput,
			fmt.Sprintf("Message must be at most %d characters.", h.maxMessageLen))
	}

	convID := ""
	switch {
	case req.ConversationID != nil:
		convID = *req.ConversationID
	case req.LegacyConversationID != nil:
		convID = *req.LegacyConversationID
	}

	out, err := h.uc.Debate(ctx, usecase.DebateInput{ConversationID: convID, Message: message})
	if err != nil {
		return h.failure(ctx, err)
	}

	switch out.Outcome {
	case usecase.OutcomeInvalidFormat:
		return result{status: http.StatusBadRequest, body: errorResponse{
			Error:   string(usecase.ErrorInvalidFormat),
			Reason:  out.Format.Error,
			Example: out.Format.Example,
			Format:  out.Format.Format,
		}}
	case usecase.OutcomeNotFound:
		return errorResult(http.StatusNotFound, usecase.ErrorNotFound, reasonNotFound)
	case usecase.OutcomeOK:
		msgs := []domain.ConversationMessage(out.History)
		if msgs == nil {
			msgs = []domain.ConversationMessage{}
		}
		return result{status: http.StatusOK, body: debateResponse{ConversationID: out.ConversationID, Message: msgs}}
	}
	return h.failure(ctx, fmt.Errorf("handler: unexpected outcome %q", out.Outcome))
}

func (h *Handler) failure(ctx context.Context, err error) result {
	code := usecase.CodeOf(err)
	switch code {
	case usecase.ErrorInvalidInput:
		return errorResult(http.StatusBadRequest, code, reasonMessageRequired)
	case usecase.ErrorStoreUnavailable:
		h.logger.ErrorContext(ctx, "conversation store unavailable", "err", err)
		return errorResult(http.StatusServiceUnavailable, code, reasonStoreUnavailable)
	default:
		h.logger.ErrorContext(ctx, "debate failed", "err", err)
		return errorResult(http.StatusInternalServerError, usecase.ErrorInternal, reasonInternal)
	}
}

func errorResult(status int, code usecase.ErrorCode, reason string) result {
	return result{status: status, body: errorResponse{Error: string(code), Reason: reason}}
}

func healthResult() result {
	return result{status: http.StatusOK, body: healthResponse{Status: "ok"}}
}

func routeNotFound() result {
	return errorResult(http.StatusNotFound, usecase.ErrorNotFound, reasonRouteNotFound)
}

func correlationID(header string) string {
	if id := strings.TrimSpace(header); id != "" {
		return id
	}
	return newCorrelationID()
}

var newCorrelationID = func() string {
	return uuid.NewString()
}

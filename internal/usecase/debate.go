package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"debate-agent/internal/domain"
)

const defaultHistoryLimit = 10

type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeInvalidFormat Outcome = "invalid_format"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeError         Outcome = "error"
)

// ConversationStore is the persistence collaborator of DebateService.
// AppendMessage is a read-modify-write and is not safe against concurrent
// appends to the same conversation.
type ConversationStore interface {
	TopicReader
	CreateConversation(ctx context.Context, conversationID string, topic domain.ConversationTopic, initial domain.ConversationMessage) error
	GetHistory(ctx context.Context, conversationID string) (domain.History, bool, error)
	AppendMessage(ctx context.Context, conversationID string, msg domain.ConversationMessage) (domain.History, error)
	TrimmedHistory(ctx context.Context, conversationID string, maxMessages int) (domain.History, error)
}

type ReplyWriter interface {
	Generate(ctx context.Context, history domain.History, conversationID string) (string, error)
}

type AppendMode string

const (
	AppendFail  AppendMode = "fail"
	AppendRetry AppendMode = "retry"
	AppendSkip  AppendMode = "skip"
)

// AppendPolicy decides what happens when persisting a message fails after the
// conversation was found.
type AppendPolicy struct {
	Mode     AppendMode
	Attempts int
	Backoff  time.Duration
}

type DebateConfig struct {
	HistoryLimit int
	Append       AppendPolicy
	Logger       *slog.Logger
	Recorder     Recorder
}

type DebateInput struct {
	ConversationID string
	Message        string
}

// DebateOutput carries the result of one turn. Format is set only for
// OutcomeInvalidFormat; ConversationID and History only for OutcomeOK.
type DebateOutput struct {
	Outcome        Outcome
	ConversationID string
	History        domain.History
	Format         FormatResult
}

type DebateService struct {
	store        ConversationStore
	replies      ReplyWriter
	historyLimit int
	append       AppendPolicy
	logger       *slog.Logger
	rec          Recorder
}

func NewDebateService(store ConversationStore, replies ReplyWriter, cfg DebateConfig) (*DebateService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if replies == nil {
		return nil, errors.New("usecase: reply generator must not be nil")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	switch cfg.Append.Mode {
	case "":
		cfg.Append.Mode = AppendFail
	case AppendFail, AppendRetry, AppendSkip:
	default:
		return nil, fmt.Errorf("usecase: unknown append failure mode %q", cfg.Append.Mode)
	}
	if cfg.Append.Attempts <= 0 {
		cfg.Append.Attempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}
	return &DebateService{
		store:        store,
		replies:      replies,
		historyLimit: cfg.HistoryLimit,
		append:       cfg.Append,
		logger:       cfg.Logger,
		rec:          cfg.Recorder,
	}, nil
}

// Debate starts a conversation when in.ConversationID is empty and continues
// the identified one otherwise. Invalid openings and unknown ids are reported
// through Outcome. Returned errors are *Error values coded INVALID_INPUT or
// STORE_UNAVAILABLE.
func (s *DebateService) Debate(ctx context.Context, in DebateInput) (DebateOutput, error) {
	out, err := s.debate(ctx, in)
	if err != nil {
		s.rec.DebateOutcome(OutcomeError)
		return DebateOutput{}, err
	}
	s.rec.DebateOutcome(out.Outcome)
	return out, nil
}

func (s *DebateService) debate(ctx context.Context, in DebateInput) (DebateOutput, error) {
	if strings.TrimSpace(in.Message) == "" {
		return DebateOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	userMsg := domain.UserMessage(in.Message)

	var (
		convID  string
		history domain.History
	)
	// Only an absent id starts a conversation; any other value, blank or
	// padded, is looked up as given.
	if in.ConversationID == "" {
		format := ValidateDebateFormat(in.Message)
		if !format.IsValid {
			return DebateOutput{Outcome: OutcomeInvalidFormat, Format: format}, nil
		}
		convID = newUUID()
		topic := domain.ConversationTopic{Topic: format.Topic, Stance: format.Stance}
		if err := s.store.CreateConversation(ctx, convID, topic, userMsg); err != nil {
			return DebateOutput{}, newError(ErrorStoreUnavailable, "create_conversation", err)
		}
		s.logger.InfoContext(ctx, "conversation created", "conversationId", convID, "topic", topic.Topic)
		history = domain.History{userMsg}
	} else {
		convID = in.ConversationID
		existing, found, err := s.store.GetHistory(ctx, convID)
		if err != nil {
			return DebateOutput{}, newError(ErrorStoreUnavailable, "get_history", err)
		}
		if !found {
			s.logger.InfoContext(ctx, "conversation not found", "conversationId", convID)
			return DebateOutput{Outcome: OutcomeNotFound}, nil
		}
		history, err = s.appendWithPolicy(ctx, convID, existing, userMsg)
		if err != nil {
			return DebateOutput{}, err
		}
	}

	reply, err := s.replies.Generate(ctx, history, convID)
	if err != nil {
		return DebateOutput{}, newError(ErrorStoreUnavailable, "get_topic", err)
	}
	history, err = s.appendWithPolicy(ctx, convID, history, domain.AgentMessage(reply))
	if err != nil {
		return DebateOutput{}, err
	}

	trimmed := history.Last(s.historyLimit)
	if s.append.Mode != AppendSkip {
		trimmed, err = s.store.TrimmedHistory(ctx, convID, s.historyLimit)
		if err != nil {
			return DebateOutput{}, newError(ErrorStoreUnavailable, "trimmed_history", err)
		}
	}
	return DebateOutput{Outcome: OutcomeOK, ConversationID: convID, History: trimmed}, nil
}

// appendWithPolicy persists msg and returns the history the next step should
// see. Under AppendSkip the caller's local history is extended instead of
// trusting the store, so a dropped write does not hide the message from the
// reply or the response.
func (s *DebateService) appendWithPolicy(ctx context.Context, convID string, local domain.History, msg domain.ConversationMessage) (domain.History, error) {
	attempts := 1
	if s.append.Mode == AppendRetry {
		attempts = s.append.Attempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			s.rec.AppendRetry()
			if err := sleepContext(ctx, time.Duration(attempt-1)*s.append.Backoff); err != nil {
				return nil, newError(ErrorStoreUnavailable, "append_message", errors.Join(lastErr, err))
			}
		}
		updated, err := s.store.AppendMessage(ctx, convID, msg)
		if err == nil {
			if s.append.Mode == AppendSkip {
				return local.Append(msg), nil
			}
			return updated, nil
		}
		lastErr = err
		s.logger.WarnContext(ctx, "append message failed", "conversationId", convID, "role", msg.Role, "attempt", attempt, "err", err)
	}

	if s.append.Mode == AppendSkip {
		s.logger.ErrorContext(ctx, "message not persisted", "conversationId", convID, "role", msg.Role, "err", lastErr)
		return local.Append(msg), nil
	}
	return nil, newError(ErrorStoreUnavailable, "append_message", lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var newUUID = func() string {
	return uuid.NewString()
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"debate-agent/internal/domain"
)

const (
	DefaultTTL              = 24 * time.Hour
	DefaultTopicKeyPrefix   = "conversation:topic:"
	DefaultHistoryKeyPrefix = "conversation:history:"
	DefaultTrimLimit        = 10
)

// Entry is a single key/value pair written by SetWithExpiry.
type Entry struct {
	Key   string
	Value []byte
}

// KeyValue is the persistence collaborator behind Store. A miss is reported as
// found=false, never as an error. SetWithExpiry writes every entry with the
// same expiry, all or nothing.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithExpiry(ctx context.Context, ttl time.Duration, entries ...Entry) error
}

// Store persists the topic record and the history record of each conversation
// under the same expiry.
//
// AppendMessage is a plain read-modify-write: two concurrent appends to the
// same conversation can both read the same history and the later write wins,
// dropping the earlier message. Callers are expected to serialize requests per
// conversation id.
type Store struct {
	kv            KeyValue
	ttl           time.Duration
	topicPrefix   string
	historyPrefix string
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithKeyPrefixes(topic, history string) Option {
	return func(s *Store) {
		if strings.TrimSpace(topic) != "" {
			s.topicPrefix = topic
		}
		if strings.TrimSpace(history) != "" {
			s.historyPrefix = history
		}
	}
}

// New creates a Store on top of the given key-value backend.
func New(kv KeyValue, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("repository: key-value backend must not be nil")
	}
	s := &Store{
		kv:            kv,
		ttl:           DefaultTTL,
		topicPrefix:   DefaultTopicKeyPrefix,
		historyPrefix: DefaultHistoryKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.topicPrefix == s.historyPrefix {
		return nil, errors.New("repository: topic and history key prefixes must differ")
	}
	return s, nil
}

func (s *Store) topicKey(conversationID string) string {
	return s.topicPrefix + conversationID
}

func (s *Store) historyKey(conversationID string) string {
	return s.historyPrefix + conversationID
}

// CreateConversation writes the topic record and a single-message history in
// one atomic write.
func (s *Store) CreateConversation(ctx context.Context, conversationID string, topic domain.ConversationTopic, initial domain.ConversationMessage) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: CreateConversation: conversation id is required")
	}
	topicEntry, err := s.topicEntry(conversationID, topic)
	if err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	historyEntry, err := s.historyEntry(conversationID, domain.History{initial})
	if err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	if err := s.kv.SetWithExpiry(ctx, s.ttl, topicEntry, historyEntry); err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// GetTopic returns the conversation topic, or found=false when the
// conversation never existed or has expired.
func (s *Store) GetTopic(ctx context.Context, conversationID string) (domain.ConversationTopic, bool, error) {
	raw, found, err := s.kv.Get(ctx, s.topicKey(conversationID))
	if err != nil {
		return domain.ConversationTopic{}, false, fmt.Errorf("repository: GetTopic: %w", err)
	}
	if !found {
		return domain.ConversationTopic{}, false, nil
	}
	var topic domain.ConversationTopic
	if err := json.Unmarshal(raw, &topic); err != nil {
		return domain.ConversationTopic{}, false, fmt.Errorf("repository: GetTopic decode: %w", err)
	}
	return topic, true, nil
}

// GetHistory returns the full ordered history, or found=false when the
// conversation does not exist. An existing conversation never has a nil history.
func (s *Store) GetHistory(ctx context.Context, conversationID string) (domain.History, bool, error) {
	raw, found, err := s.kv.Get(ctx, s.historyKey(conversationID))
	if err != nil {
		return nil, false, fmt.Errorf("repository: GetHistory: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	history := domain.History{}
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, false, fmt.Errorf("repository: GetHistory decode: %w", err)
	}
	return history, true, nil
}

// AppendMessage adds msg to the end of the stored history and returns the
// updated sequence. A missing history is treated as empty. The topic record,
// when present, is rewritten in the same write so both records keep the same
// expiry.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg domain.ConversationMessage) (domain.History, error) {
	history, _, err := s.GetHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	topicRaw, topicFound, err := s.kv.Get(ctx, s.topicKey(conversationID))
	if err != nil {
		return nil, fmt.Errorf("repository: AppendMessage: read topic: %w", err)
	}

	updated := history.Append(msg)
	historyEntry, err := s.historyEntry(conversationID, updated)
	if err != nil {
		return nil, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	entries := []Entry{historyEntry}
	if topicFound {
		entries = append(entries, Entry{Key: s.topicKey(conversationID), Value: topicRaw})
	}
	if err := s.kv.SetWithExpiry(ctx, s.ttl, entries...); err != nil {
		return nil, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return updated, nil
}

// TrimmedHistory returns the last maxMessages entries of the stored history, or
// an empty history when the conversation does not exist. It never writes.
func (s *Store) TrimmedHistory(ctx context.Context, conversationID string, maxMessages int) (domain.History, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultTrimLimit
	}
	history, found, err := s.GetHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("repository: TrimmedHistory: %w", err)
	}
	if !found {
		return domain.History{}, nil
	}
	return history.Last(maxMessages), nil
}

func (s *Store) topicEntry(conversationID string, topic domain.ConversationTopic) (Entry, error) {
	raw, err := json.Marshal(topic)
	if err != nil {
		return Entry{}, fmt.Errorf("encode topic: %w", err)
	}
	return Entry{Key: s.topicKey(conversationID), Value: raw}, nil
}

func (s *Store) historyEntry(conversationID string, history domain.History) (Entry, error) {
	if history == nil {
		history = domain.History{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return Entry{}, fmt.Errorf("encode history: %w", err)
	}
	return Entry{Key: s.historyKey(conversationID), Value: raw}, nil
}

package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"debate-agent/internal/domain"
	"debate-agent/internal/repository"
)

type fakeGenerator struct {
	reply string
	err   error
	calls int
	last  domain.GenerationRequest
	// deadline reports whether the request context carried a deadline.
	deadline bool
}

func (f *fakeGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	f.calls++
	f.last = req
	_, f.deadline = ctx.Deadline()
	return f.reply, f.err
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "upstream failed" }
func (e statusErr) HTTPStatusCode() int { return e.code }

type fakeTopics struct {
	topic domain.ConversationTopic
	found bool
	err   error
}

func (f *fakeTopics) GetTopic(context.Context, string) (domain.ConversationTopic, bool, error) {
	return f.topic, f.found, f.err
}

type spyRecorder struct {
	mu        sync.Mutex
	outcomes  []Outcome
	fallbacks []string
	durations int
	retries   int
}

func (r *spyRecorder) DebateOutcome(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *spyRecorder) FallbackReply(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, reason)
}

func (r *spyRecorder) GenerationDuration(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations++
}

func (r *spyRecorder) AppendRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

// spyStore wraps a real Store, counts writes and can inject failures.
type spyStore struct {
	*repository.Store
	creates    int
	appends    int
	createErr  error
	getErr     error
	topicErr   error
	trimErr    error
	appendErrs []error
}

func (s *spyStore) CreateConversation(ctx context.Context, id string, topic domain.ConversationTopic, initial domain.ConversationMessage) error {
	s.creates++
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateConversation(ctx, id, topic, initial)
}

func (s *spyStore) GetTopic(ctx context.Context, id string) (domain.ConversationTopic, bool, error) {
	if s.topicErr != nil {
		return domain.ConversationTopic{}, false, s.topicErr
	}
	return s.Store.GetTopic(ctx, id)
}

func (s *spyStore) GetHistory(ctx context.Context, id string) (domain.History, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.Store.GetHistory(ctx, id)
}

// AppendMessage pops the next queued error, if any, before delegating.
func (s *spyStore) AppendMessage(ctx context.Context, id string, msg domain.ConversationMessage) (domain.History, error) {
	s.appends++
	if len(s.appendErrs) > 0 {
		err := s.appendErrs[0]
		s.appendErrs = s.appendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.Store.AppendMessage(ctx, id, msg)
}

func (s *spyStore) TrimmedHistory(ctx context.Context, id string, max int) (domain.History, error) {
	if s.trimErr != nil {
		return nil, s.trimErr
	}
	return s.Store.TrimmedHistory(ctx, id, max)
}

func (s *spyStore) writes() int { return s.creates + s.appends }

func newSpyStore(t *testing.T) *spyStore {
	t.Helper()
	store, err := repository.New(repository.NewMemoryKV())
	require.NoError(t, err)
	return &spyStore{Store: store}
}

var errStoreDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"debate-agent/internal/domain"
)

// recordingKV wraps MemoryKV, counting writes and optionally failing.
type recordingKV struct {
	*MemoryKV
	getErr   error
	setErr   error
	setCalls int
	lastSet  []Entry
	lastTTL  time.Duration
}

func (r *recordingKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.getErr != nil {
		return nil, false, r.getErr
	}
	return r.MemoryKV.Get(ctx, key)
}

func (r *recordingKV) SetWithExpiry(ctx context.Context, ttl time.Duration, entries ...Entry) error {
	r.setCalls++
	r.lastSet = entries
	r.lastTTL = ttl
	if r.setErr != nil {
		return r.setErr
	}
	return r.MemoryKV.SetWithExpiry(ctx, ttl, entries...)
}

func newTestStore(t *testing.T, opts ...MemoryOption) (*Store, *recordingKV) {
	t.Helper()
	kv := &recordingKV{MemoryKV: NewMemoryKV(opts...)}
	s, err := New(kv)
	require.NoError(t, err)
	return s, kv
}

var testTopic = domain.ConversationTopic{Topic: "The earth is flat", Stance: "You agree"}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(NewMemoryKV(), WithKeyPrefixes("same:", "same:"))
	require.Error(t, err)
}

func TestCreateConversation_RoundTrip(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	initial := domain.UserMessage("Debate: The earth is flat. Take side: You agree")

	require.NoError(t, s.CreateConversation(ctx, "c1", testTopic, initial))
	require.Equal(t, 1, kv.setCalls, "both records go out in a single write")
	require.Len(t, kv.lastSet, 2)
	require.Equal(t, DefaultTTL, kv.lastTTL)

	history, found, err := s.GetHistory(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.History{initial}, history)

	topic, found, err := s.GetTopic(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, testTopic, topic)
}

func TestCreateConversation_KeyLayout(t *testing.T) {
	s, kv := newTestStore(t)
	require.NoError(t, s.CreateConversation(context.Background(), "c1", testTopic, domain.UserMessage("hi")))

	raw, found, _ := kv.MemoryKV.Get(context.Background(), "conversation:topic:c1")
	require.True(t, found)
	require.JSONEq(t, `{"topic":"The earth is flat","stance":"You agree"}`, string(raw))

	raw, found, _ = kv.MemoryKV.Get(context.Background(), "conversation:history:c1")
	require.True(t, found)
	require.JSONEq(t, `[{"role":"user","text":"hi"}]`, string(raw))
}

func TestCreateConversation_StoreUnavailable(t *testing.T) {
	s, kv := newTestStore(t)
	kv.setErr = errors.New("connection refused")

	err := s.CreateConversation(context.Background(), "c1", testTopic, domain.UserMessage("hi"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "CreateConversation")
	require.Zero(t, kv.Len(), "no partial record is left behind")
}

func TestCreateConversation_RequiresID(t *testing.T) {
	s, kv := newTestStore(t)
	require.Error(t, s.CreateConversation(context.Background(), " ", testTopic, domain.UserMessage("hi")))
	require.Zero(t, kv.setCalls)
}

func TestGetters_MissIsNotAnError(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetTopic(ctx, "nope")
	require.NoError(t, err)
	require.False(t, found)

	history, found, err := s.GetHistory(ctx, "nope")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, history)
}

func TestGetters_PropagateBackendErrors(t *testing.T) {
	s, kv := newTestStore(t)
	kv.getErr = errors.New("timeout")

	_, _, err := s.GetTopic(context.Background(), "c1")
	require.ErrorContains(t, err, "GetTopic")
	_, _, err = s.GetHistory(context.Background(), "c1")
	require.ErrorContains(t, err, "GetHistory")
	_, err = s.TrimmedHistory(context.Background(), "c1", 10)
	require.ErrorContains(t, err, "TrimmedHistory")
}

func TestGetHistory_DecodeError(t *testing.T) {
	s, kv := newTestStore(t)
	require.NoError(t, kv.MemoryKV.SetWithExpiry(context.Background(), time.Hour, Entry{Key: "conversation:history:c1", Value: []byte("{")}))
	_, _, err := s.GetHistory(context.Background(), "c1")
	require.ErrorContains(t, err, "decode")
}

func TestAppendMessage_Monotonic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, "c1", testTopic, domain.UserMessage("first")))

	before, _, err := s.GetHistory(ctx, "c1")
	require.NoError(t, err)

	updated, err := s.AppendMessage(ctx, "c1", domain.AgentMessage("reply"))
	require.NoError(t, err)
	require.Len(t, updated, len(before)+1)
	require.Equal(t, domain.AgentMessage("reply"), updated[len(updated)-1])

	after, _, err := s.GetHistory(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, updated, after)
	require.Equal(t, before[0], after[0])
}

func TestAppendMessage_RefreshesBothRecords(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	s, kv := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, "c1", testTopic, domain.UserMessage("first")))

	clock.Advance(20 * time.Hour)
	_, err := s.AppendMessage(ctx, "c1", domain.AgentMessage("reply"))
	require.NoError(t, err)
	require.Len(t, kv.lastSet, 2)

	clock.Advance(20 * time.Hour)
	_, found, err := s.GetTopic(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found, "topic expiry moves with the history")
	_, found, err = s.GetHistory(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)

	clock.Advance(5 * time.Hour)
	_, found, _ = s.GetTopic(ctx, "c1")
	require.False(t, found)
	_, found, _ = s.GetHistory(ctx, "c1")
	require.False(t, found)
}

func TestAppendMessage_MissingHistoryStartsEmpty(t *testing.T) {
	s, kv := newTestStore(t)
	updated, err := s.AppendMessage(context.Background(), "ghost", domain.UserMessage("hello"))
	require.NoError(t, err)
	require.Equal(t, domain.History{domain.UserMessage("hello")}, updated)
	require.Len(t, kv.lastSet, 1, "no topic record is invented")
}

func TestAppendMessage_WriteError(t *testing.T) {
	s, kv := newTestStore(t)
	require.NoError(t, s.CreateConversation(context.Background(), "c1", testTopic, domain.UserMessage("first")))
	kv.setErr = errors.New("READONLY")

	_, err := s.AppendMessage(context.Background(), "c1", domain.AgentMessage("reply"))
	require.ErrorContains(t, err, "AppendMessage")

	history, _, err := s.GetHistory(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestTrimmedHistory(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, "c1", testTopic, domain.UserMessage("m0")))
	for i := 1; i < 14; i++ {
		_, err := s.AppendMessage(ctx, "c1", domain.UserMessage(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}
	writes := kv.setCalls

	trimmed, err := s.TrimmedHistory(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, trimmed, 10)
	require.Equal(t, "m4", trimmed[0].Text)
	require.Equal(t, "m13", trimmed[9].Text)

	again, err := s.TrimmedHistory(ctx, "c1", 10)
	require.NoError(t, err)
	require.Equal(t, trimmed, again)
	require.Equal(t, writes, kv.setCalls, "trimming never writes")

	defaulted, err := s.TrimmedHistory(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, defaulted, DefaultTrimLimit)

	full, _, _ := s.GetHistory(ctx, "c1")
	require.Len(t, full, 14)
}

func TestTrimmedHistory_MissingConversation(t *testing.T) {
	s, _ := newTestStore(t)
	trimmed, err := s.TrimmedHistory(context.Background(), "nope", 10)
	require.NoError(t, err)
	require.NotNil(t, trimmed)
	require.Empty(t, trimmed)
}

func TestStoreOptions(t *testing.T) {
	kv := &recordingKV{MemoryKV: NewMemoryKV()}
	s, err := New(kv, WithTTL(time.Minute), WithKeyPrefixes("t:", "h:"))
	require.NoError(t, err)
	require.NoError(t, s.CreateConversation(context.Background(), "c1", testTopic, domain.UserMessage("hi")))
	require.Equal(t, time.Minute, kv.lastTTL)
	require.Equal(t, "t:c1", kv.lastSet[0].Key)
	require.Equal(t, "h:c1", kv.lastSet[1].Key)
}

// lockstepKV holds every write until two history reads have happened,
// reproducing the interleaving that loses an update.
type lockstepKV struct {
	*MemoryKV
	mu           sync.Mutex
	historyReads int
	bothRead     chan struct{}
}

func (l *lockstepKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if strings.HasPrefix(key, DefaultHistoryKeyPrefix) {
		l.mu.Lock()
		l.historyReads++
		if l.historyReads == 2 {
			close(l.bothRead)
		}
		l.mu.Unlock()
	}
	return l.MemoryKV.Get(ctx, key)
}

func (l *lockstepKV) SetWithExpiry(ctx context.Context, ttl time.Duration, entries ...Entry) error {
	<-l.bothRead
	return l.MemoryKV.SetWithExpiry(ctx, ttl, entries...)
}

// Concurrent appends against one id are a known lost-update race: both read
// the same history and the later write replaces the earlier one.
func TestAppendMessage_ConcurrentAppendsLoseAnUpdate(t *testing.T) {
	kv := &lockstepKV{MemoryKV: NewMemoryKV(), bothRead: make(chan struct{})}
	ctx := context.Background()
	require.NoError(t, kv.MemoryKV.SetWithExpiry(ctx, time.Hour,
		Entry{Key: DefaultHistoryKeyPrefix + "c1", Value: []byte(`[{"role":"user","text":"first"}]`)},
	))
	s, err := New(kv)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, text := range []string{"a", "b"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, _ = s.AppendMessage(ctx, "c1", domain.UserMessage(text))
		}(text)
	}
	wg.Wait()

	history, _, err := s.GetHistory(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 2, "one of the two appends was lost")
}

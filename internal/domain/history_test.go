package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHistoryAppend_GrowsByOneAndKeepsOrder(t *testing.T) {
	h := History{UserMessage("first")}
	next := h.Append(AgentMessage("second"))

	require.Len(t, next, len(h)+1)
	require.Equal(t, UserMessage("first"), next[0])
	require.Equal(t, AgentMessage("second"), next[len(next)-1])
	require.Len(t, h, 1, "receiver must not change")
}

func TestHistoryAppend_DoesNotAliasReceiver(t *testing.T) {
	base := make(History, 1, 8)
	base[0] = UserMessage("root")

	a := base.Append(UserMessage("a"))
	b := base.Append(UserMessage("b"))

	require.Equal(t, "a", a[1].Text)
	require.Equal(t, "b", b[1].Text)
}

func TestHistoryAppend_OnNil(t *testing.T) {
	var h History
	next := h.Append(UserMessage("hello"))
	require.Equal(t, History{UserMessage("hello")}, next)
}

func TestHistoryLast(t *testing.T) {
	h := History{}
	for i := 0; i < 12; i++ {
		h = h.Append(UserMessage(string(rune('a' + i))))
	}

	last := h.Last(10)
	require.Len(t, last, 10)
	require.Equal(t, "c", last[0].Text)
	require.Equal(t, "l", last[9].Text)

	require.Len(t, h.Last(0), 12)
	require.Len(t, h.Last(-1), 12)
	require.Len(t, h.Last(50), 12)
}

func TestHistoryLast_IsIdempotentAndCopies(t *testing.T) {
	h := History{UserMessage("a"), AgentMessage("b"), UserMessage("c")}

	first := h.Last(2)
	second := h.Last(2)
	require.Equal(t, first, second)

	first[0].Text = "mutated"
	require.Equal(t, "b", h[1].Text)
}

func TestHistoryLast_Empty(t *testing.T) {
	var h History
	require.Empty(t, h.Last(10))
	require.NotNil(t, h.Last(10))
}

package domain

// History is the ordered message sequence of a conversation. Insertion order
// defines turn order; it only ever grows by Append.
type History []ConversationMessage

// Append returns a new History with msg as its last element. The receiver is
// left untouched and the result never shares its backing array.
func (h History) Append(msg ConversationMessage) History {
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	return append(out, msg)
}

// Last returns a copy of the most recent n messages. A non-positive n, or one
// larger than the history, returns a copy of everything.
func (h History) Last(n int) History {
	start := 0
	if n > 0 && n < len(h) {
		start = len(h) - n
	}
	out := make(History, len(h)-start)
	copy(out, h[start:])
	return out
}

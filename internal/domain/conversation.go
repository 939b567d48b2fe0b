package domain

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ConversationTopic is the fixed debate subject and the position the agent argues.
// It is written once when the conversation starts.
type ConversationTopic struct {
	Topic  string `json:"topic"`
	Stance string `json:"stance"`
}

// ConversationMessage is a single persisted conversation turn.
type ConversationMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func UserMessage(text string) ConversationMessage {
	return ConversationMessage{Role: RoleUser, Text: text}
}

func AgentMessage(text string) ConversationMessage {
	return ConversationMessage{Role: RoleAgent, Text: text}
}

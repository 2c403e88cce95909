package dialogue

import "context"

// Session identifies one assistant conversation.
type Session struct {
	ID          string
	AssistantID string
}

func (s Session) Valid() bool { return s.ID != "" }

// Reply is the assistant's answer. Intent may be empty.
type Reply struct {
	Text   string
	Intent string
}

// Client talks to a hosted conversational assistant.
type Client interface {
	CreateSession(ctx context.Context, assistantID string) (Session, error)
	SendMessage(ctx context.Context, session Session, text string) (Reply, error)
	DeleteSession(ctx context.Context, session Session) error
}

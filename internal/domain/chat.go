package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole distinguishes user and assistant turns.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatTurn is a single (role, content) pair of conversation history,
// the shape the pipeline consumes.
type ChatTurn struct {
	Role    MessageRole
	Content string
}

// ChatSession groups messages for one conversation thread.
type ChatSession struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Title       string
	DocumentIDs []uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatMessage is a persisted message within a session. Assistant messages
// carry the sources, latency and pipeline trace that produced them.
type ChatMessage struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Role      MessageRole
	Content   string
	Sources   []SourceRef
	LatencyMS int
	Trace     []string
	Revisions int
	CreatedAt time.Time
}

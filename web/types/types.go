package types

import (
	"time"

	"github.com/google/uuid"
)

// AgentMessage represents a message in the format expected by the agents and LLM.
type AgentMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessage represents a single message in the chat, stored in the DB.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
}

// Session represents a chat session.
type Session struct {
	ID            uuid.UUID `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	LastActive    time.Time `json:"last_active"`
	WorkspacePath string    `json:"-"`
	Title         string    `json:"title"`
	IsActive      bool      `json:"is_active"`
}

// SessionContext carries the state that survives across independent queries
// within one session. It is owned by the caller and passed explicitly; there
// are no ambient globals.
type SessionContext struct {
	Messages         []string // role-prefixed transcript mirror, hydrated from the store
	TeamState        []byte   // serialized team conversation snapshot
	LastArtifactPath string   // absolute path of the persistent artifact slot occupant
	LastArtifactName string   // display name for the slot occupant
}

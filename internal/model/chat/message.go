package chat

import "time"

// Role tags the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem only appears in in-memory history handed to a responder; it is never persisted.
	RoleSystem Role = "system"
)

// Valid reports whether the role may be persisted.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one persisted message of a session.
type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	OccurredAt time.Time `json:"timestamp"`
}

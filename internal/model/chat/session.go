package chat

import "time"

// Default titles assigned to a session until one is derived from its first exchange.
const (
	DefaultTextTitle  = "New Chat"
	DefaultVoiceTitle = "Voice Chat"
)

// Session is a conversation thread owned by a single user.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is the list view of a session.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turnCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can read a session without holding store locks.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cloned := *s
	cloned.Turns = append([]Turn(nil), s.Turns...)
	return &cloned
}

// Summary projects the session into its list view.
func (s *Session) Summary() Summary {
	return Summary{
		ID:        s.ID,
		Title:     s.Title,
		TurnCount: len(s.Turns),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

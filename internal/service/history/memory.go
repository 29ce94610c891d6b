package history

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
)

// MemoryStore keeps sessions in process memory. Suitable for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	opts     options
}

type memoryEntry struct {
	mu      sync.Mutex
	session *chat.Session
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		opts:     buildOptions(opts),
	}
}

// ResolveOrCreate returns the owned session or provisions a new one.
func (s *MemoryStore) ResolveOrCreate(_ context.Context, sessionID, ownerID, defaultTitle string) (*chat.Session, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	if sessionID != "" {
		if entry, ok := s.lookup(sessionID, ownerID); ok {
			entry.mu.Lock()
			defer entry.mu.Unlock()
			return entry.session.Clone(), nil
		}
	}

	now := s.opts.now()
	session := &chat.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     defaultTitle,
		Turns:     make([]chat.Turn, 0, 16),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = &memoryEntry{session: session}
	s.mu.Unlock()

	return session.Clone(), nil
}

// Get retrieves an owned session.
func (s *MemoryStore) Get(_ context.Context, sessionID, ownerID string) (*chat.Session, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	entry, ok := s.lookup(sessionID, ownerID)
	if !ok {
		return nil, chat.ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.session.Clone(), nil
}

// AppendTurns extends the turn sequence.
func (s *MemoryStore) AppendTurns(ctx context.Context, sessionID, ownerID string, turns ...chat.Turn) (*chat.Session, error) {
	if err := validateTurns(turns); err != nil {
		return nil, err
	}
	return s.mutate(sessionID, ownerID, func(session *chat.Session) {
		now := s.opts.now()
		for _, turn := range turns {
			if turn.OccurredAt.IsZero() {
				turn.OccurredAt = now
			}
			session.Turns = append(session.Turns, turn)
		}
	})
}

// ReplaceLastIfRole upgrades the last turn in place or appends a new one.
func (s *MemoryStore) ReplaceLastIfRole(_ context.Context, sessionID, ownerID string, role chat.Role, content string) (*chat.Session, error) {
	if err := validateTurns([]chat.Turn{{Role: role}}); err != nil {
		return nil, err
	}
	return s.mutate(sessionID, ownerID, func(session *chat.Session) {
		session.Turns = replaceLastIfRole(session.Turns, role, content, s.opts.now())
	})
}

// CommitExchange applies the duplicate guard and stores the exchange.
func (s *MemoryStore) CommitExchange(_ context.Context, sessionID, ownerID string, ex Exchange) (*chat.Session, error) {
	return s.mutate(sessionID, ownerID, func(session *chat.Session) {
		now := s.opts.now()
		plan := planExchange(session.Turns, ex, now)
		session.Turns = applyPlan(session.Turns, plan, ex, now)
	})
}

// SetTitle renames a session.
func (s *MemoryStore) SetTitle(_ context.Context, sessionID, ownerID, title string) (*chat.Session, error) {
	return s.mutate(sessionID, ownerID, func(session *chat.Session) {
		session.Title = title
	})
}

// List returns summaries ordered by last update, newest first.
func (s *MemoryStore) List(_ context.Context, ownerID string) ([]chat.Summary, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	summaries := make([]chat.Summary, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.session.OwnerID == ownerID {
			summaries = append(summaries, entry.session.Summary())
		}
		entry.mu.Unlock()
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Delete removes an owned session and its turns.
func (s *MemoryStore) Delete(_ context.Context, sessionID, ownerID string) (bool, error) {
	if err := requireOwner(ownerID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok || entry.session.OwnerID != ownerID {
		return false, nil
	}
	delete(s.sessions, sessionID)
	return true, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) lookup(sessionID, ownerID string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[sessionID]
	if !ok || entry.session.OwnerID != ownerID {
		return nil, false
	}
	return entry, true
}

// mutate runs fn under the session's own lock and bumps updated-at.
func (s *MemoryStore) mutate(sessionID, ownerID string, fn func(*chat.Session)) (*chat.Session, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	entry, ok := s.lookup(sessionID, ownerID)
	if !ok {
		return nil, chat.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	fn(entry.session)
	entry.session.UpdatedAt = s.opts.now()
	return entry.session.Clone(), nil
}

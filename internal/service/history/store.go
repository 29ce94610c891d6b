// Package history persists chat sessions and their ordered turns.
//
// Every read and write is scoped by (sessionID, ownerID). A session owned by
// somebody else is indistinguishable from one that does not exist.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
)

// Store is the durable, per-owner log of sessions and turns.
//
// Implementations serialize mutations of the same session so that
// CommitExchange's duplicate check and append happen atomically; mutations of
// different sessions may proceed in parallel.
type Store interface {
	// ResolveOrCreate returns the owned session, or a fresh one with defaultTitle
	// when sessionID is empty, unknown or owned by someone else.
	ResolveOrCreate(ctx context.Context, sessionID, ownerID, defaultTitle string) (*chat.Session, error)
	Get(ctx context.Context, sessionID, ownerID string) (*chat.Session, error)
	AppendTurns(ctx context.Context, sessionID, ownerID string, turns ...chat.Turn) (*chat.Session, error)
	// ReplaceLastIfRole overwrites the last turn when it has role, otherwise appends a new turn.
	ReplaceLastIfRole(ctx context.Context, sessionID, ownerID string, role chat.Role, content string) (*chat.Session, error)
	CommitExchange(ctx context.Context, sessionID, ownerID string, ex Exchange) (*chat.Session, error)
	SetTitle(ctx context.Context, sessionID, ownerID, title string) (*chat.Session, error)
	// List returns the owner's sessions, most recently updated first.
	List(ctx context.Context, ownerID string) ([]chat.Summary, error)
	// Delete reports whether a session was removed. Deleting nothing is not an error.
	Delete(ctx context.Context, sessionID, ownerID string) (bool, error)
	Close() error
}

// Option customizes a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for turn and session timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return chat.ErrUnauthorized
	}
	return nil
}

func validateTurns(turns []chat.Turn) error {
	for _, turn := range turns {
		if !turn.Role.Valid() {
			return fmt.Errorf("invalid turn role %q", turn.Role)
		}
	}
	return nil
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner_updated ON sessions(owner_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS turns (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	occurred_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// SQLiteStore persists sessions in a SQLite database.
//
// The pool is limited to a single connection, so transactions on the same
// database never interleave.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// OpenSQLite opens (and bootstraps) the database at path. Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", chat.ErrPersistence, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %w", chat.ErrPersistence, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %w", chat.ErrPersistence, err)
	}

	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ResolveOrCreate returns the owned session or inserts a new one.
func (s *SQLiteStore) ResolveOrCreate(ctx context.Context, sessionID, ownerID, defaultTitle string) (*chat.Session, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	if sessionID != "" {
		session, err := s.Get(ctx, sessionID, ownerID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, chat.ErrNotFound) {
			return nil, err
		}
	}

	now := s.opts.now()
	session := &chat.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     defaultTitle,
		Turns:     []chat.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.OwnerID, session.Title, toUnix(now), toUnix(now))
	if err != nil {
		return nil, fmt.Errorf("%w: insert session: %w", chat.ErrPersistence, err)
	}
	return session, nil
}

// Get loads an owned session with all of its turns.
func (s *SQLiteStore) Get(ctx context.Context, sessionID, ownerID string) (*chat.Session, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return loadSession(ctx, s.db, sessionID, ownerID)
}

// AppendTurns extends the turn sequence.
func (s *SQLiteStore) AppendTurns(ctx context.Context, sessionID, ownerID string, turns ...chat.Turn) (*chat.Session, error) {
	if err := validateTurns(turns); err != nil {
		return nil, err
	}
	return s.mutate(ctx, sessionID, ownerID, func(tx *sql.Tx, session *chat.Session, now time.Time) error {
		for _, turn := range turns {
			if turn.OccurredAt.IsZero() {
				turn.OccurredAt = now
			}
			if err := insertTurn(ctx, tx, session, turn); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceLastIfRole upgrades the last turn in place or appends a new one.
func (s *SQLiteStore) ReplaceLastIfRole(ctx context.Context, sessionID, ownerID string, role chat.Role, content string) (*chat.Session, error) {
	if err := validateTurns([]chat.Turn{{Role: role}}); err != nil {
		return nil, err
	}
	return s.mutate(ctx, sessionID, ownerID, func(tx *sql.Tx, session *chat.Session, now time.Time) error {
		return replaceLastTurn(ctx, tx, session, role, content, now)
	})
}

// CommitExchange applies the duplicate guard and stores the exchange inside one transaction.
func (s *SQLiteStore) CommitExchange(ctx context.Context, sessionID, ownerID string, ex Exchange) (*chat.Session, error) {
	return s.mutate(ctx, sessionID, ownerID, func(tx *sql.Tx, session *chat.Session, now time.Time) error {
		plan := planExchange(session.Turns, ex, now)
		if plan.appendUser {
			turn := chat.Turn{Role: chat.RoleUser, Content: ex.UserContent, OccurredAt: now}
			if err := insertTurn(ctx, tx, session, turn); err != nil {
				return err
			}
		}
		return replaceLastTurn(ctx, tx, session, chat.RoleAssistant, ex.AssistantContent, now)
	})
}

// SetTitle renames a session.
func (s *SQLiteStore) SetTitle(ctx context.Context, sessionID, ownerID, title string) (*chat.Session, error) {
	return s.mutate(ctx, sessionID, ownerID, func(tx *sql.Tx, session *chat.Session, _ time.Time) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, session.ID); err != nil {
			return fmt.Errorf("update title: %w", err)
		}
		session.Title = title
		return nil
	})
}

// List returns summaries ordered by last update, newest first.
func (s *SQLiteStore) List(ctx context.Context, ownerID string) ([]chat.Summary, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s
		WHERE s.owner_id = ?
		ORDER BY s.updated_at DESC, s.id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: query sessions: %w", chat.ErrPersistence, err)
	}
	defer rows.Close()

	summaries := make([]chat.Summary, 0)
	for rows.Next() {
		var (
			summary            chat.Summary
			createdAt, updated int64
		)
		if err := rows.Scan(&summary.ID, &summary.Title, &createdAt, &updated, &summary.TurnCount); err != nil {
			return nil, fmt.Errorf("%w: scan session: %w", chat.ErrPersistence, err)
		}
		summary.CreatedAt = fromUnix(createdAt)
		summary.UpdatedAt = fromUnix(updated)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate sessions: %w", chat.ErrPersistence, err)
	}
	return summaries, nil
}

// Delete removes an owned session and its turns.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID, ownerID string) (bool, error) {
	if err := requireOwner(ownerID); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %w", chat.ErrPersistence, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND owner_id = ?`, sessionID, ownerID)
	if err != nil {
		return false, fmt.Errorf("%w: delete session: %w", chat.ErrPersistence, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete session: %w", chat.ErrPersistence, err)
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return false, fmt.Errorf("%w: delete turns: %w", chat.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %w", chat.ErrPersistence, err)
	}
	return true, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// mutate loads the session inside a transaction, lets fn write its changes,
// bumps updated_at and commits.
func (s *SQLiteStore) mutate(ctx context.Context, sessionID, ownerID string, fn func(*sql.Tx, *chat.Session, time.Time) error) (*chat.Session, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", chat.ErrPersistence, err)
	}
	defer tx.Rollback()

	session, err := loadSession(ctx, tx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	if err := fn(tx, session, now); err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrPersistence, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, toUnix(now), session.ID); err != nil {
		return nil, fmt.Errorf("%w: touch session: %w", chat.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", chat.ErrPersistence, err)
	}

	session.UpdatedAt = now
	return session, nil
}

func loadSession(ctx context.Context, q queryer, sessionID, ownerID string) (*chat.Session, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM sessions
		WHERE id = ? AND owner_id = ?
	`, sessionID, ownerID)

	var (
		session            chat.Session
		createdAt, updated int64
	)
	if err := row.Scan(&session.ID, &session.OwnerID, &session.Title, &createdAt, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan session: %w", chat.ErrPersistence, err)
	}
	session.CreatedAt = fromUnix(createdAt)
	session.UpdatedAt = fromUnix(updated)

	rows, err := q.QueryContext(ctx, `
		SELECT role, content, occurred_at
		FROM turns
		WHERE session_id = ?
		ORDER BY seq ASC
	`, session.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: query turns: %w", chat.ErrPersistence, err)
	}
	defer rows.Close()

	session.Turns = make([]chat.Turn, 0, 16)
	for rows.Next() {
		var (
			turn       chat.Turn
			role       string
			occurredAt int64
		)
		if err := rows.Scan(&role, &turn.Content, &occurredAt); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %w", chat.ErrPersistence, err)
		}
		turn.Role = chat.Role(role)
		turn.OccurredAt = fromUnix(occurredAt)
		session.Turns = append(session.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate turns: %w", chat.ErrPersistence, err)
	}
	return &session, nil
}

// insertTurn appends turn with the next sequence number and mirrors it on session.
func insertTurn(ctx context.Context, tx *sql.Tx, session *chat.Session, turn chat.Turn) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, content, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, len(session.Turns), string(turn.Role), turn.Content, toUnix(turn.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	session.Turns = append(session.Turns, turn)
	return nil
}

func replaceLastTurn(ctx context.Context, tx *sql.Tx, session *chat.Session, role chat.Role, content string, now time.Time) error {
	n := len(session.Turns)
	if n == 0 || session.Turns[n-1].Role != role {
		return insertTurn(ctx, tx, session, chat.Turn{Role: role, Content: content, OccurredAt: now})
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE turns SET content = ? WHERE session_id = ? AND seq = ?`,
		content, session.ID, n-1)
	if err != nil {
		return fmt.Errorf("replace turn: %w", err)
	}
	session.Turns[n-1].Content = content
	return nil
}

func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

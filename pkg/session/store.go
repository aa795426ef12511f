package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"kubepilot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	phase      TEXT NOT NULL,
	history    TEXT NOT NULL,
	context    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`

// Store persists sessions in sqlite so in-progress workflows survive
// process restarts. One writer connection; reads share it through the
// pool.
type Store struct {
	db     *sql.DB
	logger *logx.Logger

	pruneOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewStore opens (creating if needed) the session database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping session store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}

	// sqlite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{
		db:     db,
		logger: logx.NewLogger("session-store"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Save upserts the session row.
func (st *Store) Save(ctx context.Context, s *Session) error {
	history, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	sessCtx, err := json.Marshal(s.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal session context: %w", err)
	}

	_, err = st.db.ExecContext(ctx, `
		INSERT INTO sessions (id, kind, phase, history, context, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			history = excluded.history,
			context = excluded.context,
			expires_at = excluded.expires_at`,
		s.ID, string(s.Kind), string(s.Phase), string(history), string(sessCtx),
		s.CreatedAt.UTC().Format(time.RFC3339Nano),
		s.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

// Load retrieves a session by ID. Unknown IDs return ErrNotFound; rows
// past expiry return ErrExpired until the prune sweep removes them.
func (st *Store) Load(ctx context.Context, id string) (*Session, error) {
	row := st.db.QueryRowContext(ctx,
		`SELECT id, kind, phase, history, context, created_at, expires_at FROM sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if s.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s expired at %s", ErrExpired, id, s.ExpiresAt.Format(time.RFC3339))
	}
	return s, nil
}

// List returns all unexpired sessions, newest first.
func (st *Store) List(ctx context.Context) ([]*Session, error) {
	rows, err := st.db.QueryContext(ctx, `
		SELECT id, kind, phase, history, context, created_at, expires_at
		FROM sessions WHERE expires_at > ? ORDER BY created_at DESC`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session. Returns false when no row existed.
func (st *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := st.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

// PruneExpired removes every session past expiry and returns how many
// went.
func (st *Store) PruneExpired(ctx context.Context) (int, error) {
	res, err := st.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	if n > 0 {
		st.logger.Info("pruned %d expired sessions", n)
	}
	return int(n), nil
}

// StartPruneLoop sweeps expired sessions at interval until Close. Safe
// to call once; later calls are no-ops.
func (st *Store) StartPruneLoop(interval time.Duration) {
	st.pruneOnce.Do(func() {
		go func() {
			defer close(st.doneCh)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-st.stopCh:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					if _, err := st.PruneExpired(ctx); err != nil {
						st.logger.Warn("prune sweep failed: %v", err)
					}
					cancel()
				}
			}
		}()
	})
}

// Close stops the prune loop and closes the database.
func (st *Store) Close() error {
	select {
	case <-st.stopCh:
	default:
		close(st.stopCh)
	}
	st.pruneOnce.Do(func() { close(st.doneCh) })
	<-st.doneCh
	return st.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s          Session
		kind       string
		phase      string
		history    string
		sessCtx    string
		createdRaw string
		expiresRaw string
	)
	if err := row.Scan(&s.ID, &kind, &phase, &history, &sessCtx, &createdRaw, &expiresRaw); err != nil {
		return nil, err
	}
	s.Kind = WorkflowKind(kind)
	s.Phase = Phase(phase)

	if err := json.Unmarshal([]byte(history), &s.History); err != nil {
		return nil, fmt.Errorf("corrupt history: %w", err)
	}
	if err := json.Unmarshal([]byte(sessCtx), &s.Context); err != nil {
		return nil, fmt.Errorf("corrupt context: %w", err)
	}

	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdRaw); err != nil {
		return nil, fmt.Errorf("corrupt created_at: %w", err)
	}
	if s.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresRaw); err != nil {
		return nil, fmt.Errorf("corrupt expires_at: %w", err)
	}
	return &s, nil
}

// Package store persists finalized transcripts in SQLite, grouped
// by session, with configurable retention.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/protocol"
)

// Segment is one finalized utterance within a session.
type Segment struct {
	ID         int64
	SessionID  string
	Text       string
	Confidence float64
	Words      []protocol.Word
	CreatedAt  time.Time
}

// Session summarizes one recorded session.
type Session struct {
	ID        string
	Source    string
	CreatedAt time.Time
	Segments  int
}

// Store wraps the SQLite-backed transcript archive. In ephemeral
// retention mode every operation is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Retention mode
// "session" clears previous contents so the archive only covers the
// current run.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == "session" {
		if err := s.reset(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset session store: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    source TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    confidence REAL,
    words BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_segments_session_created ON segments(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM segments; DELETE FROM sessions;`)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSession creates the session row if it does not exist yet.
func (s *Store) EnsureSession(ctx context.Context, sessionID, source string) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, source, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET source=excluded.source`,
		sessionID, source, s.clock().UTC())
	return err
}

// AppendSegment records one finalized utterance. The session row
// must exist.
func (s *Store) AppendSegment(ctx context.Context, t protocol.Transcript) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	created := t.Timestamp
	if created.IsZero() {
		created = s.clock().UTC()
	}
	var words []byte
	if len(t.Words) > 0 {
		var err error
		words, err = json.Marshal(t.Words)
		if err != nil {
			return fmt.Errorf("marshal words: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(session_id, text, confidence, words, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		t.SessionID, t.Text, t.Confidence, words, created)
	return err
}

// ListSegments retrieves up to limit segments for a session in
// arrival order.
func (s *Store) ListSegments(ctx context.Context, sessionID string, limit int) ([]Segment, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, confidence, words, created_at
		 FROM segments WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var words []byte
		var created string
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Text, &seg.Confidence, &words, &created); err != nil {
			return nil, err
		}
		if len(words) > 0 {
			if err := json.Unmarshal(words, &seg.Words); err != nil {
				return nil, fmt.Errorf("unmarshal words: %w", err)
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			seg.CreatedAt = ts
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// SessionTranscript joins a session's finalized utterances with
// single spaces, in arrival order.
func (s *Store) SessionTranscript(ctx context.Context, sessionID string) (string, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return "", nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT text FROM segments WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", err
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), rows.Err()
}

// Sessions lists recorded sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.source, s.created_at, COUNT(g.id)
		 FROM sessions s LEFT JOIN segments g ON g.session_id = s.session_id
		 GROUP BY s.session_id ORDER BY s.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var created string
		if err := rows.Scan(&sess.ID, &sess.Source, &created, &sess.Segments); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			sess.CreatedAt = ts
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Prune applies the configured retention. Called on startup; safe
// to schedule periodically.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM segments WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Package store provides SQLite-backed persistence for sessions, their
// benchmark state, and the prompt queue.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/theirongolddev/cbench/internal/bench"
	"github.com/theirongolddev/cbench/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Store implements bench.SessionStore and bench.PromptExecutor.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at the given path.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	// One writer at a time; Update holds its transaction across the callback.
	// Immediate transactions take the write lock before Update reads, so
	// callers in other processes see the latest committed state.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sessionColumns = `session_id, title, directory, benchmark, benchmark_child, created_at, updated_at`

// Get returns a session by id.
func (s *Store) Get(ctx context.Context, id string) (model.Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q querier, id string) (model.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("%w: %s", bench.ErrSessionNotFound, id)
	}
	return sess, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.Session, error) {
	var (
		sess                 model.Session
		directory, bp, bc    sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&sess.ID, &sess.Title, &directory, &bp, &bc, &createdAt, &updatedAt); err != nil {
		return model.Session{}, err
	}
	sess.Directory = directory.String
	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return model.Session{}, fmt.Errorf("decoding created_at for %s: %w", sess.ID, err)
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return model.Session{}, fmt.Errorf("decoding updated_at for %s: %w", sess.ID, err)
	}

	if bp.Valid && bp.String != "" {
		sess.Benchmark = &model.BenchmarkParent{}
		if err := json.Unmarshal([]byte(bp.String), sess.Benchmark); err != nil {
			return model.Session{}, fmt.Errorf("decoding benchmark for %s: %w", sess.ID, err)
		}
	}
	if bc.Valid && bc.String != "" {
		sess.BenchmarkChild = &model.BenchmarkChild{}
		if err := json.Unmarshal([]byte(bc.String), sess.BenchmarkChild); err != nil {
			return model.Session{}, fmt.Errorf("decoding benchmark child for %s: %w", sess.ID, err)
		}
	}
	return sess, nil
}

// Create stores a new session, assigning a UUID when ID is empty.
func (s *Store) Create(ctx context.Context, sess model.Session) (model.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	bp, bc, err := encodeBenchmark(sess)
	if err != nil {
		return model.Session{}, err
	}
	var parentID any
	if sess.BenchmarkChild != nil {
		parentID = sess.BenchmarkChild.ParentID
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions
		(session_id, title, directory, parent_id, benchmark, benchmark_child, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Directory, parentID, bp, bc,
		sess.CreatedAt.Format(time.RFC3339Nano), sess.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// Update reads, mutates, and writes a session in one transaction.
func (s *Store) Update(ctx context.Context, id string, fn func(*model.Session) error) (model.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sess, err := getSession(ctx, tx, id)
	if err != nil {
		return model.Session{}, err
	}
	if err := fn(&sess); err != nil {
		return model.Session{}, err
	}
	sess.ID = id
	sess.UpdatedAt = s.now().UTC()

	bp, bc, err := encodeBenchmark(sess)
	if err != nil {
		return model.Session{}, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE sessions
		SET title = ?, directory = ?, benchmark = ?, benchmark_child = ?, updated_at = ?
		WHERE session_id = ?`,
		sess.Title, sess.Directory, bp, bc, sess.UpdatedAt.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("updating session %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

func encodeBenchmark(sess model.Session) (bp, bc any, err error) {
	if sess.Benchmark != nil {
		b, err := json.Marshal(sess.Benchmark)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding benchmark: %w", err)
		}
		bp = string(b)
	}
	if sess.BenchmarkChild != nil {
		b, err := json.Marshal(sess.BenchmarkChild)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding benchmark child: %w", err)
		}
		bc = string(b)
	}
	return bp, bc, nil
}

// List returns top-level sessions, newest first. Benchmark children are
// reachable through their parent.
func (s *Store) List(ctx context.Context) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE parent_id IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete removes a session. Its benchmark children and queued prompts go with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", bench.ErrSessionNotFound, id)
	}
	return nil
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	hash        TEXT PRIMARY KEY,
	parent_hash TEXT,
	session     TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	prompt      TEXT NOT NULL,
	reply       TEXT NOT NULL,
	text        TEXT NOT NULL,
	model       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS turns_session_seq ON turns (session, seq);
`

const turnColumns = `hash, parent_hash, session, prompt, reply, text, model, created_at`

// SQLiteStore archives turns in a SQLite database so transcripts survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
// Use ":memory:" or an empty path for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One connection: ":memory:" databases are per connection, and appends
	// must read the session head and insert without interleaving.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, session, prompt, reply, model string) (*Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		head *Turn
		seq  int64
	)

	row := tx.QueryRowContext(ctx,
		`SELECT `+turnColumns+`, seq FROM turns WHERE session = ? ORDER BY seq DESC LIMIT 1`, session)
	head, seq, err = scanTurnWithSeq(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read session head: %w", err)
	}

	turn := NewTurn(session, prompt, reply, model, head)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (hash, parent_hash, session, seq, prompt, reply, text, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.Hash, turn.ParentHash, turn.Session, seq+1, turn.Prompt, turn.Reply, turn.Text,
		turn.Model, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}

	return turn, nil
}

// Turns implements Store.
func (s *SQLiteStore) Turns(ctx context.Context, session string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE session = ? ORDER BY seq DESC LIMIT ?`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Newest first from the query; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, hash string) (*Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE hash = ?`, hash)
	t, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Hash: hash}
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Sessions implements Store.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session FROM turns ORDER BY session`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, name)
	}
	return sessions, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (*Turn, error) {
	var (
		t         Turn
		parent    sql.NullString
		createdAt int64
	)
	if err := row.Scan(&t.Hash, &parent, &t.Session, &t.Prompt, &t.Reply, &t.Text, &t.Model, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan turn: %w", err)
	}
	if parent.Valid {
		t.ParentHash = &parent.String
	}
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	return &t, nil
}

func scanTurnWithSeq(row scanner) (*Turn, int64, error) {
	var (
		t         Turn
		parent    sql.NullString
		createdAt int64
		seq       int64
	)
	if err := row.Scan(&t.Hash, &parent, &t.Session, &t.Prompt, &t.Reply, &t.Text, &t.Model, &createdAt, &seq); err != nil {
		return nil, 0, err
	}
	if parent.Valid {
		t.ParentHash = &parent.String
	}
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	return &t, seq, nil
}

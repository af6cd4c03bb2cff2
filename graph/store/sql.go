package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// appendAttempts bounds retries when two writers race for the first
// sequence number of a new thread and one loses on the primary key.
const appendAttempts = 3

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string

	// schema is executed statement by statement on open.
	schema []string

	// dollar switches "?" placeholders to "$1", "$2", ...
	dollar bool

	// lockSuffix is appended to the sequence read inside the append
	// transaction ("FOR UPDATE" where supported).
	lockSuffix string

	// duplicate reports whether err is a primary-key violation.
	duplicate func(error) bool
}

// sqlLog implements Store[S] on database/sql. Backends embed it and only
// provide connection setup and a dialect.
type sqlLog[S any] struct {
	db     *sql.DB
	d      dialect
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

func newSQLLog[S any](ctx context.Context, db *sql.DB, d dialect) (*sqlLog[S], error) {
	l := &sqlLog[S]{db: db, d: d, now: time.Now}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	return l, nil
}

// q rewrites placeholders for the dialect.
func (l *sqlLog[S]) q(query string) string {
	if !l.d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (l *sqlLog[S]) checkOpen() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

// Append implements Store.
//
// The next sequence number is read and the row inserted in one
// transaction. The (thread_id, seq) primary key rejects a concurrent writer
// that read the same sequence; the loser retries.
func (l *sqlLog[S]) Append(ctx context.Context, threadID string, state S, source, next string) (Checkpoint[S], error) {
	if err := l.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to marshal state: %w", err)
	}
	// Store what readers will see: the decoded form of the marshaled state.
	var stored S
	if err := json.Unmarshal(stateJSON, &stored); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to copy state: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		cp, err := l.appendOnce(ctx, threadID, stored, stateJSON, source, next)
		if err == nil {
			return cp, nil
		}
		if l.d.duplicate == nil || !l.d.duplicate(err) {
			return Checkpoint[S]{}, err
		}
		lastErr = err
	}
	return Checkpoint[S]{}, fmt.Errorf("failed to append checkpoint after %d attempts: %w", appendAttempts, lastErr)
}

func (l *sqlLog[S]) appendOnce(ctx context.Context, threadID string, state S, stateJSON []byte, source, next string) (Checkpoint[S], error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seq := 0
	var last int
	query := "SELECT seq FROM graph_checkpoints WHERE thread_id = ? ORDER BY seq DESC LIMIT 1"
	if l.d.lockSuffix != "" {
		query += " " + l.d.lockSuffix
	}
	err = tx.QueryRowContext(ctx, l.q(query), threadID).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Checkpoint[S]{}, fmt.Errorf("failed to read sequence: %w", err)
	default:
		seq = last + 1
	}

	cp, err := newCheckpoint(threadID, seq, state, source, next, l.now())
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to digest state: %w", err)
	}

	_, err = tx.ExecContext(ctx, l.q(`
		INSERT INTO graph_checkpoints (thread_id, seq, source, next_node, digest, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		threadID, seq, source, next, cp.Digest, string(stateJSON), cp.CreatedAt.UnixNano())
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return cp, nil
}

const selectColumns = "thread_id, seq, source, next_node, digest, state, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint[S any](row rowScanner) (Checkpoint[S], error) {
	var (
		cp        Checkpoint[S]
		stateJSON string
		created   int64
	)
	if err := row.Scan(&cp.ThreadID, &cp.Seq, &cp.Source, &cp.Next, &cp.Digest, &stateJSON, &created); err != nil {
		return Checkpoint[S]{}, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	cp.CreatedAt = time.Unix(0, created).UTC()
	return cp, nil
}

// Latest implements Store.
func (l *sqlLog[S]) Latest(ctx context.Context, threadID string) (Checkpoint[S], error) {
	if err := l.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}
	row := l.db.QueryRowContext(ctx, l.q("SELECT "+selectColumns+
		" FROM graph_checkpoints WHERE thread_id = ? ORDER BY seq DESC LIMIT 1"), threadID)
	cp, err := scanCheckpoint[S](row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return cp, nil
}

// History implements Store.
func (l *sqlLog[S]) History(ctx context.Context, threadID string) ([]Checkpoint[S], error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, l.q("SELECT "+selectColumns+
		" FROM graph_checkpoints WHERE thread_id = ? ORDER BY seq DESC"), threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint[S]
	for rows.Next() {
		cp, err := scanCheckpoint[S](rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Get implements Store.
func (l *sqlLog[S]) Get(ctx context.Context, threadID string, seq int) (Checkpoint[S], error) {
	if err := l.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}
	row := l.db.QueryRowContext(ctx, l.q("SELECT "+selectColumns+
		" FROM graph_checkpoints WHERE thread_id = ? AND seq = ?"), threadID, seq)
	cp, err := scanCheckpoint[S](row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// Threads implements Store.
func (l *sqlLog[S]) Threads(ctx context.Context) ([]string, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, "SELECT DISTINCT thread_id FROM graph_checkpoints ORDER BY thread_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements Store.
func (l *sqlLog[S]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

// Ping verifies the database connection is alive.
func (l *sqlLog[S]) Ping(ctx context.Context) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	return l.db.PingContext(ctx)
}

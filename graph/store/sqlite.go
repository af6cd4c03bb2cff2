package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps every thread's checkpoint log in a single-file database and is
// intended for single-process use: local solving sessions, development and
// tests. WAL mode lets readers (history, inspection API) proceed while a
// step is being appended.
//
// Schema:
//   - graph_checkpoints: one row per checkpoint, primary key (thread_id, seq),
//     state stored as JSON text.
type SQLiteStore[S any] struct {
	*sqlLog[S]
	path string
}

// NewSQLiteStore opens (or creates) a SQLite database at path.
//
// Use ":memory:" for a throwaway database in tests.
//
// Example:
//
//	st, err := store.NewSQLiteStore[state.Record]("./solvegraph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	l, err := newSQLLog[S](ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore[S]{sqlLog: l, path: path}, nil
}

// Path returns the database file location.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS graph_checkpoints (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			source TEXT NOT NULL,
			next_node TEXT NOT NULL,
			digest TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)`,
	},
	duplicate: func(err error) bool {
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

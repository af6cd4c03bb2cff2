package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/Aurora implementation of Store[S].
//
// It is meant for deployments where several solver processes share one
// checkpoint history. Appends lock the thread's newest row with
// SELECT ... FOR UPDATE; the primary key on (thread_id, seq) catches the
// remaining race on a thread's first checkpoint.
//
// DSN format follows go-sql-driver/mysql:
//
//	user:password@tcp(host:3306)/dbname
type MySQLStore[S any] struct {
	*sqlLog[S]
}

// NewMySQLStore connects to MySQL and creates the checkpoint table if needed.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	if _, err := mysql.ParseDSN(dsn); err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	l, err := newSQLLog[S](ctx, db, mysqlDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore[S]{sqlLog: l}, nil
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{`
		CREATE TABLE IF NOT EXISTS graph_checkpoints (
			thread_id VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			source VARCHAR(255) NOT NULL,
			next_node VARCHAR(255) NOT NULL,
			digest VARCHAR(80) NOT NULL,
			state LONGTEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (thread_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	lockSuffix: "FOR UPDATE",
	duplicate: func(err error) bool {
		var myErr *mysql.MySQLError
		return errors.As(err, &myErr) && myErr.Number == 1062
	},
}

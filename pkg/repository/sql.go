package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
)

type dialect struct {
	driver string
	schema string
	// placeholder renders the n-th (1-based) bind parameter
	placeholder func(n int) string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS records (
	coll       TEXT    NOT NULL,
	rkey       TEXT    NOT NULL,
	data       TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (coll, rkey)
)`,
		placeholder: func(int) string { return "?" },
	}

	postgresDialect = dialect{
		driver: "postgres",
		schema: `CREATE TABLE IF NOT EXISTS records (
	coll       TEXT   NOT NULL,
	rkey       TEXT   NOT NULL,
	data       TEXT   NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (coll, rkey)
)`,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

// SQL is a Backend storing every collection in a single records table
type SQL struct {
	db      *sql.DB
	dialect dialect

	upsertStmt string
	getStmt    string
	listStmt   string
	deleteStmt string
	clearStmt  string
}

// NewSQLite opens (creating if needed) a SQLite database file
func NewSQLite(ctx context.Context, path string) (*SQL, error) {
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}

	// SQLite supports a single writer; one connection serializes writes and
	// avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, goerr.Wrap(err, "failed to configure sqlite", goerr.V("pragma", pragma))
		}
	}

	return newSQL(ctx, db, sqliteDialect)
}

// SQLiteOpener returns an Opener for NewSQLite
func SQLiteOpener(path string) Opener {
	return func(ctx context.Context) (Backend, error) {
		backend, err := NewSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}

// NewPostgres connects to PostgreSQL with the given DSN
func NewPostgres(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open postgres connection")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to connect postgres")
	}

	return newSQL(ctx, db, postgresDialect)
}

// PostgresOpener returns an Opener for NewPostgres
func PostgresOpener(dsn string) Opener {
	return func(ctx context.Context) (Backend, error) {
		backend, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
}

func newSQL(ctx context.Context, db *sql.DB, d dialect) (*SQL, error) {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to create schema", goerr.V("driver", d.driver))
	}

	p := d.placeholder
	return &SQL{
		db:      db,
		dialect: d,
		upsertStmt: fmt.Sprintf(`INSERT INTO records (coll, rkey, data, updated_at) VALUES (%s, %s, %s, %s)
ON CONFLICT (coll, rkey) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			p(1), p(2), p(3), p(4)),
		getStmt:    fmt.Sprintf(`SELECT data FROM records WHERE coll = %s AND rkey = %s`, p(1), p(2)),
		listStmt:   fmt.Sprintf(`SELECT rkey, data FROM records WHERE coll = %s ORDER BY rkey`, p(1)),
		deleteStmt: fmt.Sprintf(`DELETE FROM records WHERE coll = %s AND rkey = %s`, p(1), p(2)),
		clearStmt:  fmt.Sprintf(`DELETE FROM records WHERE coll = %s`, p(1)),
	}, nil
}

func (s *SQL) Put(ctx context.Context, col Collection, key string, data []byte) error {
	if _, err := s.db.ExecContext(ctx, s.upsertStmt, string(col), key, string(data), time.Now().UnixMilli()); err != nil {
		return goerr.Wrap(err, "failed to upsert record", goerr.V("collection", col), goerr.V("key", key))
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, col Collection, key string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.getStmt, string(col), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(model.ErrNotFound, "record not found", goerr.V("collection", col), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query record", goerr.V("collection", col), goerr.V("key", key))
	}
	return []byte(data), nil
}

func (s *SQL) List(ctx context.Context, col Collection) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.listStmt, string(col))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query records", goerr.V("collection", col))
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, goerr.Wrap(err, "failed to scan record", goerr.V("collection", col))
		}
		records = append(records, Record{Key: key, Data: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate records", goerr.V("collection", col))
	}
	return records, nil
}

func (s *SQL) Delete(ctx context.Context, col Collection, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.deleteStmt, string(col), key)
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete record", goerr.V("collection", col), goerr.V("key", key))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, goerr.Wrap(err, "failed to get affected rows")
	}
	return n > 0, nil
}

func (s *SQL) Clear(ctx context.Context, col Collection) error {
	if _, err := s.db.ExecContext(ctx, s.clearStmt, string(col)); err != nil {
		return goerr.Wrap(err, "failed to clear collection", goerr.V("collection", col))
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return goerr.Wrap(err, "database is not reachable", goerr.V("driver", s.dialect.driver))
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

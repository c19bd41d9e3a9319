package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const dbTimeout = 2 * time.Second

const (
	mysqlSchema = `CREATE TABLE IF NOT EXISTS records (
	kind VARCHAR(128) NOT NULL PRIMARY KEY,
	payload LONGTEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`
	mysqlUpsert = "INSERT INTO records (kind, payload, updated_at) VALUES (?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)"

	sqliteSchema = `CREATE TABLE IF NOT EXISTS records (
	kind TEXT NOT NULL PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`
	sqliteUpsert = "INSERT INTO records (kind, payload, updated_at) VALUES (?, ?, ?) " +
		"ON CONFLICT(kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at"

	selectPayload = "SELECT payload FROM records WHERE kind = ?"
)

// SQLBackend implements Backend on a single "records" table using prepared
// statements and context timeouts. One row holds one kind's serialized list.
type SQLBackend struct {
	db       *sql.DB
	stmtLoad *sql.Stmt
	stmtSave *sql.Stmt
}

// NewMySQL creates the records table if needed and prepares all statements.
// The caller owns the *sql.DB lifetime.
func NewMySQL(db *sql.DB) (*SQLBackend, error) {
	return newSQLBackend(db, mysqlSchema, mysqlUpsert)
}

// NewSQLite is NewMySQL for a modernc.org/sqlite database. SQLite allows a
// single writer, so callers should cap the pool at one open connection.
func NewSQLite(db *sql.DB) (*SQLBackend, error) {
	return newSQLBackend(db, sqliteSchema, sqliteUpsert)
}

func newSQLBackend(db *sql.DB, schema, upsert string) (*SQLBackend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create records table: %w", err)
	}

	stmtLoad, err := db.Prepare(selectPayload)
	if err != nil {
		return nil, fmt.Errorf("prepare load: %w", err)
	}

	stmtSave, err := db.Prepare(upsert)
	if err != nil {
		stmtLoad.Close()
		return nil, fmt.Errorf("prepare save: %w", err)
	}

	return &SQLBackend{db: db, stmtLoad: stmtLoad, stmtSave: stmtSave}, nil
}

// Load retrieves the payload stored for key.
func (b *SQLBackend) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var payload []byte
	err := b.stmtLoad.QueryRowContext(ctx, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo load %s: %w", key, err)
	}
	return payload, nil
}

// Save upserts the payload for key.
func (b *SQLBackend) Save(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := b.stmtSave.ExecContext(ctx, key, string(data), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("repo save %s: %w", key, err)
	}
	return nil
}

// Ping checks database connectivity.
func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close releases all prepared statements.
func (b *SQLBackend) Close() error {
	for _, s := range []*sql.Stmt{b.stmtLoad, b.stmtSave} {
		if s != nil {
			s.Close()
		}
	}
	return nil
}

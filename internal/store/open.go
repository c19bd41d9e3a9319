package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Open connects the named driver and returns a ready Backend along with the
// underlying *sql.DB (nil for the memory driver). The caller closes both.
func Open(driver, dsn string) (Backend, *sql.DB, error) {
	switch driver {
	case DriverMemory:
		return NewMemory(), nil, nil

	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "" && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("store: create data dir: %w", err)
			}
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("store: enable WAL: %w", err)
		}
		b, err := NewSQLite(db)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return b, db, nil

	case DriverMySQL:
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: open mysql: %w", err)
		}
		// Connection pool tuning.
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("store: ping mysql: %w", err)
		}
		b, err := NewMySQL(db)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return b, db, nil

	default:
		return nil, nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

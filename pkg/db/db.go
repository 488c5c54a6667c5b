package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver ("sqlite3")
	_ "modernc.org/sqlite"          // pure Go SQLite driver ("sqlite")
)

// DefaultDriver is the pure Go driver; it needs no cgo toolchain.
const DefaultDriver = "sqlite"

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB     *sql.DB
	Driver string
}

// New opens (and creates if needed) the SQLite database at path with the default driver.
func New(path string) (*Database, error) {
	return Open(DefaultDriver, path)
}

// Open opens the SQLite database at path with the named driver ("sqlite" or "sqlite3").
func Open(driver, path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if driver == "" {
		driver = DefaultDriver
	}

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path
	if driver == "sqlite3" && !inMemory {
		dsn = path + "?_busy_timeout=5000"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)
	if inMemory {
		// Recycling the only connection would drop an in-memory database.
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if driver == DefaultDriver {
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	return &Database{DB: db, Driver: driver}, nil
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

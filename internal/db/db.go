package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "ncc.db"

type Config struct {
	// Store is the full path to the SQLite file. Empty means DefaultPath().
	Store string
}

// DefaultPath returns ~/.config/ncc/ncc.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "ncc", defaultDBName)
}

// Resolve expands the configured store path, falling back to the default.
func Resolve(store string) string {
	if store == "" {
		return DefaultPath()
	}
	return store
}

// Open opens the SQLite database, creating the parent directory if missing.
func Open(cfg Config) (*sql.DB, error) {
	path := Resolve(cfg.Store)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Shared-cache readers can hit SQLITE_LOCKED mid-transaction; a single
	// connection serializes writers and readers instead.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

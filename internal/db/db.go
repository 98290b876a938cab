package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	stateDir      = ".usrtaskmgt"
	defaultDBName = "formdata.db"
)

type Config struct {
	Workspace string
	// File overrides the database location inside the workspace.
	File string
}

func dbPath(cfg Config) string {
	if cfg.File != "" {
		return cfg.File
	}
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, stateDir, defaultDBName)
}

// EnsureDir creates the directory holding the database file.
func EnsureDir(cfg Config) (string, error) {
	dir := filepath.Dir(dbPath(cfg))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the SQLite database in WAL mode with a busy timeout, so several
// request goroutines can share it.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureDir(cfg); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath(cfg))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", dbPath(cfg), err)
	}
	return conn, nil
}

// Path returns the database path for cfg.
func Path(cfg Config) string {
	return dbPath(cfg)
}

// Package db opens the sqlite database that backs the diagnostics journal.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type Options struct {
	// Path is a file path, a "file:" URI, or ":memory:".
	Path string
	// MaxOpenConns defaults to 1: the journal has a single writer.
	MaxOpenConns int
	// Logger, when set, receives every statement at debug level.
	Logger *slog.Logger
}

func Open(ctx context.Context, o Options) (*sql.DB, error) {
	dsn, err := buildDSN(o.Path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if o.Logger != nil {
		db = sql.OpenDB(newTracingConnector(dsn, o.Logger))
	} else {
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	conns := o.MaxOpenConns
	if conns <= 0 {
		conns = 1
	}
	db.SetMaxOpenConns(conns)
	// Keep connections alive; closing the last one drops an in-memory db.
	db.SetMaxIdleConns(conns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("db: empty path")
	}
	if path == ":memory:" {
		return path, nil
	}

	// - busy_timeout: the HTTP API reads while the journal writes
	// - journal_mode=WAL: readers do not block the writer
	// - synchronous=NORMAL: fewer fsyncs on SD cards; WAL keeps it consistent
	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

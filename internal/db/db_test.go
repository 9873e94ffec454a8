package db

import (
	"context"
	"database/sql/driver"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu   sync.Mutex
	recs []map[string]slog.Value
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{"msg": slog.StringValue(r.Message)}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.recs = append(h.recs, m)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) ops() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.recs {
		if m["msg"].String() == "sql" {
			out = append(out, m["op"].String()+" "+m["sql"].String())
		}
	}
	return out
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "memory", path: ":memory:", want: ":memory:"},
		{name: "file path", path: filepath.Join(dir, "sub", "diag.db"), want: "file:" + filepath.Join(dir, "sub", "diag.db") + "?_busy_timeout=5000"},
		{name: "uri with query", path: "file:diag.db?mode=rwc", want: "file:diag.db?mode=rwc&_busy_timeout=5000"},
		{name: "empty", path: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("buildDSN(%q) error = nil, want error", tt.path)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildDSN(%q) error = %v", tt.path, err)
			}
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("buildDSN(%q) = %q, want prefix %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestOpen_File(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "diag.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = Close(db) }()

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_TracesStatements(t *testing.T) {
	ctx := context.Background()
	h := &captureHandler{}
	db, err := Open(ctx, Options{Path: ":memory:", Logger: slog.New(h)})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = Close(db) }()

	if _, err := db.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO t (v) VALUES (?)`, "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	ops := h.ops()
	want := []string{"exec INSERT INTO t (v) VALUES (?)", "query SELECT COUNT(*) FROM t"}
	for _, w := range want {
		found := false
		for _, o := range ops {
			if o == w {
				found = true
			}
		}
		if !found {
			t.Errorf("trace %q missing from %v", w, ops)
		}
	}
}

func TestOpen_TracedTransaction(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Options{Path: ":memory:", Logger: slog.New(&captureHandler{})})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = Close(db) }()

	if _, err := db.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO t DEFAULT VALUES`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("count after rollback = %d, want 0", n)
	}
}

func TestFormatArgs(t *testing.T) {
	got := formatArgs([]driver.NamedValue{
		{Ordinal: 1, Value: nil},
		{Ordinal: 2, Value: []byte("raw")},
		{Ordinal: 3, Value: int64(42)},
		{Ordinal: 4, Name: "kind", Value: "sensor_error"},
	})
	want := []string{"NULL", "raw", "42", "kind=sensor_error"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("formatArgs() = %v, want %v", got, want)
	}
}

func TestOpen_TracesMultiStatementExec(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Options{Path: ":memory:", Logger: slog.New(&captureHandler{})})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = Close(db) }()

	script := `CREATE TABLE a (id INTEGER); CREATE TABLE b (id INTEGER);`
	if _, err := db.ExecContext(ctx, script); err != nil {
		t.Fatalf("exec script: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO b (id) VALUES (1)`); err != nil {
		t.Errorf("second table missing: %v", err)
	}
}

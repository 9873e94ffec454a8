package diagnostics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultRetention = 1000
	defaultBuffer    = 64
	pruneEvery       = 50
)

type JournalOptions struct {
	// Retention is the number of most recent rows kept.
	Retention int
	Buffer    int
	Logger    *slog.Logger
}

// Journal persists events to the diagnostics table from a single writer
// goroutine. Record drops the event when the buffer is full.
type Journal struct {
	db        *sql.DB
	retention int
	logger    *slog.Logger

	events  chan Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func NewJournal(db *sql.DB, o JournalOptions) *Journal {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Buffer <= 0 {
		o.Buffer = defaultBuffer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	j := &Journal{
		db:        db,
		retention: o.Retention,
		logger:    o.Logger,
		events:    make(chan Event, o.Buffer),
		done:      make(chan struct{}),
	}
	go j.loop()
	return j
}

func (j *Journal) Record(e Event) {
	select {
	case j.events <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the writer was behind.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Close stops accepting events, flushes the buffer and waits for the writer.
// Record must not be called after Close.
func (j *Journal) Close() {
	j.once.Do(func() { close(j.events) })
	<-j.done
}

func (j *Journal) loop() {
	defer close(j.done)
	n := 0
	for e := range j.events {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := j.insert(ctx, e); err != nil {
			j.logger.Warn("diagnostics write failed", "error", err)
		}
		n++
		if n%pruneEvery == 0 {
			if err := j.prune(ctx); err != nil {
				j.logger.Warn("diagnostics prune failed", "error", err)
			}
		}
		cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.prune(ctx); err != nil {
		j.logger.Warn("diagnostics prune failed", "error", err)
	}
}

func (j *Journal) insert(ctx context.Context, e Event) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO diagnostics (at, uptime_ms, kind, source, message) VALUES (?, ?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Uptime.Milliseconds(), string(e.Kind), e.Source, e.Message,
	)
	return err
}

func (j *Journal) prune(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM diagnostics WHERE id <= (SELECT MAX(id) FROM diagnostics) - ?`,
		j.retention,
	)
	return err
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > j.retention {
		limit = j.retention
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, uptime_ms, kind, source, message FROM diagnostics ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			at     string
			uptime int64
			kind   string
			e      Event
		)
		if err := rows.Scan(&at, &uptime, &kind, &e.Source, &e.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostics: %w", err)
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse diagnostics time %q: %w", at, err)
		}
		e.Uptime = time.Duration(uptime) * time.Millisecond
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

package diagnostics

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"airquality-node/internal/db"
	"airquality-node/internal/migrate"
)

func event(i int) Event {
	return Event{
		At:      time.Date(2024, time.March, 1, 12, 0, i, 0, time.UTC),
		Uptime:  time.Duration(i) * time.Second,
		Kind:    KindPublishError,
		Source:  "influx",
		Message: "attempt " + string(rune('a'+i)),
	}
}

func TestJournal_SQLMock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	e := event(1)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO diagnostics (at, uptime_ms, kind, source, message) VALUES (?, ?, ?, ?, ?)`)).
		WithArgs("2024-03-01T12:00:01Z", int64(1000), "publish_error", "influx", e.Message).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM diagnostics WHERE id <=`)).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	j := NewJournal(conn, JournalOptions{Retention: 10, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	j.Record(e)
	j.Close()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestJournal_RecentSQLMock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer conn.Close()

	rows := sqlmock.NewRows([]string{"at", "uptime_ms", "kind", "source", "message"}).
		AddRow("2024-03-01T12:00:02Z", int64(2000), "sensor_error", "co2", "not ready")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT at, uptime_ms, kind, source, message FROM diagnostics ORDER BY id DESC LIMIT ?`)).
		WithArgs(int64(5)).
		WillReturnRows(rows)

	j := &Journal{db: conn, retention: 100}
	got, err := j.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent() = %d events, want 1", len(got))
	}
	if got[0].Kind != KindSensorError || got[0].Source != "co2" || got[0].Uptime != 2*time.Second {
		t.Errorf("Recent()[0] = %+v", got[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestJournal_SQLiteRetention(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Options{Path: ":memory:"})
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer func() { _ = db.Close(conn) }()
	if _, err := migrate.Run(ctx, conn, nil); err != nil {
		t.Fatalf("migrate.Run: %v", err)
	}

	j := NewJournal(conn, JournalOptions{Retention: 3, Buffer: 16})
	for i := 0; i < 5; i++ {
		j.Record(event(i))
	}
	j.Close()

	got, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent() = %d events, want 3", len(got))
	}
	for i, want := range []int{4, 3, 2} {
		if !got[i].At.Equal(event(want).At) {
			t.Errorf("Recent()[%d].At = %v, want %v", i, got[i].At, event(want).At)
		}
	}
	if j.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", j.Dropped())
	}
}

func TestJournal_DropsWhenFull(t *testing.T) {
	j := &Journal{events: make(chan Event, 1)}
	j.Record(event(0))
	j.Record(event(1))
	if j.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", j.Dropped())
	}
}

func TestLoggerAndMulti(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))}

	var seen []Event
	m := Multi{l, recorderFunc(func(e Event) { seen = append(seen, e) })}

	m.Record(Event{Kind: KindSinkSkipped, Source: "mqtt", Message: "link down"})
	m.Record(Event{Kind: KindSensorError, Source: "co2", Message: "timeout"})

	if len(seen) != 2 {
		t.Fatalf("fan-out delivered %d events, want 2", len(seen))
	}
	out := buf.String()
	if strings.Contains(out, "link down") {
		t.Errorf("skip logged at info: %s", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "source=co2") {
		t.Errorf("sensor error not logged at warn: %s", out)
	}
}

type recorderFunc func(Event)

func (f recorderFunc) Record(e Event) { f(e) }

package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ActivityFired("influx")
	m.ActivityFired("influx")
	m.Published("influx", nil)
	m.Published("influx", errors.New("boom"))
	m.Published("mqtt", nil)
	m.Skipped("mqtt", "link_down")
	m.SensorFailed("co2")

	if got := testutil.ToFloat64(m.activityFired.WithLabelValues("influx")); got != 2 {
		t.Errorf("activity_fired{influx} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.publishes.WithLabelValues("influx", ResultError)); got != 1 {
		t.Errorf("publish{influx,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.publishes.WithLabelValues("mqtt", ResultOK)); got != 1 {
		t.Errorf("publish{mqtt,ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.skips.WithLabelValues("mqtt", "link_down")); got != 1 {
		t.Errorf("skipped{mqtt,link_down} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sensorFailures.WithLabelValues("co2")); got != 1 {
		t.Errorf("sensor_failures{co2} = %v, want 1", got)
	}
}

func TestClockReadyGauge(t *testing.T) {
	m := New()
	m.ClockReady(true)
	if got := testutil.ToFloat64(m.clockReady); got != 1 {
		t.Errorf("clock_ready = %v, want 1", got)
	}
	m.ClockReady(false)
	if got := testutil.ToFloat64(m.clockReady); got != 0 {
		t.Errorf("clock_ready = %v, want 0", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveTick(3 * time.Millisecond)
	m.Skipped("influx", "clock_invalid")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"airq_tick_seconds_count 1",
		`airq_sink_skipped_total{reason="clock_invalid",sink="influx"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

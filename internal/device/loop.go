// Package device runs the cooperative control loop. One goroutine owns the
// scheduler, the clock gate and the live reading; everything else talks to it
// through the gate's update channel or the published snapshot.
package device

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"airquality-node/internal/clockgate"
	"airquality-node/internal/diagnostics"
	"airquality-node/internal/display"
	"airquality-node/internal/reading"
	"airquality-node/internal/scheduler"
	"airquality-node/internal/sensor"
	"airquality-node/internal/sink"
)

type State uint8

const (
	Booting State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "booting"
}

// Sensors is the aggregator as seen by the loop.
type Sensors interface {
	Refresh(ctx context.Context, ts reading.Timestamp) reading.Reading
	LastReadFailed(kind sensor.Kind) bool
	LastError(kind sensor.Kind) error
}

type Renderer interface {
	Render(r reading.Reading) string
}

// Instruments receives loop counters. *metrics.Metrics implements it.
type Instruments interface {
	SensorFailed(kind string)
	ActivityFired(activity string)
	Published(sink string, err error)
	Skipped(sink, reason string)
	ClockReady(ready bool)
	ObserveTick(d time.Duration)
}

type Options struct {
	Logger    *slog.Logger
	Scheduler *scheduler.Scheduler
	Gate      *clockgate.Gate
	// Updates carries probe results. Nil when no probes run.
	Updates <-chan clockgate.Update
	Sensors Sensors

	Presenter Renderer
	Display   display.Target
	// Influx and MQTT are nil when the capability is off.
	Influx sink.Sink
	MQTT   sink.Sink

	Recorder    diagnostics.Recorder
	Instruments Instruments

	TickInterval time.Duration
	// Now returns the host clock; the gate corrects it into wall time.
	Now func() time.Time
}

// Report describes one tick.
type Report struct {
	Uptime     time.Duration
	Reading    reading.Reading
	Due        scheduler.Set
	Dispatched scheduler.Set
	Skipped    map[scheduler.Activity]error
	Errors     []error
}

// Health is the loop status as of the last tick, safe to read from other
// goroutines.
type Health struct {
	State     State
	TimeValid bool
	LinkUp    bool
	Ticks     uint64
}

type Loop struct {
	o     Options
	state State
	boot  time.Time
	ticks uint64

	sinks    map[scheduler.Activity]sink.Sink
	snapshot atomic.Pointer[reading.Reading]
	health   atomic.Pointer[Health]
}

func New(o Options) *Loop {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Gate == nil {
		o.Gate = &clockgate.Gate{}
	}
	if o.Display == nil {
		o.Display = display.None{}
	}
	if o.Recorder == nil {
		o.Recorder = diagnostics.Nop{}
	}
	if o.Instruments == nil {
		o.Instruments = nopInstruments{}
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	l := &Loop{o: o, sinks: map[scheduler.Activity]sink.Sink{}}
	if o.Influx != nil {
		l.sinks[scheduler.Influx] = o.Influx
	}
	if o.MQTT != nil {
		l.sinks[scheduler.MQTT] = o.MQTT
	}
	return l
}

func (l *Loop) State() State { return l.state }

// Snapshot returns the reading published after the most recent refresh.
func (l *Loop) Snapshot() (reading.Reading, bool) {
	r := l.snapshot.Load()
	if r == nil {
		return reading.Reading{}, false
	}
	return *r, true
}

func (l *Loop) Health() Health {
	h := l.health.Load()
	if h == nil {
		return Health{}
	}
	return *h
}

func (l *Loop) publishHealth() {
	l.health.Store(&Health{
		State:     l.state,
		TimeValid: l.o.Gate.TimeValid(),
		LinkUp:    l.o.Gate.LinkUp(),
		Ticks:     l.ticks,
	})
}

// Boot anchors the cadence timers at uptime now and enters Running. It is a
// no-op once running.
func (l *Loop) Boot(now time.Duration) {
	if l.state == Running {
		return
	}
	l.o.Scheduler.Start(now)
	l.state = Running
	l.publishHealth()
	l.o.Logger.Info("device running",
		"display", l.o.Scheduler.Enabled(scheduler.Display),
		"influx", l.o.Scheduler.Enabled(scheduler.Influx),
		"mqtt", l.o.Scheduler.Enabled(scheduler.MQTT),
	)
}

// Tick runs one iteration at uptime now. Errors are reported and recorded,
// never returned.
func (l *Loop) Tick(ctx context.Context, now time.Duration) Report {
	start := time.Now()
	defer func() { l.o.Instruments.ObserveTick(time.Since(start)) }()

	if l.state != Running {
		l.Boot(now)
	}
	l.ticks++
	defer l.publishHealth()

	if l.o.Updates != nil {
		l.o.Gate.Drain(l.o.Updates)
	}
	l.o.Instruments.ClockReady(l.o.Gate.Ready())

	ts := reading.Timestamp{Uptime: now}
	if wall, ok := l.o.Gate.Wall(l.o.Now()); ok {
		ts.Wall = reading.Some(wall)
	}

	r := l.o.Sensors.Refresh(ctx, ts)
	published := r
	l.snapshot.Store(&published)
	l.recordSensorFailures(ts)

	rep := Report{Uptime: now, Reading: r, Skipped: map[scheduler.Activity]error{}}
	rep.Due = l.o.Scheduler.Due(now)

	for _, a := range rep.Due.Activities() {
		l.o.Instruments.ActivityFired(a.String())
		if a == scheduler.Display {
			l.show(r)
			rep.Dispatched = rep.Dispatched.With(a)
			continue
		}

		s, ok := l.sinks[a]
		if !ok {
			continue
		}
		err := s.Requires().Check(l.o.Gate.TimeValid(), l.o.Gate.LinkUp())
		if err != nil {
			rep.Skipped[a] = err
			l.skip(ts, s.Name(), err)
			continue
		}

		err = s.Publish(ctx, r)
		if sink.IsSkip(err) {
			rep.Skipped[a] = err
			l.skip(ts, s.Name(), err)
			continue
		}
		rep.Dispatched = rep.Dispatched.With(a)
		l.o.Instruments.Published(s.Name(), err)
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			l.record(ts, diagnostics.KindPublishError, s.Name(), err.Error())
		}
	}
	return rep
}

// Run boots the loop and ticks until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	l.boot = time.Now()
	l.Boot(0)

	t := time.NewTicker(l.o.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			l.Tick(ctx, time.Since(l.boot))
		}
	}
}

func (l *Loop) show(r reading.Reading) {
	if l.o.Presenter == nil {
		return
	}
	if err := l.o.Display.Show(l.o.Presenter.Render(r)); err != nil {
		l.o.Logger.Warn("display update failed", "error", err)
	}
}

func (l *Loop) recordSensorFailures(ts reading.Timestamp) {
	for _, k := range sensor.Kinds() {
		if !l.o.Sensors.LastReadFailed(k) {
			continue
		}
		l.o.Instruments.SensorFailed(k.String())
		msg := "read failed"
		if err := l.o.Sensors.LastError(k); err != nil {
			msg = err.Error()
		}
		l.record(ts, diagnostics.KindSensorError, k.String(), msg)
	}
}

func (l *Loop) skip(ts reading.Timestamp, name string, err error) {
	reason := "link_down"
	if errors.Is(err, sink.ErrClockInvalid) {
		reason = "clock_invalid"
	}
	l.o.Instruments.Skipped(name, reason)
	l.record(ts, diagnostics.KindSinkSkipped, name, err.Error())
}

func (l *Loop) record(ts reading.Timestamp, kind diagnostics.Kind, source, msg string) {
	l.o.Recorder.Record(diagnostics.Event{
		At:      ts.Wall.OrElse(time.Time{}),
		Uptime:  ts.Uptime,
		Kind:    kind,
		Source:  source,
		Message: msg,
	})
}

type nopInstruments struct{}

func (nopInstruments) SensorFailed(string)       {}
func (nopInstruments) ActivityFired(string)      {}
func (nopInstruments) Published(string, error)   {}
func (nopInstruments) Skipped(string, string)    {}
func (nopInstruments) ClockReady(bool)           {}
func (nopInstruments) ObserveTick(time.Duration) {}

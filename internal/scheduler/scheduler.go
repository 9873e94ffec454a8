// Package scheduler decides which periodic device activities are due on a
// tick. It never blocks and keeps no goroutines; the caller supplies time as
// uptime since boot.
package scheduler

import (
	"math"
	"strings"
	"time"
)

// MaxIntervalSeconds is the longest interval a time.Duration can hold.
const MaxIntervalSeconds = uint(math.MaxInt64 / int64(time.Second))

type Activity uint8

// Dispatch order when several activities are due together.
const (
	Display Activity = iota
	Influx
	MQTT
	numActivities
)

func (a Activity) String() string {
	switch a {
	case Display:
		return "display"
	case Influx:
		return "influx"
	case MQTT:
		return "mqtt"
	default:
		return "unknown"
	}
}

// All lists the activities in dispatch order.
func All() []Activity { return []Activity{Display, Influx, MQTT} }

// Set is a bitmask of activities.
type Set uint8

func (s Set) Has(a Activity) bool { return s&(1<<a) != 0 }

func (s Set) With(a Activity) Set { return s | 1<<a }

func (s Set) Empty() bool { return s == 0 }

// Activities returns the members of s in dispatch order.
func (s Set) Activities() []Activity {
	var out []Activity
	for a := Activity(0); a < numActivities; a++ {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s Set) String() string {
	parts := make([]string, 0, numActivities)
	for _, a := range s.Activities() {
		parts = append(parts, a.String())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Timer is one activity's cadence. Fired only advances LastFiredAt.
type Timer struct {
	Interval    time.Duration
	LastFiredAt time.Duration
	Fired       uint64
}

func (t *Timer) due(now time.Duration) bool {
	return now-t.LastFiredAt >= t.Interval
}

// Scheduler owns one independent timer per enabled activity.
type Scheduler struct {
	timers  [numActivities]*Timer
	started bool
}

// New builds a scheduler from whole-second intervals. An interval of zero, or
// an activity missing from intervals, leaves that activity disabled. Intervals
// above MaxIntervalSeconds are clamped to it.
func New(intervals map[Activity]uint) *Scheduler {
	s := &Scheduler{}
	for a, secs := range intervals {
		if a >= numActivities || secs == 0 {
			continue
		}
		if secs > MaxIntervalSeconds {
			secs = MaxIntervalSeconds
		}
		s.timers[a] = &Timer{Interval: time.Duration(secs) * time.Second}
	}
	return s
}

// Start anchors every timer at boot. The first fire comes one interval later.
func (s *Scheduler) Start(now time.Duration) {
	for _, t := range s.timers {
		if t != nil {
			t.LastFiredAt = now
		}
	}
	s.started = true
}

// Due returns the activities due at now and advances each of their timers to
// now, whether or not the caller's dispatch later succeeds.
func (s *Scheduler) Due(now time.Duration) Set {
	if !s.started {
		s.Start(now)
	}
	var due Set
	for a, t := range s.timers {
		if t == nil || !t.due(now) {
			continue
		}
		t.LastFiredAt = now
		t.Fired++
		due = due.With(Activity(a))
	}
	return due
}

// Enabled reports whether a has a timer.
func (s *Scheduler) Enabled(a Activity) bool {
	return a < numActivities && s.timers[a] != nil
}

// Timer returns a copy of a's timer state.
func (s *Scheduler) Timer(a Activity) (Timer, bool) {
	if !s.Enabled(a) {
		return Timer{}, false
	}
	return *s.timers[a], true
}

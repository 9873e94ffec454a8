package sensor

import (
	"context"
	"fmt"
	"time"

	"airquality-node/internal/capability"
	"airquality-node/internal/reading"
)

const defaultTimeout = 250 * time.Millisecond

// FailureFunc is called for each failed read.
type FailureFunc func(kind Kind, err error)

type Options struct {
	// TempOffset is subtracted from every raw temperature.
	TempOffset float64
	// Timeout bounds each individual read.
	Timeout   time.Duration
	OnFailure FailureFunc
}

type kindStatus struct {
	lastFailed bool
	failures   int
	lastErr    error
}

// Aggregator owns the live Reading. It is not safe for concurrent use; the
// device loop is its only caller.
type Aggregator struct {
	mask capability.Mask
	src  Sources
	opts Options

	current reading.Reading
	status  [numKinds]kindStatus
}

func NewAggregator(mask capability.Mask, src Sources, opts Options) *Aggregator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Aggregator{mask: mask, src: src, opts: opts}
}

// Refresh reads every enabled kind and overwrites the current Reading. A
// failing kind leaves its fields absent and never stops the others.
func (a *Aggregator) Refresh(ctx context.Context, ts reading.Timestamp) reading.Reading {
	next := reading.Reading{Timestamp: ts}

	if a.mask.TemperatureHumidity {
		var t, rh float64
		err := a.read(ctx, Climate, func(ctx context.Context) error {
			if a.src.Climate == nil {
				return ErrUnavailable
			}
			var err error
			t, rh, err = a.src.Climate.ReadClimate(ctx)
			return err
		})
		if err == nil {
			next.TemperatureCelsius = reading.Some(t - a.opts.TempOffset)
			next.RelativeHumidityPercent = reading.Some(clamp(rh, 0, 100))
		}
	}

	if a.mask.Particulate {
		var pm float64
		err := a.read(ctx, Particulate, func(ctx context.Context) error {
			if a.src.Particulate == nil {
				return ErrUnavailable
			}
			var err error
			pm, err = a.src.Particulate.ReadPM25(ctx)
			return err
		})
		if err == nil {
			next.PM25 = reading.Some(pm)
		}
	}

	if a.mask.CO2 {
		var ppm int
		err := a.read(ctx, CO2, func(ctx context.Context) error {
			if a.src.CO2 == nil {
				return ErrUnavailable
			}
			var err error
			ppm, err = a.src.CO2.ReadCO2(ctx)
			return err
		})
		if err == nil {
			next.CO2PPM = reading.Some(ppm)
		}
	}

	a.current = next
	return a.current
}

func (a *Aggregator) read(ctx context.Context, kind Kind, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: read exceeded %v", ErrUnavailable, a.opts.Timeout)
	}

	st := &a.status[kind]
	if err != nil {
		st.lastFailed = true
		st.failures++
		st.lastErr = err
		if a.opts.OnFailure != nil {
			a.opts.OnFailure(kind, err)
		}
		return err
	}
	st.lastFailed = false
	st.failures = 0
	st.lastErr = nil
	return nil
}

// Snapshot returns a copy of the current Reading.
func (a *Aggregator) Snapshot() reading.Reading { return a.current }

// LastReadFailed reports whether kind failed on the most recent refresh.
func (a *Aggregator) LastReadFailed(kind Kind) bool {
	if kind >= numKinds {
		return false
	}
	return a.status[kind].lastFailed
}

// Failures is the number of consecutive failed reads for kind.
func (a *Aggregator) Failures(kind Kind) int {
	if kind >= numKinds {
		return 0
	}
	return a.status[kind].failures
}

func (a *Aggregator) LastError(kind Kind) error {
	if kind >= numKinds {
		return nil
	}
	return a.status[kind].lastErr
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package sim is a deterministic stand-in for every sensor kind. It drifts
// each value by a bounded random walk and can fail a share of reads.
package sim

import (
	"context"
	"math/rand"
	"sync"

	"airquality-node/internal/sensor"
)

type Sensor struct {
	mu   sync.Mutex
	rand *rand.Rand
	// FailureRate is the probability in [0,1] that a read fails.
	FailureRate float64

	temp, rh, pm float64
	co2          int
}

func New(seed int64, failureRate float64) *Sensor {
	return &Sensor{
		rand:        rand.New(rand.NewSource(seed)),
		FailureRate: failureRate,
		temp:        23,
		rh:          45,
		pm:          8,
		co2:         650,
	}
}

var (
	_ sensor.ClimateSource     = (*Sensor)(nil)
	_ sensor.ParticulateSource = (*Sensor)(nil)
	_ sensor.CO2Source         = (*Sensor)(nil)
)

func (s *Sensor) fail() bool {
	return s.FailureRate > 0 && s.rand.Float64() < s.FailureRate
}

func (s *Sensor) walk(v, step, lo, hi float64) float64 {
	v += (s.rand.Float64()*2 - 1) * step
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *Sensor) ReadClimate(ctx context.Context) (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if s.fail() {
		return 0, 0, sensor.ErrUnavailable
	}
	s.temp = s.walk(s.temp, 0.1, 10, 35)
	s.rh = s.walk(s.rh, 0.5, 15, 85)
	return s.temp, s.rh, nil
}

func (s *Sensor) ReadPM25(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.fail() {
		return 0, sensor.ErrUnavailable
	}
	s.pm = s.walk(s.pm, 0.8, 0, 150)
	return s.pm, nil
}

func (s *Sensor) ReadCO2(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.fail() {
		return 0, sensor.ErrUnavailable
	}
	s.co2 = int(s.walk(float64(s.co2), 15, 400, 5000))
	return s.co2, nil
}

// Package scd4x reads a Sensirion SCD40/SCD41 CO2 sensor in periodic
// measurement mode using the TinyGo driver.
package scd4x

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"
	tinyscd4x "tinygo.org/x/drivers/scd4x"

	"airquality-node/internal/sensor"
)

// DefaultAddr is the SCD4x bus address. It is fixed in the sensor.
const DefaultAddr = 0x62

const (
	stopTime = 500 * time.Millisecond
	// The sensor produces a sample every 5 s; a cached value older than
	// this is treated as lost.
	defaultMaxAge = 15 * time.Second
)

// driver is the part of the TinyGo device the adaptor uses.
type driver interface {
	StartPeriodicMeasurement() error
	StopPeriodicMeasurement() error
	DataReady() (bool, error)
	ReadCO2() (int32, error)
}

type Device struct {
	mu  sync.Mutex
	drv driver

	MaxAge time.Duration
	now    func() time.Time
	sleep  func(time.Duration)

	started bool
	last    int
	lastAt  time.Time
}

// New binds the TinyGo driver to bus. Configure is not called: it only stops
// measurement and sleeps, which ReadCO2 and Close already handle.
func New(bus drivers.I2C, addr uint16) (*Device, error) {
	if addr != 0 && addr != DefaultAddr {
		return nil, fmt.Errorf("scd4x: address %#x not supported (fixed at %#x)", addr, DefaultAddr)
	}
	return newDevice(tinyscd4x.New(bus)), nil
}

func newDevice(drv driver) *Device {
	return &Device{
		drv:    drv,
		MaxAge: defaultMaxAge,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// ReadCO2 returns the newest sample. The first call starts periodic
// measurement and reports ErrNotReady until the sensor has data.
func (d *Device) ReadCO2(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !d.started {
		if err := d.drv.StartPeriodicMeasurement(); err != nil {
			return 0, fmt.Errorf("scd4x start: %w", err)
		}
		d.started = true
		return 0, sensor.ErrNotReady
	}

	ready, err := d.drv.DataReady()
	if err != nil {
		return 0, fmt.Errorf("scd4x data ready: %w", err)
	}
	if ready {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		co2, err := d.drv.ReadCO2()
		if err != nil {
			return 0, fmt.Errorf("scd4x read: %w", err)
		}
		d.last, d.lastAt = int(co2), d.now()
		return d.last, nil
	}

	if !d.lastAt.IsZero() && d.now().Sub(d.lastAt) <= d.MaxAge {
		return d.last, nil
	}
	return 0, sensor.ErrNotReady
}

// Close stops periodic measurement.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false
	err := d.drv.StopPeriodicMeasurement()
	d.sleep(stopTime)
	return err
}

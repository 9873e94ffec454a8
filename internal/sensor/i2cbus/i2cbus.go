// Package i2cbus opens periph I2C buses and shares them between the sensor
// drivers of one device.
package i2cbus

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

var (
	initOnce sync.Once
	initErr  error
)

func initHost() error {
	initOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			initErr = fmt.Errorf("host.Init: %w", err)
		}
	})
	return initErr
}

// Registry hands out one open bus per name. The empty name is the default
// bus, usually /dev/i2c-1.
type Registry struct {
	mu    sync.Mutex
	open  func(name string) (i2c.BusCloser, error)
	buses map[string]i2c.BusCloser
}

func NewRegistry() *Registry {
	return &Registry{
		open: func(name string) (i2c.BusCloser, error) {
			if err := initHost(); err != nil {
				return nil, err
			}
			return i2creg.Open(name)
		},
		buses: make(map[string]i2c.BusCloser),
	}
}

func (r *Registry) Bus(name string) (i2c.Bus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buses[name]; ok {
		return b, nil
	}
	b, err := r.open(name)
	if err != nil {
		return nil, fmt.Errorf("i2creg.Open(%q): %w", name, err)
	}
	r.buses[name] = b
	return b, nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, b := range r.buses {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
		delete(r.buses, name)
	}
	return errors.Join(errs...)
}

// TinyGo adapts a periph bus to the TinyGo driver I2C shape.
type TinyGo struct {
	Bus i2c.Bus
}

var _ drivers.I2C = TinyGo{}

func (s TinyGo) Tx(addr uint16, w, r []byte) error {
	return s.Bus.Tx(addr, w, r)
}

// Package bme280 reads temperature and humidity from a Bosch BME280 through
// periph's bmxx80 driver.
package bme280

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

const DefaultAddr = 0x76

type Device struct {
	dev *bmxx80.Dev
}

func New(bus i2c.Bus, addr uint16) (*Device, error) {
	if addr == 0 {
		addr = DefaultAddr
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bmxx80.NewI2C: %w", err)
	}
	return &Device{dev: dev}, nil
}

func (d *Device) ReadClimate(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	var env physic.Env
	if err := d.dev.Sense(&env); err != nil {
		return 0, 0, fmt.Errorf("bme280 sense: %w", err)
	}

	// env.Humidity is fixed point at 0.00001 %rH.
	humidity := float64(env.Humidity) / float64(physic.PercentRH)
	return env.Temperature.Celsius(), humidity, nil
}

func (d *Device) Close() error {
	return d.dev.Halt()
}

// Package sht3x reads a Sensirion SHT3x using the TinyGo driver.
package sht3x

import (
	"context"
	"fmt"

	"tinygo.org/x/drivers"
	tinysht3x "tinygo.org/x/drivers/sht3x"
)

type Device struct {
	drv tinysht3x.Device
}

// New binds the driver to bus. A zero addr keeps the driver default (0x44).
func New(bus drivers.I2C, addr uint16) *Device {
	drv := tinysht3x.New(bus)
	if addr != 0 {
		drv.Address = addr
	}
	return &Device{drv: drv}
}

func (d *Device) ReadClimate(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	milliC, rhx100, err := d.drv.ReadTemperatureHumidity()
	if err != nil {
		return 0, 0, fmt.Errorf("sht3x read: %w", err)
	}
	return float64(milliC) / 1000, float64(rhx100) / 100, nil
}

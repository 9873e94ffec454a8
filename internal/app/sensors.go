package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"airquality-node/internal/capability"
	"airquality-node/internal/config"
	"airquality-node/internal/sensor"
	"airquality-node/internal/sensor/drivers/bme280"
	"airquality-node/internal/sensor/drivers/pms5003"
	"airquality-node/internal/sensor/drivers/scd4x"
	"airquality-node/internal/sensor/drivers/sht3x"
	"airquality-node/internal/sensor/drivers/sim"
	"airquality-node/internal/sensor/i2cbus"
)

// hardware owns every opened sensor driver and bus.
type hardware struct {
	sources sensor.Sources
	closers []io.Closer
}

func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openSensors opens a driver for every enabled kind. A driver that fails to
// open is logged and left nil; the aggregator then reports that kind as
// unavailable on each refresh instead of stopping the device.
func openSensors(mask capability.Mask, cfg config.Sensors, buses *i2cbus.Registry, logger *slog.Logger) *hardware {
	h := &hardware{}
	h.closers = append(h.closers, buses)

	var simulated *sim.Sensor
	simulator := func() *sim.Sensor {
		if simulated == nil {
			simulated = sim.New(time.Now().UnixNano(), 0)
		}
		return simulated
	}

	if mask.TemperatureHumidity {
		src, err := openClimate(cfg.Climate, buses, simulator)
		if err != nil {
			logger.Warn("climate sensor unavailable", "driver", cfg.Climate.Driver, "error", err)
		} else {
			h.sources.Climate = src
			h.track(src)
		}
	}
	if mask.Particulate {
		src, err := openParticulate(cfg.Particulate, simulator)
		if err != nil {
			logger.Warn("particulate sensor unavailable", "driver", cfg.Particulate.Driver, "error", err)
		} else {
			h.sources.Particulate = src
			h.track(src)
		}
	}
	if mask.CO2 {
		src, err := openCO2(cfg.CO2, buses, simulator)
		if err != nil {
			logger.Warn("co2 sensor unavailable", "driver", cfg.CO2.Driver, "error", err)
		} else {
			h.sources.CO2 = src
			h.track(src)
		}
	}
	return h
}

func (h *hardware) track(v any) {
	if c, ok := v.(io.Closer); ok {
		h.closers = append(h.closers, c)
	}
}

func openClimate(s config.Sensor, buses *i2cbus.Registry, simulator func() *sim.Sensor) (sensor.ClimateSource, error) {
	switch s.Driver {
	case "sim":
		return simulator(), nil
	case "bme280":
		bus, err := buses.Bus(s.Bus)
		if err != nil {
			return nil, err
		}
		return bme280.New(bus, s.Addr)
	case "sht3x":
		bus, err := buses.Bus(s.Bus)
		if err != nil {
			return nil, err
		}
		return sht3x.New(i2cbus.TinyGo{Bus: bus}, s.Addr), nil
	default:
		return nil, fmt.Errorf("unknown climate driver %q", s.Driver)
	}
}

func openParticulate(s config.Sensor, simulator func() *sim.Sensor) (sensor.ParticulateSource, error) {
	switch s.Driver {
	case "sim":
		return simulator(), nil
	case "pms5003":
		return pms5003.Open(s.Port)
	default:
		return nil, fmt.Errorf("unknown particulate driver %q", s.Driver)
	}
}

func openCO2(s config.Sensor, buses *i2cbus.Registry, simulator func() *sim.Sensor) (sensor.CO2Source, error) {
	switch s.Driver {
	case "sim":
		return simulator(), nil
	case "scd4x":
		bus, err := buses.Bus(s.Bus)
		if err != nil {
			return nil, err
		}
		return scd4x.New(i2cbus.TinyGo{Bus: bus}, s.Addr)
	default:
		return nil, fmt.Errorf("unknown co2 driver %q", s.Driver)
	}
}

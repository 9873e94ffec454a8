// Package sensor polls the enabled sensor kinds and keeps the current
// Reading. Drivers live in sub-packages and satisfy the source interfaces
// below.
package sensor

import (
	"context"
	"errors"
)

// Stable error strings, matched by drivers and diagnostics.
var (
	ErrUnavailable = errors.New("sensor: unavailable")
	ErrNotReady    = errors.New("sensor: not ready")
	ErrChecksum    = errors.New("sensor: checksum mismatch")
)

type Kind uint8

const (
	Climate Kind = iota
	Particulate
	CO2
	numKinds
)

func (k Kind) String() string {
	switch k {
	case Climate:
		return "climate"
	case Particulate:
		return "pm2_5"
	case CO2:
		return "co2"
	default:
		return "unknown"
	}
}

// Kinds lists every sensor kind in polling order.
func Kinds() []Kind { return []Kind{Climate, Particulate, CO2} }

// ClimateSource reads temperature in degrees Celsius (before offset) and
// relative humidity in percent.
type ClimateSource interface {
	ReadClimate(ctx context.Context) (tempC, rhPct float64, err error)
}

// ParticulateSource reads PM2.5 mass concentration in µg/m³.
type ParticulateSource interface {
	ReadPM25(ctx context.Context) (float64, error)
}

// CO2Source reads CO2 concentration in ppm.
type CO2Source interface {
	ReadCO2(ctx context.Context) (int, error)
}

// Sources holds one driver per kind. A nil source for an enabled kind is
// reported as ErrUnavailable on every refresh.
type Sources struct {
	Climate     ClimateSource
	Particulate ParticulateSource
	CO2         CO2Source
}

// Package reading holds the single current sensor snapshot shared by the
// display and the telemetry sinks.
package reading

import "time"

// Optional is a value that is either present or absent. An absent CO2 value
// is never confused with a real zero.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, ok: true} }

// None returns an absent value.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }

// Present reports whether a value is set.
func (o Optional[T]) Present() bool { return o.ok }

// OrElse returns the value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if !o.ok {
		return def
	}
	return o.value
}

// Ptr returns a pointer to a copy of the value, or nil when absent.
// Used by JSON payloads with omitempty.
func (o Optional[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.value
	return &v
}

// Timestamp pairs time since boot with the wall clock. Wall is only present
// once the clock gate has reported a valid time.
type Timestamp struct {
	Uptime time.Duration
	Wall   Optional[time.Time]
}

// Reading is the latest sensor snapshot. Fields are present iff their
// governing capability is enabled and the read succeeded this cycle.
type Reading struct {
	Timestamp Timestamp

	TemperatureCelsius      Optional[float64]
	RelativeHumidityPercent Optional[float64]
	PM25                    Optional[float64]
	CO2PPM                  Optional[int]
}

// Empty reports whether no sensor field is present.
func (r Reading) Empty() bool {
	return !r.TemperatureCelsius.Present() &&
		!r.RelativeHumidityPercent.Present() &&
		!r.PM25.Present() &&
		!r.CO2PPM.Present()
}

// CelsiusToFahrenheit converts for display only; sinks always carry Celsius.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

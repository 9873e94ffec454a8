// Package capability resolves which sensors and sinks a device runs with.
package capability

import "airquality-node/internal/config"

// Mask is fixed at boot. Sinks are never enabled without Wi-Fi.
type Mask struct {
	TemperatureHumidity bool
	Particulate         bool
	CO2                 bool

	WiFi     bool
	Influx   bool
	MQTT     bool
	MQTTAuth bool
}

// Conflict names a flag that was requested but forced off.
type Conflict struct {
	Flag   string
	Reason string
}

// Resolve builds the mask for d. Conflicts lists each sink that was enabled
// in the device file but cannot run; these are reported, not rejected.
func Resolve(d config.Device) (Mask, []Conflict) {
	m := Mask{
		TemperatureHumidity: d.Sensors.Climate.Enabled,
		Particulate:         d.Sensors.Particulate.Enabled,
		CO2:                 d.Sensors.CO2.Enabled,
		WiFi:                d.WiFi.Enabled,
		Influx:              d.InfluxDB.Enabled,
		MQTT:                d.MQTT.Enabled,
	}
	m.MQTTAuth = m.MQTT && d.MQTT.Authentication

	var conflicts []Conflict
	if !m.WiFi {
		if m.Influx {
			conflicts = append(conflicts, Conflict{Flag: "influxdb.enabled", Reason: "wifi is disabled"})
		}
		if m.MQTT {
			conflicts = append(conflicts, Conflict{Flag: "mqtt.enabled", Reason: "wifi is disabled"})
		}
		m.Influx, m.MQTT, m.MQTTAuth = false, false, false
	}
	return m, conflicts
}

// HasSensors reports whether any sensor kind is enabled.
func (m Mask) HasSensors() bool {
	return m.TemperatureHumidity || m.Particulate || m.CO2
}

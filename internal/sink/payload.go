package sink

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"airquality-node/internal/reading"
)

// Point builds the line-protocol point for r. uptime_s is always set so a
// reading with no sensor fields is still a valid point.
func Point(measurement, device string, r reading.Reading, wall time.Time) *write.Point {
	p := write.NewPointWithMeasurement(measurement).
		AddTag("device", device).
		AddField("uptime_s", int64(r.Timestamp.Uptime/time.Second)).
		SetTime(wall)

	if v, ok := r.TemperatureCelsius.Get(); ok {
		p.AddField("temperature", v)
	}
	if v, ok := r.RelativeHumidityPercent.Get(); ok {
		p.AddField("humidity", v)
	}
	if v, ok := r.PM25.Get(); ok {
		p.AddField("pm2_5", v)
	}
	if v, ok := r.CO2PPM.Get(); ok {
		p.AddField("co2", int64(v))
	}
	return p
}

// EncodeLine renders r as one line of line protocol at second precision.
func EncodeLine(measurement, device string, r reading.Reading, wall time.Time) string {
	return write.PointToLineProtocol(Point(measurement, device, r, wall), time.Second)
}

// Telemetry is the MQTT JSON payload. Absent fields are omitted.
type Telemetry struct {
	Device        string     `json:"device"`
	UptimeSeconds int64      `json:"uptime_s"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Temperature   *float64   `json:"temperature_c,omitempty"`
	Humidity      *float64   `json:"humidity_pct,omitempty"`
	PM25          *float64   `json:"pm2_5,omitempty"`
	CO2           *int       `json:"co2_ppm,omitempty"`
}

func NewTelemetry(device string, r reading.Reading) Telemetry {
	t := Telemetry{
		Device:        device,
		UptimeSeconds: int64(r.Timestamp.Uptime / time.Second),
		Timestamp:     r.Timestamp.Wall.Ptr(),
		Temperature:   r.TemperatureCelsius.Ptr(),
		Humidity:      r.RelativeHumidityPercent.Ptr(),
		PM25:          r.PM25.Ptr(),
		CO2:           r.CO2PPM.Ptr(),
	}
	if t.Timestamp != nil {
		utc := t.Timestamp.UTC().Truncate(time.Second)
		t.Timestamp = &utc
	}
	return t
}

func EncodeJSON(device string, r reading.Reading) ([]byte, error) {
	return json.Marshal(NewTelemetry(device, r))
}

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"airquality-node/internal/mqtt"
	"airquality-node/internal/reading"
)

var wall = time.Date(2024, time.May, 1, 12, 30, 15, 0, time.UTC)

func fullReading() reading.Reading {
	return reading.Reading{
		Timestamp: reading.Timestamp{
			Uptime: 90 * time.Second,
			Wall:   reading.Some(wall),
		},
		TemperatureCelsius:      reading.Some(21.37),
		RelativeHumidityPercent: reading.Some(48.2),
		PM25:                    reading.Some(6.4),
		CO2PPM:                  reading.Some(734),
	}
}

type decoded struct {
	measurement string
	tags        map[string]string
	floats      map[string]float64
	ints        map[string]int64
	at          time.Time
}

func decodeLine(t *testing.T, line string) decoded {
	t.Helper()
	dec := lineprotocol.NewDecoderWithBytes([]byte(line + "\n"))
	if !dec.Next() {
		t.Fatalf("no line in %q", line)
	}
	out := decoded{tags: map[string]string{}, floats: map[string]float64{}, ints: map[string]int64{}}

	m, err := dec.Measurement()
	if err != nil {
		t.Fatalf("measurement: %v", err)
	}
	out.measurement = string(m)
	for {
		k, v, err := dec.NextTag()
		if err != nil {
			t.Fatalf("tag: %v", err)
		}
		if k == nil {
			break
		}
		out.tags[string(k)] = string(v)
	}
	for {
		k, v, err := dec.NextField()
		if err != nil {
			t.Fatalf("field: %v", err)
		}
		if k == nil {
			break
		}
		switch v.Kind() {
		case lineprotocol.Float:
			out.floats[string(k)] = v.FloatV()
		case lineprotocol.Int:
			out.ints[string(k)] = v.IntV()
		default:
			t.Fatalf("field %s has kind %v", k, v.Kind())
		}
	}
	at, err := dec.Time(lineprotocol.Second, time.Time{})
	if err != nil {
		t.Fatalf("time: %v", err)
	}
	out.at = at
	return out
}

func TestEncodeLineRoundTrip(t *testing.T) {
	r := fullReading()
	got := decodeLine(t, EncodeLine("air_quality", "kitchen", r, wall))

	if got.measurement != "air_quality" || got.tags["device"] != "kitchen" {
		t.Errorf("measurement/tags = %s %v", got.measurement, got.tags)
	}
	want := map[string]float64{"temperature": 21.37, "humidity": 48.2, "pm2_5": 6.4}
	for k, v := range want {
		if math.Abs(got.floats[k]-v) > 1e-9 {
			t.Errorf("%s = %v; want %v", k, got.floats[k], v)
		}
	}
	if got.ints["co2"] != 734 || got.ints["uptime_s"] != 90 {
		t.Errorf("ints = %v; want co2 734 uptime_s 90", got.ints)
	}
	if !got.at.Equal(wall) {
		t.Errorf("time = %v; want %v", got.at, wall)
	}
}

func TestEncodeLineOmitsAbsentFields(t *testing.T) {
	r := fullReading()
	r.CO2PPM = reading.None[int]()
	r.PM25 = reading.None[float64]()
	got := decodeLine(t, EncodeLine("air_quality", "kitchen", r, wall))

	if _, ok := got.ints["co2"]; ok {
		t.Error("co2 present")
	}
	if _, ok := got.floats["pm2_5"]; ok {
		t.Error("pm2_5 present")
	}
	if _, ok := got.floats["temperature"]; !ok {
		t.Error("temperature missing")
	}
}

func TestEncodeLineEmptyReadingStillValid(t *testing.T) {
	r := reading.Reading{Timestamp: reading.Timestamp{Uptime: 5 * time.Second, Wall: reading.Some(wall)}}
	got := decodeLine(t, EncodeLine("air_quality", "kitchen", r, wall))
	if len(got.floats) != 0 || len(got.ints) != 1 || got.ints["uptime_s"] != 5 {
		t.Errorf("fields = %v %v; want only uptime_s", got.floats, got.ints)
	}
}

func TestEncodeJSON(t *testing.T) {
	r := fullReading()
	r.PM25 = reading.None[float64]()
	data, err := EncodeJSON("kitchen", r)
	if err != nil {
		t.Fatalf("EncodeJSON() error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["device"] != "kitchen" || got["co2_ppm"] != float64(734) || got["uptime_s"] != float64(90) {
		t.Errorf("payload = %v", got)
	}
	if _, ok := got["pm2_5"]; ok {
		t.Error("absent pm2_5 serialized")
	}
	if got["timestamp"] != "2024-05-01T12:30:15Z" {
		t.Errorf("timestamp = %v", got["timestamp"])
	}

	r.Timestamp.Wall = reading.None[time.Time]()
	data, _ = EncodeJSON("kitchen", r)
	if strings.Contains(string(data), "timestamp") {
		t.Errorf("timestamp present without wall clock: %s", data)
	}
}

func TestRequirementsCheck(t *testing.T) {
	tests := []struct {
		req               Requirements
		timeValid, linkUp bool
		want              error
	}{
		{Requirements{Link: true, Clock: true}, true, true, nil},
		{Requirements{Link: true, Clock: true}, false, true, ErrClockInvalid},
		{Requirements{Link: true, Clock: true}, true, false, ErrLinkDown},
		{Requirements{Link: true}, false, true, nil},
		{Requirements{Link: true}, false, false, ErrLinkDown},
	}
	for _, tt := range tests {
		if got := tt.req.Check(tt.timeValid, tt.linkUp); !errors.Is(got, tt.want) || (tt.want == nil && got != nil) {
			t.Errorf("%+v.Check(%v, %v) = %v; want %v", tt.req, tt.timeValid, tt.linkUp, got, tt.want)
		}
	}
}

type fakeWriter struct {
	lines []string
	err   error
}

func (w *fakeWriter) WriteRecord(ctx context.Context, line ...string) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, line...)
	return nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestInfluxPublish(t *testing.T) {
	w := &fakeWriter{}
	s := newInfluxWithWriter(InfluxOptions{Measurement: "air_quality", Device: "kitchen", Timeout: time.Second}, w)

	if err := s.Publish(context.Background(), fullReading()); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if len(w.lines) != 1 || !strings.HasPrefix(w.lines[0], "air_quality,device=kitchen ") {
		t.Fatalf("lines = %q", w.lines)
	}

	r := fullReading()
	r.Timestamp.Wall = reading.None[time.Time]()
	if err := s.Publish(context.Background(), r); !errors.Is(err, ErrClockInvalid) {
		t.Fatalf("Publish() without wall clock = %v; want ErrClockInvalid", err)
	}
	if len(w.lines) != 1 {
		t.Error("point written without wall clock")
	}
}

func TestInfluxPublishErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &influxhttp.Error{StatusCode: http.StatusUnauthorized, Message: "unauthorized access"}, ErrAuth},
		{"forbidden", &influxhttp.Error{StatusCode: http.StatusForbidden, Message: "no write permission"}, ErrAuth},
		{"bad request", &influxhttp.Error{StatusCode: http.StatusBadRequest, Message: "partial write"}, ErrEncode},
		{"server error", &influxhttp.Error{StatusCode: http.StatusServiceUnavailable, Message: "down"}, ErrNetwork},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), ErrTimeout},
		{"net timeout", timeoutErr{}, ErrTimeout},
		{"refused", errors.New("dial tcp 127.0.0.1:8086: connect: connection refused"), ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newInfluxWithWriter(InfluxOptions{Measurement: "m", Device: "d", Timeout: time.Second}, &fakeWriter{err: tt.err})
			err := s.Publish(context.Background(), fullReading())

			var pe *PublishError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v; want *PublishError", err)
			}
			if pe.Sink != "influx" || !errors.Is(err, tt.want) || KindOf(err) != tt.want {
				t.Errorf("error = %v (kind %v); want kind %v", err, pe.Kind, tt.want)
			}
			if IsSkip(err) {
				t.Error("publish failure reported as skip")
			}
		})
	}
}

type fakePublisher struct {
	connected  bool
	connectErr error
	publishErr error
	connects   int
	topics     []string
	payloads   [][]byte
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func (p *fakePublisher) Connect(context.Context) error {
	p.connects++
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected = true
	return nil
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestMQTTPublishConnectsOnce(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTT(MQTTOptions{Device: "kitchen", TopicPrefix: "airquality", RequireTimeSync: true}, pub)

	for i := 0; i < 3; i++ {
		if err := s.Publish(context.Background(), fullReading()); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	if pub.connects != 1 {
		t.Errorf("connects = %d; want 1", pub.connects)
	}
	if len(pub.topics) != 3 || pub.topics[0] != "airquality/kitchen/telemetry" {
		t.Errorf("topics = %v", pub.topics)
	}
	if !s.Requires().Clock {
		t.Error("RequireTimeSync not reflected in Requires()")
	}
}

func TestMQTTPublishErrors(t *testing.T) {
	tests := []struct {
		name string
		pub  *fakePublisher
		want error
	}{
		{"auth refused", &fakePublisher{connectErr: fmt.Errorf("mqtt connect: %w", mqtt.ErrRefusedAuth)}, ErrAuth},
		{"connect timeout", &fakePublisher{connectErr: mqtt.ErrTimeout}, ErrTimeout},
		{"connect refused", &fakePublisher{connectErr: errors.New("dial tcp: connection refused")}, ErrNetwork},
		{"publish timeout", &fakePublisher{connected: true, publishErr: fmt.Errorf("publish: %w", mqtt.ErrTimeout)}, ErrTimeout},
		{"publish lost", &fakePublisher{connected: true, publishErr: mqtt.ErrNotConnected}, ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMQTT(MQTTOptions{Device: "d", TopicPrefix: "p"}, tt.pub)
			err := s.Publish(context.Background(), fullReading())
			if KindOf(err) != tt.want {
				t.Errorf("Publish() error = %v; want kind %v", err, tt.want)
			}
		})
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("", "kitchen"); got != "kitchen/telemetry" {
		t.Errorf("Topic(\"\", kitchen) = %q", got)
	}
	if got := Topic("site/a", "kitchen"); got != "site/a/kitchen/telemetry" {
		t.Errorf("Topic(site/a, kitchen) = %q", got)
	}
}

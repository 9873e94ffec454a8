package sink

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"

	"airquality-node/internal/reading"
)

type InfluxOptions struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Device      string
	Timeout     time.Duration
}

// lineWriter is the part of api.WriteAPIBlocking the sink uses.
type lineWriter interface {
	WriteRecord(ctx context.Context, line ...string) error
}

type Influx struct {
	opts   InfluxOptions
	writer lineWriter
	close  func()
}

// NewInflux creates an InfluxDB v2 client for one org and bucket.
func NewInflux(o InfluxOptions) *Influx {
	secs := uint(math.Ceil(o.Timeout.Seconds()))
	if secs == 0 {
		secs = 1
	}
	client := influxdb2.NewClientWithOptions(o.URL, o.Token,
		influxdb2.DefaultOptions().
			SetPrecision(time.Second).
			SetHTTPRequestTimeout(secs))

	return &Influx{
		opts:   o,
		writer: client.WriteAPIBlocking(o.Org, o.Bucket),
		close:  client.Close,
	}
}

func newInfluxWithWriter(o InfluxOptions, w lineWriter) *Influx {
	return &Influx{opts: o, writer: w, close: func() {}}
}

func (s *Influx) Name() string { return "influx" }

func (s *Influx) Requires() Requirements { return Requirements{Link: true, Clock: true} }

// Publish writes one point. A reading without a wall-clock timestamp is
// skipped with ErrClockInvalid.
func (s *Influx) Publish(ctx context.Context, r reading.Reading) error {
	wall, ok := r.Timestamp.Wall.Get()
	if !ok {
		return ErrClockInvalid
	}

	line := EncodeLine(s.opts.Measurement, s.opts.Device, r, wall)

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if err := s.writer.WriteRecord(ctx, line); err != nil {
		return &PublishError{Sink: s.Name(), Kind: classifyInflux(err), Err: err}
	}
	return nil
}

func (s *Influx) Close() { s.close() }

func classifyInflux(err error) error {
	var he *influxhttp.Error
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuth
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return ErrTimeout
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return ErrEncode
		}
	}
	if isTimeout(err) {
		return ErrTimeout
	}
	return ErrNetwork
}

var _ Sink = (*Influx)(nil)

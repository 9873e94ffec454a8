package pms5003

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"airquality-node/internal/sensor"
)

const (
	readWindow    = 50 * time.Millisecond
	defaultMaxAge = 10 * time.Second
)

// Port is the subset of *os.File the driver needs.
type Port interface {
	io.ReadCloser
	SetReadDeadline(t time.Time) error
}

type Device struct {
	mu     sync.Mutex
	port   Port
	parser Parser
	buf    []byte

	MaxAge time.Duration
	now    func() time.Time

	latest   Frame
	latestAt time.Time
}

// Open configures path for 9600 8N1 raw mode and returns a driver for it.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|syscallNoCtty, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := configurePort(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	return NewWithPort(f), nil
}

func NewWithPort(p Port) *Device {
	return &Device{
		port:   p,
		buf:    make([]byte, 256),
		MaxAge: defaultMaxAge,
		now:    time.Now,
	}
}

// ReadPM25 drains whatever the sensor has sent within a short window and
// returns the newest atmospheric PM2.5 value.
func (d *Device) ReadPM25(ctx context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline := d.now().Add(readWindow)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.port.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("pms5003 deadline: %w", err)
	}

	for {
		n, err := d.port.Read(d.buf)
		if n > 0 {
			if frames := d.parser.Feed(d.buf[:n]); len(frames) > 0 {
				d.latest = frames[len(frames)-1]
				d.latestAt = d.now()
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return 0, fmt.Errorf("pms5003 read: %w", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if d.latestAt.IsZero() || d.now().Sub(d.latestAt) > d.MaxAge {
		return 0, sensor.ErrNotReady
	}
	return float64(d.latest.PM25), nil
}

func (d *Device) Close() error {
	return d.port.Close()
}

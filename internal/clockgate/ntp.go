package clockgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beevik/ntp"
)

const maxOffset = 24 * time.Hour

// NTPProbe periodically queries an NTP server. Time validity is reported on
// the first good response and withdrawn only after FailureThreshold
// consecutive failures.
type NTPProbe struct {
	Server           string
	Interval         time.Duration
	RetryInterval    time.Duration
	Timeout          time.Duration
	FailureThreshold int
	Logger           *slog.Logger

	query func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

	valid    bool
	failures int
}

func NewNTPProbe(server string, interval time.Duration, failureThreshold int, logger *slog.Logger) *NTPProbe {
	return &NTPProbe{
		Server:           server,
		Interval:         interval,
		RetryInterval:    10 * time.Second,
		Timeout:          3 * time.Second,
		FailureThreshold: failureThreshold,
		Logger:           logger,
		query:            ntp.QueryWithOptions,
	}
}

func (p *NTPProbe) Run(ctx context.Context, out chan<- Update) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if u, changed := p.step(); changed {
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}

		wait := p.Interval
		if !p.valid {
			wait = p.RetryInterval
		}
		timer.Reset(wait)
	}
}

// step performs one query. It returns an update when the gate should hear
// about the result.
func (p *NTPProbe) step() (Update, bool) {
	offset, err := p.sync()
	if err == nil {
		p.failures = 0
		p.valid = true
		p.Logger.Debug("ntp sync", "server", p.Server, "offset", offset)
		return Synced(offset), true
	}

	p.failures++
	p.Logger.Warn("ntp sync failed", "server", p.Server, "failures", p.failures, "error", err)
	if p.valid && p.failures >= p.FailureThreshold {
		p.valid = false
		return TimeValid(false), true
	}
	return Update{}, false
}

func (p *NTPProbe) sync() (time.Duration, error) {
	resp, err := p.query(p.Server, ntp.QueryOptions{Timeout: p.Timeout})
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", p.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("validate %s: %w", p.Server, err)
	}
	if resp.ClockOffset > maxOffset || resp.ClockOffset < -maxOffset {
		return 0, errors.New("clock offset out of range: " + resp.ClockOffset.String())
	}
	return resp.ClockOffset, nil
}

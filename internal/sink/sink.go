// Package sink publishes Readings to remote telemetry destinations. Each
// Publish is one bounded attempt; callers never retry.
package sink

import (
	"context"
	"errors"
	"net"

	"airquality-node/internal/reading"
)

// Link errors: the sink was skipped this cycle. Not publish failures.
var (
	ErrLinkDown     = errors.New("sink: link down")
	ErrClockInvalid = errors.New("sink: wall clock not valid")
)

// PublishError kinds.
var (
	ErrNetwork = errors.New("network")
	ErrAuth    = errors.New("auth")
	ErrTimeout = errors.New("timeout")
	ErrEncode  = errors.New("encode")
)

type Sink interface {
	Name() string
	Requires() Requirements
	Publish(ctx context.Context, r reading.Reading) error
}

// Requirements are the gate conditions a sink needs before it is invoked.
type Requirements struct {
	Link  bool
	Clock bool
}

// Check returns ErrLinkDown or ErrClockInvalid when the gate state does not
// meet r, and nil otherwise.
func (r Requirements) Check(timeValid, linkUp bool) error {
	if r.Link && !linkUp {
		return ErrLinkDown
	}
	if r.Clock && !timeValid {
		return ErrClockInvalid
	}
	return nil
}

// PublishError is a failed attempt at one sink.
type PublishError struct {
	Sink string
	Kind error
	Err  error
}

func (e *PublishError) Error() string {
	return e.Sink + " publish " + e.Kind.Error() + ": " + e.Err.Error()
}

func (e *PublishError) Unwrap() []error { return []error{e.Kind, e.Err} }

// IsSkip reports whether err means the sink was not attempted.
func IsSkip(err error) bool {
	return errors.Is(err, ErrLinkDown) || errors.Is(err, ErrClockInvalid)
}

// KindOf returns the PublishError kind of err, or nil.
func KindOf(err error) error {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

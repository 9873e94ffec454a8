package clockgate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/beevik/ntp"
)

func TestGateStartsClosed(t *testing.T) {
	var g Gate
	if g.Ready() || g.TimeValid() || g.LinkUp() {
		t.Fatalf("zero Gate not closed: %+v", g)
	}
	if _, ok := g.Wall(time.Now()); ok {
		t.Fatal("Wall reported valid before sync")
	}
}

func TestGateObserve(t *testing.T) {
	tests := []struct {
		timeValid, linkUp, want bool
	}{
		{false, false, false},
		{true, false, false},
		{false, true, false},
		{true, true, true},
	}
	for _, tt := range tests {
		var g Gate
		g.Observe(tt.timeValid, tt.linkUp)
		if got := g.Ready(); got != tt.want {
			t.Errorf("Observe(%v, %v).Ready() = %v; want %v", tt.timeValid, tt.linkUp, got, tt.want)
		}
	}
}

func TestGateApplyPartial(t *testing.T) {
	var g Gate
	g.Apply(Synced(2 * time.Second))
	g.Apply(LinkUp(true))
	if !g.Ready() {
		t.Fatal("not ready after sync and link up")
	}

	g.Apply(LinkUp(false))
	if g.Ready() || !g.TimeValid() {
		t.Fatalf("link flap changed time validity: %+v", g)
	}

	local := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	wall, ok := g.Wall(local)
	if !ok || !wall.Equal(local.Add(2*time.Second)) {
		t.Errorf("Wall() = %v, %v; want offset applied", wall, ok)
	}
}

func TestGateDrain(t *testing.T) {
	ch := make(chan Update, 4)
	ch <- TimeValid(true)
	ch <- LinkUp(true)
	ch <- LinkUp(false)

	var g Gate
	if n := g.Drain(ch); n != 3 {
		t.Fatalf("Drain() = %d; want 3", n)
	}
	if !g.TimeValid() || g.LinkUp() {
		t.Errorf("state after drain = %+v; want time valid, link down", g)
	}
	if n := g.Drain(ch); n != 0 {
		t.Errorf("second Drain() = %d; want 0", n)
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func goodResponse(offset time.Duration) *ntp.Response {
	now := time.Now()
	return &ntp.Response{
		Time:          now,
		ReferenceTime: now.Add(-time.Minute),
		ClockOffset:   offset,
		Stratum:       2,
		Leap:          ntp.LeapNoWarning,
	}
}

func TestNTPProbeThreshold(t *testing.T) {
	var fail bool
	p := NewNTPProbe("pool.example", time.Minute, 3, discard())
	p.query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		if fail {
			return nil, errors.New("timeout")
		}
		return goodResponse(50 * time.Millisecond), nil
	}

	// Failures before the first sync never report anything.
	fail = true
	if _, changed := p.step(); changed {
		t.Fatal("failure before first sync produced an update")
	}

	fail = false
	u, changed := p.step()
	if !changed || u.TimeValid == nil || !*u.TimeValid || u.Offset == nil || *u.Offset != 50*time.Millisecond {
		t.Fatalf("sync update = %+v, %v", u, changed)
	}

	fail = true
	for i := 1; i < 3; i++ {
		if _, changed := p.step(); changed {
			t.Fatalf("failure %d below threshold produced an update", i)
		}
	}
	u, changed = p.step()
	if !changed || u.TimeValid == nil || *u.TimeValid {
		t.Fatalf("update at threshold = %+v, %v; want TimeValid=false", u, changed)
	}
}

func TestNTPProbeRejectsInvalidResponse(t *testing.T) {
	p := NewNTPProbe("pool.example", time.Minute, 1, discard())
	p.query = func(string, ntp.QueryOptions) (*ntp.Response, error) {
		r := goodResponse(0)
		r.Stratum = 0
		return r, nil
	}
	if _, changed := p.step(); changed {
		t.Fatal("kiss-of-death response accepted")
	}
}

func TestNTPProbeRunPushes(t *testing.T) {
	p := NewNTPProbe("pool.example", time.Hour, 3, discard())
	p.query = func(string, ntp.QueryOptions) (*ntp.Response, error) { return goodResponse(0), nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Update, 1)
	go p.Run(ctx, out)

	select {
	case u := <-out:
		if u.TimeValid == nil || !*u.TimeValid {
			t.Errorf("first update = %+v; want TimeValid=true", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update from NTP probe")
	}
}

func TestLinkProbeReportsChangesOnly(t *testing.T) {
	up := false
	p := NewLinkProbe("wlan0", time.Second)
	p.check = func(name string) (bool, error) {
		if name != "wlan0" {
			t.Errorf("checked %q; want wlan0", name)
		}
		return up, nil
	}

	u, changed := p.step()
	if !changed || *u.LinkUp {
		t.Fatalf("initial step = %+v, %v; want link down reported", u, changed)
	}
	if _, changed := p.step(); changed {
		t.Fatal("unchanged state reported twice")
	}
	up = true
	u, changed = p.step()
	if !changed || !*u.LinkUp {
		t.Fatalf("step after link up = %+v, %v", u, changed)
	}
}

func TestLinkProbeErrorMeansDown(t *testing.T) {
	p := NewLinkProbe("missing0", time.Second)
	p.check = func(string) (bool, error) { return true, errors.New("no such interface") }
	u, changed := p.step()
	if !changed || *u.LinkUp {
		t.Fatalf("step = %+v, %v; want link down", u, changed)
	}
}

// Package clockgate tracks whether the wall clock is trustworthy and the
// network link is usable. Probes run beside the device loop and push partial
// updates; the loop applies them between ticks.
package clockgate

import "time"

// Update is a partial state change. Nil fields are left as they are.
type Update struct {
	TimeValid *bool
	LinkUp    *bool
	// Offset is the measured correction to the local clock; it is only
	// meaningful together with TimeValid=true.
	Offset *time.Duration
}

func TimeValid(v bool) Update { return Update{TimeValid: &v} }

func LinkUp(v bool) Update { return Update{LinkUp: &v} }

// Synced reports a successful time sync with the given clock offset.
func Synced(offset time.Duration) Update {
	v := true
	return Update{TimeValid: &v, Offset: &offset}
}

// Gate starts closed: no valid time, no link.
type Gate struct {
	timeValid bool
	linkUp    bool
	offset    time.Duration
}

// Observe replaces both flags at once.
func (g *Gate) Observe(timeValid, linkUp bool) {
	g.timeValid = timeValid
	g.linkUp = linkUp
}

// Apply sets the fields u carries and leaves the rest unchanged.
func (g *Gate) Apply(u Update) {
	if u.TimeValid != nil {
		g.timeValid = *u.TimeValid
	}
	if u.LinkUp != nil {
		g.linkUp = *u.LinkUp
	}
	if u.Offset != nil {
		g.offset = *u.Offset
	}
}

// Drain applies every pending update without blocking and returns how many
// were applied.
func (g *Gate) Drain(ch <-chan Update) int {
	n := 0
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return n
			}
			g.Apply(u)
			n++
		default:
			return n
		}
	}
}

// Ready reports whether the clock is valid and the link is up.
func (g *Gate) Ready() bool { return g.timeValid && g.linkUp }

// TimeValid reports whether the wall clock has been synced.
func (g *Gate) TimeValid() bool { return g.timeValid }

// LinkUp reports whether the network link is usable.
func (g *Gate) LinkUp() bool { return g.linkUp }

// Wall returns the corrected wall-clock time for local, and false while the
// clock has not been synced.
func (g *Gate) Wall(local time.Time) (time.Time, bool) {
	if !g.timeValid {
		return time.Time{}, false
	}
	return local.Add(g.offset), true
}

package clockgate

import (
	"context"
	"fmt"
	"net"
	"time"
)

// LinkProbe watches network interfaces and reports link changes.
type LinkProbe struct {
	// Interface restricts the check to one interface; empty accepts any
	// non-loopback interface.
	Interface string
	Interval  time.Duration

	check func(name string) (bool, error)
	last  *bool
}

func NewLinkProbe(iface string, interval time.Duration) *LinkProbe {
	return &LinkProbe{Interface: iface, Interval: interval, check: interfaceUp}
}

func (p *LinkProbe) Run(ctx context.Context, out chan<- Update) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		if u, changed := p.step(); changed {
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *LinkProbe) step() (Update, bool) {
	up, err := p.check(p.Interface)
	if err != nil {
		up = false
	}
	if p.last != nil && *p.last == up {
		return Update{}, false
	}
	p.last = &up
	return LinkUp(up), true
}

// interfaceUp reports whether name (or any interface when empty) is up and
// holds a non-loopback unicast address.
func interfaceUp(name string) (bool, error) {
	var ifaces []net.Interface
	if name != "" {
		ifc, err := net.InterfaceByName(name)
		if err != nil {
			return false, fmt.Errorf("interface %s: %w", name, err)
		}
		ifaces = []net.Interface{*ifc}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return false, fmt.Errorf("list interfaces: %w", err)
		}
		ifaces = all
	}

	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if ok && ipn.IP.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, nil
}

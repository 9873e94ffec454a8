// Package tz evaluates the device time-zone setting. It accepts POSIX TZ rules
// of the form std offset [dst [offset] [,start[/time],end[/time]]] and, as a
// fallback, IANA names resolved through the system zone database.
package tz

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalid = errors.New("tz: invalid rule")

// Rules used when a DST name is given without transition dates (US rules).
var defaultStart = transition{kind: monthWeekDay, month: 3, week: 2, day: 0, secs: 2 * 3600}
var defaultEnd = transition{kind: monthWeekDay, month: 11, week: 1, day: 0, secs: 2 * 3600}

type dateKind int

const (
	julianNoLeap dateKind = iota // Jn, 1..365, Feb 29 never counted
	julianZero                   // n, 0..365, Feb 29 counted
	monthWeekDay                 // Mm.w.d
)

type transition struct {
	kind  dateKind
	day   int // weekday for Mm.w.d, day number otherwise
	week  int
	month int
	secs  int // local time of day of the transition
}

// Zone converts instants to local time for the device display.
type Zone struct {
	rule string
	loc  *time.Location

	std, dst       string
	stdOff, dstOff int // seconds east of UTC
	hasDST         bool
	start, end     transition
}

// Parse parses a POSIX rule, falling back to an IANA zone name.
func Parse(rule string) (*Zone, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}
	z, perr := parsePOSIX(rule)
	if perr == nil {
		return z, nil
	}
	if loc, err := time.LoadLocation(rule); err == nil {
		return &Zone{rule: rule, loc: loc}, nil
	}
	return nil, perr
}

// MustParse is Parse for constants and tests.
func MustParse(rule string) *Zone {
	z, err := Parse(rule)
	if err != nil {
		panic(err)
	}
	return z
}

func (z *Zone) String() string { return z.rule }

// In returns t in the zone's local offset.
func (z *Zone) In(t time.Time) time.Time {
	if z.loc != nil {
		return t.In(z.loc)
	}
	if z.isDST(t) {
		return t.In(time.FixedZone(z.dst, z.dstOff))
	}
	return t.In(time.FixedZone(z.std, z.stdOff))
}

func (z *Zone) isDST(t time.Time) bool {
	if !z.hasDST {
		return false
	}
	unix := t.Unix()
	year := t.In(time.FixedZone(z.std, z.stdOff)).Year()
	start := z.start.at(year) - int64(z.stdOff)
	end := z.end.at(year) - int64(z.dstOff)
	if start < end {
		return unix >= start && unix < end
	}
	// Southern hemisphere: DST spans the new year.
	return !(unix >= end && unix < start)
}

// at returns the transition as local seconds since the epoch for year.
func (tr transition) at(year int) int64 {
	var date time.Time
	switch tr.kind {
	case julianNoLeap:
		yday := tr.day - 1
		if isLeap(year) && tr.day >= 60 {
			yday++
		}
		date = time.Date(year, time.January, 1+yday, 0, 0, 0, 0, time.UTC)
	case julianZero:
		date = time.Date(year, time.January, 1+tr.day, 0, 0, 0, 0, time.UTC)
	default:
		first := time.Date(year, time.Month(tr.month), 1, 0, 0, 0, 0, time.UTC)
		day := 1 + (tr.day-int(first.Weekday())+7)%7 + (tr.week-1)*7
		last := daysIn(year, tr.month)
		for day > last {
			day -= 7
		}
		date = time.Date(year, time.Month(tr.month), day, 0, 0, 0, 0, time.UTC)
	}
	return date.Unix() + int64(tr.secs)
}

func isLeap(y int) bool { return y%4 == 0 && (y%100 != 0 || y%400 == 0) }

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

type parser struct {
	s   string
	pos int
}

func parsePOSIX(rule string) (*Zone, error) {
	p := &parser{s: rule}
	z := &Zone{rule: rule}

	var err error
	if z.std, err = p.name(); err != nil {
		return nil, err
	}
	off, err := p.offset()
	if err != nil {
		return nil, err
	}
	// POSIX offsets are positive west of Greenwich.
	z.stdOff = -off

	if p.done() {
		return z, nil
	}

	z.hasDST = true
	if z.dst, err = p.name(); err != nil {
		return nil, err
	}
	z.dstOff = z.stdOff + 3600
	if !p.done() && p.peek() != ',' {
		off, err := p.offset()
		if err != nil {
			return nil, err
		}
		z.dstOff = -off
	}

	if p.done() {
		z.start, z.end = defaultStart, defaultEnd
		return z, nil
	}
	if !p.eat(',') {
		return nil, p.fail("expected ','")
	}
	if z.start, err = p.transition(); err != nil {
		return nil, err
	}
	if !p.eat(',') {
		return nil, p.fail("expected ',' between transitions")
	}
	if z.end, err = p.transition(); err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.fail("trailing characters")
	}
	return z, nil
}

func (p *parser) done() bool { return p.pos >= len(p.s) }

func (p *parser) peek() byte { return p.s[p.pos] }

func (p *parser) eat(c byte) bool {
	if !p.done() && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) fail(msg string) error {
	return fmt.Errorf("%w: %s at offset %d in %q", ErrInvalid, msg, p.pos, p.s)
}

func (p *parser) name() (string, error) {
	if p.eat('<') {
		start := p.pos
		for !p.done() && p.peek() != '>' {
			p.pos++
		}
		name := p.s[start:p.pos]
		if !p.eat('>') {
			return "", p.fail("unterminated quoted name")
		}
		if len(name) < 3 {
			return "", p.fail("zone name too short")
		}
		return name, nil
	}
	start := p.pos
	for !p.done() && isAlpha(p.peek()) {
		p.pos++
	}
	if p.pos-start < 3 {
		return "", p.fail("zone name too short")
	}
	return p.s[start:p.pos], nil
}

// offset parses [+|-]hh[:mm[:ss]] and returns seconds.
func (p *parser) offset() (int, error) {
	sign := 1
	if p.eat('-') {
		sign = -1
	} else {
		p.eat('+')
	}
	secs, err := p.clock(24)
	if err != nil {
		return 0, err
	}
	return sign * secs, nil
}

func (p *parser) clock(maxHours int) (int, error) {
	h, ok := p.number()
	if !ok {
		return 0, p.fail("expected hours")
	}
	if h > maxHours {
		return 0, p.fail("hours out of range")
	}
	secs := h * 3600
	for _, mult := range []int{60, 1} {
		if !p.eat(':') {
			break
		}
		n, ok := p.number()
		if !ok || n > 59 {
			return 0, p.fail("bad minutes or seconds")
		}
		secs += n * mult
	}
	return secs, nil
}

func (p *parser) number() (int, bool) {
	start := p.pos
	n := 0
	for !p.done() && isDigit(p.peek()) {
		n = n*10 + int(p.peek()-'0')
		p.pos++
	}
	return n, p.pos > start
}

func (p *parser) transition() (transition, error) {
	var tr transition
	switch {
	case p.eat('M'):
		tr.kind = monthWeekDay
		var ok bool
		if tr.month, ok = p.number(); !ok || tr.month < 1 || tr.month > 12 {
			return tr, p.fail("bad month")
		}
		if !p.eat('.') {
			return tr, p.fail("expected '.'")
		}
		if tr.week, ok = p.number(); !ok || tr.week < 1 || tr.week > 5 {
			return tr, p.fail("bad week")
		}
		if !p.eat('.') {
			return tr, p.fail("expected '.'")
		}
		if tr.day, ok = p.number(); !ok || tr.day > 6 {
			return tr, p.fail("bad weekday")
		}
	case p.eat('J'):
		tr.kind = julianNoLeap
		var ok bool
		if tr.day, ok = p.number(); !ok || tr.day < 1 || tr.day > 365 {
			return tr, p.fail("bad julian day")
		}
	default:
		tr.kind = julianZero
		var ok bool
		if tr.day, ok = p.number(); !ok || tr.day > 365 {
			return tr, p.fail("bad day of year")
		}
	}

	tr.secs = 2 * 3600
	if p.eat('/') {
		sign := 1
		if p.eat('-') {
			sign = -1
		} else {
			p.eat('+')
		}
		secs, err := p.clock(167)
		if err != nil {
			return tr, err
		}
		tr.secs = sign * secs
	}
	return tr, nil
}

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

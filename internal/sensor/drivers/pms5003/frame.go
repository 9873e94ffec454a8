// Package pms5003 reads PM2.5 from a Plantower PMS5003 over a serial port.
// The sensor streams 32-byte frames in active mode; the driver keeps the
// newest valid frame.
package pms5003

import (
	"encoding/binary"
	"fmt"

	"airquality-node/internal/sensor"
)

const (
	frameLen   = 32
	payloadLen = frameLen - 4 // length field value
	start1     = 0x42
	start2     = 0x4D
)

// Frame holds the concentrations in µg/m³.
type Frame struct {
	PM1CF1  uint16
	PM25CF1 uint16
	PM10CF1 uint16
	// Atmospheric environment values, used for telemetry.
	PM1  uint16
	PM25 uint16
	PM10 uint16
}

// Parser reassembles frames from an arbitrary byte stream.
type Parser struct {
	buf []byte
	// Dropped counts frames rejected for a bad length or checksum.
	Dropped int
}

// Feed appends p and returns every complete valid frame found.
func (p *Parser) Feed(b []byte) []Frame {
	p.buf = append(p.buf, b...)
	var out []Frame
	for {
		i := p.sync()
		if i < 0 || len(p.buf)-i < frameLen {
			if i > 0 {
				p.buf = append(p.buf[:0], p.buf[i:]...)
			}
			return out
		}
		raw := p.buf[i : i+frameLen]
		f, err := decode(raw)
		if err != nil {
			p.Dropped++
			// Skip this header and resync.
			p.buf = append(p.buf[:0], p.buf[i+1:]...)
			continue
		}
		out = append(out, f)
		p.buf = append(p.buf[:0], p.buf[i+frameLen:]...)
	}
}

// sync returns the index of the next frame header, or -1. A trailing lone
// start byte is kept for the next Feed.
func (p *Parser) sync() int {
	for i := 0; i < len(p.buf); i++ {
		if p.buf[i] != start1 {
			continue
		}
		if i+1 == len(p.buf) || p.buf[i+1] == start2 {
			return i
		}
	}
	p.buf = p.buf[:0]
	return -1
}

func decode(raw []byte) (Frame, error) {
	if n := binary.BigEndian.Uint16(raw[2:4]); n != payloadLen {
		return Frame{}, fmt.Errorf("pms5003: frame length %d", n)
	}
	var sum uint16
	for _, b := range raw[:frameLen-2] {
		sum += uint16(b)
	}
	if want := binary.BigEndian.Uint16(raw[frameLen-2:]); sum != want {
		return Frame{}, fmt.Errorf("pms5003: %w", sensor.ErrChecksum)
	}
	word := func(i int) uint16 { return binary.BigEndian.Uint16(raw[4+2*i:]) }
	return Frame{
		PM1CF1:  word(0),
		PM25CF1: word(1),
		PM10CF1: word(2),
		PM1:     word(3),
		PM25:    word(4),
		PM10:    word(5),
	}, nil
}

// Package display formats the latest Reading for the local screen.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"airquality-node/internal/reading"
	"airquality-node/internal/tz"
)

var (
	colorBorder = lipgloss.Color("62")
	colorTitle  = lipgloss.Color("51")
	colorLabel  = lipgloss.Color("252")
	colorDim    = lipgloss.Color("240")
	colorValue  = lipgloss.Color("214")
)

const labelWidth = 7

type Presenter struct {
	device     string
	fahrenheit bool
	zone       *tz.Zone

	panel lipgloss.Style
	title lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
	dim   lipgloss.Style
}

// NewPresenter renders for device. zone may be nil, in which case the wall
// clock is shown in UTC.
func NewPresenter(device string, fahrenheit bool, zone *tz.Zone) *Presenter {
	return &Presenter{
		device:     device,
		fahrenheit: fahrenheit,
		zone:       zone,
		panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		title: lipgloss.NewStyle().Foreground(colorTitle).Bold(true),
		label: lipgloss.NewStyle().Foreground(colorLabel).Width(labelWidth),
		value: lipgloss.NewStyle().Foreground(colorValue),
		dim:   lipgloss.NewStyle().Foreground(colorDim),
	}
}

// Render returns a multi-line panel. Absent fields are left out.
func (p *Presenter) Render(r reading.Reading) string {
	lines := []string{p.title.Render(p.device), p.clock(r.Timestamp)}

	if c, ok := r.TemperatureCelsius.Get(); ok {
		unit := "°C"
		if p.fahrenheit {
			c, unit = reading.CelsiusToFahrenheit(c), "°F"
		}
		lines = append(lines, p.row("Temp", fmt.Sprintf("%.1f %s", c, unit)))
	}
	if rh, ok := r.RelativeHumidityPercent.Get(); ok {
		lines = append(lines, p.row("RH", fmt.Sprintf("%.0f %%", rh)))
	}
	if pm, ok := r.PM25.Get(); ok {
		lines = append(lines, p.row("PM2.5", fmt.Sprintf("%.1f µg/m³", pm)))
	}
	if co2, ok := r.CO2PPM.Get(); ok {
		lines = append(lines, p.row("CO2", fmt.Sprintf("%d ppm", co2)))
	}
	if r.Empty() {
		lines = append(lines, p.dim.Render("no sensor data"))
	}

	return p.panel.Render(strings.Join(lines, "\n"))
}

func (p *Presenter) row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, p.label.Render(label), p.value.Render(value))
}

func (p *Presenter) clock(ts reading.Timestamp) string {
	wall, ok := ts.Wall.Get()
	if !ok {
		return p.dim.Render(fmt.Sprintf("up %s, time not synced", ts.Uptime.Truncate(time.Second)))
	}
	if p.zone != nil {
		wall = p.zone.In(wall)
	} else {
		wall = wall.UTC()
	}
	return p.dim.Render(wall.Format("2006-01-02 15:04:05 MST"))
}

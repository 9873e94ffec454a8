package tz

import (
	"errors"
	"testing"
	"time"
)

func TestParsePOSIX(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		at       time.Time
		wantName string
		wantOff  int
	}{
		{
			name:     "eastern winter",
			rule:     "EST+5EDT,M3.2.0/2,M11.1.0/2",
			at:       time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC),
			wantName: "EST",
			wantOff:  -5 * 3600,
		},
		{
			name:     "eastern summer",
			rule:     "EST+5EDT,M3.2.0/2,M11.1.0/2",
			at:       time.Date(2024, time.July, 4, 12, 0, 0, 0, time.UTC),
			wantName: "EDT",
			wantOff:  -4 * 3600,
		},
		{
			name:     "dst without dates uses default rules",
			rule:     "CST6CDT",
			at:       time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
			wantName: "CDT",
			wantOff:  -5 * 3600,
		},
		{
			name:     "no dst",
			rule:     "JST-9",
			at:       time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
			wantName: "JST",
			wantOff:  9 * 3600,
		},
		{
			name:     "quoted names and minutes",
			rule:     "<+0530>-5:30",
			at:       time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
			wantName: "+0530",
			wantOff:  5*3600 + 30*60,
		},
		{
			name:     "southern hemisphere in january",
			rule:     "AEST-10AEDT,M10.1.0,M4.1.0/3",
			at:       time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC),
			wantName: "AEDT",
			wantOff:  11 * 3600,
		},
		{
			name:     "southern hemisphere in july",
			rule:     "AEST-10AEDT,M10.1.0,M4.1.0/3",
			at:       time.Date(2024, time.July, 10, 0, 0, 0, 0, time.UTC),
			wantName: "AEST",
			wantOff:  10 * 3600,
		},
		{
			name:     "julian day rules",
			rule:     "XST3XDT,J60/0,J300/0",
			at:       time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC),
			wantName: "XDT",
			wantOff:  -2 * 3600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, err := Parse(tt.rule)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.rule, err)
			}
			name, off := z.In(tt.at).Zone()
			if name != tt.wantName || off != tt.wantOff {
				t.Errorf("In(%v).Zone() = %s %d; want %s %d", tt.at, name, off, tt.wantName, tt.wantOff)
			}
		})
	}
}

func TestTransitionInstants(t *testing.T) {
	z := MustParse("EST+5EDT,M3.2.0/2,M11.1.0/2")

	// 2024-03-10 02:00 EST is 07:00 UTC.
	before := time.Date(2024, time.March, 10, 6, 59, 59, 0, time.UTC)
	after := time.Date(2024, time.March, 10, 7, 0, 0, 0, time.UTC)
	if name, _ := z.In(before).Zone(); name != "EST" {
		t.Errorf("just before spring forward: %s; want EST", name)
	}
	if name, _ := z.In(after).Zone(); name != "EDT" {
		t.Errorf("at spring forward: %s; want EDT", name)
	}

	// 2024-11-03 02:00 EDT is 06:00 UTC.
	before = time.Date(2024, time.November, 3, 5, 59, 59, 0, time.UTC)
	after = time.Date(2024, time.November, 3, 6, 0, 0, 0, time.UTC)
	if name, _ := z.In(before).Zone(); name != "EDT" {
		t.Errorf("just before fall back: %s; want EDT", name)
	}
	if name, _ := z.In(after).Zone(); name != "EST" {
		t.Errorf("at fall back: %s; want EST", name)
	}
}

func TestFifthWeekMeansLast(t *testing.T) {
	tr := transition{kind: monthWeekDay, month: 2, week: 5, day: 0}
	// Last Sunday in February 2024 is the 25th.
	want := time.Date(2024, time.February, 25, 0, 0, 0, 0, time.UTC).Unix()
	if got := tr.at(2024); got != want {
		t.Errorf("at(2024) = %d; want %d", got, want)
	}
}

func TestParseIANAFallback(t *testing.T) {
	z, err := Parse("UTC")
	if err != nil {
		t.Fatalf("Parse(UTC) error: %v", err)
	}
	if _, off := z.In(time.Now()).Zone(); off != 0 {
		t.Errorf("UTC offset = %d; want 0", off)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, rule := range []string{"", "E5", "XYZ", "EST5EDT,M13.1.0,M11.1.0", "EST5EDT,M3.2.0", "<EST5", "Not/AZone"} {
		t.Run(rule, func(t *testing.T) {
			_, err := Parse(rule)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded; want error", rule)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

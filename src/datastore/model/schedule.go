package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/Protocol-Lattice/airport-assistant/src/errdefs"
)

// DayHours is an opening interval on one weekday, as zero padded "HH:MM" clock values.
// End before Start means the interval runs past midnight.
type DayHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WeeklyHours is indexed by time.Weekday. A nil entry means closed on that day.
type WeeklyHours [7]*DayHours

// Day returns the hours for d, or nil.
func (w WeeklyHours) Day(d time.Weekday) *DayHours {
	if d < time.Sunday || d > time.Saturday {
		return nil
	}
	return w[d]
}

// OpenAt reports whether the schedule is open on day d at clock ("HH:MM").
func (w WeeklyHours) OpenAt(d time.Weekday, clock string) bool {
	h := w.Day(d)
	if h == nil {
		return false
	}
	return h.Contains(clock)
}

// Contains reports whether clock falls inside the interval, inclusive on both ends.
func (h DayHours) Contains(clock string) bool {
	if h.Start == "" || h.End == "" {
		return false
	}
	if h.Start <= h.End {
		return h.Start <= clock && clock <= h.End
	}
	return clock >= h.Start || clock <= h.End
}

// WeekdayColumn is the lowercase day name used for per-day columns and properties,
// e.g. "monday" for monday_start_hour.
func WeekdayColumn(d time.Weekday) string {
	return strings.ToLower(d.String())
}

// OpenFilter restricts a search to amenities open on Day at Clock.
type OpenFilter struct {
	Day   time.Weekday
	Clock string
}

// StartKey is the per-day start property name.
func (f OpenFilter) StartKey() string { return WeekdayColumn(f.Day) + "_start_hour" }

// EndKey is the per-day end property name.
func (f OpenFilter) EndKey() string { return WeekdayColumn(f.Day) + "_end_hour" }

// ParseOpenFilter builds a filter from the raw day and time inputs. Both empty yields nil.
// Supplying only one of them is a validation error.
func ParseOpenFilter(openDay, openTime string) (*OpenFilter, error) {
	openDay = strings.TrimSpace(openDay)
	openTime = strings.TrimSpace(openTime)
	switch {
	case openDay == "" && openTime == "":
		return nil, nil
	case openDay == "":
		return nil, errdefs.Validationf("open_time %q given without open_day", openTime)
	case openTime == "":
		return nil, errdefs.Validationf("open_day %q given without open_time", openDay)
	}
	day, err := ParseWeekday(openDay)
	if err != nil {
		return nil, err
	}
	clock, err := ParseClock(openTime)
	if err != nil {
		return nil, err
	}
	return &OpenFilter{Day: day, Clock: clock}, nil
}

// ParseWeekday accepts full or three letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := WeekdayColumn(d)
		if v == name || (len(v) == 3 && strings.HasPrefix(name, v)) {
			return d, nil
		}
	}
	return time.Sunday, errdefs.Validationf("unknown day %q", s)
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04pm", "3:04 pm", "3pm", "3 pm"}

// ParseClock normalises a time of day to "HH:MM".
func ParseClock(s string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("15:04"), nil
		}
	}
	return "", errdefs.Validationf("unrecognised time %q", s)
}

// ParseDayHours parses a "HH:MM"-like start and end pair. Empty input yields nil.
func ParseDayHours(start, end string) (*DayHours, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return nil, nil
	}
	s, err := ParseClock(start)
	if err != nil {
		return nil, fmt.Errorf("start hour: %w", err)
	}
	e, err := ParseClock(end)
	if err != nil {
		return nil, fmt.Errorf("end hour: %w", err)
	}
	return &DayHours{Start: s, End: e}, nil
}

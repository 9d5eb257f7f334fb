// Package schedule derives an event's effective temporal status from its
// free-text date and time fields. The stored status column can go stale,
// so eligibility checks and listings always go through Resolve instead.
package schedule

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Status is the effective temporal state of an event.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusActive   Status = "active"
	StatusPast     Status = "past"

	// StatusUnknown marks an event whose date or time could not be
	// parsed. Unknown events are excluded from active/upcoming
	// listings and are never bookable.
	StatusUnknown Status = "unknown"
)

// DefaultWindow is how long after the start time booking and attendance
// stay open.
const DefaultWindow = time.Hour

var ErrUnparsable = errors.New("unparsable event schedule")

var months = map[string]time.Month{
	"january":   time.January,
	"february":  time.February,
	"march":     time.March,
	"april":     time.April,
	"may":       time.May,
	"june":      time.June,
	"july":      time.July,
	"august":    time.August,
	"september": time.September,
	"october":   time.October,
	"november":  time.November,
	"december":  time.December,
}

var (
	// "April 20, 2025"
	dateRe = regexp.MustCompile(`^\s*([A-Za-z]+)\s+(\d{1,2}),\s*(\d{4})\s*$`)
	// "6:00 PM - 9:00 PM"; only the start time matters.
	timeRe = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*([AaPp][Mm])\s*-\s*\d{1,2}:\d{2}\s*[AaPp][Mm]\s*$`)
)

// StartTime parses the event's start instant in the given location.
// Returns ErrUnparsable on any malformed input.
func StartTime(date, timeRange string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	dm := dateRe.FindStringSubmatch(date)
	if dm == nil {
		return time.Time{}, ErrUnparsable
	}
	month, ok := months[strings.ToLower(dm[1])]
	if !ok {
		return time.Time{}, ErrUnparsable
	}
	day, err := strconv.Atoi(dm[2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, ErrUnparsable
	}
	year, err := strconv.Atoi(dm[3])
	if err != nil {
		return time.Time{}, ErrUnparsable
	}

	tm := timeRe.FindStringSubmatch(timeRange)
	if tm == nil {
		return time.Time{}, ErrUnparsable
	}
	hour, err := strconv.Atoi(tm[1])
	if err != nil || hour < 1 || hour > 12 {
		return time.Time{}, ErrUnparsable
	}
	minute, err := strconv.Atoi(tm[2])
	if err != nil || minute > 59 {
		return time.Time{}, ErrUnparsable
	}
	if strings.EqualFold(tm[3], "pm") {
		if hour != 12 {
			hour += 12
		}
	} else if hour == 12 {
		hour = 0
	}

	start := time.Date(year, month, day, hour, minute, 0, 0, loc)
	// time.Date normalizes impossible dates ("February 31" rolls into
	// March); treat any normalization as unparsable.
	if start.Year() != year || start.Month() != month || start.Day() != day {
		return time.Time{}, ErrUnparsable
	}
	return start, nil
}

// Resolve derives the status at instant now, with the default
// one-hour attendance window after start.
func Resolve(date, timeRange string, now time.Time) Status {
	return ResolveWithWindow(date, timeRange, DefaultWindow, now)
}

// ResolveWithWindow is Resolve with an explicit attendance window.
// It is a pure function of its inputs: malformed date or time always
// yields StatusUnknown, never a live status.
func ResolveWithWindow(date, timeRange string, window time.Duration, now time.Time) Status {
	start, err := StartTime(date, timeRange, now.Location())
	if err != nil {
		return StatusUnknown
	}

	cutoff := start.Add(window)
	switch {
	case now.After(cutoff):
		return StatusPast
	case now.Before(start):
		return StatusUpcoming
	default:
		return StatusActive
	}
}

// Known reports whether s is one of the three live statuses.
func Known(s Status) bool {
	switch s {
	case StatusUpcoming, StatusActive, StatusPast:
		return true
	default:
		return false
	}
}

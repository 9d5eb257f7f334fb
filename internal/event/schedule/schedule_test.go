package schedule_test

import (
	"testing"
	"time"

	"github.com/fstopclub/fstop/internal/event/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAroundStart(t *testing.T) {
	date := "April 20, 2025"
	timeRange := "6:00 PM - 9:00 PM"

	cases := []struct {
		name string
		now  time.Time
		want schedule.Status
	}{
		{"day before", time.Date(2025, time.April, 19, 12, 0, 0, 0, time.Local), schedule.StatusUpcoming},
		{"minute before start", time.Date(2025, time.April, 20, 17, 59, 0, 0, time.Local), schedule.StatusUpcoming},
		{"at start", time.Date(2025, time.April, 20, 18, 0, 0, 0, time.Local), schedule.StatusActive},
		{"half hour in", time.Date(2025, time.April, 20, 18, 30, 0, 0, time.Local), schedule.StatusActive},
		{"at cutoff", time.Date(2025, time.April, 20, 19, 0, 0, 0, time.Local), schedule.StatusActive},
		{"after cutoff", time.Date(2025, time.April, 20, 20, 0, 0, 0, time.Local), schedule.StatusPast},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := schedule.Resolve(date, timeRange, tc.now)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	now := time.Date(2025, time.April, 20, 18, 30, 0, 0, time.Local)
	first := schedule.Resolve("April 20, 2025", "6:00 PM - 9:00 PM", now)
	second := schedule.Resolve("April 20, 2025", "6:00 PM - 9:00 PM", now)
	assert.Equal(t, first, second)
}

func TestResolveFailsClosed(t *testing.T) {
	now := time.Date(2025, time.April, 20, 18, 30, 0, 0, time.Local)

	cases := []struct {
		name      string
		date      string
		timeRange string
	}{
		{"empty date", "", "6:00 PM - 9:00 PM"},
		{"empty time", "April 20, 2025", ""},
		{"bogus month", "Avril 20, 2025", "6:00 PM - 9:00 PM"},
		{"iso date", "2025-04-20", "6:00 PM - 9:00 PM"},
		{"24h time", "April 20, 2025", "18:00 - 21:00"},
		{"missing range", "April 20, 2025", "6:00 PM"},
		{"hour out of range", "April 20, 2025", "13:00 PM - 2:00 PM"},
		{"minute out of range", "April 20, 2025", "6:61 PM - 9:00 PM"},
		{"impossible february day", "February 31, 2025", "6:00 PM - 9:00 PM"},
		{"impossible april day", "April 31, 2025", "6:00 PM - 9:00 PM"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := schedule.Resolve(tc.date, tc.timeRange, now)
			assert.Equal(t, schedule.StatusUnknown, got)
		})
	}
}

func TestStartTimeRejectsNormalizedDates(t *testing.T) {
	// time.Date would roll February 31 into March; StartTime must not.
	_, err := schedule.StartTime("February 31, 2025", "6:00 PM - 9:00 PM", time.UTC)
	assert.ErrorIs(t, err, schedule.ErrUnparsable)

	// February 29 exists only in leap years.
	_, err = schedule.StartTime("February 29, 2025", "6:00 PM - 9:00 PM", time.UTC)
	assert.ErrorIs(t, err, schedule.ErrUnparsable)

	start, err := schedule.StartTime("February 29, 2028", "6:00 PM - 9:00 PM", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2028, time.February, 29, 18, 0, 0, 0, time.UTC), start)
}

func TestStartTimeParsesCaseInsensitive(t *testing.T) {
	start, err := schedule.StartTime("aPRiL 20, 2025", "6:00 pm - 9:00 PM", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.April, 20, 18, 0, 0, 0, time.UTC), start)
}

func TestStartTimeNoonAndMidnight(t *testing.T) {
	noon, err := schedule.StartTime("June 1, 2025", "12:00 PM - 2:00 PM", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 12, noon.Hour())

	midnight, err := schedule.StartTime("June 1, 2025", "12:00 AM - 2:00 AM", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 0, midnight.Hour())
}

func TestResolveWithWindow(t *testing.T) {
	// A two hour window keeps the event active longer.
	now := time.Date(2025, time.April, 20, 19, 30, 0, 0, time.Local)
	got := schedule.ResolveWithWindow("April 20, 2025", "6:00 PM - 9:00 PM", 2*time.Hour, now)
	assert.Equal(t, schedule.StatusActive, got)
}

package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current instant. Booking eligibility and event
// status are both time-derived, so every caller takes a Clock instead
// of reading the wall clock directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// NewSystemClock returns a Clock backed by the wall clock.
func NewSystemClock() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)

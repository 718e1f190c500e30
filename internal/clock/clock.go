// Package clock abstracts wall-clock time so lifecycle timestamps are
// controllable in tests.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock yields the current UTC time.
type Clock interface {
	Now() time.Time
}

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

package hostchain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// ChainClock is the time reference used to age vote events.
type ChainClock struct {
	clock clockwork.Clock
}

func NewChainClock(clock clockwork.Clock) *ChainClock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ChainClock{clock: clock}
}

// Now returns the current time in UTC.
func (c *ChainClock) Now() time.Time {
	return c.clock.Now().UTC()
}

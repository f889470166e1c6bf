// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

var _ monitor.Clock = Clock{}

// Clock implements monitor.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Checkpointed timestamps are compared
// across processes, so the location must not depend on the host.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

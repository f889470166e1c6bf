package steps

import (
	"fmt"
	"time"
)

// RunID builds the deterministic identifier of a timed run. Firings within the
// same minute share an ID, so a redelivered trigger replays instead of
// starting a second run.
func RunID(kind, name string, firedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", kind, name, firedAt.UTC().Truncate(time.Minute).Unix())
}

// Package stagger spreads job start times across a window so a batch of
// monitors does not hit the same external API in the same second.
package stagger

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

const (
	// DefaultWindow applies to sources without an entry in the Windows table.
	DefaultWindow = 5 * time.Minute
	// MinBatch is the batch size at or below which staggering is skipped.
	MinBatch = 3
	// DefaultJitterPercent bounds the additive jitter applied to each delay.
	DefaultJitterPercent = 10
)

// Delay returns floor(index*window/total) for total > 1, else 0.
func Delay(index, total int, window time.Duration) time.Duration {
	if total <= 1 || index <= 0 || window <= 0 {
		return 0
	}
	return time.Duration(int64(index) * int64(window) / int64(total))
}

// AddJitter returns delay plus a uniform value in [0, delay*percent/100).
// The result is never smaller than delay.
func AddJitter(delay time.Duration, percent int, rng *rand.Rand) time.Duration {
	if delay <= 0 || percent <= 0 || rng == nil {
		return delay
	}
	span := int64(delay) * int64(percent) / 100
	if span <= 0 {
		return delay
	}
	return delay + time.Duration(rng.Int64N(span))
}

// Windows is the per-source stagger window table.
type Windows struct {
	Default  time.Duration
	BySource map[monitor.Source]time.Duration
}

// DefaultWindows returns larger windows for higher-volume sources.
func DefaultWindows() Windows {
	return Windows{
		Default: DefaultWindow,
		BySource: map[monitor.Source]time.Duration{
			monitor.SourceReddit:      10 * time.Minute,
			monitor.SourceHackerNews:  5 * time.Minute,
			monitor.SourceProductHunt: 5 * time.Minute,
			monitor.SourceG2:          15 * time.Minute,
			monitor.SourceTrustpilot:  15 * time.Minute,
		},
	}
}

// For returns the window configured for source, falling back to the default.
func (w Windows) For(source monitor.Source) time.Duration {
	if d, ok := w.BySource[source]; ok && d > 0 {
		return d
	}
	if w.Default > 0 {
		return w.Default
	}
	return DefaultWindow
}

// Jitterer applies AddJitter with a shared random source. It is safe for
// concurrent use by multiple dispatcher runs.
type Jitterer struct {
	mu      sync.Mutex
	rng     *rand.Rand
	percent int
}

// NewJitterer creates a Jitterer. A nil rng is seeded randomly.
func NewJitterer(percent int, rng *rand.Rand) *Jitterer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Jitterer{rng: rng, percent: percent}
}

// Apply returns delay with jitter added.
func (j *Jitterer) Apply(delay time.Duration) time.Duration {
	if j == nil {
		return delay
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return AddJitter(delay, j.percent, j.rng)
}

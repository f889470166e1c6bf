// Package access maps subscription tiers and sources to scan eligibility.
package access

import (
	"time"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// SkipReason explains why a monitor was skipped for a source.
type SkipReason string

// Skip reasons, in the order the predicates are evaluated.
const (
	ReasonNone            SkipReason = ""
	ReasonTierDenied      SkipReason = "tier_denied"
	ReasonIntervalPending SkipReason = "interval_not_elapsed"
	ReasonOutsideWindow   SkipReason = "outside_active_window"
)

// Decision is the outcome of ShouldSkip.
type Decision struct {
	Skip   bool
	Reason SkipReason
}

// Table maps tier to the sources it may scan and their minimum refresh interval.
// A missing (tier, source) pair means the pair is not allowed.
type Table map[monitor.Tier]map[monitor.Source]time.Duration

// DefaultTable returns the built-in plan table.
func DefaultTable() Table {
	return Table{
		monitor.TierFree: {
			monitor.SourceReddit:     time.Hour,
			monitor.SourceHackerNews: time.Hour,
		},
		monitor.TierStarter: {
			monitor.SourceReddit:      30 * time.Minute,
			monitor.SourceHackerNews:  30 * time.Minute,
			monitor.SourceProductHunt: time.Hour,
			monitor.SourceForum:       time.Hour,
		},
		monitor.TierPro: {
			monitor.SourceReddit:      15 * time.Minute,
			monitor.SourceHackerNews:  15 * time.Minute,
			monitor.SourceProductHunt: 15 * time.Minute,
			monitor.SourceForum:       15 * time.Minute,
			monitor.SourceG2:          time.Hour,
			monitor.SourceTrustpilot:  time.Hour,
		},
		monitor.TierBusiness: {
			monitor.SourceReddit:      5 * time.Minute,
			monitor.SourceHackerNews:  5 * time.Minute,
			monitor.SourceProductHunt: 5 * time.Minute,
			monitor.SourceForum:       5 * time.Minute,
			monitor.SourceG2:          30 * time.Minute,
			monitor.SourceTrustpilot:  30 * time.Minute,
		},
	}
}

// Merge returns a copy of t with overrides applied on top. Overrides may add
// pairs as well as change intervals.
func (t Table) Merge(overrides Table) Table {
	out := make(Table, len(t))
	for tier, sources := range t {
		cp := make(map[monitor.Source]time.Duration, len(sources))
		for s, d := range sources {
			cp[s] = d
		}
		out[tier] = cp
	}
	for tier, sources := range overrides {
		if out[tier] == nil {
			out[tier] = make(map[monitor.Source]time.Duration, len(sources))
		}
		for s, d := range sources {
			out[tier][s] = d
		}
	}
	return out
}

// Policy answers access questions against an immutable Table.
type Policy struct {
	table Table
}

// New creates a Policy. The table is copied so later mutation has no effect.
func New(table Table) *Policy {
	return &Policy{table: Table{}.Merge(table)}
}

// IsAllowed reports whether tier may scan source.
func (p *Policy) IsAllowed(tier monitor.Tier, source monitor.Source) bool {
	_, ok := p.table[tier][source]
	return ok
}

// MinimumInterval returns the minimum refresh interval for the pair, or zero when not allowed.
func (p *Policy) MinimumInterval(tier monitor.Tier, source monitor.Source) time.Duration {
	return p.table[tier][source]
}

// ShouldSkip evaluates tier access, refresh interval and the monitor's active
// window in that order, stopping at the first failing predicate. A user absent
// from tiers is treated as an unknown tier and denied.
func (p *Policy) ShouldSkip(
	m monitor.Monitor,
	tiers map[string]monitor.Tier,
	source monitor.Source,
	now time.Time,
) Decision {
	tier, ok := tiers[m.UserID]
	if !ok || !p.IsAllowed(tier, source) {
		return Decision{Skip: true, Reason: ReasonTierDenied}
	}
	if m.LastCheckedAt != nil && now.Sub(*m.LastCheckedAt) < p.MinimumInterval(tier, source) {
		return Decision{Skip: true, Reason: ReasonIntervalPending}
	}
	if m.Schedule != nil && !m.Schedule.Contains(now) {
		return Decision{Skip: true, Reason: ReasonOutsideWindow}
	}
	return Decision{}
}

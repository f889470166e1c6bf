package monitor

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Source identifies one external content origin.
type Source string

// Known sources. Unlisted sources are still valid identifiers; they simply
// fall back to defaults in the stagger and access tables.
const (
	SourceReddit      Source = "reddit"
	SourceHackerNews  Source = "hackernews"
	SourceProductHunt Source = "producthunt"
	SourceG2          Source = "g2"
	SourceTrustpilot  Source = "trustpilot"
	SourceForum       Source = "forum"
)

// Tier is a subscription tier, derived from the monitor's owning user.
type Tier string

// Subscription tiers known to the built-in access table.
const (
	TierFree     Tier = "free"
	TierStarter  Tier = "starter"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// SourceConfig is the per-source watch configuration of a monitor.
type SourceConfig struct {
	URLs             []string `json:"urls,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	SearchExpression string   `json:"searchExpression,omitempty"`
}

// ActiveWindow restricts scheduled scans to certain days and hours.
type ActiveWindow struct {
	// Days lists the weekdays scans may run on; empty means every day.
	Days []time.Weekday `json:"days,omitempty"`
	// StartHour and EndHour bound the half-open hour range [StartHour, EndHour).
	// A range with StartHour > EndHour wraps past midnight; equal bounds cover the whole day.
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
	// Location is an IANA zone name; empty means UTC.
	Location string `json:"location,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w ActiveWindow) Contains(t time.Time) bool {
	loc := time.UTC
	if w.Location != "" {
		if l, err := time.LoadLocation(w.Location); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	if len(w.Days) > 0 {
		found := false
		for _, d := range w.Days {
			if d == local.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	start, end, hour := w.StartHour, w.EndHour, local.Hour()
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// Monitor is a tenant's scan configuration across one or more sources.
type Monitor struct {
	ID            string                  `json:"id"`
	UserID        string                  `json:"userId"`
	Sources       []Source                `json:"sources"`
	Config        map[Source]SourceConfig `json:"config,omitempty"`
	Schedule      *ActiveWindow           `json:"schedule,omitempty"`
	Active        bool                    `json:"active"`
	IsScanning    bool                    `json:"isScanning"`
	LastCheckedAt *time.Time              `json:"lastCheckedAt,omitempty"`
	NewMatchCount int                     `json:"newMatchCount"`
	UpdatedAt     time.Time               `json:"updatedAt"`
}

// Enabled reports whether the monitor watches the given source.
func (m Monitor) Enabled(source Source) bool {
	for _, s := range m.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Item is a candidate returned by a source collaborator, already filtered for relevance.
type Item struct {
	SourceURL string         `json:"sourceUrl"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Author    string         `json:"author,omitempty"`
	PostedAt  *time.Time     `json:"postedAt,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Result is a persisted ingested item. SourceURL is globally unique.
type Result struct {
	ID        string         `json:"id"`
	MonitorID string         `json:"monitorId"`
	UserID    string         `json:"userId"`
	Source    Source         `json:"source"`
	SourceURL string         `json:"sourceUrl"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Author    string         `json:"author,omitempty"`
	PostedAt  *time.Time     `json:"postedAt,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ScanRequest is the on-demand trigger event for a single monitor.
type ScanRequest struct {
	ID          string    `json:"id"`
	MonitorID   string    `json:"monitorId"`
	UserID      string    `json:"userId"`
	RequestedAt time.Time `json:"requestedAt"`
}

// SyntheticURL builds a per-monitor dedup key for items that lack a natural URL.
// Scoping by monitor lets two tenants matching the same item each keep a row.
func SyntheticURL(source Source, monitorID, externalID string) string {
	return fmt.Sprintf("synthetic://%s/%s/%s",
		url.PathEscape(string(source)),
		url.PathEscape(monitorID),
		url.PathEscape(strings.TrimSpace(externalID)),
	)
}

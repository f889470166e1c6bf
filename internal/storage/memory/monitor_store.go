package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

// MonitorStore is an in-memory monitor.MonitorStore.
type MonitorStore struct {
	mu       sync.RWMutex
	monitors map[string]monitor.Monitor
	order    []string
	tiers    map[string]monitor.Tier
}

// NewMonitorStore constructs an empty MonitorStore.
func NewMonitorStore() *MonitorStore {
	return &MonitorStore{
		monitors: make(map[string]monitor.Monitor),
		tiers:    make(map[string]monitor.Tier),
	}
}

// PutMonitor inserts or replaces a monitor. Insertion order is the load order.
func (s *MonitorStore) PutMonitor(m monitor.Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.monitors[m.ID]; !exists {
		s.order = append(s.order, m.ID)
	}
	s.monitors[m.ID] = cloneMonitor(m)
}

// SetTier records the subscription tier of a user.
func (s *MonitorStore) SetTier(userID string, tier monitor.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[userID] = tier
}

// ListActiveForSource returns active monitors enabling source in insertion order.
func (s *MonitorStore) ListActiveForSource(_ context.Context, source monitor.Source) ([]monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Monitor, 0, len(s.order))
	for _, id := range s.order {
		m := s.monitors[id]
		if m.Active && m.Enabled(source) {
			out = append(out, cloneMonitor(m))
		}
	}
	return out, nil
}

// TiersForUsers returns the tiers of the known users among userIDs.
func (s *MonitorStore) TiersForUsers(_ context.Context, userIDs []string) (map[string]monitor.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]monitor.Tier, len(userIDs))
	for _, id := range userIDs {
		if tier, ok := s.tiers[id]; ok {
			out[id] = tier
		}
	}
	return out, nil
}

// GetMonitor loads a monitor by ID.
func (s *MonitorStore) GetMonitor(_ context.Context, id string) (monitor.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.monitors[id]
	if !ok {
		return monitor.Monitor{}, monitor.ErrNotFound
	}
	return cloneMonitor(m), nil
}

// BeginScan sets IsScanning unless it is already set.
func (s *MonitorStore) BeginScan(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return false, monitor.ErrNotFound
	}
	if m.IsScanning {
		return false, nil
	}
	m.IsScanning = true
	m.UpdatedAt = at
	s.monitors[id] = m
	return true, nil
}

// EndScan clears IsScanning.
func (s *MonitorStore) EndScan(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return monitor.ErrNotFound
	}
	m.IsScanning = false
	m.UpdatedAt = at
	s.monitors[id] = m
	return nil
}

// UpdateScanStats records the outcome of a monitor's scan.
func (s *MonitorStore) UpdateScanStats(_ context.Context, id string, newMatches int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[id]
	if !ok {
		return monitor.ErrNotFound
	}
	checked := at
	m.LastCheckedAt = &checked
	m.NewMatchCount = newMatches
	m.UpdatedAt = at
	s.monitors[id] = m
	return nil
}

// ClearStuckScans clears IsScanning on monitors not updated since staleBefore.
func (s *MonitorStore) ClearStuckScans(_ context.Context, staleBefore, now time.Time) ([]monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared []monitor.Monitor
	for _, id := range s.order {
		m := s.monitors[id]
		if !m.IsScanning || !m.UpdatedAt.Before(staleBefore) {
			continue
		}
		m.IsScanning = false
		m.UpdatedAt = now
		s.monitors[id] = m
		cleared = append(cleared, cloneMonitor(m))
	}
	return cleared, nil
}

func cloneMonitor(m monitor.Monitor) monitor.Monitor {
	out := m
	out.Sources = slices.Clone(m.Sources)
	if m.Config != nil {
		out.Config = make(map[monitor.Source]monitor.SourceConfig, len(m.Config))
		for k, v := range m.Config {
			out.Config[k] = v
		}
	}
	if m.LastCheckedAt != nil {
		ts := *m.LastCheckedAt
		out.LastCheckedAt = &ts
	}
	return out
}

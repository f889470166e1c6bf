package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

const monitorColumns = `id, user_id, sources, config, schedule, active, is_scanning,
	last_checked_at, new_match_count, updated_at`

// MonitorStore implements monitor.MonitorStore on the monitors and users tables.
type MonitorStore struct {
	db DB
}

// NewMonitorStore constructs a MonitorStore.
func NewMonitorStore(db DB) (*MonitorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MonitorStore{db: db}, nil
}

// ListActiveForSource returns active monitors enabling source in creation order.
func (s *MonitorStore) ListActiveForSource(ctx context.Context, source monitor.Source) ([]monitor.Monitor, error) {
	query := `SELECT ` + monitorColumns + `
		FROM monitors
		WHERE active AND $1 = ANY(sources)
		ORDER BY created_at, id;`
	rows, err := s.db.Query(ctx, query, string(source))
	if err != nil {
		return nil, fmt.Errorf("list monitors for %s: %w", source, err)
	}
	defer rows.Close()

	var out []monitor.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitors: %w", err)
	}
	return out, nil
}

// TiersForUsers resolves the tiers of userIDs in one query.
func (s *MonitorStore) TiersForUsers(ctx context.Context, userIDs []string) (map[string]monitor.Tier, error) {
	out := make(map[string]monitor.Tier, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id, tier FROM users WHERE id = ANY($1);`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load user tiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, tier string
		if err := rows.Scan(&id, &tier); err != nil {
			return nil, fmt.Errorf("scan user tier: %w", err)
		}
		out[id] = monitor.Tier(tier)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user tiers: %w", err)
	}
	return out, nil
}

// GetMonitor loads one monitor.
func (s *MonitorStore) GetMonitor(ctx context.Context, id string) (monitor.Monitor, error) {
	row := s.db.QueryRow(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = $1;`, id)
	m, err := scanMonitor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Monitor{}, monitor.ErrNotFound
	}
	return m, err
}

// BeginScan sets is_scanning unless it is already set.
func (s *MonitorStore) BeginScan(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE monitors SET is_scanning = TRUE, updated_at = $2
		WHERE id = $1 AND NOT is_scanning;`, id, at)
	if err != nil {
		return false, fmt.Errorf("begin scan: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM monitors WHERE id = $1);`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check monitor: %w", err)
	}
	if !exists {
		return false, monitor.ErrNotFound
	}
	return false, nil
}

// EndScan clears is_scanning.
func (s *MonitorStore) EndScan(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE monitors SET is_scanning = FALSE, updated_at = $2
		WHERE id = $1;`, id, at); err != nil {
		return fmt.Errorf("end scan: %w", err)
	}
	return nil
}

// UpdateScanStats records the outcome of a completed monitor scan.
func (s *MonitorStore) UpdateScanStats(ctx context.Context, id string, newMatches int, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE monitors SET last_checked_at = $2, new_match_count = $3, updated_at = $2
		WHERE id = $1;`, id, at, newMatches)
	if err != nil {
		return fmt.Errorf("update scan stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

// ClearStuckScans clears is_scanning on monitors not updated since staleBefore
// in a single statement and returns them.
func (s *MonitorStore) ClearStuckScans(ctx context.Context, staleBefore, now time.Time) ([]monitor.Monitor, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE monitors SET is_scanning = FALSE, updated_at = $2
		WHERE is_scanning AND updated_at < $1
		RETURNING `+monitorColumns+`;`, staleBefore, now)
	if err != nil {
		return nil, fmt.Errorf("clear stuck scans: %w", err)
	}
	defer rows.Close()

	var out []monitor.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cleared monitors: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row scanner) (monitor.Monitor, error) {
	var (
		m        monitor.Monitor
		sources  []string
		config   []byte
		schedule []byte
	)
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&sources,
		&config,
		&schedule,
		&m.Active,
		&m.IsScanning,
		&m.LastCheckedAt,
		&m.NewMatchCount,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Monitor{}, err
		}
		return monitor.Monitor{}, fmt.Errorf("scan monitor row: %w", err)
	}
	m.Sources = make([]monitor.Source, 0, len(sources))
	for _, src := range sources {
		m.Sources = append(m.Sources, monitor.Source(src))
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &m.Config); err != nil {
			return monitor.Monitor{}, fmt.Errorf("decode monitor %s config: %w", m.ID, err)
		}
	}
	if len(schedule) > 0 && string(schedule) != "null" {
		var w monitor.ActiveWindow
		if err := json.Unmarshal(schedule, &w); err != nil {
			return monitor.Monitor{}, fmt.Errorf("decode monitor %s schedule: %w", m.ID, err)
		}
		m.Schedule = &w
	}
	return m, nil
}

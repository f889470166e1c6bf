package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

const (
	resultColumnCount = 11
	// maxInsertRows keeps one statement well under the 65535 bind parameter
	// limit of the extended protocol.
	maxInsertRows = 1000
)

// ResultStore implements results.Repository on the results and users tables.
type ResultStore struct {
	db        DB
	chunkRows int
}

// NewResultStore constructs a ResultStore.
func NewResultStore(db DB) (*ResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResultStore{db: db, chunkRows: maxInsertRows}, nil
}

// ExistingSourceURLs returns the subset of urls already stored.
func (s *ResultStore) ExistingSourceURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(urls) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT source_url FROM results WHERE source_url = ANY($1);`, urls)
	if err != nil {
		return nil, fmt.Errorf("lookup source urls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan source url: %w", err)
		}
		out[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source urls: %w", err)
	}
	return out, nil
}

// InsertResults writes rows in multi-row statements of at most chunkRows rows.
// Rows whose source URL already exists are dropped by ON CONFLICT. A unique
// violation on any other key falls back to row-at-a-time inserts for that
// chunk, skipping the conflicting rows.
func (s *ResultStore) InsertResults(ctx context.Context, rows []monitor.Result) ([]string, error) {
	var inserted []string
	for start := 0; start < len(rows); start += s.chunkRows {
		end := min(start+s.chunkRows, len(rows))
		ids, err := s.insertChunk(ctx, rows[start:end])
		inserted = append(inserted, ids...)
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (s *ResultStore) insertChunk(ctx context.Context, rows []monitor.Result) ([]string, error) {
	args := make([]any, 0, len(rows)*resultColumnCount)
	values := make([]string, 0, len(rows))
	for i, r := range rows {
		rowArgs, err := resultArgs(r)
		if err != nil {
			return nil, err
		}
		values = append(values, placeholders(i*resultColumnCount, resultColumnCount))
		args = append(args, rowArgs...)
	}
	ids, err := s.insert(ctx, strings.Join(values, ",\n\t"), args)
	if err == nil {
		return ids, nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}
	return s.insertEach(ctx, rows)
}

func (s *ResultStore) insertEach(ctx context.Context, rows []monitor.Result) ([]string, error) {
	var inserted []string
	for _, r := range rows {
		args, err := resultArgs(r)
		if err != nil {
			return inserted, err
		}
		ids, err := s.insert(ctx, placeholders(0, resultColumnCount), args)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return inserted, err
		}
		inserted = append(inserted, ids...)
	}
	return inserted, nil
}

func (s *ResultStore) insert(ctx context.Context, values string, args []any) ([]string, error) {
	query := `
INSERT INTO results (
	id, monitor_id, user_id, source, source_url, title, body, author, posted_at, metadata, created_at
) VALUES
	` + values + `
ON CONFLICT (source_url) DO NOTHING
RETURNING id;`
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert results: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inserted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insert results: %w", err)
	}
	return ids, nil
}

// IncrementUsage adds n to the user's usage counter.
func (s *ResultStore) IncrementUsage(ctx context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `UPDATE users SET usage = usage + $2 WHERE id = $1;`, userID, n); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func resultArgs(r monitor.Result) ([]any, error) {
	meta := r.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata for %s: %w", r.SourceURL, err)
	}
	return []any{
		r.ID,
		r.MonitorID,
		r.UserID,
		string(r.Source),
		r.SourceURL,
		r.Title,
		r.Body,
		r.Author,
		r.PostedAt,
		metaJSON,
		r.CreatedAt,
	}, nil
}

func placeholders(offset, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "$%d", offset+i)
	}
	b.WriteByte(')')
	return b.String()
}

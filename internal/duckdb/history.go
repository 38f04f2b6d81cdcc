package duckdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tinytelemetry/sightline/internal/model"
)

// DefaultHistoryLimit is used when RecentSearches gets a non-positive limit.
const DefaultHistoryLimit = 50

// maxHistoryLimit caps a single history read.
const maxHistoryLimit = 1000

// RecordSearch appends one executed search.
func (s *Store) RecordSearch(rec model.SearchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history
			(tab_id, raw_query, final_query, status, live, row_count, pattern_count, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TabID, rec.RawQuery, rec.FinalQuery, rec.Status, rec.Live,
		rec.RowCount, rec.PatternCount, rec.Duration, errText, created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("duckdb: record search: %w", err)
	}
	return nil
}

// RecentSearches lists searches newest first. An empty tabID lists every tab.
func (s *Store) RecentSearches(limit int, tabID string) ([]model.SearchRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	query := `
		SELECT id, tab_id, raw_query, final_query, status, live, row_count, pattern_count,
		       duration_ms, error, created_at
		FROM search_history`
	var args []any
	if tabID != "" {
		query += " WHERE tab_id = ?"
		args = append(args, tabID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb: recent searches: %w", err)
	}
	defer rows.Close()

	var out []model.SearchRecord
	for rows.Next() {
		var (
			rec     model.SearchRecord
			errText sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TabID, &rec.RawQuery, &rec.FinalQuery, &rec.Status, &rec.Live,
			&rec.RowCount, &rec.PatternCount, &rec.Duration, &errText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("duckdb: scan search: %w", err)
		}
		rec.Error = errText.String
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StatusCounts returns the number of recorded searches per status.
func (s *Store) StatusCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM search_history GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("duckdb: status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("duckdb: scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteBefore removes searches recorded before cutoff and returns how many.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM search_history WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("duckdb: delete expired searches: %w", err)
	}
	return res.RowsAffected()
}

package patterns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/metrics"
	"github.com/tinytelemetry/sightline/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoPatternField is returned when a mining request names no field.
	ErrNoPatternField = errors.New("patterns: pattern field is required")
	// ErrNoQuery is returned when a mining request has no time-bounded query.
	ErrNoQuery = errors.New("patterns: time-bounded query is required")
)

// Request describes one mining run.
type Request struct {
	TimeBoundedQuery string
	PatternField     string
	PatternRegex     string
	TimestampField   string
	SpanUnit         string
}

// SeriesRow is one bucket of the time-series query.
type SeriesRow struct {
	Timestamp string
	Pattern   string
	Count     float64
}

// Result holds the mined pattern rows. Series is nil when the time-series
// query failed or returned nothing; SeriesErr carries the failure.
type Result struct {
	Rows      []model.PatternRow
	Series    []SeriesRow
	SeriesErr error
}

// Miner issues the pattern queries through an EventsFetcher.
type Miner struct {
	fetcher model.EventsFetcher
	logger  *zap.SugaredLogger
}

// NewMiner creates a Miner.
func NewMiner(fetcher model.EventsFetcher, logger *zap.SugaredLogger) *Miner {
	return &Miner{fetcher: fetcher, logger: logging.OrNop(logger)}
}

// Mine runs the stats and time-series queries concurrently and waits for
// both. A stats failure fails the run; a time-series failure only drops
// Series.
func (m *Miner) Mine(ctx context.Context, req Request) (*Result, error) {
	if req.PatternField == "" {
		return nil, ErrNoPatternField
	}
	if req.TimeBoundedQuery == "" {
		return nil, ErrNoQuery
	}

	statsQuery := StatsQuery(req.TimeBoundedQuery, req.PatternField, req.PatternRegex)
	seriesQuery := TimeSeriesQuery(req.TimeBoundedQuery, req.PatternField, req.PatternRegex, req.TimestampField, req.SpanUnit)

	var (
		statsResp, seriesResp *model.QueryResponse
		statsErr, seriesErr   error
	)

	// Each goroutine keeps its own error so one failure never cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		statsResp, statsErr = m.fetcher.Fetch(ctx, statsQuery, model.DefaultResponseFormat)
		return nil
	})
	if req.TimestampField != "" {
		g.Go(func() error {
			seriesResp, seriesErr = m.fetcher.Fetch(ctx, seriesQuery, model.DefaultResponseFormat)
			return nil
		})
	} else {
		seriesErr = errors.New("patterns: no timestamp field for time series")
	}
	_ = g.Wait()

	if statsErr != nil {
		metrics.PatternFailures.Inc()
		return nil, fmt.Errorf("patterns: stats query: %w", statsErr)
	}

	rows, err := parseStats(statsResp)
	if err != nil {
		metrics.PatternFailures.Inc()
		return nil, err
	}

	res := &Result{Rows: rows}
	if seriesErr != nil {
		m.logger.Warnw("patterns: time series query failed", "error", seriesErr)
		res.SeriesErr = seriesErr
		return res, nil
	}
	series, err := parseSeries(seriesResp)
	if err != nil {
		m.logger.Warnw("patterns: time series response unusable", "error", err)
		res.SeriesErr = err
		return res, nil
	}
	res.Series = series
	return res, nil
}

// parseStats reads [count, [sampleLog], patternKey] rows.
func parseStats(resp *model.QueryResponse) ([]model.PatternRow, error) {
	if resp == nil {
		return nil, errors.New("patterns: empty stats response")
	}
	countIdx := columnOr(resp, "count()", 0)
	sampleIdx := sampleColumn(resp, 1)
	keyIdx := columnOr(resp, model.PatternsField, 2)

	rows := make([]model.PatternRow, 0, len(resp.DataRows))
	for i, raw := range resp.DataRows {
		if len(raw) <= max(countIdx, sampleIdx, keyIdx) {
			return nil, fmt.Errorf("patterns: stats row %d has %d columns", i, len(raw))
		}
		count, ok := toFloat(raw[countIdx])
		if !ok {
			return nil, fmt.Errorf("patterns: stats row %d: count is %T", i, raw[countIdx])
		}
		rows = append(rows, model.PatternRow{
			Pattern:   toString(raw[keyIdx]),
			Count:     int64(count),
			SampleLog: firstSample(raw[sampleIdx]),
		})
	}
	return rows, nil
}

// parseSeries reads [count, timestamp, patternKey] rows.
func parseSeries(resp *model.QueryResponse) ([]SeriesRow, error) {
	if resp == nil {
		return nil, errors.New("patterns: empty time series response")
	}
	countIdx := columnOr(resp, "count()", 0)
	tsIdx := columnOr(resp, "timestamp", 1)
	keyIdx := columnOr(resp, model.PatternsField, 2)

	var series []SeriesRow
	for i, raw := range resp.DataRows {
		if len(raw) <= max(countIdx, tsIdx, keyIdx) {
			return nil, fmt.Errorf("patterns: series row %d has %d columns", i, len(raw))
		}
		count, ok := toFloat(raw[countIdx])
		if !ok {
			return nil, fmt.Errorf("patterns: series row %d: count is %T", i, raw[countIdx])
		}
		series = append(series, SeriesRow{
			Timestamp: toString(raw[tsIdx]),
			Pattern:   toString(raw[keyIdx]),
			Count:     count,
		})
	}
	return series, nil
}

func columnOr(resp *model.QueryResponse, name string, fallback int) int {
	if idx := resp.ColumnIndex(name); idx >= 0 {
		return idx
	}
	return fallback
}

// sampleColumn finds the take(...) column, whose name embeds the field.
func sampleColumn(resp *model.QueryResponse, fallback int) int {
	for i, f := range resp.Schema {
		if strings.HasPrefix(f.Name, "take(") {
			return i
		}
	}
	return fallback
}

func firstSample(v any) string {
	switch s := v.(type) {
	case []any:
		if len(s) == 0 {
			return ""
		}
		return toString(s[0])
	case []string:
		if len(s) == 0 {
			return ""
		}
		return s[0]
	default:
		return toString(v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

package patterns

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/sightline/internal/model"
)

const timeBounded = "source=logs | where ts >= '2024-01-01 00:00:00.000000' and ts <= '2024-01-01 01:00:00.000000'"

type fakeFetcher struct {
	mu      sync.Mutex
	stats   *model.QueryResponse
	series  *model.QueryResponse
	statErr error
	serErr  error
	delay   time.Duration
	queries []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, query, format string) (*model.QueryResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if strings.Contains(query, "span(") {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		return f.series, f.serErr
	}
	return f.stats, f.statErr
}

func statsResponse() *model.QueryResponse {
	return &model.QueryResponse{
		Schema: []model.SchemaField{
			{Name: "count()", Type: "integer"},
			{Name: "take(message, 1)", Type: "array"},
			{Name: "patterns_field", Type: "string"},
		},
		DataRows: [][]any{
			{float64(12), []any{"GET /a 200"}, "<*> /<*> <*>"},
			{float64(3), []any{"timeout after 30s"}, "timeout after <*>"},
		},
	}
}

func TestStatsQuery(t *testing.T) {
	tests := []struct {
		name  string
		regex string
		want  string
	}{
		{
			name:  "default regex omitted",
			regex: model.DefaultPatternRegex,
			want:  timeBounded + " | patterns message | stats count(), take(message, 1) by patterns_field",
		},
		{
			name:  "custom regex escaped",
			regex: "[a-z']",
			want:  timeBounded + " | patterns pattern='[a-z'']' message | stats count(), take(message, 1) by patterns_field",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, StatsQuery(timeBounded, "message", tt.regex)); diff != "" {
				t.Errorf("StatsQuery mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTimeSeriesQuery(t *testing.T) {
	got := TimeSeriesQuery(timeBounded, "message", "", "ts", "")
	want := timeBounded + " | patterns message | stats count() by span(ts, 1m) as timestamp, patterns_field"
	assert.Equal(t, want, got)

	got = TimeSeriesQuery(timeBounded, "message", "", "ts", "h")
	assert.Contains(t, got, "span(ts, 1h)")
}

func TestMine_MergesStatsRows(t *testing.T) {
	f := &fakeFetcher{
		stats: statsResponse(),
		series: &model.QueryResponse{
			Schema: []model.SchemaField{{Name: "count()"}, {Name: "timestamp"}, {Name: "patterns_field"}},
			DataRows: [][]any{
				{float64(5), "2024-01-01 00:00:00", "<*> /<*> <*>"},
				{float64(7), "2024-01-01 00:01:00", "<*> /<*> <*>"},
			},
		},
	}
	m := NewMiner(f, nil)

	res, err := m.Mine(context.Background(), Request{
		TimeBoundedQuery: timeBounded,
		PatternField:     "message",
		TimestampField:   "ts",
	})
	require.NoError(t, err)

	want := []model.PatternRow{
		{Pattern: "<*> /<*> <*>", Count: 12, SampleLog: "GET /a 200"},
		{Pattern: "timeout after <*>", Count: 3, SampleLog: "timeout after 30s"},
	}
	if diff := cmp.Diff(want, res.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, res.Series, 2)
	assert.Equal(t, SeriesRow{Timestamp: "2024-01-01 00:01:00", Pattern: "<*> /<*> <*>", Count: 7}, res.Series[1])
	assert.NoError(t, res.SeriesErr)
	assert.Len(t, f.queries, 2)
}

func TestMine_StatsFailureFails(t *testing.T) {
	f := &fakeFetcher{statErr: errors.New("engine down"), series: &model.QueryResponse{}}
	m := NewMiner(f, nil)

	res, err := m.Mine(context.Background(), Request{TimeBoundedQuery: timeBounded, PatternField: "message", TimestampField: "ts"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "engine down")
}

func TestMine_SeriesFailureDegrades(t *testing.T) {
	f := &fakeFetcher{stats: statsResponse(), serErr: errors.New("span not supported")}
	m := NewMiner(f, nil)

	res, err := m.Mine(context.Background(), Request{TimeBoundedQuery: timeBounded, PatternField: "message", TimestampField: "ts"})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.Nil(t, res.Series)
	assert.Error(t, res.SeriesErr)
	for _, row := range res.Rows {
		assert.Nil(t, row.AnomalyCount)
	}
}

func TestMine_WaitsForBothQueries(t *testing.T) {
	f := &fakeFetcher{
		stats: statsResponse(),
		series: &model.QueryResponse{
			DataRows: [][]any{{float64(1), "2024-01-01 00:00:00", "timeout after <*>"}},
		},
		delay: 30 * time.Millisecond,
	}
	m := NewMiner(f, nil)

	res, err := m.Mine(context.Background(), Request{TimeBoundedQuery: timeBounded, PatternField: "message", TimestampField: "ts"})
	require.NoError(t, err)
	require.Len(t, res.Series, 1)
	assert.Equal(t, "timeout after <*>", res.Series[0].Pattern)
}

func TestMine_PositionalFallback(t *testing.T) {
	f := &fakeFetcher{
		stats: &model.QueryResponse{
			DataRows: [][]any{{float64(4), []any{"disk full"}, "disk <*>"}},
		},
		series: &model.QueryResponse{},
	}
	m := NewMiner(f, nil)

	res, err := m.Mine(context.Background(), Request{TimeBoundedQuery: timeBounded, PatternField: "message", TimestampField: "ts"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, model.PatternRow{Pattern: "disk <*>", Count: 4, SampleLog: "disk full"}, res.Rows[0])
	assert.Empty(t, res.Series)
}

func TestMine_RejectsShortRows(t *testing.T) {
	f := &fakeFetcher{stats: &model.QueryResponse{DataRows: [][]any{{float64(1)}}}}
	m := NewMiner(f, nil)

	_, err := m.Mine(context.Background(), Request{TimeBoundedQuery: timeBounded, PatternField: "message"})
	assert.Error(t, err)
}

func TestMine_Validation(t *testing.T) {
	m := NewMiner(&fakeFetcher{}, nil)

	_, err := m.Mine(context.Background(), Request{TimeBoundedQuery: timeBounded})
	assert.ErrorIs(t, err, ErrNoPatternField)

	_, err = m.Mine(context.Background(), Request{PatternField: "message"})
	assert.ErrorIs(t, err, ErrNoQuery)
}

package orchestrator

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
	"github.com/tinytelemetry/sightline/internal/session"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var baseNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeEngine answers events, stats and time-series queries.
type fakeEngine struct {
	mu        sync.Mutex
	queries   []string
	eventsErr error
	statsErr  error
	seriesErr error
}

func (f *fakeEngine) Fetch(ctx context.Context, query, format string) (*model.QueryResponse, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	switch {
	case strings.Contains(query, "span("):
		if f.seriesErr != nil {
			return nil, f.seriesErr
		}
		return &model.QueryResponse{
			Schema: []model.SchemaField{{Name: "count()"}, {Name: "timestamp"}, {Name: "patterns_field"}},
			DataRows: [][]any{
				{float64(8), "2024-03-01 11:50:00", "GET <*>"},
				{float64(2), "2024-03-01 11:51:00", "timeout <*>"},
			},
		}, nil
	case strings.Contains(query, "take("):
		if f.statsErr != nil {
			return nil, f.statsErr
		}
		return &model.QueryResponse{
			Schema: []model.SchemaField{{Name: "count()"}, {Name: "take(message, 1)"}, {Name: "patterns_field"}},
			DataRows: [][]any{
				{float64(8), []any{"GET /index"}, "GET <*>"},
				{float64(2), []any{"timeout 30s"}, "timeout <*>"},
			},
		}, nil
	default:
		if f.eventsErr != nil {
			return nil, f.eventsErr
		}
		return &model.QueryResponse{
			Schema:   []model.SchemaField{{Name: "ts"}, {Name: "message"}},
			DataRows: [][]any{{"2024-03-01 11:59:00", "GET /index"}},
		}, nil
	}
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeResolver struct {
	info    *model.TimestampInfo
	err     error
	calls   int
	indices []string
}

func (f *fakeResolver) DefaultTimestamp(ctx context.Context, index string) (*model.TimestampInfo, error) {
	f.calls++
	f.indices = append(f.indices, index)
	return f.info, f.err
}

type fakeDetector struct{}

func (fakeDetector) PredictAnomalies(ctx context.Context, req model.AnomalyRequest) (*model.AnomalyResponse, error) {
	return &model.AnomalyResponse{Anomalies: []model.AnomalyResult{
		{Category: "timeout <*>", IsAnomaly: true},
		{Category: "GET <*>", IsAnomaly: false},
	}}, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []model.SearchRecord
}

func (f *fakeHistory) RecordSearch(rec model.SearchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func newTestOrchestrator(engine *fakeEngine, resolver *fakeResolver, history *fakeHistory) *Orchestrator {
	deps := Deps{
		Events:   engine,
		Resolver: resolver,
		Detector: fakeDetector{},
	}
	if history != nil {
		deps.History = history
	}
	o := New(deps, Config{LiveInterval: 10 * time.Millisecond}, nil)
	o.now = func() time.Time { return baseNow }
	return o
}

func intPtr(n int) *int { return &n }

func TestSearch_Settled(t *testing.T) {
	engine := &fakeEngine{}
	resolver := &fakeResolver{info: &model.TimestampInfo{DefaultTimestamp: "ts"}}
	history := &fakeHistory{}
	o := newTestOrchestrator(engine, resolver, history)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)

	out := o.Search(context.Background(), tab, model.SearchRequest{
		Query:        "source=logs | where status=500",
		PatternField: "message",
	})

	require.Equal(t, model.StatusSettled, out.Status, out.Error)
	want := "source=logs | where ts >= '2024-03-01 11:45:00.000000' and ts <= '2024-03-01 12:00:00.000000' | where status=500"
	if diff := cmp.Diff(want, out.FinalQuery); diff != "" {
		t.Errorf("final query mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "ts", out.TimestampField)
	assert.Len(t, out.Events.DataRows, 1)

	require.NotNil(t, out.Patterns)
	assert.True(t, out.Patterns.AnomalyAvailable)
	assert.Equal(t, []model.PatternRow{
		{Pattern: "GET <*>", Count: 8, SampleLog: "GET /index", AnomalyCount: intPtr(0)},
		{Pattern: "timeout <*>", Count: 2, SampleLog: "timeout 30s", AnomalyCount: intPtr(1)},
	}, out.Patterns.Rows)

	snap := tab.Snapshot()
	assert.Equal(t, want, snap.State.FinalQuery)
	assert.Equal(t, "ts", snap.State.SelectedTimestamp)
	assert.Equal(t, string(session.PhaseSettled), snap.Phase)
	assert.Len(t, snap.Patterns.Rows, 2)
	assert.Equal(t, 1, resolver.calls)

	require.Len(t, history.records, 1)
	assert.Equal(t, "settled", history.records[0].Status)
	assert.Equal(t, 1, history.records[0].RowCount)
	assert.Equal(t, 2, history.records[0].PatternCount)
}

func TestSearch_SkipsResolverWhenTimestampKnown(t *testing.T) {
	resolver := &fakeResolver{}
	o := newTestOrchestrator(&fakeEngine{}, resolver, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)

	out := o.Search(context.Background(), tab, model.SearchRequest{Query: "source=logs", TimestampField: "@timestamp"})
	assert.Equal(t, model.StatusSettled, out.Status)
	assert.Zero(t, resolver.calls)
}

func TestSearch_SchemaConflictWarns(t *testing.T) {
	resolver := &fakeResolver{info: &model.TimestampInfo{
		DefaultTimestamp:  "ts",
		HasSchemaConflict: true,
		Message:           "logs-a uses ts, logs-b uses @timestamp",
	}}
	o := newTestOrchestrator(&fakeEngine{}, resolver, nil)
	defer o.Close()

	out := o.Search(context.Background(), session.NewTab("t1", baseNow), model.SearchRequest{Query: "source=logs-*"})
	assert.Equal(t, model.StatusSettled, out.Status)
	assert.Equal(t, []string{"logs-a uses ts, logs-b uses @timestamp"}, out.Warnings)
}

func TestSearch_NoTimestampHalts(t *testing.T) {
	tests := []struct {
		name     string
		resolver *fakeResolver
	}{
		{name: "empty", resolver: &fakeResolver{info: &model.TimestampInfo{}}},
		{name: "error", resolver: &fakeResolver{err: errors.New("mapping unavailable")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			o := newTestOrchestrator(engine, tt.resolver, nil)
			defer o.Close()

			out := o.Search(context.Background(), session.NewTab("t1", baseNow), model.SearchRequest{Query: "source=logs"})
			assert.Equal(t, model.StatusNoTimestamp, out.Status)
			assert.Zero(t, engine.count())
		})
	}
}

func TestSearch_ComposeFailures(t *testing.T) {
	tests := []struct {
		name string
		req  model.SearchRequest
		want model.SearchStatus
	}{
		{name: "empty query", req: model.SearchRequest{}, want: model.StatusNoQuery},
		{name: "no index", req: model.SearchRequest{Query: "where a=1", TimestampField: "ts"}, want: model.StatusMalformed},
		{name: "bad range", req: model.SearchRequest{Query: "source=logs", TimestampField: "ts", Start: "yesterday"}, want: model.StatusMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			o := newTestOrchestrator(engine, &fakeResolver{}, nil)
			defer o.Close()

			out := o.Search(context.Background(), session.NewTab("t1", baseNow), tt.req)
			assert.Equal(t, tt.want, out.Status)
			assert.Empty(t, out.FinalQuery)
			assert.Zero(t, engine.count())
		})
	}
}

func TestSearch_EventsFailureIsTerminal(t *testing.T) {
	engine := &fakeEngine{eventsErr: errors.New("index_not_found_exception")}
	o := newTestOrchestrator(engine, &fakeResolver{}, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)

	out := o.Search(context.Background(), tab, model.SearchRequest{Query: "source=logs", TimestampField: "ts"})
	assert.Equal(t, model.StatusError, out.Status)
	assert.Contains(t, out.Error, "index_not_found_exception")
	assert.Nil(t, out.Events)
	assert.Equal(t, 1, engine.count())
	assert.Equal(t, model.StatusError, tab.Snapshot().LastStatus)
}

func TestSearch_PatternFailureClearsTable(t *testing.T) {
	engine := &fakeEngine{}
	o := newTestOrchestrator(engine, &fakeResolver{}, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)

	req := model.SearchRequest{Query: "source=logs", TimestampField: "ts", PatternField: "message"}
	require.Equal(t, model.StatusSettled, o.Search(context.Background(), tab, req).Status)
	require.NotNil(t, tab.Patterns())

	engine.statsErr = errors.New("patterns unsupported")
	out := o.Search(context.Background(), tab, req)
	assert.Equal(t, model.StatusSettled, out.Status)
	assert.Nil(t, out.Patterns)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "patterns unsupported")
	assert.Nil(t, tab.Patterns())
}

func TestSearch_SeriesFailureLeavesAnomalyUnset(t *testing.T) {
	engine := &fakeEngine{seriesErr: errors.New("span failed")}
	o := newTestOrchestrator(engine, &fakeResolver{}, nil)
	defer o.Close()

	out := o.Search(context.Background(), session.NewTab("t1", baseNow), model.SearchRequest{
		Query: "source=logs", TimestampField: "ts", PatternField: "message",
	})
	require.NotNil(t, out.Patterns)
	assert.False(t, out.Patterns.AnomalyAvailable)
	for _, row := range out.Patterns.Rows {
		assert.Nil(t, row.AnomalyCount)
	}
}

func TestSearch_FilteredPatternSkipsMining(t *testing.T) {
	engine := &fakeEngine{}
	o := newTestOrchestrator(engine, &fakeResolver{}, nil)
	defer o.Close()

	out := o.Search(context.Background(), session.NewTab("t1", baseNow), model.SearchRequest{
		Query: "source=logs", TimestampField: "ts", PatternField: "message", FilteredPattern: "GET <*>",
	})
	assert.Equal(t, model.StatusSettled, out.Status)
	assert.True(t, strings.HasSuffix(out.FinalQuery, "| patterns message | where patterns_field='GET <*>'"), out.FinalQuery)
	assert.Equal(t, 1, engine.count())
	assert.Nil(t, out.Patterns)
}

func TestSearch_IndexChangeResetsTimestamp(t *testing.T) {
	resolver := &fakeResolver{info: &model.TimestampInfo{DefaultTimestamp: "ts"}}
	o := newTestOrchestrator(&fakeEngine{}, resolver, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)

	o.Search(context.Background(), tab, model.SearchRequest{Query: "source=logs"})
	o.Search(context.Background(), tab, model.SearchRequest{Query: "source=logs | head 5"})
	assert.Equal(t, 1, resolver.calls)

	o.Search(context.Background(), tab, model.SearchRequest{Query: "source=metrics"})
	assert.Equal(t, 2, resolver.calls)
}

func TestSearch_ResetFiltersClearsState(t *testing.T) {
	engine := &fakeEngine{}
	o := newTestOrchestrator(engine, &fakeResolver{}, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)

	out := o.Search(context.Background(), tab, model.SearchRequest{
		Query: "source=logs", TimestampField: "ts", PatternField: "message",
		WhereClause: "a=1", FilteredPattern: "GET <*>",
	})
	require.Equal(t, model.StatusSettled, out.Status)
	assert.Contains(t, out.FinalQuery, "a=1")
	assert.Contains(t, out.FinalQuery, "where patterns_field='GET <*>'")

	// Empty filters without a reset keep the tab's filters.
	out = o.Search(context.Background(), tab, model.SearchRequest{})
	assert.Contains(t, out.FinalQuery, "where patterns_field='GET <*>'")

	out = o.Search(context.Background(), tab, model.SearchRequest{ResetFilters: true})
	require.Equal(t, model.StatusSettled, out.Status)
	assert.NotContains(t, out.FinalQuery, "a=1")
	assert.NotContains(t, out.FinalQuery, "patterns_field=")
	require.NotNil(t, out.Patterns)

	state := tab.State()
	assert.Empty(t, state.FilteredPattern)
	assert.Empty(t, state.WhereClause)
	assert.Equal(t, "message", state.SelectedPatternField)
	assert.Equal(t, "source=logs", state.RawQuery)
}

func TestSearch_BaseQueryChangeResetsTimestamp(t *testing.T) {
	resolver := &fakeResolver{info: &model.TimestampInfo{DefaultTimestamp: "ts"}}
	o := newTestOrchestrator(&fakeEngine{}, resolver, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)

	o.Search(context.Background(), tab, model.SearchRequest{BaseQuery: "source=logs", Query: "head 5"})
	o.Search(context.Background(), tab, model.SearchRequest{BaseQuery: "source=metrics"})
	assert.Equal(t, []string{"logs", "metrics"}, resolver.indices)
}

func TestResolveTimestamp_StripsBackticks(t *testing.T) {
	resolver := &fakeResolver{info: &model.TimestampInfo{DefaultTimestamp: "ts"}}
	o := newTestOrchestrator(&fakeEngine{}, resolver, nil)
	defer o.Close()

	field, _, err := o.ResolveTimestamp(context.Background(), "", "source=`my-logs` | head 5")
	require.NoError(t, err)
	assert.Equal(t, "ts", field)
	assert.Equal(t, []string{"my-logs"}, resolver.indices)
}

func TestExecute_StaleTokenLeavesTabUntouched(t *testing.T) {
	engine := &fakeEngine{}
	o := newTestOrchestrator(engine, &fakeResolver{info: &model.TimestampInfo{DefaultTimestamp: "ts"}}, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)
	tab.UpdateState(func(s *model.QueryState) { s.RawQuery = "source=logs" })
	tab.SetPhase(session.PhaseSettled)

	stale := session.NewLiveToken("old", time.Second, "2024-03-01 11:45:00.000000")
	out := o.execute(context.Background(), tab, stale.Start, DefaultRangeEnd, true, stale, 1)

	assert.Equal(t, model.StatusSettled, out.Status)
	assert.Equal(t, session.PhaseSettled, tab.Phase())
	state := tab.State()
	assert.Empty(t, state.SelectedTimestamp)
	assert.Empty(t, state.FinalQuery)
}

func TestSearch_LiveFailureWarningIsNotPublished(t *testing.T) {
	o := newTestOrchestrator(&fakeEngine{}, &fakeResolver{}, nil)
	o.Close()
	tab := session.NewTab("t1", baseNow)
	updates, unsubscribe := tab.Subscribe()
	defer unsubscribe()

	out := o.Search(context.Background(), tab, model.SearchRequest{Query: "source=logs", TimestampField: "ts", Live: true})
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "live tail not started")

	published := <-updates
	assert.Empty(t, published.Warnings)
	assert.Equal(t, out.FinalQuery, published.FinalQuery)
}

func TestLive_FixedStartAdvancingEnd(t *testing.T) {
	engine := &fakeEngine{}
	o := newTestOrchestrator(engine, &fakeResolver{}, nil)
	clock := &stepClock{t: baseNow, step: time.Minute}
	o.now = clock.Now
	tab := session.NewTab("t1", baseNow)

	tab.UpdateState(func(s *model.QueryState) {
		s.RawQuery = "source=logs"
		s.SelectedTimestamp = "ts"
	})
	outcomes, release := tab.Subscribe()
	defer release()

	require.NoError(t, o.StartLive(tab, model.LiveRequest{Name: "fast", Interval: 5 * time.Millisecond}))
	first := <-outcomes
	second := <-outcomes
	o.StopLive(tab)
	o.Close()

	assert.True(t, first.Live)
	assert.Equal(t, 1, first.Iteration)
	assert.Equal(t, 2, second.Iteration)

	prefix := "source=logs | where ts >= '2024-03-01 12:00:00.000000' and ts <= '"
	assert.True(t, strings.HasPrefix(first.FinalQuery, prefix), first.FinalQuery)
	assert.True(t, strings.HasPrefix(second.FinalQuery, prefix), second.FinalQuery)
	assert.True(t, strings.HasSuffix(first.FinalQuery, "| sort - ts"))
	assert.NotEqual(t, first.FinalQuery, second.FinalQuery, "end should advance between iterations")
}

func TestLive_SupersededLoopStops(t *testing.T) {
	engine := &fakeEngine{}
	o := newTestOrchestrator(engine, &fakeResolver{}, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)
	tab.UpdateState(func(s *model.QueryState) {
		s.RawQuery = "source=logs"
		s.SelectedTimestamp = "ts"
	})

	require.NoError(t, o.StartLive(tab, model.LiveRequest{Name: "slow", Interval: time.Hour}))
	first := tab.LiveToken()
	require.NoError(t, o.StartLive(tab, model.LiveRequest{Name: "fast", Interval: 5 * time.Millisecond}))

	assert.False(t, tab.IsCurrent(first))
	assert.Equal(t, "fast", tab.Snapshot().LiveName)
	require.Eventually(t, func() bool { return engine.count() >= 1 }, time.Second, time.Millisecond)

	assert.True(t, o.StopLive(tab))
	assert.False(t, o.StopLive(tab))
	assert.False(t, tab.Snapshot().Live)
}

func TestLive_SearchStartsLoop(t *testing.T) {
	o := newTestOrchestrator(&fakeEngine{}, &fakeResolver{}, nil)
	defer o.Close()
	tab := session.NewTab("t1", baseNow)

	out := o.Search(context.Background(), tab, model.SearchRequest{
		Query: "source=logs", TimestampField: "ts", Live: true, LiveName: "5s", LiveInterval: time.Hour,
	})
	assert.Equal(t, model.StatusSettled, out.Status)
	assert.True(t, strings.HasSuffix(out.FinalQuery, "| sort - ts"))
	snap := tab.Snapshot()
	assert.True(t, snap.Live)
	assert.Equal(t, "5s", snap.LiveName)
	assert.Equal(t, string(session.PhaseLiveLoop), snap.Phase)
}

func TestLive_RequiresQuery(t *testing.T) {
	o := newTestOrchestrator(&fakeEngine{}, &fakeResolver{}, nil)
	defer o.Close()

	err := o.StartLive(session.NewTab("t1", baseNow), model.LiveRequest{})
	assert.ErrorIs(t, err, ErrNoQuery)
}

func TestLive_ClosedOrchestrator(t *testing.T) {
	o := newTestOrchestrator(&fakeEngine{}, &fakeResolver{}, nil)
	o.Close()
	tab := session.NewTab("t1", baseNow)
	tab.UpdateState(func(s *model.QueryState) { s.RawQuery = "source=logs" })

	assert.ErrorIs(t, o.StartLive(tab, model.LiveRequest{}), ErrClosed)
}

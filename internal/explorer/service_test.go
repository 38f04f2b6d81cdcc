package explorer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/orchestrator"
	"github.com/tinytelemetry/sightline/internal/session"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEngine struct{}

func (fakeEngine) Fetch(ctx context.Context, query, format string) (*model.QueryResponse, error) {
	if strings.Contains(query, "take(") {
		return &model.QueryResponse{DataRows: [][]any{{float64(1), []any{"boot ok"}, "boot <*>"}}}, nil
	}
	return &model.QueryResponse{DataRows: [][]any{{"row"}}}, nil
}

type fakeResolver struct{}

func (fakeResolver) DefaultTimestamp(ctx context.Context, index string) (*model.TimestampInfo, error) {
	return &model.TimestampInfo{DefaultTimestamp: "@timestamp"}, nil
}

type fakeHistory struct{ tabID string }

func (f *fakeHistory) RecentSearches(limit int, tabID string) ([]model.SearchRecord, error) {
	f.tabID = tabID
	return []model.SearchRecord{{TabID: tabID, Status: "settled"}}, nil
}

func newTestService(t *testing.T, history model.HistoryReader) *Service {
	t.Helper()
	orch := orchestrator.New(orchestrator.Deps{
		Events:   fakeEngine{},
		Resolver: fakeResolver{},
	}, orchestrator.Config{LiveInterval: 5 * time.Millisecond}, nil)
	svc := New(orch, session.NewRegistry(), history, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(svc.Close)
	return svc
}

func TestCompose_InfersTimestamp(t *testing.T) {
	svc := newTestService(t, nil)

	got, err := svc.Compose(context.Background(), model.ComposeRequest{
		Query: "source=logs | stats count() by host",
		Start: "now-1h",
		End:   "now",
	})
	require.NoError(t, err)
	assert.Equal(t, "source=logs | where @timestamp >= '2024-03-01 11:00:00.000000' and @timestamp <= '2024-03-01 12:00:00.000000' | stats count() by host", got)
}

func TestCompose_Errors(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Compose(context.Background(), model.ComposeRequest{})
	assert.Error(t, err)

	_, err = svc.Compose(context.Background(), model.ComposeRequest{Query: "| head 5"})
	assert.Error(t, err)
}

func TestTabLifecycle(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	id, err := svc.CreateTab(ctx)
	require.NoError(t, err)

	patterns, err := svc.Patterns(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, patterns.Rows)

	out, err := svc.Search(ctx, id, model.SearchRequest{Query: "source=logs", PatternField: "message"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSettled, out.Status)

	patterns, err = svc.Patterns(ctx, id)
	require.NoError(t, err)
	require.Len(t, patterns.Rows, 1)
	assert.Equal(t, "boot <*>", patterns.Rows[0].Pattern)

	snap, err := svc.TabState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "@timestamp", snap.State.SelectedTimestamp)
	assert.Len(t, svc.Tabs(), 1)

	require.NoError(t, svc.CloseTab(ctx, id))
	_, err = svc.TabState(ctx, id)
	assert.ErrorIs(t, err, session.ErrTabNotFound)
	assert.ErrorIs(t, svc.CloseTab(ctx, id), session.ErrTabNotFound)
}

func TestLiveStreamsOutcomes(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	id, err := svc.CreateTab(ctx)
	require.NoError(t, err)
	_, err = svc.Search(ctx, id, model.SearchRequest{Query: "source=logs"})
	require.NoError(t, err)

	ch, release, err := svc.Subscribe(id)
	require.NoError(t, err)
	defer release()

	require.NoError(t, svc.StartLive(ctx, id, model.LiveRequest{Name: "tail", Interval: 5 * time.Millisecond}))
	select {
	case out := <-ch:
		assert.True(t, out.Live)
		assert.Equal(t, id, out.TabID)
	case <-time.After(2 * time.Second):
		t.Fatal("no live outcome received")
	}

	require.NoError(t, svc.StopLive(ctx, id))
	require.NoError(t, svc.StopLive(ctx, id))
	snap, err := svc.TabState(ctx, id)
	require.NoError(t, err)
	assert.False(t, snap.Live)
}

func TestUnknownTab(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Search(ctx, "nope", model.SearchRequest{})
	assert.ErrorIs(t, err, session.ErrTabNotFound)
	assert.ErrorIs(t, svc.StartLive(ctx, "nope", model.LiveRequest{}), session.ErrTabNotFound)
	_, _, err = svc.Subscribe("nope")
	assert.ErrorIs(t, err, session.ErrTabNotFound)
}

func TestHistory(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.History(context.Background(), "", 10)
	assert.ErrorIs(t, err, ErrNoHistory)

	h := &fakeHistory{}
	svc = newTestService(t, h)
	recs, err := svc.History(context.Background(), "tab-1", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, "tab-1", h.tabID)
}

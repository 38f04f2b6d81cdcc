package socketrpc

import (
	"context"
	"errors"
	"time"

	"github.com/tinytelemetry/sightline/internal/model"
)

var errUnknownTab = errors.New("unknown tab")

// stubExplorer returns fixed values and remembers the last live request.
type stubExplorer struct {
	lastLive   model.LiveRequest
	lastSearch model.SearchRequest
}

func (s *stubExplorer) Compose(ctx context.Context, req model.ComposeRequest) (string, error) {
	if req.Query == "" {
		return "", errors.New("query is empty")
	}
	return req.Query + " | where x = 1", nil
}

func (s *stubExplorer) CreateTab(ctx context.Context) (string, error) { return "tab-1", nil }

func (s *stubExplorer) CloseTab(ctx context.Context, tabID string) error {
	if tabID != "tab-1" {
		return errUnknownTab
	}
	return nil
}

func (s *stubExplorer) Search(ctx context.Context, tabID string, req model.SearchRequest) (*model.SearchOutcome, error) {
	s.lastSearch = req
	return &model.SearchOutcome{
		TabID:      tabID,
		Status:     model.StatusSettled,
		FinalQuery: req.Query,
		Events: &model.QueryResponse{
			Schema:   []model.SchemaField{{Name: "message", Type: "string"}},
			DataRows: [][]any{{"hello"}},
			Total:    1,
		},
	}, nil
}

func (s *stubExplorer) Patterns(ctx context.Context, tabID string) (*model.PatternTable, error) {
	n := 2
	return &model.PatternTable{
		Rows:             []model.PatternRow{{Pattern: "<*> failed", Count: 7, SampleLog: "db failed", AnomalyCount: &n}},
		AnomalyAvailable: true,
	}, nil
}

func (s *stubExplorer) StartLive(ctx context.Context, tabID string, req model.LiveRequest) error {
	s.lastLive = req
	return nil
}

func (s *stubExplorer) StopLive(ctx context.Context, tabID string) error { return nil }

func (s *stubExplorer) TabState(ctx context.Context, tabID string) (*model.TabSnapshot, error) {
	return &model.TabSnapshot{
		ID:        tabID,
		Phase:     "settled",
		State:     model.QueryState{RawQuery: "source=logs"},
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubExplorer) History(ctx context.Context, tabID string, limit int) ([]model.SearchRecord, error) {
	return []model.SearchRecord{{ID: 1, TabID: "tab-1", RawQuery: "source=logs", Status: "settled"}}, nil
}

// Package explorer exposes tabs, searches, live tail and history behind
// the model.ExplorerAPI contract shared by the HTTP and socket surfaces.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinytelemetry/sightline/internal/composer"
	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/orchestrator"
	"github.com/tinytelemetry/sightline/internal/session"
	"go.uber.org/zap"
)

// ErrNoHistory is returned when no history store is configured.
var ErrNoHistory = errors.New("explorer: search history is disabled")

// Service implements model.ExplorerAPI.
type Service struct {
	tabs    *session.Registry
	orch    *orchestrator.Orchestrator
	history model.HistoryReader
	logger  *zap.SugaredLogger
	now     func() time.Time
}

var _ model.ExplorerAPI = (*Service)(nil)

// New creates a Service. history may be nil.
func New(orch *orchestrator.Orchestrator, tabs *session.Registry, history model.HistoryReader, logger *zap.SugaredLogger) *Service {
	return &Service{
		tabs:    tabs,
		orch:    orch,
		history: history,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
}

// Compose builds the final query without touching any tab. A missing
// timestamp field is inferred from the index mapping.
func (s *Service) Compose(ctx context.Context, req model.ComposeRequest) (string, error) {
	timeField := req.TimestampField
	if timeField == "" && req.Query != "" {
		field, _, err := s.orch.ResolveTimestamp(ctx, req.BaseQuery, req.Query)
		if err != nil {
			return "", fmt.Errorf("explorer: compose: %w", err)
		}
		if field == "" {
			return "", errors.New("explorer: compose: no timestamp field found")
		}
		timeField = field
	}

	start, end := req.Start, req.End
	if start == "" {
		start = orchestrator.DefaultRangeStart
	}
	if end == "" {
		end = orchestrator.DefaultRangeEnd
	}
	return composer.ComposeChecked(composer.Params{
		RawQuery:        req.Query,
		Start:           start,
		End:             end,
		TimeField:       timeField,
		Live:            req.Live,
		BaseQuery:       req.BaseQuery,
		WhereClause:     req.WhereClause,
		PatternField:    req.PatternField,
		PatternRegex:    req.PatternRegex,
		FilteredPattern: req.FilteredPattern,
		Now:             s.now(),
	})
}

// CreateTab opens a tab.
func (s *Service) CreateTab(ctx context.Context) (string, error) {
	tab := s.tabs.Create()
	s.logger.Debugw("explorer: tab created", "tab", tab.ID)
	return tab.ID, nil
}

// CloseTab closes a tab, superseding its live tail.
func (s *Service) CloseTab(ctx context.Context, tabID string) error {
	if err := s.tabs.Close(tabID); err != nil {
		return err
	}
	s.logger.Debugw("explorer: tab closed", "tab", tabID)
	return nil
}

// Search runs one search on a tab.
func (s *Service) Search(ctx context.Context, tabID string, req model.SearchRequest) (*model.SearchOutcome, error) {
	tab, err := s.tabs.Get(tabID)
	if err != nil {
		return nil, err
	}
	return s.orch.Search(ctx, tab, req), nil
}

// Patterns returns the tab's current pattern table.
func (s *Service) Patterns(ctx context.Context, tabID string) (*model.PatternTable, error) {
	tab, err := s.tabs.Get(tabID)
	if err != nil {
		return nil, err
	}
	if p := tab.Patterns(); p != nil {
		return p, nil
	}
	return &model.PatternTable{Rows: []model.PatternRow{}}, nil
}

// StartLive starts a live tail on the tab's current query.
func (s *Service) StartLive(ctx context.Context, tabID string, req model.LiveRequest) error {
	tab, err := s.tabs.Get(tabID)
	if err != nil {
		return err
	}
	return s.orch.StartLive(tab, req)
}

// StopLive stops the tab's live tail. Stopping an idle tab is not an error.
func (s *Service) StopLive(ctx context.Context, tabID string) error {
	tab, err := s.tabs.Get(tabID)
	if err != nil {
		return err
	}
	s.orch.StopLive(tab)
	return nil
}

// TabState returns a snapshot of a tab.
func (s *Service) TabState(ctx context.Context, tabID string) (*model.TabSnapshot, error) {
	tab, err := s.tabs.Get(tabID)
	if err != nil {
		return nil, err
	}
	return tab.Snapshot(), nil
}

// Tabs returns snapshots of every open tab.
func (s *Service) Tabs() []*model.TabSnapshot {
	tabs := s.tabs.List()
	out := make([]*model.TabSnapshot, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, t.Snapshot())
	}
	return out
}

// History lists recorded searches, newest first.
func (s *Service) History(ctx context.Context, tabID string, limit int) ([]model.SearchRecord, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	return s.history.RecentSearches(limit, tabID)
}

// Subscribe streams the tab's search outcomes until release is called or
// the tab closes.
func (s *Service) Subscribe(tabID string) (<-chan *model.SearchOutcome, func(), error) {
	tab, err := s.tabs.Get(tabID)
	if err != nil {
		return nil, nil, err
	}
	ch, release := tab.Subscribe()
	return ch, release, nil
}

// Close closes every tab and stops all live loops.
func (s *Service) Close() {
	s.tabs.CloseAll()
	s.orch.Close()
}

// Package orchestrator drives a tab's search: it resolves the timestamp
// field, composes the final query, fetches events and patterns, and runs
// the live-tail loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tinytelemetry/sightline/internal/anomaly"
	"github.com/tinytelemetry/sightline/internal/composer"
	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/metrics"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/patterns"
	"github.com/tinytelemetry/sightline/internal/ppl"
	"github.com/tinytelemetry/sightline/internal/session"
	"github.com/tinytelemetry/sightline/internal/timerange"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Default time window applied when neither the request nor the tab has one.
const (
	DefaultRangeStart = "now-15m"
	DefaultRangeEnd   = "now"
)

var (
	// ErrNoQuery is returned when live tail is requested for a tab without a query.
	ErrNoQuery = errors.New("orchestrator: tab has no query")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator: closed")
)

// Deps are the external services used by the orchestrator.
type Deps struct {
	Events   model.EventsFetcher
	Resolver model.TimestampResolver
	Detector model.AnomalyDetector
	History  model.HistoryRecorder
}

// Config tunes the orchestrator.
type Config struct {
	LiveInterval    time.Duration
	DefaultSpanUnit string
	ResponseFormat  string
	Anomaly         model.AnomalyParameters
}

// Orchestrator runs searches on tabs. It is safe for concurrent use.
type Orchestrator struct {
	events   model.EventsFetcher
	resolver model.TimestampResolver
	history  model.HistoryRecorder
	miner    *patterns.Miner
	overlay  *anomaly.Overlay
	cfg      Config
	logger   *zap.SugaredLogger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.SugaredLogger) *Orchestrator {
	if cfg.LiveInterval <= 0 {
		cfg.LiveInterval = model.DefaultLiveInterval
	}
	if cfg.DefaultSpanUnit == "" {
		cfg.DefaultSpanUnit = model.DefaultSpanUnit
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = model.DefaultResponseFormat
	}
	logger = logging.OrNop(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		events:   deps.Events,
		resolver: deps.Resolver,
		history:  deps.History,
		miner:    patterns.NewMiner(deps.Events, logger),
		overlay:  anomaly.NewOverlay(deps.Detector, cfg.Anomaly, logger),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close stops every live loop and waits for them to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// Search applies req to the tab's query state and runs one search. When
// req.Live is set, a live tail is started from the same window afterwards.
// Failures are reported in the outcome, never as a panic or bare error.
func (o *Orchestrator) Search(ctx context.Context, tab *session.Tab, req model.SearchRequest) *model.SearchOutcome {
	state := tab.UpdateState(func(s *model.QueryState) { applyRequest(s, req) })
	if req.SpanUnit != "" {
		tab.SetSpanUnit(req.SpanUnit)
	}

	start, end := windowOf(state)
	out := o.execute(ctx, tab, start, end, req.Live, nil, 0)

	if req.Live && out.Status == model.StatusSettled {
		if err := o.StartLive(tab, model.LiveRequest{Name: req.LiveName, Interval: req.LiveInterval}); err != nil {
			// out is already published to subscribers; return a copy.
			res := *out
			res.Warnings = append(slices.Clone(out.Warnings), fmt.Sprintf("live tail not started: %v", err))
			return &res
		}
	}
	return out
}

// StartLive begins a live tail on the tab. The window start is resolved
// once and stays fixed; the end advances to now on every iteration. A live
// tail already running on the tab is superseded.
func (o *Orchestrator) StartLive(tab *session.Tab, req model.LiveRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	state := tab.State()
	if state.RawQuery == "" {
		return ErrNoQuery
	}
	startExpr, _ := windowOf(state)
	start, err := timerange.Resolve(startExpr, o.now(), false)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve live start: %w", err)
	}

	interval := req.Interval
	if interval <= 0 {
		interval = o.cfg.LiveInterval
	}
	name := req.Name
	if name == "" {
		name = interval.String()
	}

	tok := session.NewLiveToken(name, interval, timerange.Format(start))
	if !tab.SetLive(tok) {
		return session.ErrTabNotFound
	}

	o.wg.Add(1)
	metrics.LiveLoopsActive.Inc()
	go o.liveLoop(tab, tok)

	o.logger.Infow("orchestrator: live tail started", "tab", tab.ID, "name", name, "interval", interval, "start", tok.Start)
	return nil
}

// StopLive clears the tab's live token. The loop exits after its current
// sleep or fetch.
func (o *Orchestrator) StopLive(tab *session.Tab) bool {
	stopped := tab.ClearLive()
	if stopped {
		o.logger.Infow("orchestrator: live tail stopped", "tab", tab.ID)
	}
	return stopped
}

func (o *Orchestrator) liveLoop(tab *session.Tab, tok *session.LiveToken) {
	defer o.wg.Done()
	defer metrics.LiveLoopsActive.Dec()

	iteration := 0
	for {
		timer := time.NewTimer(tok.Interval)
		select {
		case <-timer.C:
		case <-tok.Done():
			timer.Stop()
			return
		case <-o.ctx.Done():
			timer.Stop()
			return
		}

		// Superseded while sleeping.
		if !tab.IsCurrent(tok) {
			return
		}
		iteration++
		metrics.LiveIterations.Inc()
		o.execute(o.ctx, tab, tok.Start, DefaultRangeEnd, true, tok, iteration)
	}
}

// execute runs ResolvingTimestamp, Composing and Fetching once. A non-nil
// tok marks a live iteration whose results are dropped if the token was
// superseded during the fetch.
func (o *Orchestrator) execute(ctx context.Context, tab *session.Tab, start, end string, live bool, tok *session.LiveToken, iteration int) *model.SearchOutcome {
	out := &model.SearchOutcome{
		TabID:     tab.ID,
		Live:      live,
		Iteration: iteration,
		StartedAt: o.now().UTC(),
	}
	current := func() bool { return tok == nil || tab.IsCurrent(tok) }
	setPhase := func(p session.Phase) {
		if current() {
			tab.SetPhase(p)
		}
	}
	var patternsFailed bool
	defer func() {
		out.FinishedAt = o.now().UTC()
		if !current() {
			return
		}
		o.settle(tab, out, patternsFailed)
	}()

	state := tab.State()
	if state.RawQuery == "" {
		out.Status = model.StatusNoQuery
		return out
	}

	setPhase(session.PhaseResolvingTimestamp)
	timeField, warning, err := o.resolveTimestamp(ctx, state)
	if warning != "" {
		out.Warnings = append(out.Warnings, warning)
	}
	if err != nil || timeField == "" {
		out.Status = model.StatusNoTimestamp
		if err != nil {
			out.Error = err.Error()
		}
		return out
	}
	out.TimestampField = timeField
	if state.SelectedTimestamp == "" && current() {
		tab.UpdateState(func(s *model.QueryState) { s.SelectedTimestamp = timeField })
	}

	setPhase(session.PhaseComposing)
	params := composer.Params{
		RawQuery:        state.RawQuery,
		Start:           start,
		End:             end,
		TimeField:       timeField,
		Live:            live,
		BaseQuery:       state.BaseQuery,
		WhereClause:     state.WhereClause,
		PatternField:    state.SelectedPatternField,
		PatternRegex:    state.PatternRegex,
		FilteredPattern: state.FilteredPattern,
		Now:             o.now(),
	}
	final, err := composer.ComposeChecked(params)
	if err != nil {
		switch {
		case errors.Is(err, composer.ErrEmptyQuery):
			out.Status = model.StatusNoQuery
		default:
			out.Status = model.StatusMalformed
			out.Error = err.Error()
		}
		return out
	}
	out.FinalQuery = final
	if current() {
		tab.UpdateState(func(s *model.QueryState) { s.FinalQuery = final })
	}

	setPhase(session.PhaseFetching)
	patternsFailed = o.fetch(ctx, tab, params, final, out)
	return out
}

// ResolveTimestamp infers the timestamp field for a query that has none
// selected. warning carries a schema-conflict message.
func (o *Orchestrator) ResolveTimestamp(ctx context.Context, baseQuery, rawQuery string) (field, warning string, err error) {
	return o.resolveTimestamp(ctx, model.QueryState{BaseQuery: baseQuery, RawQuery: rawQuery})
}

func (o *Orchestrator) resolveTimestamp(ctx context.Context, state model.QueryState) (field, warning string, err error) {
	if state.SelectedTimestamp != "" {
		return state.SelectedTimestamp, "", nil
	}
	index := ppl.StripBackticks(ppl.IndexSource(ppl.ComposeBaseAndUser(state.BaseQuery, state.RawQuery)))
	if index == "" {
		return "", "", composer.ErrNoIndex
	}
	if o.resolver == nil {
		return "", "", errors.New("orchestrator: no timestamp resolver configured")
	}
	info, err := o.resolver.DefaultTimestamp(ctx, index)
	if err != nil {
		return "", "", fmt.Errorf("orchestrator: resolve timestamp for %s: %w", index, err)
	}
	if info == nil {
		return "", "", nil
	}
	if info.HasSchemaConflict {
		warning = info.Message
		if warning == "" {
			warning = fmt.Sprintf("indices matching %s disagree on the timestamp field", index)
		}
	}
	return info.DefaultTimestamp, warning, nil
}

// fetch issues the events query and the pattern refresh concurrently and
// waits for both. It reports whether the pattern refresh failed.
func (o *Orchestrator) fetch(ctx context.Context, tab *session.Tab, params composer.Params, final string, out *model.SearchOutcome) (patternsFailed bool) {
	minePatterns := params.PatternField != "" && !ppl.HasPatternsStage(final)

	var (
		events     *model.QueryResponse
		eventsErr  error
		table      *model.PatternTable
		patternErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		events, eventsErr = o.events.Fetch(ctx, final, o.cfg.ResponseFormat)
		return nil
	})
	if minePatterns {
		g.Go(func() error {
			table, patternErr = o.refreshPatterns(ctx, tab, params)
			return nil
		})
	}
	_ = g.Wait()

	if minePatterns {
		if patternErr != nil {
			o.logger.Warnw("orchestrator: pattern refresh failed", "tab", tab.ID, "error", patternErr)
			out.Warnings = append(out.Warnings, fmt.Sprintf("patterns unavailable: %v", patternErr))
			patternsFailed = true
		} else {
			out.Patterns = table
		}
	}

	if eventsErr != nil {
		o.logger.Warnw("orchestrator: events fetch failed", "tab", tab.ID, "error", eventsErr)
		out.Status = model.StatusError
		out.Error = eventsErr.Error()
		return patternsFailed
	}
	out.Events = events
	out.Status = model.StatusSettled
	return patternsFailed
}

func (o *Orchestrator) refreshPatterns(ctx context.Context, tab *session.Tab, params composer.Params) (*model.PatternTable, error) {
	unit := tab.SpanUnit()
	if unit == "" {
		unit = o.cfg.DefaultSpanUnit
	}
	res, err := o.miner.Mine(ctx, patterns.Request{
		TimeBoundedQuery: composer.TimeBounded(params),
		PatternField:     params.PatternField,
		PatternRegex:     params.PatternRegex,
		TimestampField:   params.TimeField,
		SpanUnit:         unit,
	})
	if err != nil {
		return nil, err
	}
	return o.overlay.Apply(ctx, res), nil
}

// settle writes the outcome back to the tab, records history and metrics.
func (o *Orchestrator) settle(tab *session.Tab, out *model.SearchOutcome, patternsFailed bool) {
	switch {
	case out.Patterns != nil:
		tab.SetPatterns(out.Patterns)
	case patternsFailed:
		tab.SetPatterns(nil)
	}

	if tab.LiveToken() != nil {
		tab.SetPhase(session.PhaseLiveLoop)
	} else {
		tab.SetPhase(session.PhaseSettled)
	}
	tab.RecordOutcome(out)

	duration := out.FinishedAt.Sub(out.StartedAt)
	metrics.SearchesTotal.WithLabelValues(string(out.Status)).Inc()
	metrics.SearchDuration.Observe(duration.Seconds())

	if o.history == nil || out.FinalQuery == "" {
		return
	}
	rec := model.SearchRecord{
		TabID:      tab.ID,
		RawQuery:   tab.State().RawQuery,
		FinalQuery: out.FinalQuery,
		Status:     string(out.Status),
		Live:       out.Live,
		Duration:   duration.Milliseconds(),
		Error:      out.Error,
		CreatedAt:  out.StartedAt,
	}
	if out.Events != nil {
		rec.RowCount = len(out.Events.DataRows)
	}
	if out.Patterns != nil {
		rec.PatternCount = len(out.Patterns.Rows)
	}
	if err := o.history.RecordSearch(rec); err != nil {
		o.logger.Warnw("orchestrator: record search history", "tab", tab.ID, "error", err)
	}
}

// applyRequest merges the non-empty fields of req into s, or overwrites the
// filter fields outright when req.ResetFilters is set. Changing the index
// clears an inherited timestamp field.
func applyRequest(s *model.QueryState, req model.SearchRequest) {
	prev := ppl.IndexSource(ppl.ComposeBaseAndUser(s.BaseQuery, s.RawQuery))
	if req.BaseQuery != "" || req.ResetFilters {
		s.BaseQuery = req.BaseQuery
	}
	if req.Query != "" {
		s.RawQuery = req.Query
	}
	next := ppl.IndexSource(ppl.ComposeBaseAndUser(s.BaseQuery, s.RawQuery))
	if prev != next && req.TimestampField == "" {
		s.SelectedTimestamp = ""
	}
	if req.TimestampField != "" {
		s.SelectedTimestamp = req.TimestampField
	}
	if req.WhereClause != "" || req.ResetFilters {
		s.WhereClause = req.WhereClause
	}
	if req.PatternField != "" {
		s.SelectedPatternField = req.PatternField
	}
	if req.PatternRegex != "" || req.ResetFilters {
		s.PatternRegex = req.PatternRegex
	}
	if req.FilteredPattern != "" || req.ResetFilters {
		s.FilteredPattern = req.FilteredPattern
	}
	if req.Start != "" {
		s.SelectedDateRange[0] = req.Start
	}
	if req.End != "" {
		s.SelectedDateRange[1] = req.End
	}
}

func windowOf(s model.QueryState) (start, end string) {
	start, end = s.SelectedDateRange[0], s.SelectedDateRange[1]
	if start == "" {
		start = DefaultRangeStart
	}
	if end == "" {
		end = DefaultRangeEnd
	}
	return start, end
}

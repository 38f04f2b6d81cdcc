// Package session keeps per-tab explorer state: the query state, the search
// phase, the pattern table and the live-tail token.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/sightline/internal/model"
)

// Phase is the orchestrator state of a tab.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseResolvingTimestamp Phase = "resolving_timestamp"
	PhaseComposing          Phase = "composing"
	PhaseFetching           Phase = "fetching"
	PhaseLiveLoop           Phase = "live_loop"
	PhaseSettled            Phase = "settled"
)

// subscriberBuffer is the per-subscriber outcome backlog; older outcomes are
// dropped when a subscriber falls behind.
const subscriberBuffer = 16

var tokenSeq atomic.Uint64

// LiveToken identifies one live-tail loop. Tokens are compared by identity.
type LiveToken struct {
	ID       uint64
	Name     string
	Interval time.Duration
	Start    string // fixed absolute start of the window

	done chan struct{}
	once sync.Once
}

// NewLiveToken creates a token for a loop with a fixed start.
func NewLiveToken(name string, interval time.Duration, start string) *LiveToken {
	return &LiveToken{
		ID:       tokenSeq.Add(1),
		Name:     name,
		Interval: interval,
		Start:    start,
		done:     make(chan struct{}),
	}
}

// Done is closed once the token is superseded or cleared.
func (t *LiveToken) Done() <-chan struct{} {
	return t.done
}

func (t *LiveToken) cancel() {
	t.once.Do(func() { close(t.done) })
}

// Tab is one explorer session. All methods are safe for concurrent use.
type Tab struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	state      model.QueryState
	spanUnit   string
	phase      Phase
	live       *LiveToken
	patterns   *model.PatternTable
	lastStatus model.SearchStatus
	lastError  string
	lastSearch time.Time
	subs       map[int]chan *model.SearchOutcome
	nextSub    int
	closed     bool
}

// NewTab creates an idle tab.
func NewTab(id string, now time.Time) *Tab {
	return &Tab{
		ID:        id,
		CreatedAt: now,
		phase:     PhaseIdle,
		subs:      make(map[int]chan *model.SearchOutcome),
	}
}

// State returns a copy of the query state.
func (t *Tab) State() model.QueryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UpdateState applies fn to the query state under the tab lock.
func (t *Tab) UpdateState(fn func(*model.QueryState)) model.QueryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.state)
	return t.state
}

// SpanUnit returns the time-series bucket unit for pattern mining.
func (t *Tab) SpanUnit() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spanUnit
}

// SetSpanUnit sets the time-series bucket unit.
func (t *Tab) SetSpanUnit(unit string) {
	t.mu.Lock()
	t.spanUnit = unit
	t.mu.Unlock()
}

// Phase returns the current phase.
func (t *Tab) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// SetPhase moves the tab to p.
func (t *Tab) SetPhase(p Phase) {
	t.mu.Lock()
	t.phase = p
	t.mu.Unlock()
}

// SetLive installs tok as the current live token and cancels the previous
// one. It fails on a closed tab.
func (t *Tab) SetLive(tok *LiveToken) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		tok.cancel()
		return false
	}
	if t.live != nil {
		t.live.cancel()
	}
	t.live = tok
	t.phase = PhaseLiveLoop
	return true
}

// ClearLive cancels the current live token, if any, and reports whether one
// was active.
func (t *Tab) ClearLive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live == nil {
		return false
	}
	t.live.cancel()
	t.live = nil
	if t.phase == PhaseLiveLoop {
		t.phase = PhaseIdle
	}
	return true
}

// LiveToken returns the current live token, or nil.
func (t *Tab) LiveToken() *LiveToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// IsCurrent reports whether tok is still the tab's live token.
func (t *Tab) IsCurrent(tok *LiveToken) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return tok != nil && t.live == tok && !t.closed
}

// SetPatterns replaces the pattern table; nil clears it.
func (t *Tab) SetPatterns(p *model.PatternTable) {
	t.mu.Lock()
	t.patterns = p
	t.mu.Unlock()
}

// Patterns returns a copy of the pattern table, or nil.
func (t *Tab) Patterns() *model.PatternTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyTable(t.patterns)
}

// RecordOutcome stores the outcome summary and fans it out to subscribers.
func (t *Tab) RecordOutcome(out *model.SearchOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastStatus = out.Status
	t.lastError = out.Error
	t.lastSearch = out.FinishedAt
	for _, ch := range t.subs {
		select {
		case ch <- out:
		default:
			// Drop the oldest outcome to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- out:
			default:
			}
		}
	}
}

// Subscribe returns a channel of search outcomes and a func that releases
// it. The channel is closed when the tab closes or the func is called.
func (t *Tab) Subscribe() (<-chan *model.SearchOutcome, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan *model.SearchOutcome, subscriberBuffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
		})
	}
}

// Snapshot returns a read-only view of the tab.
func (t *Tab) Snapshot() *model.TabSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := &model.TabSnapshot{
		ID:         t.ID,
		State:      t.state,
		Phase:      string(t.phase),
		Live:       t.live != nil,
		LastStatus: t.lastStatus,
		LastError:  t.lastError,
		Patterns:   copyTable(t.patterns),
		CreatedAt:  t.CreatedAt,
		LastSearch: t.lastSearch,
	}
	if t.live != nil {
		snap.LiveName = t.live.Name
	}
	return snap
}

// Closed reports whether the tab was closed.
func (t *Tab) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tab) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.live != nil {
		t.live.cancel()
		t.live = nil
	}
	t.phase = PhaseIdle
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

func copyTable(p *model.PatternTable) *model.PatternTable {
	if p == nil {
		return nil
	}
	rows := make([]model.PatternRow, len(p.Rows))
	copy(rows, p.Rows)
	return &model.PatternTable{Rows: rows, AnomalyAvailable: p.AnomalyAvailable}
}

// Package poller runs a fetch function on an interval with at most one
// invocation in flight and optional exponential backoff on failure.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/metrics"
	"go.uber.org/zap"
)

// maxBackoffCap bounds the derived backoff ceiling when MaxInterval is unset.
const maxBackoffCap = 5 * time.Minute

// Func is one poll invocation.
type Func[T any] func(ctx context.Context) (T, error)

// Config configures a Poller.
type Config[T any] struct {
	Name        string
	Interval    time.Duration
	Backoff     bool
	MaxInterval time.Duration // zero means 32x Interval, capped at five minutes

	// OnResult runs after each invocation whose result was recorded.
	OnResult func(data T, err error)
	Logger   *zap.SugaredLogger
}

// State is a snapshot of a poller. Data holds the latest success and Err
// the latest failure; LastFailed reports which one the newest call produced.
type State[T any] struct {
	Data       T
	HasData    bool
	Err        error
	LastFailed bool
	Loading    bool
	Running    bool
	Interval   time.Duration
	Calls      int
}

type run struct {
	active atomic.Bool
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// Poller repeatedly invokes a Func. Start and Stop are safe for concurrent use.
type Poller[T any] struct {
	fn     Func[T]
	cfg    Config[T]
	logger *zap.SugaredLogger

	mu    sync.Mutex
	state State[T]
	cur   *run
}

// New creates a stopped poller.
func New[T any](fn Func[T], cfg Config[T]) *Poller[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = cfg.Interval * 32
		if cfg.MaxInterval > maxBackoffCap {
			cfg.MaxInterval = maxBackoffCap
		}
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}
	if cfg.Name == "" {
		cfg.Name = "poller"
	}
	return &Poller[T]{
		fn:     fn,
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger),
		state:  State[T]{Interval: cfg.Interval},
	}
}

// Start begins polling. The first invocation fires immediately, or once a
// call left in flight by a previous run returns. Calling Start on a running
// poller is a no-op.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur != nil && p.cur.active.Load() {
		return
	}
	var prev <-chan struct{}
	if p.cur != nil {
		prev = p.cur.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	r.active.Store(true)
	p.cur = r
	p.state.Running = true
	p.state.Interval = p.cfg.Interval

	go p.loop(runCtx, r, prev)
}

// Stop halts polling. Results of an invocation still in flight are
// discarded. Stop is idempotent and does not wait for the loop to exit.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.cur
	if r == nil {
		return
	}
	if r.active.CompareAndSwap(true, false) {
		close(r.stop)
		r.cancel()
	}
	p.state.Running = false
	p.state.Loading = false
}

// Wait blocks until the most recent run's loop has exited.
func (p *Poller[T]) Wait() {
	p.mu.Lock()
	r := p.cur
	p.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

// State returns a snapshot of the poller.
func (p *Poller[T]) State() State[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Poller[T]) loop(ctx context.Context, r *run, prev <-chan struct{}) {
	defer close(r.done)
	defer r.cancel()

	if prev != nil {
		<-prev
		if ctx.Err() != nil {
			p.markStopped(r)
			return
		}
	}

	interval := p.cfg.Interval
	for {
		if !r.active.Load() {
			return
		}
		p.setLoading(r)

		started := time.Now()
		data, err := p.fn(ctx)

		// Stopped while the call was in flight: drop the result.
		if !r.active.Load() {
			return
		}
		if err != nil {
			metrics.PollErrors.WithLabelValues(p.cfg.Name).Inc()
			p.logger.Debugw("poller: invocation failed", "poller", p.cfg.Name, "error", err)
		}
		interval = p.nextInterval(interval, err)
		if !p.record(r, data, err, interval) {
			return
		}
		if p.cfg.OnResult != nil {
			p.cfg.OnResult(data, err)
		}

		wait := interval - time.Since(started)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-r.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			p.markStopped(r)
			return
		}
	}
}

func (p *Poller[T]) nextInterval(current time.Duration, err error) time.Duration {
	if err == nil || !p.cfg.Backoff {
		return p.cfg.Interval
	}
	next := current * 2
	if next > p.cfg.MaxInterval {
		next = p.cfg.MaxInterval
	}
	return next
}

func (p *Poller[T]) setLoading(r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == r && r.active.Load() {
		p.state.Loading = true
	}
}

func (p *Poller[T]) record(r *run, data T, err error, interval time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != r || !r.active.Load() {
		return false
	}
	p.state.Calls++
	p.state.Loading = false
	p.state.Interval = interval
	if err != nil {
		p.state.Err = err
		p.state.LastFailed = true
		return true
	}
	p.state.Data = data
	p.state.HasData = true
	p.state.LastFailed = false
	return true
}

func (p *Poller[T]) markStopped(r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.active.CompareAndSwap(true, false) {
		close(r.stop)
	}
	if p.cur == r {
		p.state.Running = false
		p.state.Loading = false
	}
}

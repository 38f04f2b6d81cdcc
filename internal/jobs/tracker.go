package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/poller"
	"go.uber.org/zap"
)

// maxTrackedJobs caps the registry; the oldest settled jobs are evicted first.
const maxTrackedJobs = 256

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("jobs: job not found")

// TrackedJob is the observable state of a background job: the poller's
// latest data, error and loading flag.
type TrackedJob struct {
	ID          string           `json:"id"`
	QueryID     string           `json:"queryId"`
	Datasource  string           `json:"datasource"`
	Query       string           `json:"query"`
	Status      *model.JobStatus `json:"status,omitempty"`
	Error       string           `json:"error,omitempty"`
	Loading     bool             `json:"loading"`
	Running     bool             `json:"running"`
	Interval    time.Duration    `json:"interval"`
	SubmittedAt time.Time        `json:"submittedAt"`
}

type trackedEntry struct {
	id          string
	req         model.JobRequest
	handle      *model.JobHandle
	poll        *poller.Poller[*model.JobStatus]
	submittedAt time.Time
	cancelled   bool
}

// Tracker keeps background pollers for submitted jobs.
type Tracker struct {
	runner *Runner
	logger *zap.SugaredLogger

	mu   sync.Mutex
	jobs map[string]*trackedEntry
	ctx  context.Context
	stop context.CancelFunc
}

// NewTracker creates a Tracker polling through runner's service and settings.
func NewTracker(runner *Runner, logger *zap.SugaredLogger) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		runner: runner,
		logger: logging.OrNop(logger),
		jobs:   make(map[string]*trackedEntry),
		ctx:    ctx,
		stop:   cancel,
	}
}

// Submit starts a job and a background poller that stops once the job settles.
func (t *Tracker) Submit(ctx context.Context, req model.JobRequest) (*TrackedJob, error) {
	if req.Query == "" {
		return nil, errors.New("jobs: query is required")
	}
	if req.Lang == "" {
		req.Lang = "ppl"
	}
	if req.SessionID == "" {
		req.SessionID = t.runner.cfg.SessionID
	}
	handle, err := t.runner.svc.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("jobs: submit: %w", err)
	}

	entry := &trackedEntry{
		id:          uuid.NewString(),
		req:         req,
		handle:      handle,
		submittedAt: time.Now().UTC(),
	}
	entry.poll = t.runner.newStatusPoller(handle.QueryID, func(st *model.JobStatus, err error) {
		if err == nil && st != nil && st.Done() {
			entry.poll.Stop()
			t.logger.Infow("jobs: job settled", "id", entry.id, "query_id", handle.QueryID, "status", st.Status)
		}
	})

	t.mu.Lock()
	t.evictLocked()
	t.jobs[entry.id] = entry
	t.mu.Unlock()

	entry.poll.Start(t.ctx)
	return t.view(entry), nil
}

// Get returns a tracked job.
func (t *Tracker) Get(id string) (*TrackedJob, error) {
	t.mu.Lock()
	entry, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return t.view(entry), nil
}

// List returns tracked jobs, newest first.
func (t *Tracker) List() []*TrackedJob {
	t.mu.Lock()
	entries := make([]*trackedEntry, 0, len(t.jobs))
	for _, e := range t.jobs {
		entries = append(entries, e)
	}
	t.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].submittedAt.After(entries[j].submittedAt)
	})
	out := make([]*TrackedJob, 0, len(entries))
	for _, e := range entries {
		out = append(out, t.view(e))
	}
	return out
}

// Cancel stops polling a job and cancels it remotely.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	t.mu.Lock()
	entry, ok := t.jobs[id]
	if ok {
		entry.cancelled = true
	}
	t.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	entry.poll.Stop()
	if err := t.runner.svc.Cancel(ctx, entry.handle.QueryID); err != nil {
		return fmt.Errorf("jobs: cancel %s: %w", id, err)
	}
	return nil
}

// Close stops every poller and waits for them to exit.
func (t *Tracker) Close() {
	t.stop()
	t.mu.Lock()
	entries := make([]*trackedEntry, 0, len(t.jobs))
	for _, e := range t.jobs {
		entries = append(entries, e)
	}
	t.mu.Unlock()

	for _, e := range entries {
		e.poll.Stop()
		e.poll.Wait()
	}
}

func (t *Tracker) view(e *trackedEntry) *TrackedJob {
	st := e.poll.State()
	job := &TrackedJob{
		ID:          e.id,
		QueryID:     e.handle.QueryID,
		Datasource:  e.req.Datasource,
		Query:       e.req.Query,
		Loading:     st.Loading,
		Running:     st.Running,
		Interval:    st.Interval,
		SubmittedAt: e.submittedAt,
	}
	if st.HasData {
		job.Status = st.Data
	}
	if st.LastFailed && st.Err != nil {
		job.Error = st.Err.Error()
	}
	t.mu.Lock()
	cancelled := e.cancelled
	t.mu.Unlock()
	if cancelled && (job.Status == nil || !job.Status.Done()) {
		job.Status = &model.JobStatus{Status: model.JobStatusCancelled}
	}
	return job
}

// evictLocked drops the oldest settled jobs once the registry is full.
func (t *Tracker) evictLocked() {
	if len(t.jobs) < maxTrackedJobs {
		return
	}
	var settled []*trackedEntry
	for _, e := range t.jobs {
		if !e.poll.State().Running {
			settled = append(settled, e)
		}
	}
	sort.Slice(settled, func(i, j int) bool {
		return settled[i].submittedAt.Before(settled[j].submittedAt)
	})
	for _, e := range settled {
		if len(t.jobs) < maxTrackedJobs {
			return
		}
		delete(t.jobs, e.id)
	}
}

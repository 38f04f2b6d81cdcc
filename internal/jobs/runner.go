// Package jobs runs queries against non-local data sources through the
// async query service, polling each job until it settles.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/poller"
	"go.uber.org/zap"
)

// DefaultMaxWait bounds how long Run waits for a job to settle.
const DefaultMaxWait = 5 * time.Minute

// cancelTimeout bounds the remote cancel issued after the caller gave up.
const cancelTimeout = 10 * time.Second

// ErrJobFailed wraps the error reported by a failed or cancelled job.
var ErrJobFailed = errors.New("jobs: job failed")

// Config tunes job polling.
type Config struct {
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	MaxWait         time.Duration
	SessionID       string
}

// Runner submits async queries and waits for their results.
type Runner struct {
	svc    model.AsyncJobService
	cfg    Config
	logger *zap.SugaredLogger
}

// NewRunner creates a Runner.
func NewRunner(svc model.AsyncJobService, cfg Config, logger *zap.SugaredLogger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = model.DefaultPollInterval
	}
	if cfg.PollMaxInterval <= 0 {
		cfg.PollMaxInterval = model.DefaultPollMaxInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	return &Runner{svc: svc, cfg: cfg, logger: logging.OrNop(logger)}
}

// Run submits query to datasource and blocks until the job succeeds, fails
// or ctx ends. On ctx end the remote job is cancelled.
func (r *Runner) Run(ctx context.Context, datasource, query string) (*model.QueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.MaxWait)
	defer cancel()

	handle, err := r.svc.Submit(ctx, model.JobRequest{
		Datasource: datasource,
		Lang:       "ppl",
		Query:      query,
		SessionID:  r.cfg.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: submit: %w", err)
	}
	r.logger.Debugw("jobs: submitted", "datasource", datasource, "query_id", handle.QueryID)

	done := make(chan *model.JobStatus, 1)
	p := r.newStatusPoller(handle.QueryID, func(st *model.JobStatus, err error) {
		if err == nil && st != nil && st.Done() {
			select {
			case done <- st:
			default:
			}
		}
	})
	p.Start(ctx)
	defer func() {
		p.Stop()
		p.Wait()
	}()

	select {
	case st := <-done:
		return resultOf(handle.QueryID, st)
	case <-ctx.Done():
		r.cancelRemote(handle.QueryID)
		if last := p.State(); last.Err != nil {
			return nil, fmt.Errorf("jobs: wait for %s: %w (last poll error: %v)", handle.QueryID, ctx.Err(), last.Err)
		}
		return nil, fmt.Errorf("jobs: wait for %s: %w", handle.QueryID, ctx.Err())
	}
}

func (r *Runner) newStatusPoller(queryID string, onResult func(*model.JobStatus, error)) *poller.Poller[*model.JobStatus] {
	return poller.New(func(ctx context.Context) (*model.JobStatus, error) {
		return r.svc.Status(ctx, queryID)
	}, poller.Config[*model.JobStatus]{
		Name:        "async_job",
		Interval:    r.cfg.PollInterval,
		Backoff:     true,
		MaxInterval: r.cfg.PollMaxInterval,
		OnResult:    onResult,
		Logger:      r.logger,
	})
}

func (r *Runner) cancelRemote(queryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := r.svc.Cancel(ctx, queryID); err != nil {
		r.logger.Warnw("jobs: cancel remote job", "query_id", queryID, "error", err)
	}
}

func resultOf(queryID string, st *model.JobStatus) (*model.QueryResponse, error) {
	switch st.Status {
	case model.JobStatusSuccess:
		return &model.QueryResponse{
			Schema:   st.Schema,
			DataRows: st.DataRows,
			Total:    len(st.DataRows),
			Size:     len(st.DataRows),
		}, nil
	case model.JobStatusCancelled:
		return nil, fmt.Errorf("%w: %s was cancelled", ErrJobFailed, queryID)
	default:
		msg := st.Error
		if msg == "" {
			msg = "no error reported"
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrJobFailed, queryID, msg)
	}
}

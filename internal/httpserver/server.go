package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinytelemetry/sightline/internal/composer"
	"github.com/tinytelemetry/sightline/internal/explorer"
	"github.com/tinytelemetry/sightline/internal/jobs"
	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/model"
	"github.com/tinytelemetry/sightline/internal/orchestrator"
	"github.com/tinytelemetry/sightline/internal/session"
	"github.com/tinytelemetry/sightline/internal/timerange"
	"go.uber.org/zap"
)

// Explorer is the tab and search contract required by the HTTP API.
type Explorer interface {
	model.ExplorerAPI
	Tabs() []*model.TabSnapshot
	Subscribe(tabID string) (<-chan *model.SearchOutcome, func(), error)
}

// JobTracker runs async queries against non-local data sources.
type JobTracker interface {
	Submit(ctx context.Context, req model.JobRequest) (*jobs.TrackedJob, error)
	Get(id string) (*jobs.TrackedJob, error)
	List() []*jobs.TrackedJob
	Cancel(ctx context.Context, id string) error
}

// HealthSource reports per-status search counts for the health endpoint.
type HealthSource interface {
	StatusCounts() (map[string]int64, error)
}

// Deps are the collaborators behind the HTTP API. Jobs and Health may be nil.
type Deps struct {
	Explorer Explorer
	Jobs     JobTracker
	Health   HealthSource
}

// Server provides an HTTP API for composing queries, running searches and
// following live tails.
type Server struct {
	addr      string
	deps      Deps
	logger    *zap.SugaredLogger
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	serveErr  chan error
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, deps Deps, logger *zap.SugaredLogger) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		deps:      deps,
		logger:    logging.OrNop(logger),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		serveErr:  make(chan error, 1),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api/compose", s.handleCompose)
	r.GET("/api/history", s.handleHistory)

	tabs := r.Group("/api/tabs")
	tabs.GET("", s.handleListTabs)
	tabs.POST("", s.handleCreateTab)
	tabs.GET("/:id", s.handleTabState)
	tabs.DELETE("/:id", s.handleCloseTab)
	tabs.POST("/:id/search", s.handleSearch)
	tabs.GET("/:id/patterns", s.handlePatterns)
	tabs.POST("/:id/live", s.handleStartLive)
	tabs.DELETE("/:id/live", s.handleStopLive)
	tabs.GET("/:id/live/ws", s.handleLiveStream)

	jobsGroup := r.Group("/api/jobs")
	jobsGroup.GET("", s.handleListJobs)
	jobsGroup.POST("", s.handleSubmitJob)
	jobsGroup.GET("/:id", s.handleJob)
	jobsGroup.DELETE("/:id", s.handleCancelJob)

	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Searches can wait on the engine; websocket streams manage their own deadlines.
		WriteTimeout: 0,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()
	s.logger.Infow("httpserver: listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("httpserver: serve failed", "error", err)
			s.serveErr <- err
		}
	}()
	return nil
}

// Wait blocks until ctx is done or serving fails. On ctx cancellation the
// server is shut down.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-s.serveErr:
		return fmt.Errorf("httpserver: serve: %w", err)
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrTabNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, explorer.ErrNoHistory), errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrNoQuery):
		return http.StatusConflict
	case errors.Is(err, composer.ErrEmptyQuery), errors.Is(err, composer.ErrNoIndex),
		errors.Is(err, composer.ErrTimeRange), errors.Is(err, timerange.ErrInvalidExpression):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warnw("httpserver: request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

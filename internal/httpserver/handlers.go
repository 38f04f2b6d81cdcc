package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/sightline/internal/model"
)

// searchBody is a search request whose live interval may also be given as
// a Go duration string.
type searchBody struct {
	model.SearchRequest
	LiveEvery string `json:"liveEvery"`
}

type liveBody struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
}

type jobBody struct {
	Datasource string `json:"datasource" binding:"required"`
	Lang       string `json:"lang"`
	Query      string `json:"query" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
		"tabs":   len(s.deps.Explorer.Tabs()),
	}
	if s.deps.Health != nil {
		counts, err := s.deps.Health.StatusCounts()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
			return
		}
		body["searches"] = counts
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleCompose(c *gin.Context) {
	var req model.ComposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	query, err := s.deps.Explorer.Compose(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": query})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	recs, err := s.deps.Explorer.History(c.Request.Context(), c.Query("tab"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if recs == nil {
		recs = []model.SearchRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"searches": recs})
}

func (s *Server) handleListTabs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tabs": s.deps.Explorer.Tabs()})
}

func (s *Server) handleCreateTab(c *gin.Context) {
	id, err := s.deps.Explorer.CreateTab(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleTabState(c *gin.Context) {
	snap, err := s.deps.Explorer.TabState(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCloseTab(c *gin.Context) {
	if err := s.deps.Explorer.CloseTab(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSearch(c *gin.Context) {
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if body.LiveEvery != "" {
		d, err := parseInterval(body.LiveEvery)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		body.LiveInterval = d
	}

	out, err := s.deps.Explorer.Search(c.Request.Context(), c.Param("id"), body.SearchRequest)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handlePatterns(c *gin.Context) {
	tbl, err := s.deps.Explorer.Patterns(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tbl)
}

func (s *Server) handleStartLive(c *gin.Context) {
	var body liveBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	req := model.LiveRequest{Name: body.Name}
	if body.Interval != "" {
		d, err := parseInterval(body.Interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Interval = d
	}

	if err := s.deps.Explorer.StartLive(c.Request.Context(), c.Param("id"), req); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleStopLive(c *gin.Context) {
	if err := s.deps.Explorer.StopLive(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListJobs(c *gin.Context) {
	if s.deps.Jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async jobs are disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.deps.Jobs.List()})
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	if s.deps.Jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async jobs are disabled"})
		return
	}
	var body jobBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing datasource/query field"})
		return
	}
	job, err := s.deps.Jobs.Submit(c.Request.Context(), model.JobRequest{
		Datasource: body.Datasource,
		Lang:       body.Lang,
		Query:      body.Query,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleJob(c *gin.Context) {
	if s.deps.Jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async jobs are disabled"})
		return
	}
	job, err := s.deps.Jobs.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	if s.deps.Jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async jobs are disabled"})
		return
	}
	if err := s.deps.Jobs.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseInterval(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	return d, nil
}

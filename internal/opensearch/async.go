package opensearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tinytelemetry/sightline/internal/model"
)

const asyncQueryPath = "/_plugins/_async_query"

// Submit starts an async query against a non-local data source.
func (c *Client) Submit(ctx context.Context, req model.JobRequest) (*model.JobHandle, error) {
	if req.Lang == "" {
		req.Lang = "ppl"
	}
	var handle model.JobHandle
	if err := c.do(ctx, "async_submit", http.MethodPost, asyncQueryPath, nil, req, &handle); err != nil {
		return nil, err
	}
	if handle.QueryID == "" {
		return nil, errors.New("opensearch: async submit returned no query id")
	}
	return &handle, nil
}

// Status polls an async query.
func (c *Client) Status(ctx context.Context, queryID string) (*model.JobStatus, error) {
	if queryID == "" {
		return nil, fmt.Errorf("opensearch: empty query id")
	}
	var status model.JobStatus
	path := asyncQueryPath + "/" + url.PathEscape(queryID)
	if err := c.do(ctx, "async_status", http.MethodGet, path, nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Cancel cancels an async query.
func (c *Client) Cancel(ctx context.Context, queryID string) error {
	if queryID == "" {
		return fmt.Errorf("opensearch: empty query id")
	}
	path := asyncQueryPath + "/" + url.PathEscape(queryID)
	return c.do(ctx, "async_cancel", http.MethodDelete, path, nil, nil, nil)
}

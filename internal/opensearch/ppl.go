package opensearch

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tinytelemetry/sightline/internal/model"
)

const pplPath = "/_plugins/_ppl"

// Fetch executes a PPL query and returns the tabular response.
func (c *Client) Fetch(ctx context.Context, query, format string) (*model.QueryResponse, error) {
	if format == "" {
		format = model.DefaultResponseFormat
	}
	var resp model.QueryResponse
	err := c.do(ctx, "ppl", http.MethodPost, pplPath, url.Values{"format": {format}},
		map[string]string{"query": query}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

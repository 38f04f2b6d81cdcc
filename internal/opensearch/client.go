// Package opensearch implements the execution-engine clients: PPL queries,
// index mappings, anomaly prediction and async query jobs.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tinytelemetry/sightline/internal/logging"
	"github.com/tinytelemetry/sightline/internal/metrics"
	"github.com/tinytelemetry/sightline/internal/model"
	"go.uber.org/zap"
)

// DefaultAnomalyPath is the prediction endpoint relative to the engine URL.
const DefaultAnomalyPath = "/_plugins/_ml/_predict/rcf"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 64 << 20

// Config configures a Client.
type Config struct {
	URL         string
	Token       string        // Bearer token sent with every request (optional)
	Timeout     time.Duration // per-request timeout (DefaultRequestTimeout if zero)
	AnomalyPath string
	Logger      *zap.SugaredLogger
}

// Client talks to the execution engine over HTTP.
type Client struct {
	baseURL     *url.URL
	token       string
	timeout     time.Duration
	anomalyPath string
	httpClient  *http.Client
	logger      *zap.SugaredLogger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("opensearch: engine URL is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("opensearch: parse engine URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("opensearch: unsupported scheme %q", u.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = model.DefaultRequestTimeout
	}
	anomalyPath := cfg.AnomalyPath
	if anomalyPath == "" {
		anomalyPath = DefaultAnomalyPath
	}
	return &Client{
		baseURL:     u,
		token:       cfg.Token,
		timeout:     timeout,
		anomalyPath: "/" + strings.TrimLeft(anomalyPath, "/"),
		httpClient:  &http.Client{},
		logger:      logging.OrNop(cfg.Logger),
	}, nil
}

type tokenKey struct{}

// WithSessionToken overrides the client token for requests made with ctx.
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func (c *Client) tokenFor(ctx context.Context) string {
	if tok, ok := ctx.Value(tokenKey{}).(string); ok && tok != "" {
		return tok
	}
	return c.token
}

// do sends a JSON request and decodes a JSON reply into out (when non-nil).
// endpoint labels the request in metrics.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// path arrives escaped; segments built from user input use url.PathEscape.
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return fmt.Errorf("opensearch: %s path: %w", endpoint, err)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + unescaped
	u.RawPath = c.baseURL.EscapedPath() + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("opensearch: marshal %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("opensearch: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "sightline")
	if tok := c.tokenFor(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.EngineRequests.WithLabelValues(endpoint, "transport_error").Inc()
		return fmt.Errorf("opensearch: %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.EngineRequests.WithLabelValues(endpoint, "transport_error").Inc()
		return fmt.Errorf("opensearch: read %s response: %w", endpoint, err)
	}
	c.logger.Debugw("opensearch: request done", "endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 400 {
		metrics.EngineRequests.WithLabelValues(endpoint, "http_error").Inc()
		return decodeError(resp.StatusCode, data)
	}
	metrics.EngineRequests.WithLabelValues(endpoint, "ok").Inc()

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("opensearch: decode %s response: %w", endpoint, err)
	}
	return nil
}

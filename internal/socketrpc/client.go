package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/sightline/internal/model"
)

const defaultCallTimeout = 30 * time.Second

// Client implements model.ExplorerAPI over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

var _ model.ExplorerAPI = (*Client)(nil)

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest. The
// connection deadline follows ctx when it has one.
func (c *Client) call(ctx context.Context, method string, params any, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d does not match request id %d", resp.ID, id)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) Compose(ctx context.Context, req model.ComposeRequest) (string, error) {
	var result string
	err := c.call(ctx, "Compose", req, &result)
	return result, err
}

func (c *Client) CreateTab(ctx context.Context) (string, error) {
	var result string
	err := c.call(ctx, "CreateTab", struct{}{}, &result)
	return result, err
}

func (c *Client) CloseTab(ctx context.Context, tabID string) error {
	return c.call(ctx, "CloseTab", tabParams{TabID: tabID}, nil)
}

func (c *Client) Search(ctx context.Context, tabID string, req model.SearchRequest) (*model.SearchOutcome, error) {
	var result model.SearchOutcome
	if err := c.call(ctx, "Search", searchParams{TabID: tabID, Request: req}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Patterns(ctx context.Context, tabID string) (*model.PatternTable, error) {
	var result model.PatternTable
	if err := c.call(ctx, "Patterns", tabParams{TabID: tabID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) StartLive(ctx context.Context, tabID string, req model.LiveRequest) error {
	return c.call(ctx, "StartLive", liveParams{TabID: tabID, Request: req}, nil)
}

func (c *Client) StopLive(ctx context.Context, tabID string) error {
	return c.call(ctx, "StopLive", tabParams{TabID: tabID}, nil)
}

func (c *Client) TabState(ctx context.Context, tabID string) (*model.TabSnapshot, error) {
	var result model.TabSnapshot
	if err := c.call(ctx, "TabState", tabParams{TabID: tabID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) History(ctx context.Context, tabID string, limit int) ([]model.SearchRecord, error) {
	var result []model.SearchRecord
	err := c.call(ctx, "History", historyParams{TabID: tabID, Limit: limit}, &result)
	return result, err
}

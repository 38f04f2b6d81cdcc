package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tinytelemetry/sightline/internal/model"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes model.ExplorerAPI over a Unix domain socket.
// Each method maps 1:1 to the ExplorerAPI interface.
//
//   Method      Params                                   Result
//   ─────────   ──────────────────────────────────────   ──────────────────
//   Compose     ComposeRequest                           string
//   CreateTab   (none)                                   string (tab id)
//   CloseTab    {TabID: string}                          null
//   Search      {TabID: string, Request: SearchRequest}  SearchOutcome
//   Patterns    {TabID: string}                          PatternTable
//   StartLive   {TabID: string, Request: LiveRequest}    null
//   StopLive    {TabID: string}                          null
//   TabState    {TabID: string}                          TabSnapshot
//   History     {TabID: string, Limit: int}              []SearchRecord
//
// Durations (LiveRequest.Interval, SearchRequest.LiveInterval) are
// nanosecond integers. History accepts empty or null params.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

type tabParams struct {
	TabID string
}

type searchParams struct {
	TabID   string
	Request model.SearchRequest
}

type liveParams struct {
	TabID   string
	Request model.LiveRequest
}

type historyParams struct {
	TabID string
	Limit int
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/sightline/sightline.sock, falling back to
// ~/.local/state/sightline/sightline.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sightline", "sightline.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/sightline.sock"
	}
	return filepath.Join(home, ".local", "state", "sightline", "sightline.sock")
}

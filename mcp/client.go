// Package mcp connects to Model Context Protocol servers over stdio and
// exposes their tools through the agent's dispatcher interface.
//
// Each configured server is launched as a subprocess speaking JSON-RPC
// 2.0, one message per line, on its stdin/stdout. After the initialize
// handshake the client lists the server's tools; the Manager namespaces
// them as mcp_<server>_<tool> so names never collide across servers or
// with built-in tools.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

// Client speaks JSON-RPC 2.0 with one server over a line-delimited
// transport. It is transport-agnostic so tests can wire it to in-memory
// pipes instead of a subprocess.
type Client struct {
	name    string
	writeMu sync.Mutex
	w       io.Writer
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *rpcResponse
	closed  bool
	log     zerolog.Logger
}

// NewClient wraps a transport. The caller must run Listen (usually in a
// goroutine) to pump responses.
func NewClient(name string, r io.Reader, w io.Writer) *Client {
	c := &Client{
		name:    name,
		w:       w,
		pending: map[int64]chan *rpcResponse{},
		log:     log.With().Str("mcp_server", name).Logger(),
	}
	go c.listen(r)
	return c
}

// listen reads responses line by line and routes them to waiting calls.
// Notifications from the server are ignored.
func (c *Client) listen(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Warn().Err(err).Msg("discarding unparseable message")
			continue
		}
		if resp.ID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- &resp
		}
	}

	// Transport gone: fail everything still in flight.
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

// Call sends a request and waits for its response.
func (c *Client) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := c.nextID.Add(1)
	ch := make(chan *rpcResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.Errorf("mcp server %s: connection closed", c.name)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.send(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return errors.Errorf("mcp server %s: connection closed", c.name)
		}
		if resp.Error != nil {
			return errors.Wrapf(resp.Error, "mcp server %s: %s", c.name, method)
		}
		if result != nil {
			return errors.Wrapf(json.Unmarshal(resp.Result, result), "mcp server %s: decoding %s result", c.name, method)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Notify sends a notification (no response expected).
func (c *Client) Notify(method string, params interface{}) error {
	return c.send(rpcNotification{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encoding rpc message")
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(data)
	return errors.Wrapf(err, "mcp server %s: write", c.name)
}

// ToolInfo is one tool advertised by a server.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// Initialize performs the MCP handshake.
func (c *Client) Initialize(ctx context.Context) error {
	var res initializeResult
	err := c.Call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "steward",
			"version": "0.1.0",
		},
	}, &res)
	if err != nil {
		return err
	}
	c.log.Debug().Str("server", res.ServerInfo.Name).Str("version", res.ServerInfo.Version).Msg("initialized")
	return c.Notify("notifications/initialized", map[string]interface{}{})
}

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var res listToolsResult
	if err := c.Call(ctx, "tools/list", map[string]interface{}{}, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool invokes one tool and flattens its text content blocks.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	params := map[string]interface{}{"name": name}
	if len(arguments) > 0 {
		var args map[string]interface{}
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", errors.Wrap(err, "parsing tool arguments")
		}
		params["arguments"] = args
	}

	var res callToolResult
	if err := c.Call(ctx, "tools/call", params, &res); err != nil {
		return "", err
	}

	var parts []string
	for _, block := range res.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := ""
	for i, p := range parts {
		if i > 0 {
			text += "\n"
		}
		text += p
	}

	if res.IsError {
		return "", errors.Errorf("mcp tool %s failed: %s", name, text)
	}
	return text, nil
}

package mcp

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardhq/steward/backend"
)

// fakeServer answers JSON-RPC requests on in-memory pipes the way a real
// stdio server would.
type fakeServer struct {
	tools []ToolInfo
	calls []string
}

func (f *fakeServer) serve(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		var req struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue // notification
		}

		reply := map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID}
		switch req.Method {
		case "initialize":
			reply["result"] = map[string]interface{}{
				"protocolVersion": protocolVersion,
				"serverInfo":      map[string]string{"name": "fake", "version": "1.0"},
			}
		case "tools/list":
			reply["result"] = map[string]interface{}{"tools": f.tools}
		case "tools/call":
			f.calls = append(f.calls, req.Params.Name)
			if req.Params.Name == "explode" {
				reply["result"] = map[string]interface{}{
					"content": []map[string]string{{"type": "text", "text": "it broke"}},
					"isError": true,
				}
			} else {
				reply["result"] = map[string]interface{}{
					"content": []map[string]string{
						{"type": "text", "text": "echo: " + req.Params.Arguments["value"].(string)},
					},
				}
			}
		default:
			reply["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		_ = enc.Encode(reply)
	}
}

func startFakeServer(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	go f.serve(serverIn, serverOut)
	t.Cleanup(func() {
		_ = clientOut.Close()
		_ = serverOut.Close()
	})
	return NewClient("fake", clientIn, clientOut)
}

func echoTool() ToolInfo {
	return ToolInfo{
		Name:        "echo",
		Description: "echo a value",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"value": map[string]interface{}{"type": "string"}},
		},
	}
}

func TestClientHandshakeAndToolCall(t *testing.T) {
	f := &fakeServer{tools: []ToolInfo{echoTool()}}
	client := startFakeServer(t, f)

	require.NoError(t, client.Initialize(t.Context()))

	tools, err := client.ListTools(t.Context())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	out, err := client.CallTool(t.Context(), "echo", json.RawMessage(`{"value":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestClientToolErrorResult(t *testing.T) {
	f := &fakeServer{tools: []ToolInfo{{Name: "explode", Description: "always fails"}}}
	client := startFakeServer(t, f)
	require.NoError(t, client.Initialize(t.Context()))

	_, err := client.CallTool(t.Context(), "explode", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "it broke")
}

func TestClientUnknownMethod(t *testing.T) {
	f := &fakeServer{}
	client := startFakeServer(t, f)

	err := client.Call(t.Context(), "bogus/method", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestManagerNamespacesTools(t *testing.T) {
	f := &fakeServer{tools: []ToolInfo{echoTool()}}
	client := startFakeServer(t, f)
	require.NoError(t, client.Initialize(t.Context()))

	m, err := NewManagerFromClients(t.Context(), map[string]*Client{"files": client})
	require.NoError(t, err)

	defs := m.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "mcp_files_echo", defs[0].Name)
	assert.Equal(t, "echo a value", defs[0].Description)
	assert.NotNil(t, defs[0].Parameters)

	out, err := m.Execute(t.Context(), backend.ToolCall{
		ID:        "c1",
		Name:      "mcp_files_echo",
		Arguments: json.RawMessage(`{"value":"routed"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: routed", out)

	_, err = m.Execute(t.Context(), backend.ToolCall{Name: "read_file"})
	require.Error(t, err)

	_, err = m.Execute(t.Context(), backend.ToolCall{Name: "mcp_other_echo"})
	require.Error(t, err)
}

func TestSplitToolName(t *testing.T) {
	server, tool, ok := splitToolName("mcp_files_read_text")
	assert.True(t, ok)
	assert.Equal(t, "files", server)
	assert.Equal(t, "read_text", tool)

	_, _, ok = splitToolName("shell")
	assert.False(t, ok)

	_, _, ok = splitToolName("mcp_")
	assert.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/mcp.json")
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
}

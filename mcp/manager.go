package mcp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stewardhq/steward/backend"
)

// ServerConfig describes how to launch one MCP server.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Config is the on-disk server map, conventionally mcp.json.
type Config struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// LoadConfig reads an mcp.json file. A missing file is an empty config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{Servers: map[string]ServerConfig{}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading mcp config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing mcp config")
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]ServerConfig{}
	}
	return &cfg, nil
}

// server is one running connection plus its advertised tools.
type server struct {
	name   string
	client *Client
	tools  []ToolInfo
	cmd    *exec.Cmd
	stdin  io.WriteCloser
}

// Manager owns the configured server connections and dispatches their
// tools. It implements agent.Dispatcher. Tool names are exposed as
// mcp_<server>_<tool>.
type Manager struct {
	servers []*server
}

const startupTimeout = 30 * time.Second

// NewManager launches every configured server and collects its tools.
// A server that fails to start or hand-shake is logged and skipped so one
// broken config entry does not take the whole surface down.
func NewManager(ctx context.Context, cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		return m
	}
	for name, sc := range cfg.Servers {
		srv, err := startServer(ctx, name, sc)
		if err != nil {
			log.Warn().Err(err).Str("server", name).Msg("skipping mcp server")
			continue
		}
		m.servers = append(m.servers, srv)
	}
	return m
}

// NewManagerFromClients wires pre-connected clients, mainly for tests.
func NewManagerFromClients(ctx context.Context, clients map[string]*Client) (*Manager, error) {
	m := &Manager{}
	for name, client := range clients {
		tools, err := client.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		m.servers = append(m.servers, &server{name: name, client: client, tools: tools})
	}
	return m, nil
}

func startServer(ctx context.Context, name string, sc ServerConfig) (*server, error) {
	if sc.Command == "" {
		return nil, errors.New("server has no command")
	}

	cmd := exec.Command(sc.Command, sc.Args...)
	cmd.Env = os.Environ()
	for k, v := range sc.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %s", sc.Command)
	}

	client := NewClient(name, stdout, stdin)

	hctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := client.Initialize(hctx); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		return nil, err
	}
	tools, err := client.ListTools(hctx)
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		return nil, err
	}

	return &server{name: name, client: client, tools: tools, cmd: cmd, stdin: stdin}, nil
}

// Definitions exposes every server tool under its namespaced name.
func (m *Manager) Definitions() []backend.ToolDefinition {
	var defs []backend.ToolDefinition
	for _, srv := range m.servers {
		for _, t := range srv.tools {
			params := t.InputSchema
			if params == nil {
				params = map[string]interface{}{"type": "object"}
			}
			defs = append(defs, backend.ToolDefinition{
				Name:        toolName(srv.name, t.Name),
				Description: t.Description,
				Parameters:  params,
			})
		}
	}
	return defs
}

// Execute routes a namespaced call to its server.
func (m *Manager) Execute(ctx context.Context, call backend.ToolCall) (string, error) {
	serverName, tool, ok := splitToolName(call.Name)
	if !ok {
		return "", errors.Errorf("not an mcp tool: %s", call.Name)
	}
	for _, srv := range m.servers {
		if srv.name != serverName {
			continue
		}
		return srv.client.CallTool(ctx, tool, call.Arguments)
	}
	return "", errors.Errorf("unknown mcp server: %s", serverName)
}

// Close shuts every server down: close stdin so the child exits, then
// kill stragglers.
func (m *Manager) Close() {
	for _, srv := range m.servers {
		if srv.stdin != nil {
			_ = srv.stdin.Close()
		}
		if srv.cmd == nil {
			continue
		}
		done := make(chan struct{})
		go func(cmd *exec.Cmd) {
			_ = cmd.Wait()
			close(done)
		}(srv.cmd)
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = srv.cmd.Process.Kill()
		}
	}
}

func toolName(server, tool string) string {
	return "mcp_" + server + "_" + tool
}

func splitToolName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, "mcp_")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

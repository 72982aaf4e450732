// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptool exposes tools served over the Model Context Protocol.
//
// A Toolset connects lazily on first use and adapts every tool the server
// advertises to tool.CallableTool, so MCP tools and local function tools are
// interchangeable from the agent's point of view.
//
// Transports:
//   - stdio: subprocess communication via the mcp-go client
//   - streamable-http: JSON-RPC over HTTP with retry/backoff
package mcptool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/loom/internal/httpclient"
	"github.com/kadirpekel/loom/pkg/tool"
)

const protocolVersion = "2024-11-05"

// Config configures an MCP toolset. Exactly one of Command (stdio) or URL
// (streamable-http) must be set.
type Config struct {
	// Name identifies this toolset in logs.
	Name string

	// Command starts an MCP server subprocess (stdio transport).
	Command string

	// Args for the subprocess.
	Args []string

	// Env for the subprocess, merged over the inherited environment.
	Env map[string]string

	// URL of a streamable-http MCP server.
	URL string

	// Filter limits which advertised tools are exposed. Empty means all.
	Filter []string

	// MaxRetries for HTTP requests. Default 3.
	MaxRetries int
}

// Toolset discovers and adapts tools from one MCP server.
type Toolset struct {
	cfg    Config
	filter map[string]bool

	mu        sync.Mutex
	stdio     *client.Client
	http      *httpclient.Client
	tools     []tool.CallableTool
	connected bool

	sessionMu sync.RWMutex
	sessionID string
}

// NewToolset validates cfg and returns an unconnected toolset. The server
// is contacted on the first Tools call.
func NewToolset(cfg Config) (*Toolset, error) {
	if cfg.Command == "" && cfg.URL == "" {
		return nil, fmt.Errorf("either command or url is required")
	}
	if cfg.Command != "" && cfg.URL != "" {
		return nil, fmt.Errorf("command and url are mutually exclusive")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	var filter map[string]bool
	if len(cfg.Filter) > 0 {
		filter = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filter[name] = true
		}
	}

	return &Toolset{cfg: cfg, filter: filter}, nil
}

// Name returns the toolset name.
func (t *Toolset) Name() string {
	return t.cfg.Name
}

// Tools returns the adapted tools, connecting to the server if needed.
func (t *Toolset) Tools(ctx context.Context) ([]tool.CallableTool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
		}
	}
	return t.tools, nil
}

// Close shuts down the server connection. The toolset reconnects on the
// next Tools call.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.stdio != nil {
		err = t.stdio.Close()
		t.stdio = nil
	}
	t.http = nil
	t.tools = nil
	t.connected = false

	t.sessionMu.Lock()
	t.sessionID = ""
	t.sessionMu.Unlock()
	return err
}

func (t *Toolset) connect(ctx context.Context) error {
	if t.cfg.Command != "" {
		return t.connectStdio(ctx)
	}
	return t.connectHTTP(ctx)
}

func (t *Toolset) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(t.cfg.Command, envSlice(t.cfg.Env), t.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "loom", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = protocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []tool.CallableTool
	for _, mcpTool := range listResp.Tools {
		if t.filter != nil && !t.filter[mcpTool.Name] {
			continue
		}
		tools = append(tools, &remoteTool{
			toolset: t,
			def: tool.Definition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  toSchemaMap(mcpTool.InputSchema),
			},
		})
	}

	t.stdio = mcpClient
	t.tools = tools
	t.connected = true

	slog.Info("Connected to MCP server",
		"name", t.cfg.Name,
		"transport", "stdio",
		"tools", len(tools))
	return nil
}

func (t *Toolset) connectHTTP(ctx context.Context) error {
	t.http = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(t.cfg.MaxRetries),
	)

	initResp, err := t.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "loom", "version": "0.1.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := t.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := decodeResult(listResp.Result, &result); err != nil {
		return fmt.Errorf("unexpected tools/list response: %w", err)
	}

	var tools []tool.CallableTool
	for _, advertised := range result.Tools {
		if t.filter != nil && !t.filter[advertised.Name] {
			continue
		}
		tools = append(tools, &remoteTool{
			toolset: t,
			def: tool.Definition{
				Name:        advertised.Name,
				Description: advertised.Description,
				Parameters:  advertised.InputSchema,
			},
		})
	}

	t.tools = tools
	t.connected = true

	slog.Info("Connected to MCP server",
		"name", t.cfg.Name,
		"transport", "streamable-http",
		"url", t.cfg.URL,
		"tools", len(tools))
	return nil
}

// remoteTool adapts one advertised MCP tool to tool.CallableTool.
type remoteTool struct {
	toolset *Toolset
	def     tool.Definition
}

func (r *remoteTool) Name() string                { return r.def.Name }
func (r *remoteTool) Description() string         { return r.def.Description }
func (r *remoteTool) Definition() tool.Definition { return r.def }

func (r *remoteTool) Call(ctx context.Context, args map[string]any) (any, error) {
	r.toolset.mu.Lock()
	stdio := r.toolset.stdio
	r.toolset.mu.Unlock()

	if stdio != nil {
		return r.callStdio(ctx, stdio, args)
	}
	return r.callHTTP(ctx, args)
}

func (r *remoteTool) callStdio(ctx context.Context, stdio *client.Client, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = r.def.Name
	req.Params.Arguments = args

	resp, err := stdio.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	// Tool-level errors go back to the model as content so it can react.
	if resp.IsError {
		if joined == "" {
			joined = "unknown error"
		}
		return map[string]any{"error": joined}, nil
	}
	return joined, nil
}

func (r *remoteTool) callHTTP(ctx context.Context, args map[string]any) (any, error) {
	resp, err := r.toolset.rpc(ctx, "tools/call", map[string]any{
		"name":      r.def.Name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("MCP call error: %s", resp.Error.Message)
	}

	var result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := decodeResult(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unexpected tools/call response: %w", err)
	}

	var texts []string
	for _, content := range result.Content {
		if content.Type == "text" {
			texts = append(texts, content.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	if result.IsError {
		if joined == "" {
			joined = "unknown error"
		}
		return map[string]any{"error": joined}, nil
	}
	return joined, nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

// rpc posts one JSON-RPC request and reads the reply, tracking the
// mcp-session-id header streamable-http servers hand out.
func (t *Toolset) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.sessionMu.RLock()
	sessionID := t.sessionID
	t.sessionMu.RUnlock()
	if sessionID != "" {
		req.Header.Set("mcp-session-id", sessionID)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if sid := resp.Header.Get("mcp-session-id"); sid != "" {
		t.sessionMu.Lock()
		t.sessionID = sid
		t.sessionMu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(payload))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &rpcResp, nil
}

// readSSEResponse extracts the first complete JSON-RPC message from an SSE
// body. Streamable-http servers reply to a POST with a short event stream.
func readSSEResponse(body io.Reader) (*jsonRPCResponse, error) {
	var data strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	flush := func() (*jsonRPCResponse, bool) {
		if data.Len() == 0 {
			return nil, false
		}
		var rpcResp jsonRPCResponse
		if err := json.Unmarshal([]byte(data.String()), &rpcResp); err != nil {
			data.Reset()
			return nil, false
		}
		return &rpcResp, true
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if resp, ok := flush(); ok {
				return resp, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read SSE response: %w", err)
	}
	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no JSON-RPC response in SSE stream")
}

func decodeResult(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty result")
	}
	return json.Unmarshal(raw, target)
}

func toSchemaMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

var (
	_ tool.Tool         = (*remoteTool)(nil)
	_ tool.CallableTool = (*remoteTool)(nil)
)

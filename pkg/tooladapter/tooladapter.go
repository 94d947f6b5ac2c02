// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tooladapter implements the Tool adapter (§4.3): one MCP stdio
// subprocess, its capability discovery, invocation, stderr streaming, and
// safe shutdown sequence.
package tooladapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/artinet-dev/artinet-go/pkg/logging"
	"github.com/artinet-dev/artinet-go/pkg/monitor"
	"github.com/artinet-dev/artinet-go/pkg/proto"
)

const (
	clientName    = "artinet-go"
	clientVersion = "0.1.0"
	protocolVer   = "2024-11-05"
)

// Config configures an MCP stdio Tool adapter.
type Config struct {
	// URI is the service uri this adapter is registered under in the
	// Manager. Required.
	URI string

	// Command is the subprocess executable. Required.
	Command string

	// Args is the argument vector. Entries may contain shell-style
	// variable references ("$HOME"), expanded against the host
	// environment before spawn.
	Args []string

	// Env are extra environment variables passed to the subprocess.
	Env map[string]string

	// Filter, if non-empty, restricts discovered tools to these names.
	Filter []string

	// Monitor, if set, receives update/error events for this adapter's
	// executions and stderr streaming. Optional.
	Monitor *monitor.Context
}

// mcpClient is the subset of *client.Client the adapter needs. Extracting
// it as an interface lets tests substitute a fake MCP server in place of a
// real subprocess, the way the teacher's own tests fake out network/storage
// collaborators.
type mcpClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, req mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

func defaultNewMCPClient(command string, env []string, args []string) (mcpClient, error) {
	return client.NewStdioMCPClient(command, env, args...)
}

// Adapter owns one MCP stdio subprocess, satisfying proto.Callable.
type Adapter struct {
	cfg Config

	mu        sync.Mutex
	client    mcpClient
	connected bool

	infoMu  sync.Mutex
	info    *proto.ToolInfo
	loading chan struct{}

	filterSet map[string]bool

	// newClient constructs the subprocess MCP client. Overridden in tests.
	newClient func(command string, env []string, args []string) (mcpClient, error)

	log *slog.Logger
}

// New constructs a Tool adapter. It does not spawn the subprocess; that
// happens lazily on first GetInfo()/Execute() (creation steps 1-5 of §4.3
// run inside connectAndDiscover()).
func New(cfg Config) (*Adapter, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("tooladapter: uri is required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("tooladapter: command is required")
	}
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filterSet[name] = true
		}
	}
	return &Adapter{
		cfg:       cfg,
		filterSet: filterSet,
		newClient: defaultNewMCPClient,
		log:       logging.For("tooladapter"),
	}, nil
}

// URI implements proto.Callable.
func (a *Adapter) URI() string { return a.cfg.URI }

// CallableKind implements proto.Callable.
func (a *Adapter) CallableKind() proto.Kind { return proto.KindTool }

// GetInfo returns the adapter's ToolInfo, connecting and discovering
// capabilities lazily on first call, then caching. Concurrent callers
// during loading share the same pending fetch (single-flight).
func (a *Adapter) GetInfo(ctx context.Context) (*proto.ToolInfo, error) {
	a.infoMu.Lock()
	if a.info != nil {
		info := a.info
		a.infoMu.Unlock()
		return info, nil
	}
	if a.loading != nil {
		ch := a.loading
		a.infoMu.Unlock()
		<-ch
		a.infoMu.Lock()
		info := a.info
		a.infoMu.Unlock()
		if info == nil {
			return nil, fmt.Errorf("tooladapter: concurrent info load failed")
		}
		return info, nil
	}
	ch := make(chan struct{})
	a.loading = ch
	a.infoMu.Unlock()

	info, err := a.connectAndDiscover(ctx)

	a.infoMu.Lock()
	if err == nil {
		a.info = info
	}
	a.loading = nil
	a.infoMu.Unlock()
	close(ch)

	return info, err
}

// Info returns the cached ToolInfo without triggering a load.
func (a *Adapter) Info() *proto.ToolInfo {
	a.infoMu.Lock()
	defer a.infoMu.Unlock()
	return a.info
}

// connectAndDiscover implements the §4.3 "Creation" and "Capability
// discovery" steps.
func (a *Adapter) connectAndDiscover(ctx context.Context) (*proto.ToolInfo, error) {
	args := expandArgs(a.cfg.Args)
	env := convertEnv(a.cfg.Env)

	conn, err := a.newClient(a.cfg.Command, env, args)
	if err != nil {
		return nil, fmt.Errorf("tooladapter: failed to create MCP client: %w", err)
	}

	if err := conn.Start(ctx); err != nil {
		return nil, fmt.Errorf("tooladapter: failed to start subprocess: %w", err)
	}

	// Step 3: transient stderr listener for the initialization window.
	stopStderr := a.streamStderr(conn, "initialize")

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.ProtocolVersion = protocolVer

	initResult, err := conn.Initialize(ctx, initReq)
	stopStderr()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tooladapter: MCP initialize failed: %w", err)
	}

	info, err := a.discoverCapabilities(ctx, conn, initResult)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	a.mu.Lock()
	a.client = conn
	a.connected = true
	a.mu.Unlock()

	a.log.Debug("connected to MCP server", "uri", a.cfg.URI, "command", a.cfg.Command, "tools", len(info.Tools))
	return info, nil
}

// discoverCapabilities implements the one-shot, cursor-paginated capability
// discovery of §4.3. Server capabilities must be present and must include
// "tools"; tools must be non-empty (a server declaring tools support but
// returning an empty list is preserved-but-flagged behaviour per §9).
func (a *Adapter) discoverCapabilities(ctx context.Context, c mcpClient, init *mcp.InitializeResult) (*proto.ToolInfo, error) {
	if init.Capabilities.Tools == nil {
		return nil, fmt.Errorf("tooladapter: server capabilities missing required 'tools'")
	}

	tools, err := pageAll(func(cursor mcp.Cursor) ([]mcp.Tool, mcp.Cursor, error) {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		resp, err := c.ListTools(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return resp.Tools, resp.NextCursor, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tooladapter: listTools failed: %w", err)
	}
	if len(tools) == 0 {
		// §9 open question: the source throws here; we flag and preserve.
		a.log.Warn("MCP server declared tools support but returned an empty tool list", "uri", a.cfg.URI)
		return nil, fmt.Errorf("tooladapter: server declared tools support but listed zero tools")
	}

	var toolNames []string
	for _, t := range tools {
		if a.filterSet != nil && !a.filterSet[t.Name] {
			continue
		}
		toolNames = append(toolNames, t.Name)
	}

	var resourceNames []string
	if init.Capabilities.Resources != nil {
		resources, err := pageAll(func(cursor mcp.Cursor) ([]mcp.Resource, mcp.Cursor, error) {
			req := mcp.ListResourcesRequest{}
			req.Params.Cursor = cursor
			resp, err := c.ListResources(ctx, req)
			if err != nil {
				return nil, "", err
			}
			return resp.Resources, resp.NextCursor, nil
		})
		if err != nil {
			return nil, fmt.Errorf("tooladapter: listResources failed: %w", err)
		}
		for _, r := range resources {
			resourceNames = append(resourceNames, r.Name)
		}
	}

	var promptNames []string
	if init.Capabilities.Prompts != nil {
		prompts, err := pageAll(func(cursor mcp.Cursor) ([]mcp.Prompt, mcp.Cursor, error) {
			req := mcp.ListPromptsRequest{}
			req.Params.Cursor = cursor
			resp, err := c.ListPrompts(ctx, req)
			if err != nil {
				return nil, "", err
			}
			return resp.Prompts, resp.NextCursor, nil
		})
		if err != nil {
			return nil, fmt.Errorf("tooladapter: listPrompts failed: %w", err)
		}
		for _, p := range prompts {
			promptNames = append(promptNames, p.Name)
		}
	}

	return &proto.ToolInfo{
		Name:         init.ServerInfo.Name,
		Version:      init.ServerInfo.Version,
		Tools:        toolNames,
		Resources:    resourceNames,
		Prompts:      promptNames,
		Instructions: init.Instructions,
	}, nil
}

// pageAll accumulates every page of a cursor-paginated MCP list operation
// until the server returns no next cursor.
func pageAll[T any](fetch func(cursor mcp.Cursor) ([]T, mcp.Cursor, error)) ([]T, error) {
	var all []T
	var cursor mcp.Cursor
	for {
		page, next, err := fetch(cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// GetTarget returns a ToolService descriptor, loading info if needed.
func (a *Adapter) GetTarget(ctx context.Context, id string) (proto.ToolService, error) {
	info, err := a.GetInfo(ctx)
	if err != nil {
		return proto.ToolService{}, err
	}
	return proto.ToolService{Kind: proto.KindTool, URI: a.cfg.URI, ID: id, Info: *info}, nil
}

// Execute implements proto.Callable, following the algorithm of §4.3
// "Invocation".
func (a *Adapter) Execute(req proto.Request, opts proto.Options) (proto.Response, error) {
	toolReq, ok := req.(proto.ToolRequest)
	if !ok {
		return nil, proto.ErrRequestTypeMismatch
	}
	if toolReq.URI != a.cfg.URI {
		return nil, proto.ErrURIMismatch
	}

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := a.GetInfo(ctx); err != nil {
		return a.failure(toolReq, fmt.Errorf("tooladapter: connect failed: %w", err)), nil
	}

	a.mu.Lock()
	conn := a.client
	a.mu.Unlock()
	if conn == nil {
		return a.failure(toolReq, fmt.Errorf("tooladapter: not connected")), nil
	}

	stopStderr := a.streamStderrToCallback(conn, toolReq, opts)
	defer stopStderr()

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = toolReq.Call.Name
	callReq.Params.Arguments = toolReq.Call.Arguments

	resp, err := conn.CallTool(ctx, callReq)
	if err != nil {
		return a.failure(toolReq, err), nil
	}

	result := normalizeCallResult(resp)
	if a.cfg.Monitor != nil {
		a.cfg.Monitor.Publish("done", result)
	}

	return proto.ToolResponse{
		ID:     toolReq.ID,
		URI:    toolReq.URI,
		Call:   toolReq.Call,
		Result: result,
	}, nil
}

func (a *Adapter) failure(req proto.ToolRequest, err error) proto.ToolResponse {
	a.log.Warn("tool execute failed", "uri", req.URI, "id", req.ID, "error", err)
	return proto.ToolResponse{
		ID:  req.ID,
		URI: req.URI,
		Call: req.Call,
		Result: proto.ToolResult{
			IsError: true,
			Texts:   []string{fmt.Sprintf("call to %q failed: %v", req.Call.Name, err)},
		},
		Err: err,
	}
}

// normalizeCallResult converts an MCP CallToolResult into a proto.ToolResult.
func normalizeCallResult(resp *mcp.CallToolResult) proto.ToolResult {
	if resp == nil {
		return proto.ToolResult{IsError: true, Texts: []string{"tooladapter: nil result"}}
	}
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if resp.IsError && len(texts) == 0 {
		texts = []string{"unknown error"}
	}
	return proto.ToolResult{IsError: resp.IsError, Texts: texts}
}

// streamStderr attaches a transient logging listener on stderr for the
// duration of a subprocess phase (used during the initialization window).
func (a *Adapter) streamStderr(c mcpClient, phase string) (stop func()) {
	r, ok := stderrReader(c)
	if !ok {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			a.log.Debug("mcp stderr", "uri", a.cfg.URI, "phase", phase, "line", scanner.Text())
			select {
			case <-done:
				return
			default:
			}
		}
	}()
	return func() { close(done) }
}

// streamStderrToCallback attaches a per-call stderr listener that synthesises
// partial ToolResponses for every buffer received, giving streaming
// observability into long-running tool subprocesses (§4.3 step 2).
func (a *Adapter) streamStderrToCallback(c mcpClient, req proto.ToolRequest, opts proto.Options) (stop func()) {
	r, ok := stderrReader(c)
	if !ok {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case <-done:
				return
			default:
			}
			partial := proto.ToolResponse{
				ID:      req.ID,
				URI:     req.URI,
				Call:    req.Call,
				Result:  proto.ToolResult{Texts: []string{scanner.Text()}},
				Partial: true,
			}
			if opts.Callback != nil {
				opts.Callback(partial)
			}
			if a.cfg.Monitor != nil {
				a.cfg.Monitor.Publish("working", partial)
			}
		}
	}()
	return func() { close(done) }
}

// stderrReader exposes the subprocess's piped stderr, if the underlying
// mcp-go stdio client supports it.
func stderrReader(c mcpClient) (io.Reader, bool) {
	type stderrProvider interface {
		Stderr() io.Reader
	}
	sp, ok := any(c).(stderrProvider)
	if !ok || sp == nil {
		return nil, false
	}
	r := sp.Stderr()
	if r == nil {
		return nil, false
	}
	return r, true
}

// Stop implements proto.Callable via the §4.3 "Safe-close sequence": every
// step is wrapped so a failure in one does not skip the rest.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	c := a.client
	a.client = nil
	a.connected = false
	a.mu.Unlock()

	a.infoMu.Lock()
	a.info = nil
	a.infoMu.Unlock()

	if c == nil {
		return nil
	}

	// Steps 1-3 (remove listeners / destroy streams / unpipe stderr) are
	// handled by mcp-go's Close() tearing down the subprocess's pipes; step
	// 6 (SIGKILL by pid) is likewise owned by the transport's Close(). We
	// still guard the call so a panic or error in Close never blocks the
	// caller from observing this adapter as stopped.
	var closeErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				closeErr = fmt.Errorf("tooladapter: panic during close: %v", r)
			}
		}()
		closeErr = c.Close()
	}()
	if closeErr != nil {
		a.log.Warn("mcp client close failed", "uri", a.cfg.URI, "error", closeErr)
	}
	return closeErr
}

// convertEnv converts a map to a "KEY=VALUE" slice for exec.Cmd.Env.
func convertEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// expandArgs expands shell-style "$VAR"/"${VAR}" references in each
// argument against the host process environment (§4.3 creation step 1).
// Windows "%VAR%" syntax is intentionally not handled; this module targets
// POSIX-style hosts, consistent with piping stderr rather than inheriting a
// console handle.
func expandArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = os.Expand(a, os.Getenv)
	}
	return out
}

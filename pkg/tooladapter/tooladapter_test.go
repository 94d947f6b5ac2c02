package tooladapter

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/artinet-dev/artinet-go/pkg/proto"
)

// fakeMCPClient is a fake mcpClient driving connectAndDiscover()/Execute()'s
// success/failure paths without spawning a real subprocess.
type fakeMCPClient struct {
	startErr error

	initResult *mcp.InitializeResult
	initErr    error

	listToolsResult *mcp.ListToolsResult
	listToolsErr    error

	callResult *mcp.CallToolResult
	callErr    error

	closed     bool
	gotCallReq mcp.CallToolRequest
}

func (f *fakeMCPClient) Start(ctx context.Context) error { return f.startErr }

func (f *fakeMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return f.initResult, f.initErr
}

func (f *fakeMCPClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return f.listToolsResult, f.listToolsErr
}

func (f *fakeMCPClient) ListResources(ctx context.Context, req mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error) {
	return &mcp.ListResourcesResult{}, nil
}

func (f *fakeMCPClient) ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	return &mcp.ListPromptsResult{}, nil
}

func (f *fakeMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.gotCallReq = req
	return f.callResult, f.callErr
}

func (f *fakeMCPClient) Close() error {
	f.closed = true
	return nil
}

func newAdapterWithClient(t *testing.T, fc *fakeMCPClient) *Adapter {
	t.Helper()
	a, err := New(Config{URI: "u1", Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	a.newClient = func(command string, env []string, args []string) (mcpClient, error) {
		return fc, nil
	}
	return a
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing uri", Config{Command: "echo"}, true},
		{"missing command", Config{URI: "u1"}, true},
		{"ok", Config{URI: "u1", Command: "echo"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestURIAndKind(t *testing.T) {
	a, err := New(Config{URI: "tool-a", Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	if a.URI() != "tool-a" {
		t.Errorf("URI() = %q", a.URI())
	}
	if a.CallableKind() != proto.KindTool {
		t.Errorf("CallableKind() = %v, want KindTool", a.CallableKind())
	}
}

func TestInfoNilBeforeConnect(t *testing.T) {
	a, err := New(Config{URI: "u1", Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Info(); got != nil {
		t.Fatalf("Info() before connect = %+v, want nil", got)
	}
}

func TestExecuteURIMismatch(t *testing.T) {
	a, err := New(Config{URI: "u1", Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Execute(proto.ToolRequest{ID: "r1", URI: "other"}, proto.Options{})
	if err != proto.ErrURIMismatch {
		t.Fatalf("err = %v, want ErrURIMismatch", err)
	}
}

func TestExecuteRequestTypeMismatch(t *testing.T) {
	a, err := New(Config{URI: "u1", Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Execute(proto.AgentRequest{ID: "r1", URI: "u1"}, proto.Options{})
	if err != proto.ErrRequestTypeMismatch {
		t.Fatalf("err = %v, want ErrRequestTypeMismatch", err)
	}
}

func TestStopWithoutConnectIsNoop(t *testing.T) {
	a, err := New(Config{URI: "u1", Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() on unconnected adapter = %v, want nil", err)
	}
}

func TestConvertEnv(t *testing.T) {
	got := convertEnv(map[string]string{"FOO": "bar"})
	if len(got) != 1 || got[0] != "FOO=bar" {
		t.Fatalf("convertEnv = %v", got)
	}
	if got := convertEnv(nil); got != nil {
		t.Fatalf("convertEnv(nil) = %v, want nil", got)
	}
}

func TestExpandArgs(t *testing.T) {
	t.Setenv("TOOLADAPTER_TEST_VAR", "expanded")
	got := expandArgs([]string{"--flag=$TOOLADAPTER_TEST_VAR", "literal"})
	if got[0] != "--flag=expanded" {
		t.Errorf("expandArgs[0] = %q", got[0])
	}
	if got[1] != "literal" {
		t.Errorf("expandArgs[1] = %q", got[1])
	}
}

func TestExpandArgsUnsetVarBecomesEmpty(t *testing.T) {
	os.Unsetenv("TOOLADAPTER_TEST_UNSET")
	got := expandArgs([]string{"$TOOLADAPTER_TEST_UNSET"})
	if got[0] != "" {
		t.Errorf("expandArgs unset = %q, want empty", got[0])
	}
}

func TestNormalizeCallResultText(t *testing.T) {
	resp := &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "hi"}},
	}
	got := normalizeCallResult(resp)
	if got.IsError {
		t.Errorf("IsError = true, want false")
	}
	if len(got.Texts) != 1 || got.Texts[0] != "hi" {
		t.Fatalf("Texts = %v", got.Texts)
	}
}

func TestNormalizeCallResultError(t *testing.T) {
	resp := &mcp.CallToolResult{IsError: true}
	got := normalizeCallResult(resp)
	if !got.IsError {
		t.Errorf("IsError = false, want true")
	}
	if len(got.Texts) != 1 {
		t.Fatalf("Texts = %v, want a synthesized message", got.Texts)
	}
}

func TestNormalizeCallResultNil(t *testing.T) {
	got := normalizeCallResult(nil)
	if !got.IsError {
		t.Errorf("nil result should be IsError")
	}
}

func TestPageAllSinglePage(t *testing.T) {
	calls := 0
	got, err := pageAll(func(cursor mcp.Cursor) ([]string, mcp.Cursor, error) {
		calls++
		return []string{"a", "b"}, "", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(got) != 2 {
		t.Fatalf("got = %v", got)
	}
}

func TestConnectAndDiscoverStartError(t *testing.T) {
	sentinel := errors.New("spawn failed")
	fc := &fakeMCPClient{startErr: sentinel}
	a := newAdapterWithClient(t, fc)

	_, err := a.GetInfo(context.Background())
	if err == nil || !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapping %v", err, sentinel)
	}
}

func TestConnectAndDiscoverInitializeError(t *testing.T) {
	sentinel := errors.New("bad handshake")
	fc := &fakeMCPClient{initErr: sentinel}
	a := newAdapterWithClient(t, fc)

	_, err := a.GetInfo(context.Background())
	if err == nil || !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapping %v", err, sentinel)
	}
	if !fc.closed {
		t.Fatalf("expected client to be closed after initialize failure")
	}
}

func TestConnectAndDiscoverMissingToolsCapability(t *testing.T) {
	fc := &fakeMCPClient{initResult: &mcp.InitializeResult{}}
	a := newAdapterWithClient(t, fc)

	_, err := a.GetInfo(context.Background())
	if err == nil {
		t.Fatal("expected error for missing tools capability")
	}
	if !fc.closed {
		t.Fatalf("expected client to be closed after failed discovery")
	}
}

func TestExecuteCallToolSuccess(t *testing.T) {
	fc := &fakeMCPClient{
		callResult: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "42"}},
		},
	}
	a, err := New(Config{URI: "u1", Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	// Seed the cache directly so Execute() reaches CallTool without needing
	// a grounded fake handshake through connectAndDiscover.
	a.info = &proto.ToolInfo{Name: "srv", Tools: []string{"add"}}
	a.client = fc
	a.connected = true

	req := proto.ToolRequest{ID: "r1", URI: "u1", Call: proto.ToolCall{Name: "add", Arguments: map[string]any{"a": 1}}}
	resp, err := a.Execute(req, proto.Options{})
	if err != nil {
		t.Fatal(err)
	}
	toolResp, ok := resp.(proto.ToolResponse)
	if !ok {
		t.Fatalf("resp = %T, want proto.ToolResponse", resp)
	}
	if toolResp.Err != nil {
		t.Fatalf("Err = %v, want nil", toolResp.Err)
	}
	if len(toolResp.Result.Texts) != 1 || toolResp.Result.Texts[0] != "42" {
		t.Fatalf("Result = %+v", toolResp.Result)
	}
	if fc.gotCallReq.Params.Name != "add" {
		t.Fatalf("CallTool name = %q, want add", fc.gotCallReq.Params.Name)
	}
}

func TestExecuteCallToolErrorIsCapturedNotReturned(t *testing.T) {
	sentinel := errors.New("tool exploded")
	fc := &fakeMCPClient{callErr: sentinel}
	a, err := New(Config{URI: "u1", Command: "echo"})
	if err != nil {
		t.Fatal(err)
	}
	a.info = &proto.ToolInfo{Name: "srv", Tools: []string{"add"}}
	a.client = fc
	a.connected = true

	resp, err := a.Execute(proto.ToolRequest{ID: "r1", URI: "u1", Call: proto.ToolCall{Name: "add"}}, proto.Options{})
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil (AdapterFailure is embedded, not returned)", err)
	}
	toolResp := resp.(proto.ToolResponse)
	if toolResp.Err == nil {
		t.Fatalf("expected captured failure, got %+v", toolResp)
	}
}

func TestPageAllMultiplePages(t *testing.T) {
	pages := [][]string{{"a"}, {"b"}, {"c"}}
	cursors := []mcp.Cursor{"p2", "p3", ""}
	i := 0
	got, err := pageAll(func(cursor mcp.Cursor) ([]string, mcp.Cursor, error) {
		page := pages[i]
		next := cursors[i]
		i++
		return page, next, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("got = %v", got)
	}
}

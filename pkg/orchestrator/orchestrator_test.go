package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/artinet-dev/artinet-go/pkg/agentadapter"
	"github.com/artinet-dev/artinet-go/pkg/monitor"
	"github.com/artinet-dev/artinet-go/pkg/proto"
)

func card(name, desc string) *a2a.AgentCard {
	return &a2a.AgentCard{Name: name, Description: desc, URL: "http://localhost:9000"}
}

func stubProvider(resp proto.ConnectResponse, err error) func(context.Context, proto.ConnectRequest) (proto.ConnectResponse, error) {
	return func(ctx context.Context, req proto.ConnectRequest) (proto.ConnectResponse, error) {
		return resp, err
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Provider: stubProvider(proto.ConnectResponse{}, nil)}); err == nil {
		t.Fatal("expected error for missing ModelID")
	}
	if _, err := New(Config{ModelID: "m1"}); err == nil {
		t.Fatal("expected error for missing Provider")
	}
	o, err := New(Config{ModelID: "m1", Provider: stubProvider(proto.ConnectResponse{}, nil)})
	if err != nil {
		t.Fatal(err)
	}
	if o == nil {
		t.Fatal("expected non-nil orchestrator")
	}
}

func TestAddUnknownDefinitionSurfacesOnConnect(t *testing.T) {
	o, err := New(Config{ModelID: "m1", Provider: stubProvider(proto.ConnectResponse{Message: proto.NewMessage(proto.RoleAssistant, "done")}, nil)})
	if err != nil {
		t.Fatal(err)
	}
	o.Add(42, "")

	_, err = o.Connect(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected an error from the unrecognised service definition")
	}
	if !errors.Is(err, ErrUnknownServiceDefinition) {
		t.Fatalf("err = %v, want wrapping ErrUnknownServiceDefinition", err)
	}
}

func TestConnectWithNoServicesRoundTrips(t *testing.T) {
	calls := 0
	provider := func(ctx context.Context, req proto.ConnectRequest) (proto.ConnectResponse, error) {
		calls++
		return proto.ConnectResponse{Message: proto.NewMessage(proto.RoleAssistant, "hi there")}, nil
	}
	o, err := New(Config{ModelID: "m1", Provider: provider})
	if err != nil {
		t.Fatal(err)
	}

	text, err := o.Connect(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if text != "hi there" {
		t.Fatalf("text = %q", text)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAddAgentSpecRegistersAndAppearsInServices(t *testing.T) {
	var seenServices int
	provider := func(ctx context.Context, req proto.ConnectRequest) (proto.ConnectResponse, error) {
		seenServices = len(req.Options.Agents.Services)
		return proto.ConnectResponse{Message: proto.NewMessage(proto.RoleAssistant, "ok")}, nil
	}
	o, err := New(Config{ModelID: "m1", Provider: provider})
	if err != nil {
		t.Fatal(err)
	}
	o.Add(AgentSpec{Config: agentadapter.Config{URI: "helper", AgentCard: card("helper", "a helper agent")}}, "helper")

	if _, err := o.Connect(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if seenServices != 1 {
		t.Fatalf("agents.services len = %d, want 1", seenServices)
	}
}

func TestAgentCardDerivesNameAndSkills(t *testing.T) {
	provider := stubProvider(proto.ConnectResponse{}, nil)
	o, err := New(Config{ModelID: "gpt-x", Provider: provider})
	if err != nil {
		t.Fatal(err)
	}
	o.Add(AgentSpec{Config: agentadapter.Config{URI: "helper", AgentCard: card("helper", "a helper agent")}}, "helper")
	if err := o.awaitAdds(); err != nil {
		t.Fatal(err)
	}

	got := o.AgentCard()
	if got.Name != "gpt-x-agent" {
		t.Fatalf("Name = %q, want %q", got.Name, "gpt-x-agent")
	}
	if len(got.Skills) != 1 || got.Skills[0].ID != "helper" {
		t.Fatalf("Skills = %+v", got.Skills)
	}
}

func TestSubscriptionSurfaceForwardsToMonitor(t *testing.T) {
	o, err := New(Config{ModelID: "m1", Provider: stubProvider(proto.ConnectResponse{}, nil)})
	if err != nil {
		t.Fatal(err)
	}
	var got []monitor.UpdateEvent
	o.On(func(e monitor.UpdateEvent) { got = append(got, e) })

	o.execCtx.Publish("working", "step")

	if len(got) != 1 {
		t.Fatalf("got = %+v", got)
	}
	if o.ListenerCount() != 1 {
		t.Fatalf("ListenerCount() = %d, want 1", o.ListenerCount())
	}
}

func TestCloseWithNoAdaptersIsSafe(t *testing.T) {
	o, err := New(Config{ModelID: "m1", Provider: stubProvider(proto.ConnectResponse{}, nil)})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
}

func TestRunAsAgentEmitsSubmittedThenCompleted(t *testing.T) {
	provider := stubProvider(proto.ConnectResponse{Message: proto.NewMessage(proto.RoleAssistant, "final answer")}, nil)
	o, err := New(Config{ModelID: "m1", Provider: provider})
	if err != nil {
		t.Fatal(err)
	}

	var events []AgentEvent
	history := []proto.Message{proto.NewMessage(proto.RoleUser, ""), proto.NewMessage(proto.RoleAssistant, "prior turn")}
	err = o.RunAsAgent(context.Background(), "next question", history, func(e AgentEvent) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v, want 2", events)
	}
	if events[0].Kind != SubmittedUpdate {
		t.Errorf("events[0].Kind = %v, want SubmittedUpdate", events[0].Kind)
	}
	if events[1].Kind != StatusUpdate || events[1].Text != "final answer" {
		t.Errorf("events[1] = %+v", events[1])
	}
}

func TestRunAsAgentEmitsFailedStatusOnError(t *testing.T) {
	sentinel := errors.New("provider exploded")
	provider := stubProvider(proto.ConnectResponse{}, sentinel)
	o, err := New(Config{ModelID: "m1", Provider: provider})
	if err != nil {
		t.Fatal(err)
	}

	var events []AgentEvent
	err = o.RunAsAgent(context.Background(), "hi", nil, func(e AgentEvent) { events = append(events, e) })
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(events) != 2 || events[1].Kind != StatusUpdate || events[1].Err == nil {
		t.Fatalf("events = %+v", events)
	}
}

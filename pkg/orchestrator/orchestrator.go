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

// Package orchestrator is the facade (§4.8): it composes the Manager, the
// reactive loop, and the Monitor behind connect()/add()/close(), and
// exposes the composition itself as an A2A-style agent.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/artinet-dev/artinet-go/pkg/agentadapter"
	"github.com/artinet-dev/artinet-go/pkg/envcfg"
	"github.com/artinet-dev/artinet-go/pkg/logging"
	"github.com/artinet-dev/artinet-go/pkg/loop"
	"github.com/artinet-dev/artinet-go/pkg/manager"
	"github.com/artinet-dev/artinet-go/pkg/monitor"
	"github.com/artinet-dev/artinet-go/pkg/normalize"
	"github.com/artinet-dev/artinet-go/pkg/proto"
	"github.com/artinet-dev/artinet-go/pkg/tooladapter"
)

// AgentHandle wraps an already-constructed Agent adapter: the caller
// retains ownership, so Close() on the orchestrator leaves it untouched
// (§3 Lifecycle: "wrapped remote clients are left untouched").
type AgentHandle struct{ Adapter *agentadapter.Adapter }

// AgentSpec instantiates a new Agent adapter from a Config (a "create-agent
// spec" in §4.8's terms); the orchestrator owns and stops it.
type AgentSpec struct{ Config agentadapter.Config }

// ToolSpec spawns a new Tool adapter from a Config ("a stdio subprocess
// spec" in §4.8's terms, distinguished there by a `command` field); the
// orchestrator owns and stops it.
type ToolSpec struct{ Config tooladapter.Config }

// ErrUnknownServiceDefinition is returned by Add for any value that is not
// one of AgentHandle, AgentSpec, or ToolSpec.
var ErrUnknownServiceDefinition = fmt.Errorf("orchestrator: unrecognised service definition")

type ownedCallable struct {
	proto.Callable
	owned bool
}

func (c ownedCallable) Stop() error {
	if !c.owned {
		return nil
	}
	return c.Callable.Stop()
}

// Config configures an Orchestrator.
type Config struct {
	// ModelID identifies the LLM the provider addresses.
	ModelID string

	// Provider is invoked once per reactive-loop iteration.
	Provider loop.Provider

	// Concurrency overrides envcfg.DefaultConcurrency for this
	// orchestrator's Manager.
	Concurrency int

	// Iterations overrides envcfg.DefaultIterations for this
	// orchestrator's reactive loop.
	Iterations int
}

// Orchestrator composes the Manager, reactive loop, and Monitor.
type Orchestrator struct {
	modelID    string
	provider   loop.Provider
	iterations int

	manager *manager.Manager
	mon     *monitor.Monitor
	execCtx *monitor.Context
	tasks   *proto.TaskMap

	log *slog.Logger

	mu       sync.Mutex
	addChain <-chan struct{}
	addErr   error
	entries  map[string]entry
}

type entry struct {
	uri      string
	callable ownedCallable
}

// New constructs an Orchestrator. It performs no I/O; adapters are
// registered (and their subprocess/connection work performed) via Add.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("orchestrator: modelId is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("orchestrator: provider is required")
	}
	env := envcfg.Load()
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = env.Iterations
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = env.Concurrency
	}

	mon := monitor.New()
	o := &Orchestrator{
		modelID:    cfg.ModelID,
		provider:   cfg.Provider,
		iterations: iterations,
		manager:    manager.New(concurrency),
		mon:        mon,
		execCtx:    mon.Create("orchestrator"),
		tasks:      proto.NewTaskMap(),
		log:        logging.For("orchestrator"),
		entries:    make(map[string]entry),
	}
	return o, nil
}

// Add registers a service definition under uri (or, if uri is empty, under
// the callable's own URI, falling back to a fresh generated id), fluently. Additions are serialised: connect() awaits every
// pending add before dispatching. An unrecognised definition type fails
// synchronously (§4.8: "unknown shapes fail synchronously with a type
// error") — the type switch below needs no I/O, unlike the eager info load
// that follows for recognised ones.
func (o *Orchestrator) Add(def any, uri string) *Orchestrator {
	var callable proto.Callable
	var owned bool

	switch v := def.(type) {
	case AgentHandle:
		if v.Adapter == nil {
			o.recordAddErr(fmt.Errorf("%w: AgentHandle.Adapter is nil", ErrUnknownServiceDefinition))
			return o
		}
		callable, owned = v.Adapter, false
	case AgentSpec:
		a, err := agentadapter.New(v.Config)
		if err != nil {
			o.recordAddErr(fmt.Errorf("orchestrator: agent spec invalid: %w", err))
			return o
		}
		callable, owned = a, true
	case ToolSpec:
		t, err := tooladapter.New(v.Config)
		if err != nil {
			o.recordAddErr(fmt.Errorf("orchestrator: tool spec invalid: %w", err))
			return o
		}
		callable, owned = t, true
	default:
		o.recordAddErr(fmt.Errorf("%w: %T", ErrUnknownServiceDefinition, def))
		return o
	}

	if uri == "" {
		uri = callable.URI()
	}
	if uri == "" {
		uri = uuid.NewString()
	}

	o.mu.Lock()
	prev := o.addChain
	done := make(chan struct{})
	o.addChain = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		// Eagerly load capability info: §3's invariant is that a service
		// descriptor only exists once the connection has loaded info at
		// least once, and connect() needs that descriptor immediately.
		if _, err := getInfo(context.Background(), callable); err != nil {
			o.recordAddErr(fmt.Errorf("orchestrator: failed to load info for %q: %w", uri, err))
			o.log.Warn("add: info load failed", "uri", uri, "error", err)
			return
		}
		oc := ownedCallable{Callable: callable, owned: owned}
		o.manager.Set(uri, oc)
		o.mu.Lock()
		o.entries[uri] = entry{uri: uri, callable: oc}
		o.mu.Unlock()
	}()

	return o
}

func (o *Orchestrator) recordAddErr(err error) {
	o.mu.Lock()
	if o.addErr == nil {
		o.addErr = err
	}
	o.mu.Unlock()
}

// awaitAdds blocks until every pending Add has completed and returns the
// first error recorded by any of them, if any.
func (o *Orchestrator) awaitAdds() error {
	o.mu.Lock()
	pending := o.addChain
	o.mu.Unlock()
	if pending != nil {
		<-pending
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.addErr
}

// getInfo loads and normalizes a callable's discovered service descriptor.
func getInfo(ctx context.Context, c proto.Callable) (any, error) {
	switch a := c.(type) {
	case *agentadapter.Adapter:
		return a.GetInfo(ctx)
	case *tooladapter.Adapter:
		return a.GetInfo(ctx)
	case ownedCallable:
		return getInfo(ctx, a.Callable)
	default:
		return nil, fmt.Errorf("orchestrator: unsupported callable type %T", c)
	}
}

// services builds the discovered ToolService/AgentService descriptors for
// every registered callable, for use as ConnectRequest.Options.*.Services.
func (o *Orchestrator) services(ctx context.Context) (proto.ToolOptions, proto.AgentOptions, error) {
	o.mu.Lock()
	entries := make([]entry, 0, len(o.entries))
	for _, e := range o.entries {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	var tools proto.ToolOptions
	var agents proto.AgentOptions
	for _, e := range entries {
		switch a := e.callable.Callable.(type) {
		case *agentadapter.Adapter:
			svc, err := a.GetTarget(ctx, e.uri)
			if err != nil {
				return tools, agents, err
			}
			agents.Services = append(agents.Services, svc)
		case *tooladapter.Adapter:
			svc, err := a.GetTarget(ctx, e.uri)
			if err != nil {
				return tools, agents, err
			}
			tools.Services = append(tools.Services, svc)
		}
	}
	return tools, agents, nil
}

// Connect implements §4.8's connect(): normalise input, build a
// ConnectRequest with discovered services, run the reactive loop, and
// extract the final text.
func (o *Orchestrator) Connect(ctx context.Context, input any) (string, error) {
	if err := o.awaitAdds(); err != nil {
		return "", fmt.Errorf("orchestrator: pending add failed: %w", err)
	}

	messages, err := normalize.Input(input)
	if err != nil {
		return "", err
	}

	tools, agents, err := o.services(ctx)
	if err != nil {
		return "", fmt.Errorf("orchestrator: failed to build service list: %w", err)
	}

	initial := proto.ConnectRequest{
		ModelID:  o.modelID,
		Messages: messages,
		Options:  proto.ConnectOptions{Tools: tools, Agents: agents},
	}

	opts := proto.Options{
		ParentTaskID: uuid.NewString(),
		Tasks:        o.tasks,
		Iterations:   o.iterations,
		Context:      ctx,
	}

	providerFn := func(ctx context.Context, req proto.ConnectRequest) (proto.ConnectResponse, error) {
		return o.provider(ctx, req)
	}

	resp, err := loop.Run(ctx, providerFn, o.manager.Call, initial, opts, o.execCtx)
	if err != nil {
		return "", err
	}
	return normalize.FinalText(resp)
}

// Close stops every registered callable in parallel (§6 close()).
func (o *Orchestrator) Close() error {
	return o.manager.Stop()
}

// On, OnError, Off, RemoveAllListeners, ListenerCount, and EventNames
// forward the Monitor's subscription surface (§4.8).
func (o *Orchestrator) On(fn func(monitor.UpdateEvent)) monitor.Subscription { return o.mon.On(fn) }
func (o *Orchestrator) OnError(fn func(monitor.ErrorEvent)) monitor.Subscription {
	return o.mon.OnError(fn)
}
func (o *Orchestrator) Off(sub monitor.Subscription) { o.mon.Off(sub) }
func (o *Orchestrator) RemoveAllListeners()           { o.mon.RemoveAllListeners() }
func (o *Orchestrator) ListenerCount() int            { return o.mon.ListenerCount() }
func (o *Orchestrator) EventNames() []string          { return o.mon.EventNames() }

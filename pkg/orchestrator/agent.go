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

package orchestrator

import (
	"context"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/artinet-dev/artinet-go/pkg/agentadapter"
	"github.com/artinet-dev/artinet-go/pkg/proto"
	"github.com/artinet-dev/artinet-go/pkg/tooladapter"
)

// AgentEventKind discriminates the two events the orchestrator's own
// A2A-style engine emits (§4.8's "agent" property). Go has no async
// generator; per §9's "async generator engines" note this is expressed as
// a push sink the engine writes into instead.
type AgentEventKind string

const (
	SubmittedUpdate AgentEventKind = "submitted"
	StatusUpdate    AgentEventKind = "status"
)

// AgentEvent is one event pushed to RunAsAgent's sink.
type AgentEvent struct {
	Kind  AgentEventKind
	State a2a.TaskState
	Text  string
	Err   error
}

// RunAsAgent executes the orchestrator's reactive loop as an A2A-style
// engine: emit SubmittedUpdate, run the loop over the new user message plus
// task history, then emit StatusUpdate(completed, finalText) — or
// StatusUpdate(failed, ...) if the loop errors.
//
// history is harvested by the caller from the current task and any tasks it
// references (§4.8); RunAsAgent filters out empty messages before use.
func (o *Orchestrator) RunAsAgent(ctx context.Context, userText string, history []proto.Message, sink func(AgentEvent)) error {
	sink(AgentEvent{Kind: SubmittedUpdate, State: a2a.TaskStateSubmitted})

	filtered := make([]proto.Message, 0, len(history))
	for _, m := range history {
		if m.Content != "" {
			filtered = append(filtered, m)
		}
	}
	userMsg, ok := proto.NewUserMessage(userText)
	if ok {
		filtered = append(filtered, userMsg)
	}

	text, err := o.Connect(ctx, proto.Session(filtered))
	if err != nil {
		sink(AgentEvent{Kind: StatusUpdate, State: a2a.TaskStateFailed, Err: err})
		return err
	}

	sink(AgentEvent{Kind: StatusUpdate, State: a2a.TaskStateCompleted, Text: text})
	return nil
}

// AgentCard derives this orchestrator's own A2A agent card (§4.8): name is
// "{modelId}-agent"; each registered service contributes one skill.
func (o *Orchestrator) AgentCard() *a2a.AgentCard {
	o.mu.Lock()
	entries := make([]entry, 0, len(o.entries))
	for _, e := range o.entries {
		entries = append(entries, e)
	}
	o.mu.Unlock()

	skills := make([]a2a.AgentSkill, 0, len(entries))
	for _, e := range entries {
		skills = append(skills, skillFor(e))
	}

	return &a2a.AgentCard{
		Name:        fmt.Sprintf("%s-agent", o.modelID),
		Description: fmt.Sprintf("Orchestrated agent backed by LLM %q", o.modelID),
		Skills:      skills,
	}
}

func skillFor(e entry) a2a.AgentSkill {
	switch a := e.callable.Callable.(type) {
	case *agentadapter.Adapter:
		info := a.Info()
		if info == nil {
			return a2a.AgentSkill{ID: e.uri, Name: e.uri, Tags: []string{"agent"}}
		}
		desc := info.Description
		if desc == "" {
			desc = fmt.Sprintf("Agent service %q", e.uri)
		}
		return a2a.AgentSkill{ID: e.uri, Name: info.Name, Description: desc, Tags: []string{"agent"}}
	case *tooladapter.Adapter:
		info := a.Info()
		if info == nil {
			return a2a.AgentSkill{ID: e.uri, Name: e.uri, Tags: []string{"tool"}}
		}
		desc := info.Instructions
		if desc == "" {
			desc = fmt.Sprintf("Tool service %q", e.uri)
		}
		return a2a.AgentSkill{ID: e.uri, Name: info.Name, Description: desc, Tags: []string{"tool"}}
	default:
		return a2a.AgentSkill{ID: e.uri, Name: e.uri}
	}
}

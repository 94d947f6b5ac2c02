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

// Package loop drives the reactive provider-services dialogue (§4.6): one
// provider round-trip, then one bounded Manager.call fan-out, per iteration,
// until the model stops emitting calls, the iteration budget runs out, or
// the caller cancels.
package loop

import (
	"context"
	"errors"
	"fmt"

	"github.com/artinet-dev/artinet-go/pkg/envcfg"
	"github.com/artinet-dev/artinet-go/pkg/logging"
	"github.com/artinet-dev/artinet-go/pkg/monitor"
	"github.com/artinet-dev/artinet-go/pkg/proto"
)

// MaxIterationSystemText is the fixed wording of the last-iteration hint
// (§4.6): it must be injected verbatim as the final message of the request
// sent on the final allowed iteration.
const MaxIterationSystemText = "You have reached the maximum number of allowed iterations. " +
	"Stop attempting further tool or agent calls, summarise the progress made so far, " +
	"and suggest next steps for the user."

// ErrNoResponse is returned when the loop ends without the provider ever
// producing a response. Run replaces a zero or negative budget with
// envcfg.DefaultIterations, and returns cancellation and provider failures
// as their own errors, so a zero budget does not lead to ErrNoResponse.
var ErrNoResponse = errors.New("loop: no response from model")

// Provider turns a normalized request into a response that may carry
// further service calls (§4.1). Implementations MUST honour ctx
// cancellation and MUST return a well-formed ConnectResponse even on
// LLM refusal or empty content.
type Provider func(ctx context.Context, req proto.ConnectRequest) (proto.ConnectResponse, error)

// Dispatcher fans a batch of requests out to the Manager under its
// concurrency bound, settle-style.
type Dispatcher func(requests []proto.Request, opts proto.Options) []proto.Response

// Run drives the state machine of §4.6 to completion and returns the final
// ConnectResponse, or an error (ProviderFailure, Cancellation, or
// ErrNoResponse per §7).
func Run(ctx context.Context, provider Provider, dispatch Dispatcher, initial proto.ConnectRequest, opts proto.Options, mon *monitor.Context) (proto.ConnectResponse, error) {
	log := logging.For("loop")

	iterationsLeft := opts.Iterations
	if iterationsLeft <= 0 {
		iterationsLeft = envcfg.DefaultIterations
	}

	var results []proto.Response
	var response proto.ConnectResponse
	haveResponse := false

	for {
		if iterationsLeft == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return response, fmt.Errorf("loop: cancelled: %w", err)
		}

		lastIteration := iterationsLeft == 1
		var extra []proto.Message
		if lastIteration {
			extra = []proto.Message{proto.NewMessage(proto.RoleSystem, MaxIterationSystemText)}
		}
		req := merge(initial, results, extra)

		resp, err := provider(ctx, req)
		if err != nil {
			return response, fmt.Errorf("loop: provider failed: %w", err)
		}
		response = resp
		haveResponse = true
		initial = req // subsequent merges build on the request actually sent

		if lastIteration {
			// Budget is exhausted on this iteration's response: the LLM was
			// hinted to stop, so any calls it still emitted are not
			// dispatched (§8 scenario 4).
			break
		}

		calls := collectCalls(resp)
		if len(calls) == 0 {
			break
		}

		if err := ctx.Err(); err != nil {
			return response, fmt.Errorf("loop: cancelled: %w", err)
		}

		callOpts := opts
		callOpts.Context = ctx
		if mon != nil {
			callOpts.Callback = chain(callOpts.Callback, func(r proto.Response) {
				mon.Publish("working", r)
			})
		}
		results = dispatch(calls, callOpts)
		if len(results) == 0 {
			break
		}

		log.Debug("loop iteration dispatched calls", "calls", len(calls), "results", len(results))
		iterationsLeft--
	}

	if !haveResponse {
		return response, ErrNoResponse
	}
	return response, nil
}

// merge implements §4.6's merge(): append tool/agent responses to
// req.options.*.responses, and extra messages to req.messages. It clones
// so no iteration aliases a previous one's backing arrays.
func merge(req proto.ConnectRequest, results []proto.Response, extra []proto.Message) proto.ConnectRequest {
	out := req.Clone()
	for _, r := range results {
		switch v := r.(type) {
		case proto.ToolResponse:
			out.Options.Tools.Responses = append(out.Options.Tools.Responses, v)
		case proto.AgentResponse:
			out.Options.Agents.Responses = append(out.Options.Agents.Responses, v)
		}
	}
	out.Messages = append(out.Messages, extra...)
	return out
}

// collectCalls concatenates a ConnectResponse's tool and agent requests
// into the discriminated-union Request slice Manager.call expects.
func collectCalls(resp proto.ConnectResponse) []proto.Request {
	calls := make([]proto.Request, 0, len(resp.Options.Tools.Requests)+len(resp.Options.Agents.Requests))
	for _, r := range resp.Options.Tools.Requests {
		calls = append(calls, r)
	}
	for _, r := range resp.Options.Agents.Requests {
		calls = append(calls, r)
	}
	return calls
}

// chain composes two response callbacks so both observe every response.
func chain(a, b func(proto.Response)) func(proto.Response) {
	if a == nil {
		return b
	}
	return func(r proto.Response) {
		a(r)
		b(r)
	}
}

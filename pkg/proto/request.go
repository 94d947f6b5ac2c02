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

package proto

// ToolCall is the {name, arguments} payload of a ToolRequest.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Request is the discriminated union of ToolRequest and AgentRequest. The
// Manager's dispatch is a type-switch on (callable.CallableKind(), Request.Kind()).
type Request interface {
	Kind() Kind
	RequestID() string
	TargetURI() string
}

// ToolRequest asks a Tool adapter to invoke a named tool.
type ToolRequest struct {
	ID       string
	URI      string
	CallerID string
	Call     ToolCall
}

func (r ToolRequest) Kind() Kind         { return KindTool }
func (r ToolRequest) RequestID() string  { return r.ID }
func (r ToolRequest) TargetURI() string  { return r.URI }

// AgentCall is either a raw user-text string or a structured message; exactly
// one of Text or Message is populated.
type AgentCall struct {
	Text    string
	Message *Message
}

// AgentRequest asks an Agent adapter to send a message.
type AgentRequest struct {
	ID       string
	URI      string
	CallerID string
	Call     AgentCall
}

func (r AgentRequest) Kind() Kind        { return KindAgent }
func (r AgentRequest) RequestID() string { return r.ID }
func (r AgentRequest) TargetURI() string { return r.URI }

// Response is the discriminated union of ToolResponse and AgentResponse.
type Response interface {
	Kind() Kind
	ResponseID() string
}

// ToolResponse mirrors a ToolRequest. Result holds an MCP CallToolResult-
// shaped value; Partial marks a stderr-streamed intermediate response.
type ToolResponse struct {
	ID      string
	URI     string
	Call    ToolCall
	Result  ToolResult
	Err     error
	Partial bool
}

func (r ToolResponse) Kind() Kind        { return KindTool }
func (r ToolResponse) ResponseID() string { return r.ID }

// ToolResult is a normalized MCP CallToolResult: either error text, or one
// or more text-content items.
type ToolResult struct {
	IsError bool
	Texts   []string
}

// AgentResponse mirrors an AgentRequest. Result is either the successful
// sendMessage value (as a Message) or a failure string; Err is the captured
// error object, if any (never propagated up as an exception per §4.2).
type AgentResponse struct {
	ID     string
	URI    string
	Call   AgentCall
	Result AgentResult
	Err    error
}

func (r AgentResponse) Kind() Kind        { return KindAgent }
func (r AgentResponse) ResponseID() string { return r.ID }

// AgentResult carries either a successful reply Message or an error string.
type AgentResult struct {
	Message *Message
	Error   string
}

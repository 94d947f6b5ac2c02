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

// Package agentadapter implements the Agent adapter (§4.2): one A2A
// endpoint, with lazy/cached/single-flight capability discovery, per-parent
// task correlation, and error normalization so adapter failures never
// escape execute() as Go errors.
package agentadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
	"github.com/google/uuid"

	"github.com/artinet-dev/artinet-go/pkg/logging"
	"github.com/artinet-dev/artinet-go/pkg/monitor"
	"github.com/artinet-dev/artinet-go/pkg/proto"
)

// Config configures a remote A2A agent, mirroring the shape of the
// underlying a2a-go client construction.
type Config struct {
	// URI is the service uri this adapter is registered under in the
	// Manager. Required.
	URI string

	// URL is the base URL of the remote A2A server. Used to derive
	// AgentCardSource if AgentCard/AgentCardSource are not provided.
	URL string

	// AgentCard provides the agent card directly, taking precedence over
	// URL/AgentCardSource.
	AgentCard *a2a.AgentCard

	// AgentCardSource is a URL or file path to resolve the agent card from.
	AgentCardSource string

	// Timeout defaults to 30s in New. It is not applied to any operation:
	// agent-card resolution and client construction are bounded only by
	// the caller's context.
	Timeout time.Duration

	// MessageSendConfig is attached to every outgoing message.
	MessageSendConfig *a2a.MessageSendConfig

	// Monitor, if set, receives update/error events for this adapter's
	// executions. Optional.
	Monitor *monitor.Context
}

// a2aSender is the subset of *a2aclient.Client that Execute needs.
// Extracting it as an interface lets tests substitute a fake collaborator
// in place of a live A2A server, the way the teacher's own tests fake out
// network/storage collaborators.
type a2aSender interface {
	SendMessage(ctx context.Context, params *a2a.MessageSendParams) (a2a.SendMessageResult, error)
	GetTask(ctx context.Context, params *a2a.TaskQueryParams) (*a2a.Task, error)
	Destroy() error
}

func defaultNewSender(ctx context.Context, card *a2a.AgentCard) (a2aSender, error) {
	return a2aclient.NewFromCard(ctx, card)
}

// Adapter is one A2A endpoint, satisfying proto.Callable.
type Adapter struct {
	cfg Config

	infoMu  sync.Mutex
	info    *proto.AgentInfo
	loading chan struct{} // non-nil while a getInfo fetch is in flight

	resolvedCard *a2a.AgentCard

	// newSender constructs the per-execute a2aSender. Overridden in tests.
	newSender func(ctx context.Context, card *a2a.AgentCard) (a2aSender, error)

	log *slog.Logger
}

// New constructs an Agent adapter. It does not contact the network; the
// agent card and info are resolved lazily on first GetInfo()/Execute().
func New(cfg Config) (*Adapter, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("agentadapter: uri is required")
	}
	if cfg.URL == "" && cfg.AgentCard == nil && cfg.AgentCardSource == "" {
		return nil, fmt.Errorf("agentadapter: one of URL, AgentCard, or AgentCardSource is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.URL != "" && cfg.AgentCardSource == "" && cfg.AgentCard == nil {
		cfg.AgentCardSource = strings.TrimSuffix(cfg.URL, "/") + "/.well-known/agent.json"
	}
	return &Adapter{
		cfg:          cfg,
		resolvedCard: cfg.AgentCard,
		newSender:    defaultNewSender,
		log:          logging.For("agentadapter"),
	}, nil
}

// URI implements proto.Callable.
func (a *Adapter) URI() string { return a.cfg.URI }

// CallableKind implements proto.Callable.
func (a *Adapter) CallableKind() proto.Kind { return proto.KindAgent }

// Stop implements proto.Callable. This adapter owns no persistent
// connection between calls (a fresh a2aclient.Client is created and
// destroyed per execute), so Stop is a no-op; the cached card and info are
// kept.
func (a *Adapter) Stop() error {
	return nil
}

// GetInfo returns the adapter's AgentInfo, lazily loading and caching it.
// Concurrent callers during loading observe the same pending fetch rather
// than triggering a second one (single-flight).
func (a *Adapter) GetInfo(ctx context.Context) (*proto.AgentInfo, error) {
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
			return nil, fmt.Errorf("agentadapter: concurrent info load failed")
		}
		return info, nil
	}
	ch := make(chan struct{})
	a.loading = ch
	a.infoMu.Unlock()

	info, err := a.loadInfo(ctx)

	a.infoMu.Lock()
	if err == nil {
		a.info = info
	}
	a.loading = nil
	a.infoMu.Unlock()
	close(ch)

	return info, err
}

// Info returns the cached AgentInfo without triggering a load — nil until
// GetInfo has completed at least once (open question resolution, §9:
// "return undefined until loaded; mandatory users must call getInfo()").
func (a *Adapter) Info() *proto.AgentInfo {
	a.infoMu.Lock()
	defer a.infoMu.Unlock()
	return a.info
}

func (a *Adapter) loadInfo(ctx context.Context) (*proto.AgentInfo, error) {
	card, err := a.resolveAgentCard(ctx)
	if err != nil {
		return nil, fmt.Errorf("agentadapter: agent card resolution failed: %w", err)
	}
	a.resolvedCard = card

	skills := make([]proto.AgentSkill, 0, len(card.Skills))
	for _, s := range card.Skills {
		skills = append(skills, proto.AgentSkill{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Tags:        append([]string(nil), s.Tags...),
			Examples:    append([]string(nil), s.Examples...),
		})
	}

	return &proto.AgentInfo{
		Name:        card.Name,
		Description: card.Description,
		URL:         card.URL,
		Skills:      skills,
	}, nil
}

// GetTarget returns an AgentService descriptor, loading info if needed.
func (a *Adapter) GetTarget(ctx context.Context, id string) (proto.AgentService, error) {
	info, err := a.GetInfo(ctx)
	if err != nil {
		return proto.AgentService{}, err
	}
	return proto.AgentService{Kind: proto.KindAgent, URI: a.cfg.URI, ID: id, Info: *info}, nil
}

func (a *Adapter) resolveAgentCard(ctx context.Context) (*a2a.AgentCard, error) {
	if a.resolvedCard != nil {
		return a.resolvedCard, nil
	}

	source := a.cfg.AgentCardSource
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		card, err := agentcard.DefaultResolver.Resolve(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch agent card from %s: %w", source, err)
		}
		return card, nil
	}

	fileBytes, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent card from %q: %w", source, err)
	}
	var card a2a.AgentCard
	if err := json.Unmarshal(fileBytes, &card); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent card: %w", err)
	}
	return &card, nil
}

// Execute implements proto.Callable, following the algorithm of §4.2:
// URI-mismatch rejection, call normalization, per-parent sticky task
// correlation, invocation, and error capture (never propagated as a Go
// error). The only Go errors it returns are RequestTypeMismatch and
// UriMismatch; the Manager rejects a kind mismatch before calling it, and
// the uri check keeps a directly-invoked adapter safe.
func (a *Adapter) Execute(req proto.Request, opts proto.Options) (proto.Response, error) {
	agentReq, ok := req.(proto.AgentRequest)
	if !ok {
		return nil, proto.ErrRequestTypeMismatch
	}
	if agentReq.URI != a.cfg.URI {
		return nil, proto.ErrURIMismatch
	}

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := a.GetInfo(ctx); err != nil {
		return a.failure(agentReq, fmt.Errorf("agentadapter: info load failed: %w", err)), nil
	}

	card, err := a.resolveAgentCard(ctx)
	if err != nil {
		return a.failure(agentReq, err), nil
	}

	sender, err := a.newSender(ctx, card)
	if err != nil {
		return a.failure(agentReq, fmt.Errorf("agentadapter: client creation failed: %w", err)), nil
	}
	defer func() { _ = sender.Destroy() }()

	msg := a.buildMessage(agentReq)
	a.correlate(msg, opts)

	params := &a2a.MessageSendParams{Message: msg, Config: a.cfg.MessageSendConfig}

	if a.cfg.Monitor != nil {
		a.cfg.Monitor.Publish("working", agentReq)
	}

	result, err := sender.SendMessage(ctx, params)
	if err != nil {
		if a.cfg.Monitor != nil {
			a.cfg.Monitor.Fail(err, agentReq)
		}
		return a.failure(agentReq, err), nil
	}
	if result == nil {
		return a.failure(agentReq, fmt.Errorf("agentadapter: nil result from sendMessage")), nil
	}

	replyMsg, err := extractReply(ctx, sender, result)
	if err != nil {
		return a.failure(agentReq, err), nil
	}
	if a.cfg.Monitor != nil {
		a.cfg.Monitor.Publish("done", result)
	}

	return proto.AgentResponse{
		ID:   agentReq.ID,
		URI:  agentReq.URI,
		Call: agentReq.Call,
		Result: proto.AgentResult{
			Message: replyMsg,
		},
	}, nil
}

func (a *Adapter) failure(req proto.AgentRequest, err error) proto.AgentResponse {
	a.log.Warn("agent execute failed", "uri", req.URI, "id", req.ID, "error", err)
	return proto.AgentResponse{
		ID:   req.ID,
		URI:  req.URI,
		Call: req.Call,
		Result: proto.AgentResult{
			Error: err.Error(),
		},
		Err: err,
	}
}

// buildMessage normalizes a proto.AgentCall into an A2A message: a string
// call is wrapped as a text part, and a structured call contributes its
// Content as the text part (its Role is not carried over; the message is
// always sent with the user role). A caller-supplied empty-string content
// is still sent verbatim.
func (a *Adapter) buildMessage(req proto.AgentRequest) *a2a.Message {
	if req.Call.Message != nil {
		return a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: req.Call.Message.Content})
	}
	return a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: req.Call.Text})
}

// correlate implements the "per-parent sticky task" rule (§4.2 step 3):
// the same (parentTaskId, uri) pair always reuses the same child task id,
// and referenceTaskIds always covers every child task known for the
// parent so far.
func (a *Adapter) correlate(msg *a2a.Message, opts proto.Options) {
	if opts.Tasks == nil || opts.ParentTaskID == "" {
		return
	}
	childID, refs := opts.Tasks.ChildTaskID(opts.ParentTaskID, a.cfg.URI, func() string {
		return uuid.NewString()
	})
	msg.TaskID = a2a.TaskID(childID)
	refIDs := make([]a2a.TaskID, 0, len(refs))
	for _, r := range refs {
		refIDs = append(refIDs, a2a.TaskID(r))
	}
	msg.ReferenceTasks = refIDs
}

// extractReply implements §4.2 step 5's successValue extraction from a
// SendMessage result. A direct *a2a.Message reply (no task created) is used
// as-is; a *a2a.Task reply requires fetching the task to get its final
// status/history text. Any other result shape is an AdapterFailure (§7 item
// 4), matching the teacher's own "unable to extract task from SendMessage
// result" fallback for the task-less-but-unexpected case.
func extractReply(ctx context.Context, sender a2aSender, result a2a.SendMessageResult) (*proto.Message, error) {
	switch v := result.(type) {
	case *a2a.Message:
		text := textOf(v)
		m := proto.NewMessage(proto.RoleAssistant, text)
		return &m, nil
	case *a2a.Task:
		taskID := v.TaskInfo().TaskID
		if taskID == "" {
			return nil, fmt.Errorf("agentadapter: task result missing task id")
		}
		task, err := sender.GetTask(ctx, &a2a.TaskQueryParams{ID: taskID})
		if err != nil {
			return nil, err
		}
		return extractReplyMessage(task), nil
	default:
		return nil, fmt.Errorf("agentadapter: unrecognised sendMessage result type %T", result)
	}
}

// extractReplyMessage pulls the final assistant-visible text out of a task,
// preferring its status message, falling back to the last history entry.
func extractReplyMessage(task *a2a.Task) *proto.Message {
	if task == nil {
		return nil
	}
	if task.Status.Message != nil {
		text := textOf(task.Status.Message)
		m := proto.NewMessage(proto.RoleAssistant, text)
		return &m
	}
	if len(task.History) > 0 {
		last := task.History[len(task.History)-1]
		text := textOf(last)
		m := proto.NewMessage(proto.RoleAssistant, text)
		return &m
	}
	return nil
}

func textOf(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range msg.Parts {
		if tp, ok := p.(a2a.TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

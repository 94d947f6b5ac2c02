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

// Package httpprovider is the reference HTTP Provider named in §4.1/§6:
// POST a JSON-serialised ConnectRequest to a configured URL and parse the
// response as a ConnectResponse, either bare or wrapped in a `body`
// envelope. Non-2xx responses fail with a StatusError carrying the status,
// status text, and response body.
package httpprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/artinet-dev/artinet-go/pkg/logging"
	"github.com/artinet-dev/artinet-go/pkg/proto"
)

// StatusError is returned when the provider endpoint responds with a
// non-2xx status (§6 "Provider HTTP contract").
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpprovider: HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// envelope is the "{body: ConnectResponse}" wrapper shape the contract
// allows in place of a bare ConnectResponse.
type envelope struct {
	Body *proto.ConnectResponse `json:"body"`
}

// Provider is a §4.1 Provider implementation backed by one HTTP endpoint.
type Provider struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the underlying *http.Client (e.g. for custom
// timeouts or transports); the default has a 60s timeout, matching the
// teacher's httpclient default.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// New constructs a Provider posting to url.
func New(url string, opts ...Option) *Provider {
	p := &Provider{
		url:    url,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    logging.For("httpprovider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Call implements loop.Provider: it honours ctx cancellation by aborting
// the in-flight request, and MUST NOT be called concurrently with an
// in-flight call for the same *Provider sharing mutable state (it holds
// none, so concurrent calls are safe).
func (p *Provider) Call(ctx context.Context, req proto.ConnectRequest) (proto.ConnectResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return proto.ConnectResponse{}, fmt.Errorf("httpprovider: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return proto.ConnectResponse{}, fmt.Errorf("httpprovider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return proto.ConnectResponse{}, fmt.Errorf("httpprovider: cancelled: %w", ctx.Err())
		}
		return proto.ConnectResponse{}, fmt.Errorf("httpprovider: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return proto.ConnectResponse{}, fmt.Errorf("httpprovider: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Warn("provider request failed", "url", p.url, "status", resp.StatusCode)
		return proto.ConnectResponse{}, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(respBody),
		}
	}
	p.log.Debug("provider request succeeded", "url", p.url, "status", resp.StatusCode)

	var env envelope
	if err := json.Unmarshal(respBody, &env); err == nil && env.Body != nil {
		return *env.Body, nil
	}

	var out proto.ConnectResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return proto.ConnectResponse{}, fmt.Errorf("httpprovider: decode response: %w", err)
	}
	return out, nil
}

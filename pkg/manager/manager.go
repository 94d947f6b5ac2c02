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

// Package manager holds the callable registry (uri -> Agent|Tool) and the
// bounded-concurrency, settle-style fan-out dispatcher that drives it.
package manager

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/artinet-dev/artinet-go/pkg/envcfg"
	"github.com/artinet-dev/artinet-go/pkg/logging"
	"github.com/artinet-dev/artinet-go/pkg/proto"
)

// Manager is the registry of callables keyed by URI, plus the dispatcher.
// Its map mutations are externally serialised by the orchestrator facade's
// add-queue; lookups here are lock-protected but non-blocking.
type Manager struct {
	mu          sync.RWMutex
	callables   map[string]proto.Callable
	concurrency int
	log         *slog.Logger
}

// New constructs a Manager. concurrency is the default dispatch semaphore
// weight (min'd against the request count on each call); pass
// envcfg.Load().Concurrency for the environment-driven default.
func New(concurrency int) *Manager {
	if concurrency <= 0 {
		concurrency = envcfg.DefaultConcurrency
	}
	return &Manager{
		callables:   make(map[string]proto.Callable),
		concurrency: concurrency,
		log:         logging.For("manager"),
	}
}

// Set adds or replaces the callable registered under uri.
func (m *Manager) Set(uri string, c proto.Callable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callables[uri] = c
}

// Get looks up the callable registered under uri.
func (m *Manager) Get(uri string) (proto.Callable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.callables[uri]
	return c, ok
}

// Delete removes the callable registered under uri, if any.
func (m *Manager) Delete(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.callables, uri)
}

// List returns every registered callable, in no particular order.
func (m *Manager) List() []proto.Callable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]proto.Callable, 0, len(m.callables))
	for _, c := range m.callables {
		out = append(out, c)
	}
	return out
}

// Count returns the number of registered callables.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.callables)
}

// URIs returns every registered URI, in no particular order.
func (m *Manager) URIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.callables))
	for uri := range m.callables {
		out = append(out, uri)
	}
	return out
}

// Stop calls Stop() on every registered callable in parallel. Individual
// failures are logged, not returned, so one callable's shutdown error never
// prevents its peers from being stopped.
func (m *Manager) Stop() error {
	callables := m.List()
	var wg sync.WaitGroup
	wg.Add(len(callables))
	for _, c := range callables {
		c := c
		go func() {
			defer wg.Done()
			if err := c.Stop(); err != nil {
				m.log.Warn("callable stop failed", "uri", c.URI(), "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// Call is the fan-out dispatcher (§4.4): it looks up, type-checks, and
// executes every request under a bounded semaphore, settle-style — one
// callable being skipped or failing never prevents its peers from being
// attempted. Once the shared context is cancelled, requests that have not
// started yet are skipped. Order of the returned responses is not
// guaranteed; callers correlate via response id.
func (m *Manager) Call(requests []proto.Request, opts proto.Options) []proto.Response {
	if len(requests) == 0 {
		return nil
	}

	weight := m.concurrency
	if weight > len(requests) {
		weight = len(requests)
	}
	if weight <= 0 {
		weight = 1
	}

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(weight)

	var (
		resultsMu sync.Mutex
		results   = make([]proto.Response, 0, len(requests))
	)

	for _, r := range requests {
		r := r
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return nil
			default:
			}

			resp, err := m.dispatchOne(r, opts)
			if err != nil {
				m.log.Warn("dispatch skipped", "uri", r.TargetURI(), "id", r.RequestID(), "error", err)
				return nil
			}
			if resp == nil {
				return nil
			}

			resultsMu.Lock()
			results = append(results, resp)
			resultsMu.Unlock()
			return nil
		})
	}

	// Every scheduled func returns nil unconditionally, so Wait never
	// observes an error and never cancels egCtx early — one callable
	// failing never aborts its peers (settle-style dispatch).
	_ = eg.Wait()
	return results
}

// dispatchOne resolves and invokes a single request. The returned error is
// only ever UriMismatch/CallableNotFound/RequestTypeMismatch — the taxonomy
// kinds the Manager itself is responsible for logging and skipping.
// AdapterFailure is captured inside resp by the callable, never here.
func (m *Manager) dispatchOne(r proto.Request, opts proto.Options) (proto.Response, error) {
	callable, ok := m.Get(r.TargetURI())
	if !ok {
		return nil, proto.ErrCallableNotFound
	}
	if callable.CallableKind() != r.Kind() {
		return nil, proto.ErrRequestTypeMismatch
	}

	resp, err := callable.Execute(r, opts)
	if err != nil {
		return nil, err
	}
	if opts.Callback != nil {
		opts.Callback(resp)
	}
	return resp, nil
}

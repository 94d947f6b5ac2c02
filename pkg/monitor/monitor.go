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

package monitor

import "sync"

// wiring records the handles a Context was wired with, so Monitor can unwire
// them by identity later (create/set/delete all funnel through wire/unwire).
type wiring struct {
	ctx          *Context
	updateHandle updateHandle
	errorHandle  errorHandle
}

// Subscription identifies one listener registered directly on the Monitor
// (as opposed to relayed from a Context), returned by On/OnError for Off.
type Subscription struct {
	id      uint64
	isError bool
}

// Monitor wraps a mapping id -> Context and exposes a single subscriber
// surface aggregating every context's update/error emissions (§4.5).
type Monitor struct {
	mu       sync.RWMutex
	contexts map[string]*wiring
	nextID   uint64

	updateSubs map[uint64]func(UpdateEvent)
	errorSubs  map[uint64]func(ErrorEvent)
}

// New constructs an empty Monitor.
func New() *Monitor {
	return &Monitor{
		contexts:   make(map[string]*wiring),
		updateSubs: make(map[uint64]func(UpdateEvent)),
		errorSubs:  make(map[uint64]func(ErrorEvent)),
	}
}

// Create constructs a fresh Context, registers it under id, and wires its
// update/error emissions to the Monitor's own subscriber surface, replacing
// (and unwiring) any context previously registered under id.
func (m *Monitor) Create(id string) *Context {
	ctx := NewContext()
	m.Set(id, ctx)
	return ctx
}

// Set registers ctx under id. If id was already present, its listeners are
// unwired first (§4.5 invariant: "On set(id, context): if an id was already
// present, its listeners are first unwired; the new context is wired").
func (m *Monitor) Set(id string, ctx *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.contexts[id]; ok {
		m.unwireLocked(old)
	}
	m.contexts[id] = m.wireLocked(ctx)
}

// Get returns the Context registered under id, if any.
func (m *Monitor) Get(id string) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.contexts[id]
	if !ok {
		return nil, false
	}
	return w.ctx, true
}

// Delete unwires and removes the context registered under id.
func (m *Monitor) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.contexts[id]; ok {
		m.unwireLocked(w)
		delete(m.contexts, id)
	}
}

// wireLocked binds fresh update/error relay handlers onto ctx and returns
// the wiring record; caller holds m.mu.
func (m *Monitor) wireLocked(ctx *Context) *wiring {
	w := &wiring{ctx: ctx}
	w.updateHandle = ctx.onUpdate(func(e UpdateEvent) { m.emitUpdate(e) })
	w.errorHandle = ctx.onError(func(e ErrorEvent) { m.emitError(e) })
	return w
}

// unwireLocked detaches a previously wired context's relay handlers; caller
// holds m.mu.
func (m *Monitor) unwireLocked(w *wiring) {
	w.ctx.offUpdate(w.updateHandle)
	w.ctx.offError(w.errorHandle)
}

func (m *Monitor) emitUpdate(e UpdateEvent) {
	m.mu.RLock()
	subs := make([]func(UpdateEvent), 0, len(m.updateSubs))
	for _, fn := range m.updateSubs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()
	for _, fn := range subs {
		callSafely(func() { fn(e) })
	}
}

func (m *Monitor) emitError(e ErrorEvent) {
	m.mu.RLock()
	subs := make([]func(ErrorEvent), 0, len(m.errorSubs))
	for _, fn := range m.errorSubs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()
	for _, fn := range subs {
		callSafely(func() { fn(e) })
	}
}

// On subscribes fn to every update event aggregated across all contexts.
func (m *Monitor) On(fn func(UpdateEvent)) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.updateSubs[id] = fn
	return Subscription{id: id}
}

// OnError subscribes fn to every error event aggregated across all contexts.
func (m *Monitor) OnError(fn func(ErrorEvent)) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.errorSubs[id] = fn
	return Subscription{id: id, isError: true}
}

// Off removes a subscription previously returned by On/OnError.
func (m *Monitor) Off(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.isError {
		delete(m.errorSubs, sub.id)
	} else {
		delete(m.updateSubs, sub.id)
	}
}

// RemoveAllListeners drops every direct subscription (contexts remain wired
// to the Monitor; only the Monitor's own subscribers are cleared).
func (m *Monitor) RemoveAllListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateSubs = make(map[uint64]func(UpdateEvent))
	m.errorSubs = make(map[uint64]func(ErrorEvent))
}

// ListenerCount returns the number of direct subscribers across both event
// kinds.
func (m *Monitor) ListenerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.updateSubs) + len(m.errorSubs)
}

// EventNames returns the event kinds this Monitor supports.
func (m *Monitor) EventNames() []string {
	return []string{"update", "error"}
}

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

// Package monitor implements the event bus (§4.5): a Monitor aggregates
// per-context update/error emissions from many Agent/Tool adapters onto a
// single subscriber surface.
package monitor

import "sync"

// UpdateEvent is the "update" event payload. State is a generic progress
// envelope (an A2A task snapshot, a normalized tool/agent response, or a
// status string); Update is the underlying domain update, or nil.
type UpdateEvent struct {
	State  any
	Update any
}

// ErrorEvent is the "error" event payload.
type ErrorEvent struct {
	Err   error
	State any
}

// updateHandle/errorHandle are the "stable bound handler" values a Context
// wires and unwires by identity. Using a pointer-identity type here (rather
// than re-creating a closure at unwire time) is what makes Off actually
// remove the listener the source's naive rebind would leave dangling
// (design notes).
type updateHandle = *func(UpdateEvent)
type errorHandle = *func(ErrorEvent)

// Context is one publisher a Monitor relays events from — one per Agent or
// Tool adapter instance, or per in-flight execution, depending on the
// caller's granularity.
type Context struct {
	mu             sync.RWMutex
	updateHandlers map[updateHandle]struct{}
	errorHandlers  map[errorHandle]struct{}
}

// NewContext constructs an empty Context.
func NewContext() *Context {
	return &Context{
		updateHandlers: make(map[updateHandle]struct{}),
		errorHandlers:  make(map[errorHandle]struct{}),
	}
}

// onUpdate registers fn as an update listener and returns its stable handle.
func (c *Context) onUpdate(fn func(UpdateEvent)) updateHandle {
	h := &fn
	c.mu.Lock()
	c.updateHandlers[h] = struct{}{}
	c.mu.Unlock()
	return h
}

// offUpdate removes a previously registered update handle.
func (c *Context) offUpdate(h updateHandle) {
	c.mu.Lock()
	delete(c.updateHandlers, h)
	c.mu.Unlock()
}

// onError registers fn as an error listener and returns its stable handle.
func (c *Context) onError(fn func(ErrorEvent)) errorHandle {
	h := &fn
	c.mu.Lock()
	c.errorHandlers[h] = struct{}{}
	c.mu.Unlock()
	return h
}

// offError removes a previously registered error handle.
func (c *Context) offError(h errorHandle) {
	c.mu.Lock()
	delete(c.errorHandlers, h)
	c.mu.Unlock()
}

// Publish emits an update to every registered listener. Emission is
// synchronous best-effort: a panicking subscriber is recovered so it cannot
// block or take down its peers.
func (c *Context) Publish(state, update any) {
	c.mu.RLock()
	handlers := make([]updateHandle, 0, len(c.updateHandlers))
	for h := range c.updateHandlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	event := UpdateEvent{State: state, Update: update}
	for _, h := range handlers {
		callSafely(func() { (*h)(event) })
	}
}

// Fail emits an error to every registered listener.
func (c *Context) Fail(err error, state any) {
	c.mu.RLock()
	handlers := make([]errorHandle, 0, len(c.errorHandlers))
	for h := range c.errorHandlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	event := ErrorEvent{Err: err, State: state}
	for _, h := range handlers {
		callSafely(func() { (*h)(event) })
	}
}

func callSafely(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

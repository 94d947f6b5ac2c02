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

// Package normalize implements §4.7: accepting the orchestrator facade's
// flexible connect() input shapes, and extracting the final text out of a
// ConnectResponse.
package normalize

import (
	"errors"
	"fmt"

	"github.com/artinet-dev/artinet-go/pkg/proto"
)

// ErrNoContent is returned when a ConnectResponse's final message carries no
// extractable text (§4.7, §7 "No content found in response").
var ErrNoContent = errors.New("normalize: no content found in response")

// ErrInvalidInput is returned when connect()'s input argument is none of the
// four recognised shapes.
var ErrInvalidInput = errors.New("normalize: unrecognised connect() input shape")

// Input builds the Messages portion of a ConnectRequest from one of the
// four shapes connect() accepts: a raw string, a single Message, a Session
// (ordered Message slice), or a full ConnectRequest (options overlaid
// separately by the caller).
//
// Go's static typing means the "any other shape is an input error" case
// from §4.7 can only be reached by an explicit unsupported type passed
// through an any-typed entry point (e.g. the orchestrator facade); direct
// callers of Input from Go code select the right constructor via the type
// system instead.
func Input(input any) ([]proto.Message, error) {
	switch v := input.(type) {
	case string:
		msg, ok := proto.NewUserMessage(v)
		if !ok {
			return nil, nil
		}
		return []proto.Message{msg}, nil
	case proto.Message:
		return []proto.Message{v}, nil
	case proto.Session:
		return []proto.Message(v.Clone()), nil
	case []proto.Message:
		return proto.Session(v).Clone(), nil
	case proto.ConnectRequest:
		return append([]proto.Message(nil), v.Messages...), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidInput, input)
	}
}

// FinalText extracts the assistant's final text out of a ConnectResponse,
// per §4.7: a plain string content, or an error if none is present. The Go
// data model always represents Message.Content as a string (there is no
// "object with a text field" variant to distinguish, since that shape
// exists in the source only to account for a dynamically-typed content
// field); FinalText's error path covers empty content only (whitespace-only
// content is returned as is) and is exercised by the max-iterations and
// empty-response boundary cases in §8.
func FinalText(resp proto.ConnectResponse) (string, error) {
	if resp.Message.Content == "" {
		return "", ErrNoContent
	}
	return resp.Message.Content, nil
}

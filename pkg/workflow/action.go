// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

// ActionKind identifies what an executor wants done with a payload.
type ActionKind int

const (
	// ActionForward routes the payload along the executor's outgoing edges.
	ActionForward ActionKind = iota

	// ActionYield appends the payload to the run's output collection.
	// Yielded payloads do not propagate further.
	ActionYield
)

// String returns the action kind name.
func (k ActionKind) String() string {
	switch k {
	case ActionForward:
		return "forward"
	case ActionYield:
		return "yield"
	default:
		return "unknown"
	}
}

// Action is the result of processing a payload: either forward it to
// downstream executors or yield it as final run output. Construct actions
// with Forward and Yield; the zero value is not a valid action.
type Action struct {
	kind    ActionKind
	payload any
}

// Forward creates an action that routes payload along outgoing edges.
func Forward(payload any) Action {
	return Action{kind: ActionForward, payload: payload}
}

// Yield creates an action that emits payload as final run output.
func Yield(payload any) Action {
	return Action{kind: ActionYield, payload: payload}
}

// Kind returns the action kind.
func (a Action) Kind() ActionKind { return a.kind }

// Payload returns the payload carried by the action.
func (a Action) Payload() any { return a.payload }

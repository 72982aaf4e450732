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

// Event is a run-progress notification yielded by RunStream. Consumers
// type-switch on the concrete event types below.
type Event interface {
	event()
}

// ExecutorInvoked is emitted when a payload is dequeued and handed to an
// executor.
type ExecutorInvoked struct {
	ExecutorID string
}

// ExecutorCompleted is emitted after an executor's actions have been
// applied (payloads routed, outputs collected).
type ExecutorCompleted struct {
	ExecutorID string
}

// OutputYielded is emitted for every Yield action, in yield order.
type OutputYielded struct {
	ExecutorID string
	Value      any
}

// RunCompleted is the final event of a successful run.
type RunCompleted struct {
	Outputs int
}

func (ExecutorInvoked) event()   {}
func (ExecutorCompleted) event() {}
func (OutputYielded) event()     {}
func (RunCompleted) event()      {}

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

import (
	"errors"
	"fmt"
)

// Build-time configuration errors. All are surfaced by Builder.Build,
// wrapped with the offending identifiers; match them with errors.Is.
var (
	// ErrDuplicateExecutor reports an executor id registered twice.
	ErrDuplicateExecutor = errors.New("duplicate executor")

	// ErrUnknownExecutor reports an edge referencing an unregistered id.
	ErrUnknownExecutor = errors.New("unknown executor")

	// ErrUnknownStart reports a start id that is not registered.
	ErrUnknownStart = errors.New("unknown start executor")

	// ErrEmptyCases reports a switch group with no cases and no default.
	ErrEmptyCases = errors.New("switch group has no cases and no default")
)

// Run-time errors.
var (
	// ErrDeadEnd reports a forwarded payload with no outgoing route.
	// Forwarding into nowhere is a configuration bug, never swallowed.
	ErrDeadEnd = errors.New("forwarded payload has no outgoing route")

	// ErrInputType reports a payload that violates an executor's
	// declared input contract.
	ErrInputType = errors.New("payload does not match executor input type")
)

// ExecutionError wraps an error returned by an executor's Process call.
// The run aborts immediately; no partial outputs are returned.
type ExecutionError struct {
	ExecutorID string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("executor %q: %v", e.ExecutorID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

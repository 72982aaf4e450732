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
	"context"
	"fmt"
)

// Executor is a named unit of work in a workflow graph.
//
// Process receives the payload routed to this executor and returns the
// actions to take: zero or more Forward actions (route a possibly
// transformed payload downstream) and zero or more Yield actions (emit a
// final output for the run). Implementations must not retain or mutate
// the graph; any state they close over is shared across runs and must be
// synchronized by the caller if runs execute concurrently.
type Executor interface {
	// ID returns the executor's identifier, unique within a graph.
	ID() string

	// Process handles one payload. Returning an error aborts the run.
	Process(ctx context.Context, msg any) ([]Action, error)
}

// ProcessFunc is the signature of a free-function executor.
type ProcessFunc func(ctx context.Context, msg any) ([]Action, error)

// funcExecutor adapts a ProcessFunc to the Executor interface.
type funcExecutor struct {
	id string
	fn ProcessFunc
}

// NewExecutor wraps a function as an Executor. Use it when a full struct
// implementation is more ceremony than the stage warrants.
//
// Example:
//
//	alert := workflow.NewExecutor("alert", func(ctx context.Context, msg any) ([]workflow.Action, error) {
//	    state := msg.(*PipelineState)
//	    return []workflow.Action{workflow.Yield(state)}, nil
//	})
func NewExecutor(id string, fn ProcessFunc) Executor {
	return &funcExecutor{id: id, fn: fn}
}

func (e *funcExecutor) ID() string { return e.id }

func (e *funcExecutor) Process(ctx context.Context, msg any) ([]Action, error) {
	return e.fn(ctx, msg)
}

// Typed wraps a function taking a concrete input type as an Executor.
// The executor's input contract is enforced at run time: receiving a
// payload that is not assignable to In fails the run with ErrInputType.
func Typed[In any](id string, fn func(ctx context.Context, in In) ([]Action, error)) Executor {
	return NewExecutor(id, func(ctx context.Context, msg any) ([]Action, error) {
		in, ok := msg.(In)
		if !ok {
			return nil, fmt.Errorf("%w: got %T, want %T", ErrInputType, msg, in)
		}
		return fn(ctx, in)
	})
}

// Terminal wraps a function as a yield-only executor: whatever it returns
// becomes final run output, and by construction it can never forward.
// Use it for the leaf stages of a graph.
func Terminal[In any](id string, fn func(ctx context.Context, in In) (any, error)) Executor {
	return Typed[In](id, func(ctx context.Context, in In) ([]Action, error) {
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return []Action{Yield(out)}, nil
	})
}

var _ Executor = (*funcExecutor)(nil)

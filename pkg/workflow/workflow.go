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

// Package workflow provides a typed workflow graph engine: executors
// connected by direct and conditional edges, run by a FIFO dispatch loop
// that collects every yielded output.
//
// A graph is declared through a Builder, frozen by Build, and then run any
// number of times. Each run owns its own frontier and output collection;
// the graph itself is immutable and safely shared by concurrent runs.
//
// # Usage
//
//	tests := workflow.Typed("run_tests", runTests)
//	notify := workflow.Terminal("notify", notifyTeam)
//	build := workflow.Typed("build", buildImage)
//
//	b := workflow.NewBuilder()
//	b.AddExecutor(tests)
//	b.AddExecutor(notify)
//	b.AddExecutor(build)
//	b.AddSwitch(tests.ID(), []workflow.Case{
//	    {When: passed, To: build.ID(), Label: "tests passed"},
//	}, notify.ID())
//	graph, err := b.Build(tests.ID())
//	if err != nil {
//	    return err
//	}
//	result, err := graph.Run(ctx, &PipelineState{Branch: "main"})
//	if err != nil {
//	    return err
//	}
//	for _, out := range result.Outputs() {
//	    fmt.Println(out)
//	}
package workflow

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
)

// Graph is an immutable workflow: executors keyed by id, ordered routing
// rules per source, and a designated start executor. Build one with
// Builder.Build.
type Graph struct {
	executors map[string]Executor
	order     []string
	routes    map[string][]route
	start     string
}

// StartID returns the id of the start executor.
func (g *Graph) StartID() string { return g.start }

// ExecutorIDs returns every registered executor id in registration order.
func (g *Graph) ExecutorIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// RunResult holds the outcome of a completed run.
type RunResult struct {
	runID   string
	outputs []any
}

// RunID identifies the run, for correlating logs.
func (r *RunResult) RunID() string { return r.runID }

// Outputs returns every yielded payload in yield order. The slice is
// owned by the result; callers must not mutate it.
func (r *RunResult) Outputs() []any { return r.outputs }

// pending is one frontier entry: a payload waiting for an executor.
type pending struct {
	id  string
	msg any
}

// Run executes the graph against input and returns the collected outputs.
//
// Output collection is all-or-nothing: when any executor fails, Run
// returns the error (an *ExecutionError, or ErrDeadEnd for a forward with
// no route) and no outputs, including ones yielded before the failure.
// Cancellation of ctx is observed at every dequeue boundary.
func (g *Graph) Run(ctx context.Context, input any) (*RunResult, error) {
	result := &RunResult{runID: uuid.NewString()}
	for ev, err := range g.RunStream(ctx, input) {
		if err != nil {
			return nil, err
		}
		if out, ok := ev.(OutputYielded); ok {
			result.outputs = append(result.outputs, out.Value)
		}
	}
	return result, nil
}

// RunStream executes the graph against input, yielding progress events as
// the run advances. The stream terminates with RunCompleted on success or
// with a non-nil error; events observed before an error must be treated
// as provisional (Run discards them).
//
// Dispatch order is deterministic: the frontier is a strict FIFO queue,
// and every Forward action resolves the source's routes in declaration
// order, so simultaneous enqueues always land in the same order.
func (g *Graph) RunStream(ctx context.Context, input any) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		frontier := []pending{{id: g.start, msg: input}}
		outputs := 0

		for len(frontier) > 0 {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			item := frontier[0]
			frontier = frontier[1:]
			exec := g.executors[item.id]

			if !yield(ExecutorInvoked{ExecutorID: item.id}, nil) {
				return
			}
			slog.Debug("Dispatching executor", "executor", item.id)

			actions, err := exec.Process(ctx, item.msg)
			if err != nil {
				yield(nil, &ExecutionError{ExecutorID: item.id, Err: err})
				return
			}

			for _, action := range actions {
				switch action.Kind() {
				case ActionForward:
					next, err := g.resolveForward(item.id, action.Payload())
					if err != nil {
						yield(nil, err)
						return
					}
					frontier = append(frontier, next...)
				case ActionYield:
					outputs++
					if !yield(OutputYielded{ExecutorID: item.id, Value: action.Payload()}, nil) {
						return
					}
				}
			}

			if !yield(ExecutorCompleted{ExecutorID: item.id}, nil) {
				return
			}
		}

		slog.Debug("Run completed", "outputs", outputs)
		yield(RunCompleted{Outputs: outputs}, nil)
	}
}

// resolveForward applies every route registered on from to msg, in
// declaration order. A forward that selects no target at all is a dead
// end: the configuration promised routing it cannot deliver.
func (g *Graph) resolveForward(from string, msg any) ([]pending, error) {
	routes := g.routes[from]
	var next []pending
	for _, r := range routes {
		if to, ok := r.resolve(msg); ok {
			next = append(next, pending{id: to, msg: msg})
		}
	}
	if len(next) == 0 {
		return nil, fmt.Errorf("executor %q: %w", from, ErrDeadEnd)
	}
	return next, nil
}

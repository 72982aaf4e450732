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
	"fmt"
	"maps"
	"slices"
)

// Builder accumulates executors and edges into an immutable Graph.
//
// Add methods chain and record the first configuration error; Build
// surfaces it. A builder may build more than once: each Build returns an
// independent graph with the same topology.
//
// Example:
//
//	b := workflow.NewBuilder()
//	b.AddChain(build, staging, promote, alert)
//	b.AddExecutor(notify)
//	b.AddExecutor(tests)
//	b.AddSwitch(tests.ID(), []workflow.Case{
//	    {When: passed, To: build.ID(), Label: "tests passed"},
//	}, notify.ID())
//	graph, err := b.Build(tests.ID())
type Builder struct {
	executors map[string]Executor
	order     []string
	routes    map[string][]route
	err       error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		executors: make(map[string]Executor),
		routes:    make(map[string][]route),
	}
}

// AddExecutor registers an executor. Registering an id twice records
// ErrDuplicateExecutor.
func (b *Builder) AddExecutor(e Executor) *Builder {
	if b.err != nil {
		return b
	}
	if e == nil {
		b.err = fmt.Errorf("nil executor")
		return b
	}
	b.register(e)
	return b
}

// AddEdge registers a direct edge from one executor to another. Both ids
// must already be registered.
func (b *Builder) AddEdge(from, to string) *Builder {
	if b.err != nil {
		return b
	}
	if err := b.require(from, to); err != nil {
		b.err = err
		return b
	}
	b.routes[from] = append(b.routes[from], directEdge{from: from, to: to})
	return b
}

// AddSwitch registers a conditional switch group on from: cases are
// evaluated in order against each forwarded payload, the first match
// selects its target, and defaultTo (when non-empty) catches the rest.
// Exactly one target is ever selected per group per payload.
func (b *Builder) AddSwitch(from string, cases []Case, defaultTo string) *Builder {
	if b.err != nil {
		return b
	}
	if len(cases) == 0 && defaultTo == "" {
		b.err = fmt.Errorf("switch from %q: %w", from, ErrEmptyCases)
		return b
	}
	ids := []string{from}
	for _, c := range cases {
		ids = append(ids, c.To)
	}
	if defaultTo != "" {
		ids = append(ids, defaultTo)
	}
	if err := b.require(ids...); err != nil {
		b.err = err
		return b
	}
	for i, c := range cases {
		if c.When == nil {
			b.err = fmt.Errorf("switch from %q: case %d has nil predicate", from, i)
			return b
		}
	}
	b.routes[from] = append(b.routes[from], switchGroup{
		from:      from,
		cases:     slices.Clone(cases),
		defaultTo: defaultTo,
	})
	return b
}

// AddChain registers the given executors (when not already present) and
// connects them with direct edges e1→e2→…→en.
func (b *Builder) AddChain(execs ...Executor) *Builder {
	if b.err != nil {
		return b
	}
	for _, e := range execs {
		if e == nil {
			b.err = fmt.Errorf("nil executor in chain")
			return b
		}
		if existing, ok := b.executors[e.ID()]; ok {
			if existing != e {
				b.err = fmt.Errorf("executor %q: %w", e.ID(), ErrDuplicateExecutor)
				return b
			}
			continue
		}
		b.register(e)
	}
	if b.err != nil {
		return b
	}
	for i := 0; i+1 < len(execs); i++ {
		b.AddEdge(execs[i].ID(), execs[i+1].ID())
	}
	return b
}

// Build validates the accumulated configuration and returns an immutable
// Graph rooted at startID. The graph is safe for concurrent runs.
func (b *Builder) Build(startID string) (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if _, ok := b.executors[startID]; !ok {
		return nil, fmt.Errorf("start %q: %w", startID, ErrUnknownStart)
	}
	for from, routes := range b.routes {
		for _, r := range routes {
			for _, id := range routeTargets(r) {
				if _, ok := b.executors[id]; !ok {
					return nil, fmt.Errorf("edge %s→%s: %w", from, id, ErrUnknownExecutor)
				}
			}
		}
	}

	g := &Graph{
		executors: maps.Clone(b.executors),
		order:     slices.Clone(b.order),
		routes:    make(map[string][]route, len(b.routes)),
		start:     startID,
	}
	for from, routes := range b.routes {
		g.routes[from] = slices.Clone(routes)
	}
	return g, nil
}

func (b *Builder) register(e Executor) {
	if _, ok := b.executors[e.ID()]; ok {
		b.err = fmt.Errorf("executor %q: %w", e.ID(), ErrDuplicateExecutor)
		return
	}
	b.executors[e.ID()] = e
	b.order = append(b.order, e.ID())
}

func (b *Builder) require(ids ...string) error {
	for _, id := range ids {
		if _, ok := b.executors[id]; !ok {
			return fmt.Errorf("executor %q: %w", id, ErrUnknownExecutor)
		}
	}
	return nil
}

// routeTargets lists every target an edge or group can select.
func routeTargets(r route) []string {
	switch r := r.(type) {
	case directEdge:
		return []string{r.to}
	case switchGroup:
		ids := make([]string, 0, len(r.cases)+1)
		for _, c := range r.cases {
			ids = append(ids, c.To)
		}
		if r.defaultTo != "" {
			ids = append(ids, r.defaultTo)
		}
		return ids
	default:
		return nil
	}
}

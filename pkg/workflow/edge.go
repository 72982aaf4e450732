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

// Predicate evaluates a forwarded payload to decide whether a switch case
// applies. Predicates should be pure: deterministic and free of side
// effects, since the engine may evaluate several per forwarded payload.
type Predicate func(msg any) bool

// When adapts a typed predicate function. Payloads that are not assignable
// to T never match.
func When[T any](fn func(T) bool) Predicate {
	return func(msg any) bool {
		v, ok := msg.(T)
		if !ok {
			return false
		}
		return fn(v)
	}
}

// Case is one predicate→target route inside a switch group. Label is used
// by the visualization exporters; when empty a positional label is
// generated.
type Case struct {
	When  Predicate
	To    string
	Label string
}

// route is one outgoing routing rule of an executor. Exactly one target
// is selected per forwarded payload, or none when a switch group without
// a default matches no case.
type route interface {
	// resolve returns the target selected for msg.
	resolve(msg any) (to string, ok bool)
}

// directEdge always routes to its target.
type directEdge struct {
	from string
	to   string
}

func (e directEdge) resolve(any) (string, bool) { return e.to, true }

// switchGroup evaluates its cases in declared order and routes to the
// first match, falling back to the default target when none matches.
type switchGroup struct {
	from      string
	cases     []Case
	defaultTo string
}

func (g switchGroup) resolve(msg any) (string, bool) {
	for _, c := range g.cases {
		if c.When(msg) {
			return c.To, true
		}
	}
	if g.defaultTo != "" {
		return g.defaultTo, true
	}
	return "", false
}

var (
	_ route = directEdge{}
	_ route = switchGroup{}
)

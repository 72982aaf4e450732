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
	"strings"
)

// Mermaid renders the static structure of a graph as a Mermaid flowchart:
// one node per executor, one arrow per direct edge, one labelled arrow per
// switch case plus one for the default. It reads the graph only; no
// executor logic runs.
func Mermaid(g *Graph) string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")
	for _, id := range g.order {
		fmt.Fprintf(&sb, "\t%s[\"%s\"]\n", id, mermaidLabel(id))
	}
	for _, id := range g.order {
		for _, r := range g.routes[id] {
			switch r := r.(type) {
			case directEdge:
				fmt.Fprintf(&sb, "\t%s --> %s\n", r.from, r.to)
			case switchGroup:
				for i, c := range r.cases {
					fmt.Fprintf(&sb, "\t%s -->|%s| %s\n", r.from, mermaidLabel(caseLabel(c, i)), c.To)
				}
				if r.defaultTo != "" {
					fmt.Fprintf(&sb, "\t%s -->|default| %s\n", r.from, r.defaultTo)
				}
			}
		}
	}
	return sb.String()
}

// DOT renders the graph in Graphviz dot syntax, with the same node and
// edge structure as Mermaid.
func DOT(g *Graph) string {
	var sb strings.Builder
	sb.WriteString("digraph workflow {\n\trankdir=TB;\n")
	for _, id := range g.order {
		fmt.Fprintf(&sb, "\t%q;\n", id)
	}
	for _, id := range g.order {
		for _, r := range g.routes[id] {
			switch r := r.(type) {
			case directEdge:
				fmt.Fprintf(&sb, "\t%q -> %q;\n", r.from, r.to)
			case switchGroup:
				for i, c := range r.cases {
					fmt.Fprintf(&sb, "\t%q -> %q [label=%q];\n", r.from, c.To, caseLabel(c, i))
				}
				if r.defaultTo != "" {
					fmt.Fprintf(&sb, "\t%q -> %q [label=\"default\"];\n", r.from, r.defaultTo)
				}
			}
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func caseLabel(c Case, i int) string {
	if c.Label != "" {
		return c.Label
	}
	return fmt.Sprintf("case %d", i+1)
}

// mermaidLabel strips characters that break mermaid edge label syntax.
func mermaidLabel(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, `"`, "'")
	return s
}

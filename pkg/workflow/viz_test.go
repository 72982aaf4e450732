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

package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/loom/pkg/workflow"
)

func vizGraph(t *testing.T) *workflow.Graph {
	t.Helper()
	b := workflow.NewBuilder()
	b.AddExecutor(passthrough("gate"))
	b.AddExecutor(sink("pass"))
	b.AddExecutor(sink("fail"))
	b.AddExecutor(sink("audit"))
	b.AddSwitch("gate", []workflow.Case{
		{When: workflow.When(func(b bool) bool { return b }), To: "pass", Label: "approved"},
		{When: workflow.When(func(b bool) bool { return !b }), To: "fail"},
	}, "audit")
	b.AddEdge("gate", "audit")
	g, err := b.Build("gate")
	require.NoError(t, err)
	return g
}

func TestMermaid(t *testing.T) {
	got := workflow.Mermaid(vizGraph(t))

	want := "flowchart TD\n" +
		"\tgate[\"gate\"]\n" +
		"\tpass[\"pass\"]\n" +
		"\tfail[\"fail\"]\n" +
		"\taudit[\"audit\"]\n" +
		"\tgate -->|approved| pass\n" +
		"\tgate -->|case 2| fail\n" +
		"\tgate -->|default| audit\n" +
		"\tgate --> audit\n"
	assert.Equal(t, want, got)
}

func TestDOT(t *testing.T) {
	got := workflow.DOT(vizGraph(t))

	assert.Contains(t, got, "digraph workflow {")
	assert.Contains(t, got, "\"gate\" -> \"pass\" [label=\"approved\"];")
	assert.Contains(t, got, "\"gate\" -> \"fail\" [label=\"case 2\"];")
	assert.Contains(t, got, "\"gate\" -> \"audit\" [label=\"default\"];")
	assert.Contains(t, got, "\"gate\" -> \"audit\";")
}

func TestViz_DoesNotRunExecutors(t *testing.T) {
	ran := false
	b := workflow.NewBuilder()
	b.AddExecutor(workflow.NewExecutor("spy", func(ctx context.Context, msg any) ([]workflow.Action, error) {
		ran = true
		return []workflow.Action{workflow.Yield(msg)}, nil
	}))
	g, err := b.Build("spy")
	require.NoError(t, err)

	workflow.Mermaid(g)
	workflow.DOT(g)
	assert.False(t, ran)
}

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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/loom/pkg/workflow"
)

// pipelineState is the payload threaded through the CI/CD demo graph.
type pipelineState struct {
	CommitSHA   string
	Branch      string
	TestsPassed bool
	BuildTag    string
	DeployedTo  string
	Events      []string
}

// stage builds a forwarding executor that mutates the shared state.
func stage(id string, fn func(s *pipelineState)) workflow.Executor {
	return workflow.Typed(id, func(ctx context.Context, s *pipelineState) ([]workflow.Action, error) {
		fn(s)
		return []workflow.Action{workflow.Forward(s)}, nil
	})
}

// terminalStage builds a yield-only executor that mutates the shared state.
func terminalStage(id string, fn func(s *pipelineState)) workflow.Executor {
	return workflow.Terminal(id, func(ctx context.Context, s *pipelineState) (any, error) {
		fn(s)
		return s, nil
	})
}

func buildPipeline(t *testing.T) *workflow.Graph {
	t.Helper()

	runTests := stage("run_unit_tests", func(s *pipelineState) {
		s.TestsPassed = s.Branch != "bugfix"
		status := "failed"
		if s.TestsPassed {
			status = "passed"
		}
		s.Events = append(s.Events, fmt.Sprintf("Unit tests %s for %s", status, s.CommitSHA))
	})
	notify := terminalStage("notify_dev_team", func(s *pipelineState) {
		s.Events = append(s.Events, fmt.Sprintf("ALERT: Dev team notified, tests failed on %s/%s", s.Branch, s.CommitSHA))
	})
	build := stage("build_docker_image", func(s *pipelineState) {
		s.BuildTag = "app:" + s.CommitSHA[:7]
		s.Events = append(s.Events, "Docker image built: "+s.BuildTag)
	})
	staging := stage("deploy_to_staging", func(s *pipelineState) {
		s.DeployedTo = "staging"
		s.Events = append(s.Events, fmt.Sprintf("Deployed %s to staging, smoke test passed", s.BuildTag))
	})
	promote := stage("promote_to_production", func(s *pipelineState) {
		s.DeployedTo = "production"
		s.Events = append(s.Events, fmt.Sprintf("Promoted %s to production", s.BuildTag))
	})
	alert := terminalStage("deployment_success_alert", func(s *pipelineState) {
		s.Events = append(s.Events, fmt.Sprintf("EVENT: Deployment success, %s is live in production!", s.BuildTag))
	})

	b := workflow.NewBuilder()
	b.AddExecutor(runTests)
	b.AddExecutor(notify)
	b.AddChain(build, staging, promote, alert)
	b.AddSwitch(runTests.ID(), []workflow.Case{
		{When: workflow.When(func(s *pipelineState) bool { return s.TestsPassed }), To: build.ID(), Label: "tests passed"},
	}, notify.ID())

	g, err := b.Build(runTests.ID())
	require.NoError(t, err)
	return g
}

func TestPipeline_MainBranchDeploysToProduction(t *testing.T) {
	g := buildPipeline(t)

	result, err := g.Run(context.Background(), &pipelineState{CommitSHA: "a1b2c3d", Branch: "main"})
	require.NoError(t, err)
	require.Len(t, result.Outputs(), 1)

	final, ok := result.Outputs()[0].(*pipelineState)
	require.True(t, ok)
	assert.True(t, final.TestsPassed)
	assert.Equal(t, "production", final.DeployedTo)
	assert.Equal(t, "app:a1b2c3d", final.BuildTag)
	assert.Contains(t, final.Events, "Promoted app:a1b2c3d to production")
}

func TestPipeline_BugfixBranchNotifiesAndStops(t *testing.T) {
	g := buildPipeline(t)

	result, err := g.Run(context.Background(), &pipelineState{CommitSHA: "a1b2c3d", Branch: "bugfix"})
	require.NoError(t, err)
	require.Len(t, result.Outputs(), 1)

	final, ok := result.Outputs()[0].(*pipelineState)
	require.True(t, ok)
	assert.False(t, final.TestsPassed)
	assert.Empty(t, final.DeployedTo)
	assert.Empty(t, final.BuildTag)

	var notified bool
	for _, e := range final.Events {
		if strings.Contains(e, "Dev team notified") {
			notified = true
		}
	}
	assert.True(t, notified, "expected a dev-team notification event, got %v", final.Events)
}

func TestPipeline_StageOrder(t *testing.T) {
	g := buildPipeline(t)

	order := invocationOrder(t, g, &pipelineState{CommitSHA: "a1b2c3d", Branch: "main"})
	assert.Equal(t, []string{
		"run_unit_tests",
		"build_docker_image",
		"deploy_to_staging",
		"promote_to_production",
		"deployment_success_alert",
	}, order)
}

// Package loom provides a typed workflow graph engine and agent runtime
// for building AI-agent applications in Go.
//
// Loom has two halves. The workflow half lets you declare a directed graph
// of processing stages (executors), connect them with direct or conditional
// edges, and run a payload through the graph collecting every yielded
// output. The agent half provides model providers, function tools, session
// management, pluggable context providers, and HTTP hosting for serving
// agents behind a REST API.
//
// # Quick Start
//
// Build and run a workflow:
//
//	builder := workflow.NewBuilder()
//	builder.AddChain(tests, build, deploy)
//	builder.AddSwitch(tests.ID(), []workflow.Case{
//	    {When: passed, To: build.ID(), Label: "tests passed"},
//	}, notify.ID())
//	graph, err := builder.Build(tests.ID())
//	if err != nil {
//	    return err
//	}
//	result, err := graph.Run(ctx, initialState)
//
// Create and run an agent:
//
//	assistant, err := agent.New(agent.Config{
//	    Name:         "assistant",
//	    Model:        model,
//	    Instructions: "You are a helpful assistant.",
//	    Tools:        []tool.CallableTool{weatherTool},
//	})
//
// # Packages
//
//	import (
//	    "github.com/kadirpekel/loom/pkg/workflow"
//	    "github.com/kadirpekel/loom/pkg/agent"
//	    "github.com/kadirpekel/loom/pkg/session"
//	    "github.com/kadirpekel/loom/pkg/tool/functiontool"
//	)
//
// The examples directory mirrors a full tutorial sequence, from a single
// completion call up to a hosted agent application.
package loom

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

// Package agent implements the model-driven runtime loop.
//
// An Agent owns a model, a set of callable tools, and optional memory
// providers. Run executes one conversational turn: memory providers
// contribute instruction blocks, the model is called with the session's
// turn handle, requested tool calls are dispatched and their results fed
// back until the model produces text, and the exchange is recorded on the
// session.
//
// Providers that keep conversation state server-side are chained through
// PreviousResponseID; providers that return no response ID get the full
// session history replayed instead. The agent picks the strategy per turn
// from what the session and the provider report, so both kinds work behind
// the same Run call.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/loom/pkg/memory"
	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/observability"
	"github.com/kadirpekel/loom/pkg/session"
	"github.com/kadirpekel/loom/pkg/tool"
)

// DefaultMaxToolIterations bounds the tool-dispatch loop within one turn.
const DefaultMaxToolIterations = 5

// Config configures an Agent.
type Config struct {
	// Name identifies the agent. Required.
	Name string

	// Description explains what the agent does, for agent cards and
	// directory listings.
	Description string

	// Model produces completions. Required.
	Model model.LLM

	// Instructions is the base system prompt. Memory providers may append
	// further blocks per turn.
	Instructions string

	// Tools the agent can dispatch to.
	Tools []tool.CallableTool

	// Providers contribute context before each turn and observe the turn
	// afterwards, in order.
	Providers []memory.Provider

	// Sessions persists events and the turn handle. Nil disables
	// persistence; every Run then stands alone.
	Sessions session.Service

	// MaxToolIterations caps tool-dispatch rounds per turn.
	// Default: DefaultMaxToolIterations.
	MaxToolIterations int

	// GenerateConfig tunes generation. Nil uses provider defaults.
	GenerateConfig *model.GenerateConfig

	// Metrics records run, model and tool measurements. Nil disables.
	Metrics observability.Metrics
}

// Agent executes conversational turns against a model.
type Agent struct {
	name              string
	description       string
	instructions      string
	llm               model.LLM
	tools             []tool.CallableTool
	toolsByName       map[string]tool.CallableTool
	definitions       []tool.Definition
	providers         []memory.Provider
	sessions          session.Service
	maxToolIterations int
	generateConfig    *model.GenerateConfig
	metrics           observability.Metrics
	tracer            trace.Tracer
}

// New validates the config and builds an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}

	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxToolIterations
	}

	return &Agent{
		name:              cfg.Name,
		description:       cfg.Description,
		instructions:      cfg.Instructions,
		llm:               cfg.Model,
		tools:             cfg.Tools,
		toolsByName:       tool.ByName(cfg.Tools),
		definitions:       tool.Definitions(cfg.Tools),
		providers:         cfg.Providers,
		sessions:          cfg.Sessions,
		maxToolIterations: maxIter,
		generateConfig:    cfg.GenerateConfig,
		metrics:           cfg.Metrics,
		tracer:            observability.GetTracer("loom/agent"),
	}, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// Model returns the underlying model provider.
func (a *Agent) Model() model.LLM { return a.llm }

// RunResult is the outcome of one conversational turn.
type RunResult struct {
	// OutputText is the model's final text for the turn.
	OutputText string

	// Items are the assistant-side items of the turn, in order: function
	// calls, their outputs, and the final message.
	Items []model.Item

	// ResponseID is the turn handle, empty for stateless providers.
	ResponseID string

	// Usage aggregates token counts across the turn's model calls.
	Usage model.Usage
}

// Run executes one turn: input in, final text out.
// sess may be nil for one-shot runs without history.
func (a *Agent) Run(ctx context.Context, sess *session.Session, input string) (*RunResult, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, a.name)),
	)
	defer span.End()

	res, err := a.run(ctx, sess, input)

	if a.metrics != nil {
		tokens := 0
		if res != nil {
			tokens = res.Usage.TotalTokens
		}
		a.metrics.RecordAgentRun(ctx, a.name, time.Since(start), tokens, err)
	}
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (a *Agent) run(ctx context.Context, sess *session.Session, input string) (*RunResult, error) {
	inv := &memory.Invocation{
		AgentName: a.name,
		Session:   sess,
		UserInput: input,
	}
	for _, p := range a.providers {
		if err := p.BeforeRun(ctx, inv); err != nil {
			return nil, fmt.Errorf("before-run hook failed: %w", err)
		}
	}

	userItem := model.UserMessage(input)
	req := &model.Request{
		Instructions: a.buildInstructions(inv),
		Input:        []model.Item{userItem},
		Tools:        a.definitions,
		Config:       a.generateConfig,
	}
	if sess != nil {
		if sess.LastResponseID != "" {
			req.PreviousResponseID = sess.LastResponseID
		} else if len(sess.Events) > 0 {
			// No turn handle but recorded history: the provider keeps no
			// state, so replay the whole conversation.
			req.Input = append(sess.History(), userItem)
		}
	}

	var turnItems []model.Item
	var usage model.Usage

	resp, err := a.callModel(ctx, req)
	if err != nil {
		return nil, err
	}
	usage.Add(resp.Usage)

	// transcript accumulates the full item sequence for providers that
	// need every request to restate it.
	transcript := req.Input

	for iterations := 0; resp.HasToolCalls(); iterations++ {
		if iterations >= a.maxToolIterations {
			slog.Warn("Tool iteration cap reached", "agent", a.name, "cap", a.maxToolIterations)
			break
		}

		calls := make([]model.Item, 0, len(resp.ToolCalls))
		outputs := make([]model.Item, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			calls = append(calls, model.FunctionCall(call.ID, call.Name, call.Arguments))
			outputs = append(outputs, a.dispatchTool(ctx, call))
		}
		turnItems = append(turnItems, calls...)
		turnItems = append(turnItems, outputs...)
		transcript = append(transcript, calls...)
		transcript = append(transcript, outputs...)

		next := &model.Request{
			Instructions: req.Instructions,
			Tools:        a.definitions,
			Config:       a.generateConfig,
		}
		if resp.ID != "" {
			next.PreviousResponseID = resp.ID
			next.Input = outputs
		} else {
			next.Input = transcript
		}
		req = next

		resp, err = a.callModel(ctx, req)
		if err != nil {
			return nil, err
		}
		usage.Add(resp.Usage)
	}

	outputText := resp.OutputText
	if outputText != "" {
		turnItems = append(turnItems, model.AssistantMessage(outputText))
	}

	if sess != nil && a.sessions != nil {
		userEvent := &session.Event{Author: "user", Items: []model.Item{userItem}}
		if err := a.sessions.AppendEvent(ctx, sess, userEvent); err != nil {
			return nil, fmt.Errorf("failed to append user event: %w", err)
		}
		agentEvent := &session.Event{Author: a.name, Items: turnItems}
		if err := a.sessions.AppendEvent(ctx, sess, agentEvent); err != nil {
			return nil, fmt.Errorf("failed to append agent event: %w", err)
		}
		if err := a.sessions.UpdateTurn(ctx, sess, resp.ID); err != nil {
			return nil, fmt.Errorf("failed to update session turn: %w", err)
		}
	}

	inv.OutputText = outputText
	inv.Items = turnItems
	for _, p := range a.providers {
		if err := p.AfterRun(ctx, inv); err != nil {
			return nil, fmt.Errorf("after-run hook failed: %w", err)
		}
	}

	return &RunResult{
		OutputText: outputText,
		Items:      turnItems,
		ResponseID: resp.ID,
		Usage:      usage,
	}, nil
}

// buildInstructions joins the base prompt with provider-contributed blocks.
func (a *Agent) buildInstructions(inv *memory.Invocation) string {
	if len(inv.Instructions) == 0 {
		return a.instructions
	}
	blocks := inv.Instructions
	if a.instructions != "" {
		blocks = append([]string{a.instructions}, blocks...)
	}
	return strings.Join(blocks, "\n\n")
}

func (a *Agent) callModel(ctx context.Context, req *model.Request) (*model.Response, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, observability.SpanModelRequest,
		trace.WithAttributes(attribute.String(observability.AttrModelName, a.llm.Name())),
	)
	defer span.End()

	resp, err := a.llm.Respond(ctx, req)

	if a.metrics != nil {
		var in, out int
		if resp != nil && resp.Usage != nil {
			in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
		}
		a.metrics.RecordModelCall(ctx, a.llm.Name(), time.Since(start), in, out, err)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	return resp, nil
}

// dispatchTool executes one tool call. Failures become error text in the
// output item so the model can react instead of the turn aborting.
func (a *Agent) dispatchTool(ctx context.Context, call tool.Call) model.Item {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, observability.SpanToolCall,
		trace.WithAttributes(attribute.String(observability.AttrToolName, call.Name)),
	)
	defer span.End()

	output, err := a.executeTool(ctx, call)

	if a.metrics != nil {
		a.metrics.RecordToolCall(ctx, call.Name, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		slog.Warn("Tool call failed", "agent", a.name, "tool", call.Name, "error", err)
		output = fmt.Sprintf("Error: %v", err)
	}
	return model.FunctionCallOutput(call.ID, output)
}

func (a *Agent) executeTool(ctx context.Context, call tool.Call) (string, error) {
	t, ok := a.toolsByName[call.Name]
	if !ok {
		return "", fmt.Errorf("tool %q not found", call.Name)
	}
	args, err := call.ParseArguments()
	if err != nil {
		return "", err
	}
	result, err := t.Call(ctx, args)
	if err != nil {
		return "", err
	}
	return tool.EncodeResult(result)
}

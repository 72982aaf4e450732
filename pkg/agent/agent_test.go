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

package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/loom/pkg/memory"
	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/session"
	"github.com/kadirpekel/loom/pkg/tool"
	"github.com/kadirpekel/loom/pkg/tool/functiontool"
)

// scriptedModel replays canned responses and captures every request.
type scriptedModel struct {
	responses []*model.Response
	requests  []*model.Request
	err       error
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Respond(_ context.Context, req *model.Request) (*model.Response, error) {
	m.requests = append(m.requests, req.Clone())
	if m.err != nil {
		return nil, m.err
	}
	if len(m.requests) > len(m.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", len(m.requests))
	}
	return m.responses[len(m.requests)-1], nil
}

func (m *scriptedModel) Close() error { return nil }

// fakeProvider records hook invocations and contributes one block.
type fakeProvider struct {
	block     string
	beforeErr error
	afterErr  error

	beforeCalls int
	afterCalls  int
	gotOutput   string
	gotItems    []model.Item
}

func (p *fakeProvider) BeforeRun(_ context.Context, inv *memory.Invocation) error {
	p.beforeCalls++
	if p.beforeErr != nil {
		return p.beforeErr
	}
	inv.AddInstruction(p.block)
	return nil
}

func (p *fakeProvider) AfterRun(_ context.Context, inv *memory.Invocation) error {
	p.afterCalls++
	p.gotOutput = inv.OutputText
	p.gotItems = inv.Items
	return p.afterErr
}

func newWeatherTool(t *testing.T, calls *[]string) tool.CallableTool {
	t.Helper()
	type args struct {
		City string `json:"city" jsonschema:"required,description=City name"`
	}
	wt, err := functiontool.New(
		functiontool.Config{Name: "get_weather", Description: "Get weather for a city"},
		func(_ context.Context, a args) (any, error) {
			*calls = append(*calls, a.City)
			return map[string]any{"city": a.City, "temp": 18}, nil
		},
	)
	require.NoError(t, err)
	return wt
}

func textResponse(id, text string) *model.Response {
	return &model.Response{ID: id, Model: "scripted", OutputText: text}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Model: &scriptedModel{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")

	_, err = New(Config{Name: "assistant"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is required")
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(Config{Name: "assistant", Model: &scriptedModel{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxToolIterations, a.maxToolIterations)
	assert.Equal(t, "assistant", a.Name())
}

func TestRun_SimpleTurn(t *testing.T) {
	llm := &scriptedModel{responses: []*model.Response{
		textResponse("resp_1", "Hello there"),
	}}
	a, err := New(Config{Name: "assistant", Model: llm, Instructions: "Be brief."})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), nil, "Hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello there", res.OutputText)
	assert.Equal(t, "resp_1", res.ResponseID)
	assert.Equal(t, []model.Item{model.AssistantMessage("Hello there")}, res.Items)

	require.Len(t, llm.requests, 1)
	req := llm.requests[0]
	assert.Equal(t, "Be brief.", req.Instructions)
	assert.Equal(t, []model.Item{model.UserMessage("Hi")}, req.Input)
	assert.Empty(t, req.PreviousResponseID)
}

func TestRun_ProviderContributesInstructions(t *testing.T) {
	llm := &scriptedModel{responses: []*model.Response{
		textResponse("resp_1", "Noted"),
	}}
	p := &fakeProvider{block: "Known facts about the user:\n- Name: Ada"}
	a, err := New(Config{
		Name:         "assistant",
		Model:        llm,
		Instructions: "Be helpful.",
		Providers:    []memory.Provider{p},
	})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), nil, "Hi")
	require.NoError(t, err)

	assert.Equal(t, "Be helpful.\n\nKnown facts about the user:\n- Name: Ada", llm.requests[0].Instructions)
	assert.Equal(t, 1, p.beforeCalls)
	assert.Equal(t, 1, p.afterCalls)
	assert.Equal(t, "Noted", p.gotOutput)
	assert.Equal(t, res.Items, p.gotItems)
}

func TestRun_ToolLoop(t *testing.T) {
	llm := &scriptedModel{responses: []*model.Response{
		{
			ID: "resp_1",
			ToolCalls: []tool.Call{
				{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`},
			},
			Usage: &model.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
		{
			ID:         "resp_2",
			OutputText: "18 degrees in Paris",
			Usage:      &model.Usage{InputTokens: 20, OutputTokens: 8, TotalTokens: 28},
		},
	}}
	var toolCalls []string
	a, err := New(Config{
		Name:  "assistant",
		Model: llm,
		Tools: []tool.CallableTool{newWeatherTool(t, &toolCalls)},
	})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), nil, "Weather in Paris?")
	require.NoError(t, err)

	assert.Equal(t, "18 degrees in Paris", res.OutputText)
	assert.Equal(t, []string{"Paris"}, toolCalls)
	assert.Equal(t, 43, res.Usage.TotalTokens)

	// The follow-up request chains the turn handle and carries only the
	// function output.
	require.Len(t, llm.requests, 2)
	second := llm.requests[1]
	assert.Equal(t, "resp_1", second.PreviousResponseID)
	require.Len(t, second.Input, 1)
	assert.Equal(t, model.ItemFunctionCallOutput, second.Input[0].Type)
	assert.Equal(t, "call_1", second.Input[0].CallID)
	assert.JSONEq(t, `{"city":"Paris","temp":18}`, second.Input[0].Output)

	// The turn record keeps call, output, and final message in order.
	require.Len(t, res.Items, 3)
	assert.Equal(t, model.ItemFunctionCall, res.Items[0].Type)
	assert.Equal(t, model.ItemFunctionCallOutput, res.Items[1].Type)
	assert.Equal(t, model.ItemMessage, res.Items[2].Type)

	// Tool definitions ride on every request.
	require.Len(t, second.Tools, 1)
	assert.Equal(t, "get_weather", second.Tools[0].Name)
}

func TestRun_StatelessProviderReplaysTranscript(t *testing.T) {
	llm := &scriptedModel{responses: []*model.Response{
		{
			// No response ID: the provider holds no conversation state.
			ToolCalls: []tool.Call{
				{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Oslo"}`},
			},
		},
		textResponse("", "Cold in Oslo"),
	}}
	var toolCalls []string
	a, err := New(Config{
		Name:  "assistant",
		Model: llm,
		Tools: []tool.CallableTool{newWeatherTool(t, &toolCalls)},
	})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), nil, "Weather in Oslo?")
	require.NoError(t, err)
	assert.Equal(t, "Cold in Oslo", res.OutputText)
	assert.Empty(t, res.ResponseID)

	// The follow-up restates the whole exchange: user message, the
	// model's call, and its output.
	require.Len(t, llm.requests, 2)
	second := llm.requests[1]
	assert.Empty(t, second.PreviousResponseID)
	require.Len(t, second.Input, 3)
	assert.Equal(t, model.ItemMessage, second.Input[0].Type)
	assert.Equal(t, model.ItemFunctionCall, second.Input[1].Type)
	assert.Equal(t, "get_weather", second.Input[1].Name)
	assert.Equal(t, model.ItemFunctionCallOutput, second.Input[2].Type)
}

func TestRun_SessionHistoryReplayedWithoutHandle(t *testing.T) {
	llm := &scriptedModel{responses: []*model.Response{
		textResponse("", "I remember"),
	}}
	a, err := New(Config{Name: "assistant", Model: llm})
	require.NoError(t, err)

	sess := &session.Session{
		ID: "s1", AppName: "app", UserID: "u1",
		Events: []session.Event{
			{Author: "user", Items: []model.Item{model.UserMessage("My name is Ada")}},
			{Author: "assistant", Items: []model.Item{model.AssistantMessage("Hi Ada")}},
		},
	}

	_, err = a.Run(context.Background(), sess, "What is my name?")
	require.NoError(t, err)

	require.Len(t, llm.requests, 1)
	input := llm.requests[0].Input
	require.Len(t, input, 3)
	assert.Equal(t, "My name is Ada", input[0].Content)
	assert.Equal(t, "Hi Ada", input[1].Content)
	assert.Equal(t, "What is my name?", input[2].Content)
}

func TestRun_SessionBookkeeping(t *testing.T) {
	ctx := context.Background()
	svc := session.InMemoryService()
	created, err := svc.Create(ctx, &session.CreateRequest{AppName: "app", UserID: "u1"})
	require.NoError(t, err)
	sess := created.Session

	llm := &scriptedModel{responses: []*model.Response{
		textResponse("resp_1", "Hello"),
		textResponse("resp_2", "Again"),
	}}
	a, err := New(Config{Name: "assistant", Model: llm, Sessions: svc})
	require.NoError(t, err)

	_, err = a.Run(ctx, sess, "Hi")
	require.NoError(t, err)

	assert.Equal(t, "resp_1", sess.LastResponseID)
	require.Len(t, sess.Events, 2)
	assert.Equal(t, "user", sess.Events[0].Author)
	assert.Equal(t, "assistant", sess.Events[1].Author)

	// The second turn chains the stored handle instead of replaying.
	_, err = a.Run(ctx, sess, "And again")
	require.NoError(t, err)
	require.Len(t, llm.requests, 2)
	assert.Equal(t, "resp_1", llm.requests[1].PreviousResponseID)
	assert.Equal(t, []model.Item{model.UserMessage("And again")}, llm.requests[1].Input)

	// The stored session caught up as well.
	got, err := svc.Get(ctx, &session.GetRequest{AppName: "app", UserID: "u1", SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "resp_2", got.Session.LastResponseID)
	assert.Len(t, got.Session.Events, 4)
}

func TestRun_ToolErrorFedBack(t *testing.T) {
	failing, err := functiontool.New(
		functiontool.Config{Name: "lookup", Description: "Always fails"},
		func(_ context.Context, _ struct{}) (any, error) {
			return nil, errors.New("upstream unavailable")
		},
	)
	require.NoError(t, err)

	llm := &scriptedModel{responses: []*model.Response{
		{ID: "resp_1", ToolCalls: []tool.Call{{ID: "call_1", Name: "lookup", Arguments: "{}"}}},
		textResponse("resp_2", "Could not look that up"),
	}}
	a, err := New(Config{Name: "assistant", Model: llm, Tools: []tool.CallableTool{failing}})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), nil, "Look it up")
	require.NoError(t, err)
	assert.Equal(t, "Could not look that up", res.OutputText)

	second := llm.requests[1]
	require.Len(t, second.Input, 1)
	assert.Contains(t, second.Input[0].Output, "Error: upstream unavailable")
}

func TestRun_UnknownToolFedBack(t *testing.T) {
	llm := &scriptedModel{responses: []*model.Response{
		{ID: "resp_1", ToolCalls: []tool.Call{{ID: "call_1", Name: "missing", Arguments: "{}"}}},
		textResponse("resp_2", "That tool does not exist"),
	}}
	a, err := New(Config{Name: "assistant", Model: llm})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), nil, "Use the missing tool")
	require.NoError(t, err)

	assert.Contains(t, llm.requests[1].Input[0].Output, `tool "missing" not found`)
}

func TestRun_IterationCapStopsLoop(t *testing.T) {
	callResp := func(id string) *model.Response {
		return &model.Response{
			ID:         id,
			OutputText: "still working",
			ToolCalls:  []tool.Call{{ID: "call_" + id, Name: "get_weather", Arguments: `{"city":"Rome"}`}},
		}
	}
	llm := &scriptedModel{responses: []*model.Response{
		callResp("r1"), callResp("r2"), callResp("r3"),
	}}
	var toolCalls []string
	a, err := New(Config{
		Name:              "assistant",
		Model:             llm,
		Tools:             []tool.CallableTool{newWeatherTool(t, &toolCalls)},
		MaxToolIterations: 2,
	})
	require.NoError(t, err)

	res, err := a.Run(context.Background(), nil, "Loop forever")
	require.NoError(t, err)

	// Two dispatch rounds, then the loop stops with the last text even
	// though the model still wants tools.
	assert.Len(t, llm.requests, 3)
	assert.Len(t, toolCalls, 2)
	assert.Equal(t, "still working", res.OutputText)
}

func TestRun_ModelError(t *testing.T) {
	llm := &scriptedModel{err: errors.New("rate limited")}
	a, err := New(Config{Name: "assistant", Model: llm})
	require.NoError(t, err)

	_, err = a.Run(context.Background(), nil, "Hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model call failed")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRun_HookErrors(t *testing.T) {
	llm := &scriptedModel{responses: []*model.Response{textResponse("r1", "ok")}}

	before := &fakeProvider{beforeErr: errors.New("store offline")}
	a, err := New(Config{Name: "assistant", Model: llm, Providers: []memory.Provider{before}})
	require.NoError(t, err)
	_, err = a.Run(context.Background(), nil, "Hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before-run hook failed")

	llm2 := &scriptedModel{responses: []*model.Response{textResponse("r1", "ok")}}
	after := &fakeProvider{afterErr: errors.New("index full")}
	a2, err := New(Config{Name: "assistant", Model: llm2, Providers: []memory.Provider{after}})
	require.NoError(t, err)
	_, err = a2.Run(context.Background(), nil, "Hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after-run hook failed")
}

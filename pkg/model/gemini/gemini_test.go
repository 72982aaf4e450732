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

package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/tool"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestBuildContents(t *testing.T) {
	input := []model.Item{
		model.UserMessage("what is the weather in Paris?"),
		model.FunctionCall("call_1", "get_weather", `{"city":"Paris"}`),
		model.FunctionCallOutput("call_1", `{"temperature":"22C"}`),
		model.AssistantMessage("It is 22C in Paris."),
	}

	contents, err := buildContents(input)
	require.NoError(t, err)
	require.Len(t, contents, 4)

	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "what is the weather in Paris?", contents[0].Parts[0].Text)

	call := contents[1].Parts[0].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "get_weather", call.Name)
	assert.Equal(t, map[string]any{"city": "Paris"}, call.Args)

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "user", contents[2].Role)
	assert.Equal(t, "call_1", fr.ID)
	assert.Equal(t, "get_weather", fr.Name, "tool name recovered from the call item")
	assert.Equal(t, map[string]any{"temperature": "22C"}, fr.Response)

	assert.Equal(t, "model", contents[3].Role)
	assert.Equal(t, "It is 22C in Paris.", contents[3].Parts[0].Text)
}

func TestBuildContents_InvalidArguments(t *testing.T) {
	input := []model.Item{
		model.FunctionCall("call_1", "get_weather", `{broken`),
	}

	_, err := buildContents(input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get_weather")
}

func TestToResponseMap(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   map[string]any
	}{
		{
			name:   "object_passes_through",
			output: `{"temperature":"22C","unit":"celsius"}`,
			want:   map[string]any{"temperature": "22C", "unit": "celsius"},
		},
		{
			name:   "plain_string_wrapped",
			output: "sunny",
			want:   map[string]any{"result": "sunny"},
		},
		{
			name:   "null_wrapped",
			output: "null",
			want:   map[string]any{"result": "null"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toResponseMap(tt.output))
		})
	}
}

func TestBuildConfig(t *testing.T) {
	temp := 0.2
	topP := 0.9
	maxTokens := 512

	req := &model.Request{
		Instructions: "You are a helpful travel agent.",
		Config: &model.GenerateConfig{
			Temperature:     &temp,
			TopP:            &topP,
			MaxOutputTokens: &maxTokens,
		},
		Tools: []tool.Definition{
			{Name: "get_weather", Description: "Look up weather", Parameters: map[string]any{"type": "object"}},
		},
	}

	config := buildConfig(req)

	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "You are a helpful travel agent.", config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 0.2, float64(*config.Temperature), 0.001)
	require.NotNil(t, config.TopP)
	assert.InDelta(t, 0.9, float64(*config.TopP), 0.001)
	assert.Equal(t, int32(512), config.MaxOutputTokens)
	require.Len(t, config.Tools, 1)
	assert.Equal(t, "get_weather", config.Tools[0].FunctionDeclarations[0].Name)
}

func TestBuildConfig_Minimal(t *testing.T) {
	config := buildConfig(&model.Request{})
	assert.Nil(t, config.SystemInstruction)
	assert.Nil(t, config.Temperature)
	assert.Empty(t, config.Tools)
}

func TestToSchema(t *testing.T) {
	schema := map[string]any{
		"type":        "object",
		"description": "weather query",
		"properties": map[string]any{
			"city": map[string]any{"type": "string", "description": "city name"},
			"unit": map[string]any{"type": "string", "enum": []any{"celsius", "fahrenheit"}},
			"days": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
		},
		"required": []any{"city"},
	}

	s := toSchema(schema)
	require.NotNil(t, s)

	assert.Equal(t, genai.Type("OBJECT"), s.Type)
	assert.Equal(t, "weather query", s.Description)
	assert.Equal(t, []string{"city"}, s.Required)

	require.Contains(t, s.Properties, "city")
	assert.Equal(t, genai.Type("STRING"), s.Properties["city"].Type)
	assert.Equal(t, "city name", s.Properties["city"].Description)

	require.Contains(t, s.Properties, "unit")
	assert.Equal(t, []string{"celsius", "fahrenheit"}, s.Properties["unit"].Enum)

	require.Contains(t, s.Properties, "days")
	require.NotNil(t, s.Properties["days"].Items)
	assert.Equal(t, genai.Type("INTEGER"), s.Properties["days"].Items.Type)
}

func TestToSchema_Nil(t *testing.T) {
	assert.Nil(t, toSchema(nil))
}

func TestParseResponse(t *testing.T) {
	genResp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "thinking about it", Thought: true},
					{Text: "Let me check the weather."},
					{FunctionCall: &genai.FunctionCall{
						ID:   "call_7",
						Name: "get_weather",
						Args: map[string]any{"city": "Paris"},
					}},
				},
			},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 8,
			TotalTokenCount:      20,
		},
	}

	resp, err := parseResponse("gemini-2.0-flash", genResp)
	require.NoError(t, err)

	assert.Empty(t, resp.ID, "stateless provider returns no turn handle")
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	assert.Equal(t, "Let me check the weather.", resp.OutputText, "thought parts excluded")

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_7", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Paris"}`, resp.ToolCalls[0].Arguments)

	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 8, resp.Usage.OutputTokens)
	assert.Equal(t, 20, resp.Usage.TotalTokens)
}

func TestParseResponse_Empty(t *testing.T) {
	_, err := parseResponse("gemini-2.0-flash", &genai.GenerateContentResponse{})
	require.Error(t, err)
}

func TestToToolCall_MissingID(t *testing.T) {
	fc := &genai.FunctionCall{Name: "get_weather", Args: map[string]any{"city": "Oslo"}}

	first := toToolCall(fc)
	second := toToolCall(fc)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, second.ID, "derived IDs are deterministic")

	other := toToolCall(&genai.FunctionCall{Name: "get_weather", Args: map[string]any{"city": "Rome"}})
	assert.NotEqual(t, first.ID, other.ID)
}

func TestToToolCall_NilArgs(t *testing.T) {
	call := toToolCall(&genai.FunctionCall{ID: "call_9", Name: "ping"})
	assert.Equal(t, "call_9", call.ID)
	assert.JSONEq(t, `{}`, call.Arguments)
}

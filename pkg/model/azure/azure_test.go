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

package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/tool"
)

// fakeFoundry stands in for both the Entra ID authority and the project
// endpoint.
type fakeFoundry struct {
	server     *httptest.Server
	tokenCalls atomic.Int32

	lastRequest  map[string]any
	nextResponse map[string]any
}

func newFakeFoundry(t *testing.T) *fakeFoundry {
	t.Helper()
	f := &fakeFoundry{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tenant-1/oauth2/v2.0/token":
			f.tokenCalls.Add(1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
			assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "tok-123",
				"expires_in":   3600,
				"token_type":   "Bearer",
			})

		case r.URL.Path == "/openai/v1/responses" || r.URL.Path == "/agents/storyteller/versions":
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.lastRequest = body
			_ = json.NewEncoder(w).Encode(f.nextResponse)

		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeFoundry) client(t *testing.T, agent string) *Client {
	t.Helper()
	c, err := New(Config{
		Endpoint:     f.server.URL,
		Deployment:   "gpt-4o-mini",
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Agent:        agent,
		Authority:    f.server.URL,
	})
	require.NoError(t, err)
	return c
}

func textTurn(id, text string) map[string]any {
	return map[string]any{
		"id":     id,
		"status": "completed",
		"model":  "gpt-4o-mini",
		"output": []map[string]any{
			{
				"type": "message",
				"role": "assistant",
				"content": []map[string]any{
					{"type": "output_text", "text": text},
				},
			},
		},
		"usage": map[string]any{
			"input_tokens":  12,
			"output_tokens": 7,
			"total_tokens":  19,
		},
	}
}

func TestRespond_TextTurn(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = textTurn("resp_1", "Once upon a time.")
	client := foundry.client(t, "")

	resp, err := client.Respond(context.Background(), &model.Request{
		Instructions: "You are a storyteller.",
		Input:        []model.Item{model.UserMessage("Tell me a one line story")},
	})
	require.NoError(t, err)

	assert.Equal(t, "resp_1", resp.ID)
	assert.Equal(t, "Once upon a time.", resp.OutputText)
	assert.False(t, resp.HasToolCalls())
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", foundry.lastRequest["model"])
	assert.Equal(t, "You are a storyteller.", foundry.lastRequest["instructions"])
	assert.Nil(t, foundry.lastRequest["agent"])
}

func TestRespond_ToolCallTurn(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = map[string]any{
		"id":     "resp_2",
		"status": "completed",
		"output": []map[string]any{
			{
				"type":      "function_call",
				"call_id":   "call_1",
				"name":      "get_weather",
				"arguments": `{"city":"Paris"}`,
			},
		},
	}
	client := foundry.client(t, "")

	resp, err := client.Respond(context.Background(), &model.Request{
		Input: []model.Item{model.UserMessage("Weather in Paris?")},
		Tools: []tool.Definition{{Name: "get_weather", Description: "Get weather"}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Paris"}`, resp.ToolCalls[0].Arguments)

	tools, ok := foundry.lastRequest["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.Equal(t, "auto", foundry.lastRequest["tool_choice"])
}

func TestRespond_ChainsPreviousResponse(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = textTurn("resp_3", "done")
	client := foundry.client(t, "")

	_, err := client.Respond(context.Background(), &model.Request{
		Input:              []model.Item{model.FunctionCallOutput("call_1", `{"temp":22}`)},
		PreviousResponseID: "resp_2",
	})
	require.NoError(t, err)

	assert.Equal(t, "resp_2", foundry.lastRequest["previous_response_id"])
	input, ok := foundry.lastRequest["input"].([]any)
	require.True(t, ok)
	first, ok := input[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "function_call_output", first["type"])
	assert.Equal(t, "call_1", first["call_id"])
}

func TestRespond_AgentReference(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = textTurn("resp_4", "A story.")
	client := foundry.client(t, "storyteller")

	_, err := client.Respond(context.Background(), &model.Request{
		Input: []model.Item{model.UserMessage("Tell me a story")},
	})
	require.NoError(t, err)

	agent, ok := foundry.lastRequest["agent"].(map[string]any)
	require.True(t, ok, "expected agent reference in request")
	assert.Equal(t, "storyteller", agent["name"])
	assert.Equal(t, "agent_reference", agent["type"])
	assert.Nil(t, foundry.lastRequest["model"], "agent reference requests should not name a model")
}

func TestRespond_AgentReferenceBypassedByTools(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = textTurn("resp_5", "ok")
	client := foundry.client(t, "storyteller")

	_, err := client.Respond(context.Background(), &model.Request{
		Input: []model.Item{model.UserMessage("weather?")},
		Tools: []tool.Definition{{Name: "get_weather", Description: "Get weather"}},
	})
	require.NoError(t, err)

	assert.Nil(t, foundry.lastRequest["agent"], "tools must bypass the agent reference")
	assert.Equal(t, "gpt-4o-mini", foundry.lastRequest["model"])
}

func TestRespond_TokenCached(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = textTurn("resp_6", "one")
	client := foundry.client(t, "")

	for range 3 {
		_, err := client.Respond(context.Background(), &model.Request{
			Input: []model.Item{model.UserMessage("hi")},
		})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), foundry.tokenCalls.Load(), "token should be fetched once and cached")
}

func TestRespond_APIError(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = map[string]any{
		"id":    "resp_err",
		"error": map[string]any{"message": "deployment not found"},
	}
	client := foundry.client(t, "")

	_, err := client.Respond(context.Background(), &model.Request{
		Input: []model.Item{model.UserMessage("hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployment not found")
}

func TestRespond_IncompleteStatus(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = map[string]any{
		"id":                 "resp_7",
		"status":             "incomplete",
		"incomplete_details": map[string]any{"reason": "max_output_tokens"},
	}
	client := foundry.client(t, "")

	_, err := client.Respond(context.Background(), &model.Request{
		Input: []model.Item{model.UserMessage("hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_output_tokens")
}

func TestCreateVersion(t *testing.T) {
	foundry := newFakeFoundry(t)
	foundry.nextResponse = map[string]any{"name": "storyteller", "version": "3"}
	client := foundry.client(t, "")

	version, err := client.CreateVersion(context.Background(), "storyteller", AgentDefinition{
		Model:        "gpt-4o-mini",
		Instructions: "You craft one-line stories.",
	})
	require.NoError(t, err)
	assert.Equal(t, "storyteller", version.Name)
	assert.Equal(t, "3", version.Version)

	def, ok := foundry.lastRequest["definition"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "prompt", def["kind"])
	assert.Equal(t, "gpt-4o-mini", def["model"])
	assert.Equal(t, "You craft one-line stories.", def["instructions"])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Endpoint: "https://example"})
	require.Error(t, err)
}

func TestConfigFromEnv_Missing(t *testing.T) {
	for _, name := range []string{
		"AZURE_ENDPOINT", "MODEL_DEPLOYMENT_NAME",
		"AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET",
	} {
		t.Setenv(name, "")
	}

	_, err := ConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AZURE_ENDPOINT")
}

func TestConfigFromEnv_Complete(t *testing.T) {
	t.Setenv("AZURE_ENDPOINT", "https://proj.services.ai.azure.com/api/projects/demo")
	t.Setenv("MODEL_DEPLOYMENT_NAME", "gpt-4o-mini")
	t.Setenv("AZURE_TENANT_ID", "tenant-1")
	t.Setenv("AZURE_CLIENT_ID", "client-1")
	t.Setenv("AZURE_CLIENT_SECRET", "secret-1")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Deployment)
	assert.Equal(t, "tenant-1", cfg.TenantID)
}

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

// Package gemini provides a model.LLM backed by the Gemini API.
//
// Gemini keeps no server-side conversation state. Respond always returns an
// empty response ID, which tells the agent layer to resend the full item
// history on every turn instead of chaining a previous response.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/tool"
)

const defaultModel = "gemini-2.0-flash"

// Config holds Gemini client configuration.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Model is the model name, e.g. "gemini-2.0-flash" or "gemini-1.5-pro".
	// Defaults to gemini-2.0-flash.
	Model string
}

// Client talks to the Gemini API through the official genai SDK.
type Client struct {
	client *genai.Client
	name   string
}

// New creates a Gemini client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Client{client: client, name: cfg.Model}, nil
}

// Name returns the configured model name.
func (c *Client) Name() string {
	return c.name
}

// Close releases client resources.
func (c *Client) Close() error {
	return nil
}

// Respond sends a single turn to Gemini and returns the parsed result.
// PreviousResponseID on the request is ignored because the API is stateless.
func (c *Client) Respond(ctx context.Context, req *model.Request) (*model.Response, error) {
	contents, err := buildContents(req.Input)
	if err != nil {
		return nil, err
	}

	name := req.Model
	if name == "" {
		name = c.name
	}

	resp, err := c.client.Models.GenerateContent(ctx, name, contents, buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	return parseResponse(name, resp)
}

// buildContents converts conversation items to Gemini contents. Function
// responses need the tool name, which the item format does not carry, so it is
// recovered from the matching call earlier in the history.
func buildContents(input []model.Item) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(input))
	callNames := make(map[string]string)

	for _, item := range input {
		switch item.Type {
		case model.ItemMessage:
			role := "user"
			if item.Role == model.RoleAssistant {
				role = "model"
			}
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: item.Content}},
			})

		case model.ItemFunctionCall:
			args := map[string]any{}
			if item.Arguments != "" {
				if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
					return nil, fmt.Errorf("invalid arguments for call %s: %w", item.Name, err)
				}
			}
			callNames[item.CallID] = item.Name
			contents = append(contents, &genai.Content{
				Role: "model",
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{
						ID:   item.CallID,
						Name: item.Name,
						Args: args,
					},
				}},
			})

		case model.ItemFunctionCallOutput:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       item.CallID,
						Name:     callNames[item.CallID],
						Response: toResponseMap(item.Output),
					},
				}},
			})
		}
	}

	return contents, nil
}

// toResponseMap converts a tool result into the JSON object Gemini expects.
// Structured results pass through, plain strings get wrapped.
func toResponseMap(output string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(output), &m); err == nil && m != nil {
		return m
	}
	return map[string]any{"result": output}
}

func buildConfig(req *model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			config.Temperature = genai.Ptr(float32(*cfg.Temperature))
		}
		if cfg.MaxOutputTokens != nil {
			config.MaxOutputTokens = int32(*cfg.MaxOutputTokens)
		}
		if cfg.TopP != nil {
			config.TopP = genai.Ptr(float32(*cfg.TopP))
		}
	}

	if len(req.Tools) > 0 {
		config.Tools = buildTools(req.Tools)
	}

	return config
}

func buildTools(defs []tool.Definition) []*genai.Tool {
	tools := make([]*genai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  toSchema(def.Parameters),
			}},
		})
	}
	return tools
}

// toSchema converts a JSON schema map to the genai schema type. Gemini
// supports only a subset of JSON schema, so unknown keywords are dropped.
func toSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}

func parseResponse(name string, genResp *genai.GenerateContentResponse) (*model.Response, error) {
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	candidate := genResp.Candidates[0]
	resp := &model.Response{Model: name}

	if candidate.Content != nil {
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, toToolCall(part.FunctionCall))
			}
		}
		resp.OutputText = text.String()
	}

	if genResp.UsageMetadata != nil {
		resp.Usage = &model.Usage{
			InputTokens:  int(genResp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(genResp.UsageMetadata.TotalTokenCount),
		}
	}

	return resp, nil
}

func toToolCall(fc *genai.FunctionCall) tool.Call {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	// Marshal never fails here, Args came from decoded JSON.
	raw, _ := json.Marshal(args)

	callID := fc.ID
	if callID == "" {
		callID = stableCallID(fc.Name, args)
	}

	return tool.Call{ID: callID, Name: fc.Name, Arguments: string(raw)}
}

// stableCallID derives a deterministic ID for calls the API returned without
// one, so the paired function response can reference the same call.
func stableCallID(name string, args map[string]any) string {
	payload, _ := json.Marshal(map[string]any{"name": name, "args": args})
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("call_%x", sum[:8])
}

// Ensure Client implements model.LLM.
var _ model.LLM = (*Client)(nil)

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

// Package azure provides a model.LLM backed by an Azure AI Foundry project.
//
// The project endpoint serves an OpenAI-compatible responses surface under
// /openai/v1, which this client calls directly with an Entra ID bearer
// token obtained through the client-credentials flow. Responses are chained
// server-side: each Response.ID is accepted as the next request's
// PreviousResponseID, so agents only send new items per turn.
//
// The client can also manage server-side agent versions (CreateVersion) and
// address a published agent by reference instead of a raw deployment.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kadirpekel/loom/internal/httpclient"
	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/tool"
)

const (
	defaultScope   = "https://ai.azure.com/.default"
	defaultTimeout = 120 * time.Second
)

// Config configures the Foundry client.
type Config struct {
	// Endpoint is the Foundry project endpoint.
	Endpoint string

	// Deployment is the model deployment name used when a request does not
	// override it.
	Deployment string

	// TenantID, ClientID and ClientSecret identify the service principal
	// for the client-credentials flow.
	TenantID     string
	ClientID     string
	ClientSecret string

	// Agent addresses a published server-side agent by reference. Requests
	// carrying tools bypass the reference, agent references do not accept
	// a tools parameter.
	Agent string

	// Scope overrides the token scope. Default "https://ai.azure.com/.default".
	Scope string

	// Authority overrides the Entra ID endpoint, mainly for tests.
	Authority string

	// Timeout per HTTP request. Default 120s.
	Timeout time.Duration

	// MaxRetries for rate-limited requests. Default 5.
	MaxRetries int
}

// ConfigFromEnv builds a Config from the environment, loading a .env file
// first when one is present.
//
// Recognized variables: AZURE_ENDPOINT, MODEL_DEPLOYMENT_NAME,
// AZURE_TENANT_ID, AZURE_CLIENT_ID, AZURE_CLIENT_SECRET.
func ConfigFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Config{
		Endpoint:     os.Getenv("AZURE_ENDPOINT"),
		Deployment:   os.Getenv("MODEL_DEPLOYMENT_NAME"),
		TenantID:     os.Getenv("AZURE_TENANT_ID"),
		ClientID:     os.Getenv("AZURE_CLIENT_ID"),
		ClientSecret: os.Getenv("AZURE_CLIENT_SECRET"),
	}

	var missing []string
	for name, value := range map[string]string{
		"AZURE_ENDPOINT":      cfg.Endpoint,
		"AZURE_TENANT_ID":     cfg.TenantID,
		"AZURE_CLIENT_ID":     cfg.ClientID,
		"AZURE_CLIENT_SECRET": cfg.ClientSecret,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// Client calls the Foundry responses API. Implements model.LLM.
type Client struct {
	http       *httpclient.Client
	tokens     *tokenSource
	endpoint   string
	deployment string
	agent      string
}

// New creates a Foundry client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("tenant id, client id and client secret are required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	retrying := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	)

	return &Client{
		http:       retrying,
		tokens:     newTokenSource(cfg, retrying),
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		deployment: cfg.Deployment,
		agent:      cfg.Agent,
	}, nil
}

// Name returns the configured deployment, or the agent reference when no
// deployment is set.
func (c *Client) Name() string {
	if c.deployment != "" {
		return c.deployment
	}
	return c.agent
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// Respond executes one model turn against the responses API.
func (c *Client) Respond(ctx context.Context, req *model.Request) (*model.Response, error) {
	apiReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var apiResp responsesResponse
	if err := c.postJSON(ctx, c.endpoint+"/openai/v1/responses", apiReq, &apiResp); err != nil {
		return nil, err
	}
	return parseResponse(&apiResp)
}

func (c *Client) buildRequest(req *model.Request) (*responsesRequest, error) {
	apiReq := &responsesRequest{
		Input:              req.Input,
		Instructions:       req.Instructions,
		PreviousResponseID: req.PreviousResponseID,
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = make([]apiTool, len(req.Tools))
		for i, def := range req.Tools {
			apiReq.Tools[i] = apiTool{
				Type:        "function",
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			}
		}
		apiReq.ToolChoice = "auto"
	}

	// Published agents carry their own model and instructions, and reject
	// a tools parameter. Requests with tools go straight to the deployment.
	if c.agent != "" && len(req.Tools) == 0 {
		apiReq.Agent = &agentReference{Name: c.agent, Type: "agent_reference"}
		apiReq.Instructions = ""
	} else {
		apiReq.Model = req.Model
		if apiReq.Model == "" {
			apiReq.Model = c.deployment
		}
		if apiReq.Model == "" {
			return nil, fmt.Errorf("no deployment configured and request names no model")
		}
	}

	if cfg := req.Config; cfg != nil {
		apiReq.Temperature = cfg.Temperature
		apiReq.MaxOutputTokens = cfg.MaxOutputTokens
		apiReq.TopP = cfg.TopP
	}

	return apiReq, nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			if payload, readErr := io.ReadAll(resp.Body); readErr == nil && len(payload) > 0 {
				return fmt.Errorf("request failed: %w - response: %s", err, string(payload))
			}
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(payload))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseResponse(apiResp *responsesResponse) (*model.Response, error) {
	if apiResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", apiResp.Error.Message)
	}
	if apiResp.Status != "" && apiResp.Status != "completed" {
		msg := fmt.Sprintf("response incomplete: status=%s", apiResp.Status)
		if apiResp.IncompleteDetails != nil {
			msg += fmt.Sprintf(", reason=%s", apiResp.IncompleteDetails.Reason)
		}
		return nil, fmt.Errorf("%s", msg)
	}

	resp := &model.Response{
		ID:    apiResp.ID,
		Model: apiResp.Model,
	}

	var text strings.Builder
	for _, item := range apiResp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" {
					text.WriteString(part.Text)
				}
			}
		case "function_call":
			resp.ToolCalls = append(resp.ToolCalls, tool.Call{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	resp.OutputText = text.String()

	if apiResp.Usage != nil {
		resp.Usage = &model.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		}
	}
	return resp, nil
}

type responsesRequest struct {
	Model              string          `json:"model,omitempty"`
	Instructions       string          `json:"instructions,omitempty"`
	Input              []model.Item    `json:"input,omitempty"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
	MaxOutputTokens    *int            `json:"max_output_tokens,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	TopP               *float64        `json:"top_p,omitempty"`
	Tools              []apiTool       `json:"tools,omitempty"`
	ToolChoice         string          `json:"tool_choice,omitempty"`
	Agent              *agentReference `json:"agent,omitempty"`
}

type apiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type agentReference struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type responsesResponse struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Error             *apiError          `json:"error,omitempty"`
	IncompleteDetails *incompleteDetails `json:"incomplete_details,omitempty"`
	Model             string             `json:"model"`
	Output            []outputItem       `json:"output"`
	Usage             *apiUsage          `json:"usage,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

type incompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

type outputItem struct {
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Content   []contentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

var _ model.LLM = (*Client)(nil)

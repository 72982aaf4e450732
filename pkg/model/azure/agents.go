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
	"fmt"
	"net/url"

	"github.com/kadirpekel/loom/pkg/tool"
)

// AgentDefinition describes a prompt agent hosted by the project.
type AgentDefinition struct {
	// Model is the deployment the agent runs on.
	Model string

	// Instructions is the agent's system prompt.
	Instructions string

	// Tools the hosted agent may call.
	Tools []tool.Definition
}

// AgentVersion identifies one published version of a hosted agent.
type AgentVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CreateVersion publishes def as a new version of the named agent. The
// service bumps the version only when the definition actually changed, so
// calling this on startup is idempotent.
func (c *Client) CreateVersion(ctx context.Context, agentName string, def AgentDefinition) (*AgentVersion, error) {
	if agentName == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if def.Model == "" {
		return nil, fmt.Errorf("agent definition requires a model")
	}

	payload := createVersionRequest{
		Definition: agentDefinitionPayload{
			Kind:         "prompt",
			Model:        def.Model,
			Instructions: def.Instructions,
		},
	}
	for _, t := range def.Tools {
		payload.Definition.Tools = append(payload.Definition.Tools, apiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	endpoint := fmt.Sprintf("%s/agents/%s/versions?api-version=v1", c.endpoint, url.PathEscape(agentName))

	var version AgentVersion
	if err := c.postJSON(ctx, endpoint, payload, &version); err != nil {
		return nil, fmt.Errorf("failed to create agent version: %w", err)
	}
	if version.Name == "" {
		version.Name = agentName
	}
	return &version, nil
}

type createVersionRequest struct {
	Definition agentDefinitionPayload `json:"definition"`
}

type agentDefinitionPayload struct {
	Kind         string    `json:"kind"`
	Model        string    `json:"model"`
	Instructions string    `json:"instructions,omitempty"`
	Tools        []apiTool `json:"tools,omitempty"`
}

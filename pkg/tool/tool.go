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

// Package tool defines the interfaces for capabilities an agent can invoke.
//
// A Tool describes itself to the model through a Definition; a CallableTool
// additionally executes. Agents register tools explicitly and dispatch model
// tool calls to them by name.
//
// Use functiontool to build tools from typed Go functions, or mcptool to
// expose tools served by an MCP server.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool describes a capability the model can request.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description explains what the tool does. Shown to the model so it
	// can decide when to call it.
	Description() string

	// Definition returns the function-calling declaration for this tool.
	Definition() Definition
}

// CallableTool is a Tool that can be executed.
type CallableTool interface {
	Tool

	// Call executes the tool with the decoded arguments. The result is
	// serialized back to the model; return a string for plain text or any
	// JSON-encodable value for structured output.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Definition is the wire-level declaration of a tool for function calling.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Call is a model's request to invoke a tool. Arguments is the raw JSON
// object the model produced.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// ParseArguments decodes the raw argument JSON. An empty argument string
// decodes to an empty map.
func (c Call) ParseArguments() (map[string]any, error) {
	if c.Arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", c.Name, err)
	}
	return args, nil
}

// Definitions collects the declarations of the given tools, in order.
func Definitions(tools []CallableTool) []Definition {
	defs := make([]Definition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}
	return defs
}

// ByName indexes tools by name. Later tools win on duplicate names.
func ByName(tools []CallableTool) map[string]CallableTool {
	byName := make(map[string]CallableTool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	return byName
}

// EncodeResult serializes a tool result for the model. Strings pass through
// unchanged; everything else is JSON-encoded.
func EncodeResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool result: %w", err)
		}
		return string(data), nil
	}
}

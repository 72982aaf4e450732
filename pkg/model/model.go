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

// Package model defines the completion-call boundary between agents and
// language model providers.
//
// The contract follows the responses-API shape: a Request carries typed
// input items plus the turn handle of the previous response, and the
// provider answers with a Response whose ID becomes the next turn handle.
// Providers without server-side conversation state return an empty ID and
// the agent layer falls back to resending full history.
package model

import (
	"context"

	"github.com/kadirpekel/loom/pkg/tool"
)

// LLM is the interface model providers implement.
type LLM interface {
	// Name returns the provider's model or deployment identifier.
	Name() string

	// Respond produces one completed model turn for the request.
	Respond(ctx context.Context, req *Request) (*Response, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Role identifies the author of a message item.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ItemType discriminates the input item variants.
type ItemType string

const (
	// ItemMessage is a conversational message with a role.
	ItemMessage ItemType = "message"

	// ItemFunctionCall is a tool invocation the model requested on a
	// previous turn, replayed for providers that need full history.
	ItemFunctionCall ItemType = "function_call"

	// ItemFunctionCallOutput is the result of an executed tool call.
	ItemFunctionCallOutput ItemType = "function_call_output"
)

// Item is one element of the model input. The populated fields depend on
// Type; the JSON layout matches the responses API wire format.
type Item struct {
	Type ItemType `json:"type"`

	// Message fields.
	Role    Role   `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// Function call fields.
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// Function call output.
	Output string `json:"output,omitempty"`
}

// UserMessage builds a user message item.
func UserMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleUser, Content: text}
}

// AssistantMessage builds an assistant message item.
func AssistantMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleAssistant, Content: text}
}

// SystemMessage builds a system message item.
func SystemMessage(text string) Item {
	return Item{Type: ItemMessage, Role: RoleSystem, Content: text}
}

// FunctionCall replays a model tool request into the input.
func FunctionCall(callID, name, arguments string) Item {
	return Item{Type: ItemFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

// FunctionCallOutput builds the result item for an executed tool call.
func FunctionCallOutput(callID, output string) Item {
	return Item{Type: ItemFunctionCallOutput, CallID: callID, Output: output}
}

// Request contains the input for one model turn.
type Request struct {
	// Model overrides the provider's default model or deployment.
	Model string

	// Instructions is the system prompt for this turn.
	Instructions string

	// Input is the ordered item sequence for this turn. With a
	// PreviousResponseID this is usually just the new items; without one
	// it is the full conversation.
	Input []Item

	// PreviousResponseID chains this turn to the provider-held
	// conversation state. Empty starts a fresh turn.
	PreviousResponseID string

	// Tools the model may call this turn.
	Tools []tool.Definition

	// Config tunes generation. Nil uses provider defaults.
	Config *GenerateConfig
}

// Clone deep-copies the request so hooks can mutate their view safely.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Input != nil {
		clone.Input = make([]Item, len(r.Input))
		copy(clone.Input, r.Input)
	}
	if r.Tools != nil {
		clone.Tools = make([]tool.Definition, len(r.Tools))
		copy(clone.Tools, r.Tools)
	}
	clone.Config = r.Config.Clone()
	return &clone
}

// GenerateConfig contains generation parameters. Pointer fields distinguish
// "unset" from zero values.
type GenerateConfig struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxOutputTokens limits the response length.
	MaxOutputTokens *int

	// TopP controls nucleus sampling.
	TopP *float64

	// Metadata carries provider-specific key-value pairs.
	Metadata map[string]string
}

// Clone deep-copies the config.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		v := *c.Temperature
		clone.Temperature = &v
	}
	if c.MaxOutputTokens != nil {
		v := *c.MaxOutputTokens
		clone.MaxOutputTokens = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		clone.TopP = &v
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Response is one completed model turn.
type Response struct {
	// ID is the turn handle for PreviousResponseID chaining. Empty when
	// the provider keeps no server-side state.
	ID string

	// Model that produced the response.
	Model string

	// OutputText is the concatenated text output.
	OutputText string

	// ToolCalls the model requested this turn.
	ToolCalls []tool.Call

	// Usage statistics, when the provider reports them.
	Usage *Usage
}

// HasToolCalls reports whether the model requested tool execution.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Usage contains token accounting for one turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another turn's usage.
func (u *Usage) Add(other *Usage) {
	if u == nil || other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

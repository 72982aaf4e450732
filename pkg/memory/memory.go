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

// Package memory provides context providers that hook into agent runs.
//
// A provider sees every turn twice: BeforeRun may contribute instruction
// blocks that are prepended to the agent's system instructions, and AfterRun
// observes the completed exchange. Providers run in registration order.
//
// Built-in providers:
//   - PreferencesProvider remembers user facts across turns.
//   - HistoryProvider contributes a token-budgeted rolling transcript.
//   - VectorRecall stores turns in an embedded vector database and surfaces
//     semantically similar memories.
package memory

import (
	"context"

	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/session"
)

// Provider hooks into agent runs to contribute and capture context.
type Provider interface {
	// BeforeRun runs before the model call and may add instruction blocks.
	BeforeRun(ctx context.Context, inv *Invocation) error

	// AfterRun runs after the turn completed and observes the exchange.
	AfterRun(ctx context.Context, inv *Invocation) error
}

// Invocation carries one agent turn through the provider hooks.
type Invocation struct {
	AgentName string
	Session   *session.Session
	UserInput string

	// Instructions collects the context blocks providers contribute in
	// BeforeRun. The agent joins them into the system instructions.
	Instructions []string

	// OutputText and Items describe the completed turn. They are empty
	// during BeforeRun.
	OutputText string
	Items      []model.Item
}

// AddInstruction appends a context block to the instructions.
// Empty blocks are ignored.
func (inv *Invocation) AddInstruction(block string) {
	if block == "" {
		return
	}
	inv.Instructions = append(inv.Instructions, block)
}

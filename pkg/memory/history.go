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

package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// HistoryProvider contributes a rolling transcript of recent turns as an
// instruction block. Providers without server-side conversation state rely on
// it to keep multi-turn context.
type HistoryProvider struct {
	mu        sync.RWMutex
	lines     []string
	maxTokens int
	count     func(string) int
}

// HistoryConfig configures the transcript budget.
type HistoryConfig struct {
	// Model selects the token encoding used for budgeting. Empty falls back
	// to a character-based estimate.
	Model string

	// MaxTokens caps the contributed transcript, oldest lines dropped first.
	// Defaults to 2000.
	MaxTokens int
}

// NewHistoryProvider creates an empty history provider.
func NewHistoryProvider(cfg HistoryConfig) (*HistoryProvider, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}

	count := estimateTokens
	if cfg.Model != "" {
		tc, err := NewTokenCounter(cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create token counter: %w", err)
		}
		count = tc.Count
	}

	return &HistoryProvider{maxTokens: cfg.MaxTokens, count: count}, nil
}

func (h *HistoryProvider) BeforeRun(ctx context.Context, inv *Invocation) error {
	h.mu.RLock()
	lines := make([]string, len(h.lines))
	copy(lines, h.lines)
	h.mu.RUnlock()

	if len(lines) == 0 {
		return nil
	}

	fitted := fitLines(lines, h.maxTokens, h.count)
	if len(fitted) == 0 {
		return nil
	}

	inv.AddInstruction("Conversation so far:\n" + strings.Join(fitted, "\n"))
	return nil
}

func (h *HistoryProvider) AfterRun(ctx context.Context, inv *Invocation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if inv.UserInput != "" {
		h.lines = append(h.lines, "User: "+inv.UserInput)
	}
	if inv.OutputText != "" {
		h.lines = append(h.lines, "Assistant: "+inv.OutputText)
	}
	return nil
}

// Len returns the number of recorded transcript lines.
func (h *HistoryProvider) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.lines)
}

// Reset clears the transcript.
func (h *HistoryProvider) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = nil
}

var _ Provider = (*HistoryProvider)(nil)

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
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the encoding of a specific model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	// Encoding initialization is expensive, cache per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

// NewTokenCounter creates a counter for the given model. Unknown models fall
// back to the cl100k_base encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return &TokenCounter{encoding: enc}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}
	encodingCache[model] = enc

	return &TokenCounter{encoding: enc}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// estimateTokens approximates the token count at roughly 4 characters per
// token, for when no encoding is configured.
func estimateTokens(text string) int {
	return len(text) / 4
}

// fitLines keeps the most recent lines that fit the token budget, preserving
// order. A non-positive budget disables trimming.
func fitLines(lines []string, maxTokens int, count func(string) int) []string {
	if maxTokens <= 0 {
		return lines
	}

	total := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		t := count(lines[i])
		if total+t > maxTokens {
			break
		}
		total += t
		start = i
	}
	return lines[start:]
}

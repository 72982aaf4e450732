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
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

// EmbedFunc produces a vector embedding for a text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// RecallConfig configures a VectorRecall provider.
type RecallConfig struct {
	// Embed computes embeddings for stored and queried texts. Required.
	Embed EmbedFunc

	// Collection names the vector collection. Defaults to "memories".
	Collection string

	// TopK caps how many memories a query surfaces. Defaults to 3.
	TopK int

	// PersistPath is a directory for file persistence. Empty keeps vectors
	// in memory only.
	PersistPath string

	// Compress gzips the persisted files.
	Compress bool
}

// VectorRecall stores turn summaries in an embedded vector database and
// surfaces semantically similar memories before each run.
//
// Vectors live in process memory (chromem), so this scales to personal
// assistant workloads, not to corpus search.
type VectorRecall struct {
	col  *chromem.Collection
	topK int
}

// NewVectorRecall creates a vector recall provider.
func NewVectorRecall(cfg RecallConfig) (*VectorRecall, error) {
	if cfg.Embed == nil {
		return nil, fmt.Errorf("embed function is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "memories"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, chromem.EmbeddingFunc(cfg.Embed))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", cfg.Collection, err)
	}

	return &VectorRecall{col: col, topK: cfg.TopK}, nil
}

func (r *VectorRecall) BeforeRun(ctx context.Context, inv *Invocation) error {
	if inv.UserInput == "" {
		return nil
	}

	// The query rejects result counts above the collection size.
	n := r.topK
	if c := r.col.Count(); c < n {
		n = c
	}
	if n == 0 {
		return nil
	}

	results, err := r.col.Query(ctx, inv.UserInput, n, nil, nil)
	if err != nil {
		return fmt.Errorf("recall query failed: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Possibly relevant memories:")
	for _, res := range results {
		b.WriteString("\n- ")
		b.WriteString(res.Content)
	}
	inv.AddInstruction(b.String())
	return nil
}

func (r *VectorRecall) AfterRun(ctx context.Context, inv *Invocation) error {
	if inv.UserInput == "" && inv.OutputText == "" {
		return nil
	}

	var parts []string
	if inv.UserInput != "" {
		parts = append(parts, "User: "+inv.UserInput)
	}
	if inv.OutputText != "" {
		parts = append(parts, "Assistant: "+inv.OutputText)
	}
	return r.Remember(ctx, strings.Join(parts, "\n"))
}

// Remember stores a memory directly, outside the run hooks.
func (r *VectorRecall) Remember(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	doc := chromem.Document{ID: uuid.NewString(), Content: text}
	if err := r.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// Count returns the number of stored memories.
func (r *VectorRecall) Count() int {
	return r.col.Count()
}

var _ Provider = (*VectorRecall)(nil)

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
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbed maps texts onto a tiny keyword space so similarity is
// deterministic without a real embedding model.
func keywordEmbed(ctx context.Context, text string) ([]float32, error) {
	t := strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01}
	if strings.Contains(t, "hik") {
		v[0] = 1
	}
	if strings.Contains(t, "coffee") {
		v[1] = 1
	}
	if strings.Contains(t, "deploy") {
		v[2] = 1
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v, nil
}

func newTestRecall(t *testing.T, topK int) *VectorRecall {
	t.Helper()
	r, err := NewVectorRecall(RecallConfig{Embed: keywordEmbed, TopK: topK})
	require.NoError(t, err)
	return r
}

func TestNewVectorRecall_RequiresEmbed(t *testing.T) {
	_, err := NewVectorRecall(RecallConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed function")
}

func TestVectorRecall_EmptyCollection(t *testing.T) {
	r := newTestRecall(t, 3)

	inv := &Invocation{UserInput: "any good hiking trails?"}
	require.NoError(t, r.BeforeRun(context.Background(), inv))
	assert.Empty(t, inv.Instructions, "nothing to recall yet")
}

func TestVectorRecall_SurfacesSimilarMemories(t *testing.T) {
	r := newTestRecall(t, 1)
	ctx := context.Background()

	require.NoError(t, r.Remember(ctx, "User likes hiking in the mountains"))
	require.NoError(t, r.Remember(ctx, "User drinks oat milk coffee"))
	require.NoError(t, r.Remember(ctx, "Deploys happen every Friday"))
	assert.Equal(t, 3, r.Count())

	inv := &Invocation{UserInput: "any good hiking trails nearby?"}
	require.NoError(t, r.BeforeRun(ctx, inv))

	require.Len(t, inv.Instructions, 1)
	assert.True(t, strings.HasPrefix(inv.Instructions[0], "Possibly relevant memories:"))
	assert.Contains(t, inv.Instructions[0], "hiking in the mountains")
	assert.NotContains(t, inv.Instructions[0], "coffee")
}

func TestVectorRecall_TopKCappedByCollectionSize(t *testing.T) {
	r := newTestRecall(t, 5)
	ctx := context.Background()

	require.NoError(t, r.Remember(ctx, "User drinks oat milk coffee"))

	inv := &Invocation{UserInput: "what coffee do I like?"}
	require.NoError(t, r.BeforeRun(ctx, inv))

	require.Len(t, inv.Instructions, 1)
	assert.Contains(t, inv.Instructions[0], "oat milk coffee")
}

func TestVectorRecall_AfterRunStoresTurn(t *testing.T) {
	r := newTestRecall(t, 3)
	ctx := context.Background()

	require.NoError(t, r.AfterRun(ctx, &Invocation{
		UserInput:  "I love hiking",
		OutputText: "Noted! Hiking is great exercise.",
	}))
	assert.Equal(t, 1, r.Count())

	inv := &Invocation{UserInput: "remind me what outdoor activity I mentioned, hiking or not?"}
	require.NoError(t, r.BeforeRun(ctx, inv))
	require.Len(t, inv.Instructions, 1)
	assert.Contains(t, inv.Instructions[0], "User: I love hiking")
}

func TestVectorRecall_IgnoresEmptyTurns(t *testing.T) {
	r := newTestRecall(t, 3)

	require.NoError(t, r.AfterRun(context.Background(), &Invocation{}))
	assert.Zero(t, r.Count())
}

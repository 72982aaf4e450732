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

package tool_test

import (
	"context"
	"testing"

	"github.com/kadirpekel/loom/pkg/tool"
)

type staticTool struct {
	name string
}

func (s *staticTool) Name() string        { return s.name }
func (s *staticTool) Description() string { return s.name + " tool" }
func (s *staticTool) Definition() tool.Definition {
	return tool.Definition{Name: s.name, Description: s.Description()}
}
func (s *staticTool) Call(ctx context.Context, args map[string]any) (any, error) {
	return s.name, nil
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantVal any
		wantErr bool
	}{
		{name: "object", raw: `{"city":"Paris"}`, wantKey: "city", wantVal: "Paris"},
		{name: "empty_string", raw: ""},
		{name: "empty_object", raw: "{}"},
		{name: "malformed", raw: `{"city":`, wantErr: true},
		{name: "non_object", raw: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := tool.Call{Name: "get_weather", Arguments: tt.raw}
			args, err := call.ParseArguments()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if args == nil {
				t.Fatal("expected non-nil args map")
			}
			if tt.wantKey != "" && args[tt.wantKey] != tt.wantVal {
				t.Errorf("expected %s=%v, got %v", tt.wantKey, tt.wantVal, args[tt.wantKey])
			}
		})
	}
}

func TestEncodeResult(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   string
	}{
		{name: "string_passthrough", result: "sunny, 22C", want: "sunny, 22C"},
		{name: "nil", result: nil, want: ""},
		{name: "map", result: map[string]any{"temp": 22}, want: `{"temp":22}`},
		{name: "number", result: 42, want: "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tool.EncodeResult(tt.result)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestByName(t *testing.T) {
	a := &staticTool{name: "a"}
	b := &staticTool{name: "b"}
	byName := tool.ByName([]tool.CallableTool{a, b})
	if len(byName) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(byName))
	}
	if byName["a"] != a || byName["b"] != b {
		t.Error("expected tools indexed by name")
	}
}

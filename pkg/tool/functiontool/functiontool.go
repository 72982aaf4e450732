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

// Package functiontool builds tools from typed Go functions.
//
// The parameter schema is generated from the argument struct's json and
// jsonschema tags, so the function signature is the single source of truth
// for both the model-facing declaration and the decoded arguments:
//
//	type WeatherArgs struct {
//	    City  string `json:"city" jsonschema:"required,description=City name"`
//	    Units string `json:"units,omitempty" jsonschema:"description=Temperature units,enum=celsius|fahrenheit"`
//	}
//
//	weather, err := functiontool.New(
//	    functiontool.Config{Name: "get_weather", Description: "Get current weather for a city"},
//	    func(ctx context.Context, args WeatherArgs) (any, error) {
//	        return lookupWeather(args.City, args.Units)
//	    },
//	)
//
// For tools with dynamic schemas or internal state, implement
// tool.CallableTool directly instead.
package functiontool

import (
	"context"
	"fmt"

	"github.com/kadirpekel/loom/pkg/tool"
)

// Config names and describes a function tool. Both fields are required.
type Config struct {
	Name        string
	Description string
}

// New creates a CallableTool from a typed function. The schema is reflected
// from Args once, at construction time.
func New[Args any](cfg Config, fn func(context.Context, Args) (any, error)) (tool.CallableTool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("tool description is required")
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{
		cfg:    cfg,
		fn:     fn,
		schema: schema,
	}, nil
}

// NewWithValidation creates a function tool whose arguments pass through a
// validation function before execution. Use it for constraints struct tags
// cannot express.
func NewWithValidation[Args any](
	cfg Config,
	fn func(context.Context, Args) (any, error),
	validate func(Args) error,
) (tool.CallableTool, error) {
	wrapped := func(ctx context.Context, args Args) (any, error) {
		if err := validate(args); err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", cfg.Name, err)
		}
		return fn(ctx, args)
	}
	return New(cfg, wrapped)
}

type functionTool[Args any] struct {
	cfg    Config
	fn     func(context.Context, Args) (any, error)
	schema map[string]any
}

func (t *functionTool[Args]) Name() string {
	return t.cfg.Name
}

func (t *functionTool[Args]) Description() string {
	return t.cfg.Description
}

func (t *functionTool[Args]) Definition() tool.Definition {
	return tool.Definition{
		Name:        t.cfg.Name,
		Description: t.cfg.Description,
		Parameters:  t.schema,
	}
}

func (t *functionTool[Args]) Call(ctx context.Context, args map[string]any) (any, error) {
	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.cfg.Name, err)
	}
	return t.fn(ctx, typed)
}

var _ tool.CallableTool = (*functionTool[struct{}])(nil)

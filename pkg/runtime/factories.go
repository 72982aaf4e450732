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

package runtime

import (
	"context"
	"fmt"

	"github.com/kadirpekel/loom/pkg/agent"
	"github.com/kadirpekel/loom/pkg/config"
	"github.com/kadirpekel/loom/pkg/memory"
	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/model/azure"
	"github.com/kadirpekel/loom/pkg/model/gemini"
	"github.com/kadirpekel/loom/pkg/session"
	"github.com/kadirpekel/loom/pkg/tool"
	"github.com/kadirpekel/loom/pkg/tool/mcptool"
)

// buildModel creates an LLM client for one model section.
func buildModel(cfg *config.ModelConfig) (model.LLM, error) {
	switch cfg.Provider {
	case config.ProviderAzure:
		return azure.New(azure.Config{
			Endpoint:     cfg.Endpoint,
			Deployment:   cfg.Model,
			TenantID:     cfg.TenantID,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Agent:        cfg.Agent,
		})

	case config.ProviderGemini:
		return gemini.New(gemini.Config{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		})

	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// buildSessions creates the session service for the configured backend.
func buildSessions(cfg config.SessionsConfig) (session.Service, error) {
	switch cfg.Backend {
	case "", "memory":
		return session.InMemoryService(), nil
	case "sql":
		return session.Open(cfg.Driver, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

// buildProviders creates the memory providers an agent section enables.
func buildProviders(cfg config.MemoryConfig) ([]memory.Provider, error) {
	var providers []memory.Provider
	if cfg.Preferences {
		providers = append(providers, memory.NewPreferencesProvider())
	}
	if cfg.History != nil {
		history, err := memory.NewHistoryProvider(memory.HistoryConfig{
			Model:     cfg.History.Model,
			MaxTokens: cfg.History.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("history provider: %w", err)
		}
		providers = append(providers, history)
	}
	return providers, nil
}

// buildToolsets connects the agent's MCP servers and collects their tools.
func buildToolsets(ctx context.Context, configs []config.MCPServerConfig) ([]tool.CallableTool, []*mcptool.Toolset, error) {
	var tools []tool.CallableTool
	var toolsets []*mcptool.Toolset

	for _, mc := range configs {
		ts, err := mcptool.NewToolset(mcptool.Config{
			Name:    mc.Name,
			Command: mc.Command,
			Args:    mc.Args,
			Env:     mc.Env,
			URL:     mc.URL,
			Filter:  mc.Filter,
		})
		if err != nil {
			return nil, toolsets, fmt.Errorf("mcp server %q: %w", mc.Name, err)
		}
		toolsets = append(toolsets, ts)

		discovered, err := ts.Tools(ctx)
		if err != nil {
			return nil, toolsets, fmt.Errorf("mcp server %q: %w", mc.Name, err)
		}
		tools = append(tools, discovered...)
	}

	return tools, toolsets, nil
}

// buildAgent creates one agent and the toolsets it owns.
func (r *Runtime) buildAgent(ctx context.Context, name string, cfg *config.AgentConfig) (*agent.Agent, []*mcptool.Toolset, error) {
	llm, ok := r.models[cfg.Model]
	if !ok {
		return nil, nil, fmt.Errorf("unknown model reference %q", cfg.Model)
	}

	providers, err := buildProviders(cfg.Memory)
	if err != nil {
		return nil, nil, err
	}

	tools, toolsets, err := buildToolsets(ctx, cfg.MCPServers)
	if err != nil {
		return nil, toolsets, err
	}

	a, err := agent.New(agent.Config{
		Name:              name,
		Description:       cfg.Description,
		Model:             llm,
		Instructions:      cfg.Instructions,
		Tools:             tools,
		Providers:         providers,
		Sessions:          r.sessions,
		MaxToolIterations: cfg.MaxToolIterations,
		GenerateConfig:    generateConfig(r.cfg.Models[cfg.Model]),
		Metrics:           r.obs.Metrics(),
	})
	if err != nil {
		return nil, toolsets, err
	}
	return a, toolsets, nil
}

// generateConfig maps the tuning knobs of a model section, or nil when none
// are set.
func generateConfig(cfg *config.ModelConfig) *model.GenerateConfig {
	if cfg == nil {
		return nil
	}
	if cfg.Temperature == nil && cfg.MaxOutputTokens == 0 && cfg.TopP == nil {
		return nil
	}

	gc := &model.GenerateConfig{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	}
	if cfg.MaxOutputTokens > 0 {
		v := cfg.MaxOutputTokens
		gc.MaxOutputTokens = &v
	}
	return gc
}

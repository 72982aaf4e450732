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

// Package runtime assembles a running system from a configuration document.
//
// New walks the config sections in dependency order: observability first,
// then model clients, the session service, MCP toolsets, and finally the
// agents that tie them together. The resulting Runtime owns every component
// it built and releases them all in Close.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kadirpekel/loom/pkg/agent"
	"github.com/kadirpekel/loom/pkg/auth"
	"github.com/kadirpekel/loom/pkg/config"
	"github.com/kadirpekel/loom/pkg/model"
	"github.com/kadirpekel/loom/pkg/observability"
	"github.com/kadirpekel/loom/pkg/server"
	"github.com/kadirpekel/loom/pkg/session"
	"github.com/kadirpekel/loom/pkg/tool/mcptool"
)

// Runtime holds the components built from one config document.
type Runtime struct {
	cfg      *config.Config
	obs      *observability.Manager
	models   map[string]model.LLM
	sessions session.Service
	toolsets []*mcptool.Toolset
	agents   map[string]*agent.Agent
	version  string
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithVersion sets the version reported on agent cards.
func WithVersion(version string) Option {
	return func(r *Runtime) {
		r.version = version
	}
}

// New builds every component the config declares.
// Partially built components are released when a later one fails.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Runtime{
		cfg:     cfg,
		models:  make(map[string]model.LLM),
		agents:  make(map[string]*agent.Agent),
		version: "dev",
	}
	for _, opt := range opts {
		opt(r)
	}

	r.obs = observability.NewManager(cfg.Observability)
	if err := r.obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := r.build(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) build(ctx context.Context) error {
	for name, mc := range r.cfg.Models {
		llm, err := buildModel(mc)
		if err != nil {
			return fmt.Errorf("model %q: %w", name, err)
		}
		r.models[name] = llm
		slog.Debug("Model ready", "name", name, "provider", mc.Provider)
	}

	sessions, err := buildSessions(r.cfg.Sessions)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	r.sessions = sessions

	for name, ac := range r.cfg.Agents {
		a, toolsets, err := r.buildAgent(ctx, name, ac)
		if err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
		r.agents[name] = a
		r.toolsets = append(r.toolsets, toolsets...)
		slog.Info("Agent ready", "name", name, "model", ac.Model, "tools", len(toolsets))
	}
	return nil
}

// Agents returns the built agents sorted by name.
func (r *Runtime) Agents() []*agent.Agent {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)

	agents := make([]*agent.Agent, 0, len(names))
	for _, name := range names {
		agents = append(agents, r.agents[name])
	}
	return agents
}

// Agent returns one agent by name.
func (r *Runtime) Agent(name string) (*agent.Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Sessions returns the session service.
func (r *Runtime) Sessions() session.Service {
	return r.sessions
}

// Observability returns the observability manager.
func (r *Runtime) Observability() *observability.Manager {
	return r.obs
}

// Server assembles the HTTP server hosting every built agent.
func (r *Runtime) Server(ctx context.Context) (*server.Server, error) {
	opts := []server.Option{
		server.WithSessionService(r.sessions),
		server.WithObservability(r.obs),
		server.WithVersion(r.version),
	}

	if r.cfg.Server.Auth.Enabled {
		validator, err := auth.NewJWTValidator(ctx, auth.Config{
			JWKSURL:  r.cfg.Server.Auth.JWKSURL,
			Issuer:   r.cfg.Server.Auth.Issuer,
			Audience: r.cfg.Server.Auth.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build token validator: %w", err)
		}
		opts = append(opts, server.WithAuthValidator(validator))
	}

	return server.New(r.cfg.Server, r.Agents(), opts...)
}

// Close releases every component the runtime built. It keeps going on
// errors and returns the first one.
func (r *Runtime) Close() error {
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	for _, ts := range r.toolsets {
		record(ts.Close())
	}
	for name, llm := range r.models {
		if err := llm.Close(); err != nil {
			slog.Warn("Model close failed", "name", name, "error", err)
			record(err)
		}
	}
	if closer, ok := r.sessions.(interface{ Close() error }); ok {
		record(closer.Close())
	}
	if r.obs != nil {
		record(r.obs.Shutdown(context.Background()))
	}
	return first
}

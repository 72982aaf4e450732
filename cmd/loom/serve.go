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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/loom"
	"github.com/kadirpekel/loom/pkg/config"
	"github.com/kadirpekel/loom/pkg/runtime"
)

// ServeCmd starts the agent server.
type ServeCmd struct {
	Port  int  `help:"Override the configured port."`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := c.loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg, runtime.WithVersion(loom.Version))
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()

	srv, err := rt.Server(ctx)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	fmt.Printf("Loom server ready on http://%s\n", srv.Address())
	fmt.Printf("  Health:     http://%s/api/health\n", srv.Address())
	fmt.Printf("  Discovery:  http://%s/api/agents\n", srv.Address())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	if c.Watch && loader != nil {
		g.Go(func() error {
			if err := loader.Watch(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// loadConfig loads the config file, or builds the zero-config default: a
// single assistant on the model detected from the environment.
func (c *ServeCmd) loadConfig(path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		cfg := &config.Config{
			Agents: map[string]*config.AgentConfig{
				"assistant": {
					Description:  "A general-purpose assistant.",
					Instructions: "You are a helpful assistant.",
				},
			},
		}
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("no config file and no usable environment: %w", err)
		}
		slog.Info("No config file, serving the default assistant")
		return cfg, nil, nil
	}

	if err := config.LoadDotEnvForConfig(path); err != nil {
		return nil, nil, err
	}

	loader, err := config.NewLoader(path, config.WithOnChange(func(*config.Config) {
		slog.Info("Configuration changed, restart to apply", "path", path)
	}))
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

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
	"fmt"
	"sort"

	"github.com/kadirpekel/loom/pkg/config"
)

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}

	if err := config.LoadDotEnvForConfig(cli.Config); err != nil {
		return err
	}
	loader, err := config.NewLoader(cli.Config)
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid: %s\n\n", loader.Path())

	fmt.Printf("Models (%d):\n", len(cfg.Models))
	for _, name := range sortedKeys(cfg.Models) {
		m := cfg.Models[name]
		fmt.Printf("  - %s: %s/%s\n", name, m.Provider, m.Model)
	}

	fmt.Printf("Agents (%d):\n", len(cfg.Agents))
	for _, name := range sortedKeys(cfg.Agents) {
		a := cfg.Agents[name]
		desc := a.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Printf("  - %s: %s\n", name, desc)
	}

	fmt.Printf("Sessions: %s\n", cfg.Sessions.Backend)
	fmt.Printf("Server:   %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

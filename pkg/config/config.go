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

// Package config declares the YAML configuration and its loader.
//
// A config file describes models, agents, tools, session storage, the HTTP
// server, and observability. Loading runs a fixed pipeline: parse, expand
// environment references, decode, apply defaults, validate. Every section
// implements SetDefaults and Validate, so a zero config file still produces
// a runnable setup when the environment carries credentials.
package config

import (
	"fmt"

	"github.com/kadirpekel/loom/pkg/logger"
	"github.com/kadirpekel/loom/pkg/observability"
)

// Provider identifies a model provider type.
type Provider string

const (
	ProviderAzure  Provider = "azure"
	ProviderGemini Provider = "gemini"
)

// Config is the root configuration document.
type Config struct {
	// Logging configures the process-wide logger.
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" jsonschema:"title=Logging,description=Process logging settings"`

	// Server configures HTTP hosting.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty" jsonschema:"title=Server,description=HTTP server settings"`

	// Observability configures tracing and metrics.
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty" jsonschema:"title=Observability,description=Tracing and metrics settings"`

	// Models declares model providers by reference name.
	Models map[string]*ModelConfig `yaml:"models,omitempty" json:"models,omitempty" jsonschema:"title=Models,description=Model providers by reference name"`

	// Sessions configures conversation persistence.
	Sessions SessionsConfig `yaml:"sessions,omitempty" json:"sessions,omitempty" jsonschema:"title=Sessions,description=Session storage settings"`

	// Agents declares agents by name.
	Agents map[string]*AgentConfig `yaml:"agents,omitempty" json:"agents,omitempty" jsonschema:"title=Agents,description=Agents by name"`
}

// SetDefaults applies defaults across all sections.
// An empty models section gets a "default" entry filled from the
// environment, so a minimal config stays runnable.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	c.Sessions.SetDefaults()

	if len(c.Models) == 0 {
		c.Models = map[string]*ModelConfig{"default": {}}
	}
	for _, m := range c.Models {
		m.SetDefaults()
	}
	for _, a := range c.Agents {
		a.SetDefaults()
	}
}

// Validate checks the whole document, including cross-references from
// agents to models.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := c.Sessions.Validate(); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	for name, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("model %q: %w", name, err)
		}
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	for name, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
		if _, ok := c.Models[a.Model]; !ok {
			return fmt.Errorf("agent %q: unknown model reference %q", name, a.Model)
		}
	}
	return nil
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"title=Level,description=Minimum log level,enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// Format selects the output layout: simple or verbose.
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"title=Format,description=Log output format,enum=simple,enum=verbose,default=simple"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error {
	if _, err := logger.ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "simple", "verbose":
		return nil
	default:
		return fmt.Errorf("unknown log format: %q (valid: simple, verbose)", c.Format)
	}
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind. Default 0.0.0.0.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Bind address,default=0.0.0.0"`

	// Port to listen on. Default 8080.
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Listen port,minimum=1,maximum=65535,default=8080"`

	// Health enables the health endpoint. Default true.
	Health *bool `yaml:"health,omitempty" json:"health,omitempty" jsonschema:"title=Health,description=Expose the health endpoint,default=true"`

	// Auth configures bearer token validation.
	Auth AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty" jsonschema:"title=Auth,description=Bearer token validation"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Health == nil {
		health := true
		c.Health = &health
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return c.Auth.Validate()
}

// HealthEnabled reports whether the health endpoint is on.
func (c *ServerConfig) HealthEnabled() bool {
	return c.Health == nil || *c.Health
}

// AuthConfig configures JWT validation for incoming requests.
type AuthConfig struct {
	// Enabled turns on bearer token validation.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Require bearer tokens,default=false"`

	// JWKSURL is the JSON Web Key Set endpoint of the identity provider.
	JWKSURL string `yaml:"jwks_url,omitempty" json:"jwks_url,omitempty" jsonschema:"title=JWKS URL,description=Key set endpoint for signature validation"`

	// Issuer restricts accepted tokens to this issuer when set.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty" jsonschema:"title=Issuer,description=Expected token issuer"`

	// Audience restricts accepted tokens to this audience when set.
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty" jsonschema:"title=Audience,description=Expected token audience"`
}

func (c *AuthConfig) Validate() error {
	if c.Enabled && c.JWKSURL == "" {
		return fmt.Errorf("jwks_url is required when auth is enabled")
	}
	return nil
}

// ModelConfig configures one model provider.
type ModelConfig struct {
	// Provider type: azure or gemini. Detected from the environment when
	// empty.
	Provider Provider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Model provider,enum=azure,enum=gemini"`

	// Model is the model or deployment name.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model or deployment name"`

	// APIKey authenticates gemini. Supports ${VAR} expansion; falls back
	// to GEMINI_API_KEY.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// Endpoint is the Azure AI Foundry project endpoint.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint,description=Azure AI Foundry project endpoint"`

	// TenantID, ClientID and ClientSecret identify the Azure service
	// principal for the client-credentials flow.
	TenantID     string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty" jsonschema:"title=Tenant ID,description=Azure tenant"`
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty" jsonschema:"title=Client ID,description=Azure service principal"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty" jsonschema:"title=Client Secret,description=Azure service principal secret (use ${ENV_VAR})"`

	// Agent addresses a published Azure server-side agent by reference.
	Agent string `yaml:"agent,omitempty" json:"agent,omitempty" jsonschema:"title=Agent Reference,description=Published Azure agent reference"`

	// Temperature for generation (0 to 2).
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2"`

	// MaxOutputTokens limits response length.
	MaxOutputTokens int `yaml:"max_output_tokens,omitempty" json:"max_output_tokens,omitempty" jsonschema:"title=Max Output Tokens,description=Response length limit,minimum=1"`

	// TopP controls nucleus sampling (0 to 1).
	TopP *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty" jsonschema:"title=Top P,description=Nucleus sampling,minimum=0,maximum=1"`
}

func (c *ModelConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderAzure:
			c.Model = "gpt-4o"
		case ProviderGemini:
			c.Model = "gemini-2.0-flash"
		}
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(string(c.Provider))
	}
	if c.Provider == ProviderAzure {
		if c.Endpoint == "" {
			c.Endpoint = getenv("AZURE_AI_ENDPOINT")
		}
		if c.TenantID == "" {
			c.TenantID = getenv("AZURE_TENANT_ID")
		}
		if c.ClientID == "" {
			c.ClientID = getenv("AZURE_CLIENT_ID")
		}
		if c.ClientSecret == "" {
			c.ClientSecret = getenv("AZURE_CLIENT_SECRET")
		}
	}
}

func (c *ModelConfig) Validate() error {
	switch c.Provider {
	case ProviderAzure:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required for provider %q", c.Provider)
		}
		if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("tenant_id, client_id and client_secret are required for provider %q", c.Provider)
		}
	case ProviderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for provider %q", c.Provider)
		}
	default:
		return fmt.Errorf("invalid provider %q (valid: azure, gemini)", c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	return nil
}

// SessionsConfig configures conversation persistence.
type SessionsConfig struct {
	// Backend selects the store: memory or sql. Default memory.
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,description=Session store,enum=memory,enum=sql,default=memory"`

	// Driver is the database/sql driver for the sql backend:
	// sqlite3, postgres or mysql. Default sqlite3.
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"title=Driver,description=SQL driver,enum=sqlite3,enum=postgres,enum=mysql,default=sqlite3"`

	// DSN is the data source name for the sql backend.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" jsonschema:"title=DSN,description=Database connection string (use ${ENV_VAR})"`
}

func (c *SessionsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Driver == "" {
		c.Driver = "sqlite3"
	}
}

func (c *SessionsConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sql":
		switch c.Driver {
		case "sqlite", "sqlite3", "postgres", "mysql":
		default:
			return fmt.Errorf("invalid driver %q (valid: sqlite3, postgres, mysql)", c.Driver)
		}
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for the sql backend")
		}
		return nil
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql)", c.Backend)
	}
}

// AgentConfig configures one agent.
type AgentConfig struct {
	// Description of the agent, shown on agent cards.
	Description string `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"title=Description,description=What the agent does"`

	// Model references a configured model by name. Default "default".
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model Reference,description=References a configured model by name,default=default"`

	// Instructions is the system prompt.
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty" jsonschema:"title=Instructions,description=System prompt"`

	// MaxToolIterations caps tool rounds per turn.
	MaxToolIterations int `yaml:"max_tool_iterations,omitempty" json:"max_tool_iterations,omitempty" jsonschema:"title=Max Tool Iterations,description=Tool dispatch rounds per turn,minimum=1,default=5"`

	// Memory enables context providers for this agent.
	Memory MemoryConfig `yaml:"memory,omitempty" json:"memory,omitempty" jsonschema:"title=Memory,description=Context providers"`

	// MCPServers lists MCP servers whose tools this agent can call.
	MCPServers []MCPServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty" jsonschema:"title=MCP Servers,description=MCP tool servers"`
}

func (c *AgentConfig) SetDefaults() {
	if c.Model == "" {
		c.Model = "default"
	}
}

func (c *AgentConfig) Validate() error {
	if c.MaxToolIterations < 0 {
		return fmt.Errorf("max_tool_iterations must be positive")
	}
	for i := range c.MCPServers {
		if err := c.MCPServers[i].Validate(); err != nil {
			return fmt.Errorf("mcp server %d: %w", i, err)
		}
	}
	return c.Memory.Validate()
}

// MemoryConfig enables context providers for an agent.
type MemoryConfig struct {
	// Preferences extracts and injects user facts.
	Preferences bool `yaml:"preferences,omitempty" json:"preferences,omitempty" jsonschema:"title=Preferences,description=Extract and inject user facts,default=false"`

	// History maintains a token-budgeted rolling transcript.
	History *HistoryMemoryConfig `yaml:"history,omitempty" json:"history,omitempty" jsonschema:"title=History,description=Rolling transcript settings"`
}

func (c *MemoryConfig) Validate() error {
	if c.History != nil && c.History.MaxTokens < 0 {
		return fmt.Errorf("history max_tokens must be positive")
	}
	return nil
}

// HistoryMemoryConfig configures the rolling transcript provider.
type HistoryMemoryConfig struct {
	// MaxTokens is the transcript budget. Default 2000.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Transcript token budget,minimum=1,default=2000"`

	// Model selects the token encoding. Empty uses a character estimate.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Token encoding model"`
}

// MCPServerConfig connects an agent to one MCP server.
// Exactly one of Command (stdio) or URL (streamable-http) must be set.
type MCPServerConfig struct {
	// Name identifies the server in logs.
	Name string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"title=Name,description=Server name"`

	// Command starts a server subprocess (stdio transport).
	Command string `yaml:"command,omitempty" json:"command,omitempty" jsonschema:"title=Command,description=Subprocess command (stdio transport)"`

	// Args for the subprocess.
	Args []string `yaml:"args,omitempty" json:"args,omitempty" jsonschema:"title=Args,description=Subprocess arguments"`

	// Env for the subprocess, merged over the inherited environment.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty" jsonschema:"title=Env,description=Subprocess environment"`

	// URL of a streamable-http server.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Server URL (streamable-http transport)"`

	// Filter limits which advertised tools are exposed. Empty means all.
	Filter []string `yaml:"filter,omitempty" json:"filter,omitempty" jsonschema:"title=Filter,description=Allowed tool names"`
}

func (c *MCPServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if (c.Command == "") == (c.URL == "") {
		return fmt.Errorf("exactly one of command or url must be set")
	}
	return nil
}

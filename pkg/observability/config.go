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

// Package observability wires OpenTelemetry tracing and Prometheus metrics.
//
// Both concerns are off by default and controlled by Config. The Manager
// owns the tracer provider and the metrics recorder for a process; code
// that emits metrics depends only on the Metrics interface, so disabled
// observability costs a nil check per record.
package observability

import (
	"fmt"
	"time"
)

const (
	DefaultServiceName  = "loom"
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
	DefaultSamplingRate = 1.0
)

// Span names and attribute keys shared by the middleware and the agent loop.
const (
	AttrAgentName  = "agent.name"
	AttrModelName  = "model.name"
	AttrToolName   = "tool.name"
	AttrErrorType  = "error.type"
	AttrHTTPMethod = "http.method"
	AttrHTTPPath   = "http.path"
	AttrHTTPStatus = "http.status_code"
	AttrHTTPSize   = "http.response_size"

	SpanAgentRun     = "agent.run"
	SpanModelRequest = "agent.model_request"
	SpanToolCall     = "agent.tool_call"
	SpanHTTPRequest  = "http.request"
)

// Config configures the observability system.
type Config struct {
	// Tracing configures OpenTelemetry distributed tracing.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Metrics configures Prometheus metrics collection.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on distributed tracing.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter selects the span exporter.
	// Values: "otlp" (default, gRPC) or "stdout"
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate controls what fraction of traces are sampled.
	// Range: 0.0 (none) to 1.0 (all). Default: 1.0
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this service in traces.
	// Default: "loom"
	ServiceName string `yaml:"service_name,omitempty"`

	// Insecure disables TLS for the OTLP connection.
	// Default: true (for local development)
	Insecure *bool `yaml:"insecure,omitempty"`

	// Timeout bounds exporter shutdown.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on metrics collection.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the path to expose metrics on.
	// Default: "/metrics"
	Endpoint string `yaml:"endpoint,omitempty"`
}

// SetDefaults applies default values to Config.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks the Config for errors.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// SetDefaults applies default values to TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks TracingConfig for errors.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	switch c.Exporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter)
	}
	if c.Exporter == "otlp" && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for the otlp exporter")
	}
	return nil
}

// IsInsecure reports whether to skip TLS for the OTLP connection.
func (c *TracingConfig) IsInsecure() bool {
	if c.Insecure == nil {
		return true
	}
	return *c.Insecure
}

// SetDefaults applies default values to MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
}

// Validate checks MetricsConfig for errors.
func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when metrics are enabled")
	}
	return nil
}

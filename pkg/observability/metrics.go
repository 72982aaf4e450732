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

package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// instrumentSet creates meter instruments and remembers the first error, so
// InitMetrics reads as a flat list instead of a ladder of error checks.
type instrumentSet struct {
	meter metric.Meter
	err   error
}

func (s *instrumentSet) counter(name, desc string) metric.Int64Counter {
	if s.err != nil {
		return nil
	}
	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		s.err = fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return c
}

func (s *instrumentSet) histogram(name, desc string) metric.Float64Histogram {
	if s.err != nil {
		return nil
	}
	h, err := s.meter.Float64Histogram(name, metric.WithDescription(desc))
	if err != nil {
		s.err = fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return h
}

// InitMetrics builds the Prometheus-backed recorder described by cfg.
// Disabled metrics return a zero-value recorder whose methods do nothing.
func InitMetrics(cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	set := &instrumentSet{meter: meterProvider.Meter("loom")}
	m := &PrometheusMetrics{
		agentDuration:  set.histogram("loom_agent_run_duration_seconds", "Agent run duration in seconds"),
		agentRunsTotal: set.counter("loom_agent_runs_total", "Total agent runs"),
		agentErrors:    set.counter("loom_agent_errors_total", "Total agent run errors"),
		agentTokens:    set.counter("loom_agent_tokens_used_total", "Total tokens used by agent runs"),
		modelDuration:  set.histogram("loom_model_request_duration_seconds", "Model request duration in seconds"),
		modelTokensIn:  set.counter("loom_model_tokens_input_total", "Total input tokens sent to models"),
		modelTokensOut: set.counter("loom_model_tokens_output_total", "Total output tokens from models"),
		modelErrors:    set.counter("loom_model_errors_total", "Total model request errors"),
		toolDuration:   set.histogram("loom_tool_call_duration_seconds", "Tool call duration in seconds"),
		toolCallsTotal: set.counter("loom_tool_calls_total", "Total tool calls"),
		toolErrors:     set.counter("loom_tool_errors_total", "Total tool call errors"),
		httpDuration:   set.histogram("loom_http_request_duration_seconds", "HTTP request duration in seconds"),
		httpReqsTotal:  set.counter("loom_http_requests_total", "Total HTTP requests"),
	}
	if set.err != nil {
		return nil, set.err
	}
	return m, nil
}

// MetricsHandler serves the Prometheus scrape endpoint.
// The OTel prometheus exporter registers with the default registry, which is
// what this handler exposes.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

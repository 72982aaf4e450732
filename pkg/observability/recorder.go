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
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the runtime's operational measurements.
// Implementations must tolerate a nil receiver and partial initialization.
type Metrics interface {
	RecordAgentRun(ctx context.Context, agent string, duration time.Duration, tokens int, err error)
	RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration)
}

// PrometheusMetrics implements Metrics on OTel instruments exported through
// the Prometheus exporter. The zero value records nothing.
type PrometheusMetrics struct {
	agentDuration  metric.Float64Histogram
	agentRunsTotal metric.Int64Counter
	agentErrors    metric.Int64Counter
	agentTokens    metric.Int64Counter

	modelDuration  metric.Float64Histogram
	modelTokensIn  metric.Int64Counter
	modelTokensOut metric.Int64Counter
	modelErrors    metric.Int64Counter

	toolDuration   metric.Float64Histogram
	toolCallsTotal metric.Int64Counter
	toolErrors     metric.Int64Counter

	httpDuration  metric.Float64Histogram
	httpReqsTotal metric.Int64Counter
}

func (m *PrometheusMetrics) RecordAgentRun(ctx context.Context, agent string, duration time.Duration, tokens int, err error) {
	if m == nil || m.agentDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrAgentName, agent))
	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentRunsTotal.Add(ctx, 1, attrs)
	if tokens > 0 {
		m.agentTokens.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		m.agentErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.modelDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrModelName, model))
	m.modelDuration.Record(ctx, duration.Seconds(), attrs)
	m.modelTokensIn.Add(ctx, int64(inputTokens), attrs)
	m.modelTokensOut.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.modelErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrToolName, tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCallsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
		attribute.String(AttrHTTPStatus, strconv.Itoa(statusCode)),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpReqsTotal.Add(ctx, 1, attrs)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordAgentRun(context.Context, string, time.Duration, int, error)       {}
func (NoopMetrics) RecordModelCall(context.Context, string, time.Duration, int, int, error) {}
func (NoopMetrics) RecordToolCall(context.Context, string, time.Duration, error)            {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration)   {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder, which may be nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

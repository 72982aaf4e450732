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
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Manager owns the tracer provider and metrics recorder for a process.
type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        Metrics
	config         Config
	mu             sync.RWMutex
}

func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Initialize builds the tracer and metrics from the config and installs the
// metrics recorder globally.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := InitMetrics(m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics

	SetGlobalMetrics(m.metrics)
	return nil
}

func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tracerProvider == nil {
		return GetTracer(name)
	}
	return m.tracerProvider.Tracer(name)
}

func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsEnabled reports whether the Prometheus endpoint should be served.
func (m *Manager) MetricsEnabled() bool {
	return m.config.Metrics.Enabled
}

// MetricsEndpoint returns the configured metrics path.
func (m *Manager) MetricsEndpoint() string {
	return m.config.Metrics.Endpoint
}

// Shutdown flushes pending spans. The provider installed for disabled
// tracing has no Shutdown, hence the assertion.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sd, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return sd.Shutdown(ctx)
	}
	return nil
}

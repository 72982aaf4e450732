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

// Package server hosts agents behind a REST API.
//
// Each agent gets its own URL space under /api/agents/{agent}: POST /run
// executes a turn (synchronously, or asynchronously with 202 + polling),
// and the agent card is published at the A2A well-known path. The server
// carries the ambient concerns itself: request spans and metrics, bearer
// token auth, CORS, and graceful shutdown.
//
// # Usage
//
//	srv, err := server.New(cfg.Server, []*agent.Agent{assistant},
//	    server.WithSessionService(sessions),
//	)
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/loom/pkg/agent"
	"github.com/kadirpekel/loom/pkg/auth"
	"github.com/kadirpekel/loom/pkg/config"
	"github.com/kadirpekel/loom/pkg/observability"
	"github.com/kadirpekel/loom/pkg/session"
)

const (
	shutdownTimeout = 5 * time.Second

	// maxRequestBody bounds the prompt size accepted on /run.
	maxRequestBody = 1 << 20
)

// Server hosts a set of agents over HTTP.
type Server struct {
	cfg      config.ServerConfig
	agents   map[string]*agent.Agent
	order    []string
	cards    map[string]*a2a.AgentCard
	sessions session.Service
	auth     auth.TokenValidator
	obs      *observability.Manager
	runs     *runStore
	version  string
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSessionService enables session continuation across requests via the
// session query parameter.
func WithSessionService(svc session.Service) Option {
	return func(s *Server) {
		s.sessions = svc
	}
}

// WithAuthValidator enables bearer token validation on agent endpoints.
func WithAuthValidator(v auth.TokenValidator) Option {
	return func(s *Server) {
		s.auth = v
	}
}

// WithObservability wires request tracing and the metrics endpoint.
func WithObservability(obs *observability.Manager) Option {
	return func(s *Server) {
		s.obs = obs
	}
}

// WithVersion sets the version advertised on agent cards.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// New builds a Server hosting the given agents.
func New(cfg config.ServerConfig, agents []*agent.Agent, opts ...Option) (*Server, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	cfg.SetDefaults()

	s := &Server{
		cfg:     cfg,
		agents:  make(map[string]*agent.Agent, len(agents)),
		cards:   make(map[string]*a2a.AgentCard, len(agents)),
		runs:    newRunStore(),
		version: "dev",
	}
	for _, a := range agents {
		if _, ok := s.agents[a.Name()]; ok {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name())
		}
		s.agents[a.Name()] = a
		s.order = append(s.order, a.Name())
	}
	sort.Strings(s.order)

	for _, opt := range opts {
		opt(s)
	}

	baseURL := "http://" + s.Address()
	for name, a := range s.agents {
		s.cards[name] = s.buildAgentCard(a, baseURL+"/api/agents/"+name)
	}

	return s, nil
}

// Address returns the host:port the server binds.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.Address(), "agents", len(s.agents))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests within the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	slog.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler builds the full middleware and routing stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	if s.obs != nil {
		r.Use(observability.HTTPMiddleware(s.obs.Tracer("loom/server"), s.obs.Metrics()))
	}
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	if s.auth != nil {
		exclude := []string{"/api/health", "/.well-known/"}
		if s.obs != nil && s.obs.MetricsEnabled() {
			exclude = append(exclude, s.obs.MetricsEndpoint())
		}
		r.Use(auth.Middleware(s.auth, exclude))
		slog.Info("Authentication enabled", "excluded_paths", exclude)
	}

	if s.cfg.HealthEnabled() {
		r.Get("/api/health", s.handleHealth)
	}
	if s.obs != nil && s.obs.MetricsEnabled() {
		r.Method(http.MethodGet, s.obs.MetricsEndpoint(), observability.MetricsHandler())
	}

	r.Get("/.well-known/agent-card.json", s.handleDefaultCard)
	r.Get("/api/agents", s.handleDiscovery)

	r.Route("/api/agents/{agent}", func(r chi.Router) {
		r.Get("/.well-known/agent-card.json", s.handleCard)
		r.Post("/run", s.handleRun)
		r.Get("/runs/{run}", s.handleRunStatus)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDiscovery lists every hosted agent's card.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	cards := make([]*a2a.AgentCard, 0, len(s.order))
	for _, name := range s.order {
		cards = append(cards, s.cards[name])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": cards,
		"total":  len(cards),
	})
}

// handleDefaultCard serves the first agent's card at the server-level
// well-known path, for single-agent clients.
func (s *Server) handleDefaultCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cards[s.order[0]])
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	card, ok := s.cards[chi.URLParam(r, "agent")]
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// handleRun executes one turn of the addressed agent.
//
// The prompt is the plain-text request body. With mode=async the server
// responds 202 immediately and the result is collected by polling the
// Location header; otherwise the response body is the agent's reply.
// A session query parameter continues (or starts) a named conversation.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent")
	a, ok := s.agents[name]
	if !ok {
		http.Error(w, "agent not found: "+name, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	input := string(body)
	if input == "" {
		http.Error(w, "request body is empty", http.StatusBadRequest)
		return
	}

	sess, err := s.resolveSession(r, name)
	if err != nil {
		http.Error(w, "session error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("mode") == "async" {
		// The run outlives the request; it must not inherit its deadline.
		runCtx := context.WithoutCancel(r.Context())
		id := s.runs.start(name, func() (string, error) {
			res, err := a.Run(runCtx, sess, input)
			if err != nil {
				return "", err
			}
			return res.OutputText, nil
		})

		location := fmt.Sprintf("/api/agents/%s/runs/%s", name, id)
		w.Header().Set("Location", location)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id":   id,
			"status":   string(runStatusRunning),
			"location": location,
		})
		return
	}

	res, err := a.Run(r.Context(), sess, input)
	if err != nil {
		slog.Error("Agent run failed", "agent", name, "error", err)
		http.Error(w, "agent run failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if sess != nil {
		w.Header().Set("X-Session-ID", sess.ID)
	}
	_, _ = w.Write([]byte(res.OutputText))
}

// handleRunStatus reports an async run: 202 while running, the plain-text
// output once completed, 500 once failed.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	rn, ok := s.runs.get(chi.URLParam(r, "run"))
	if !ok || rn.agent != chi.URLParam(r, "agent") {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	switch rn.status {
	case runStatusRunning:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(rn.status)})
	case runStatusFailed:
		slog.Debug("Reporting failed run", "run", rn.id, "error", rn.err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": string(rn.status),
			"error":  "agent run failed",
		})
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(rn.output))
	}
}

// resolveSession loads or creates the session named by the request, or
// returns nil for one-shot runs.
func (s *Server) resolveSession(r *http.Request, agentName string) (*session.Session, error) {
	sessionID := r.URL.Query().Get("session")
	if s.sessions == nil || sessionID == "" {
		return nil, nil
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = "anonymous"
	}

	got, err := s.sessions.Get(r.Context(), &session.GetRequest{
		AppName:   agentName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err == nil {
		return got.Session, nil
	}
	if err != session.ErrSessionNotFound {
		return nil, err
	}

	created, err := s.sessions.Create(r.Context(), &session.CreateRequest{
		AppName:   agentName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	return created.Session, nil
}

// buildAgentCard publishes the agent per the A2A discovery document.
func (s *Server) buildAgentCard(a *agent.Agent, url string) *a2a.AgentCard {
	card := &a2a.AgentCard{
		Name:               a.Name(),
		Description:        a.Description(),
		URL:                url,
		Version:            s.version,
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          a.Name(),
			Name:        a.Name(),
			Description: a.Description(),
			Tags:        []string{"general", "assistant"},
		}},
		Capabilities: a2a.AgentCapabilities{
			Streaming:              false,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		PreferredTransport: a2a.TransportProtocolHTTPJSON,
	}

	if s.auth != nil {
		card.SecuritySchemes = a2a.NamedSecuritySchemes{
			"BearerAuth": a2a.HTTPAuthSecurityScheme{
				Scheme:       "bearer",
				BearerFormat: "JWT",
				Description:  "JWT bearer token authentication",
			},
		}
		card.Security = []a2a.SecurityRequirements{
			{"BearerAuth": a2a.SecuritySchemeScopes{}},
		}
	}

	return card
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// loggingMiddleware logs requests without wrapping the ResponseWriter, so
// http.Flusher keeps working downstream.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

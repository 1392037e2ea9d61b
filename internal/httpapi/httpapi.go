// Package httpapi implements the admin/introspection HTTP surface
// (SPEC_FULL.md §12.5). It sits outside the WebCodecs-facing API
// entirely (spec.md §6.1 is exhaustive there) and gives a server
// deployment operational visibility into the resource manager: which
// instances are registered, their queue depth and saturation, a manual
// reclaim trigger, Prometheus metrics, and dynamic log-level control.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codecbridge/webcodecs/internal/http/middleware"
	"github.com/codecbridge/webcodecs/internal/observability"
	"github.com/codecbridge/webcodecs/internal/resourcemgr"
)

// Config holds admin server configuration.
type Config struct {
	// Host is the address to bind to (default: "127.0.0.1" — this surface
	// is operational tooling, not meant for public exposure).
	Host string
	// Port is the port to listen on (default: 9090).
	Port int
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration
	// ShutdownTimeout is the maximum duration to wait for active connections to close.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            9090,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the admin HTTP server.
type Server struct {
	config     Config
	router     *chi.Mux
	manager    *resourcemgr.Manager
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer constructs an admin Server routed over the given resource
// manager. The manager may be registered with instances after the server
// is constructed; routes read it live on every request.
func NewServer(config Config, manager *resourcemgr.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.SkipCompressionForSSE(chimiddleware.Compress(5)))

	s := &Server{
		config:  config,
		router:  router,
		manager: manager,
		logger:  logger,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(instanceCollector{manager: manager})
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	router.Get("/instances", s.handleListInstances)
	router.Get("/instances/events", s.handleInstanceEvents)
	router.Post("/reclaim", s.handleReclaim)
	router.Put("/loglevel", s.handleSetLogLevel)
	router.Get("/loglevel", s.handleGetLogLevel)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return s
}

// Router returns the chi router, for registering additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start starts the admin HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting admin HTTP server", slog.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// instanceResponse is the JSON shape of one entry in GET /instances.
type instanceResponse struct {
	ID           string  `json:"id"`
	GroupID      string  `json:"group_id"`
	Kind         string  `json:"kind"`
	Background   bool    `json:"background"`
	Closed       bool    `json:"closed"`
	Saturated    bool    `json:"saturated"`
	QueueSize    int     `json:"queue_size"`
	LastActivity *string `json:"last_activity,omitempty"`
	// ProcessCPUPercent/ProcessRSSBytes are omitted entirely when the
	// instance has no backend process to sample (unconfigured, closed, or a
	// backend that doesn't run as a subprocess).
	ProcessCPUPercent *float64 `json:"process_cpu_percent,omitempty"`
	ProcessRSSBytes   *uint64  `json:"process_rss_bytes,omitempty"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.instanceResponses())
}

// instanceResponses converts the resource manager's live snapshot into the
// admin surface's JSON shape, shared by the polled and streamed endpoints.
func (s *Server) instanceResponses() []instanceResponse {
	views := s.manager.Instances()
	out := make([]instanceResponse, 0, len(views))
	for _, v := range views {
		resp := instanceResponse{
			ID:         v.ID,
			GroupID:    v.GroupID,
			Kind:       v.Kind,
			Background: v.Background,
			Closed:     v.Closed,
			Saturated:  v.Saturated,
			QueueSize:  v.QueueSize,
		}
		if !v.LastActivity.IsZero() {
			formatted := v.LastActivity.UTC().Format(time.RFC3339Nano)
			resp.LastActivity = &formatted
		}
		if v.HasProcessStats {
			cpu := v.ProcessCPUPercent
			rss := v.ProcessRSSBytes
			resp.ProcessCPUPercent = &cpu
			resp.ProcessRSSBytes = &rss
		}
		out = append(out, resp)
	}
	return out
}

// instanceEventsInterval is how often handleInstanceEvents pushes a fresh
// snapshot to connected clients.
const instanceEventsInterval = 2 * time.Second

// handleInstanceEvents streams the live instance list as Server-Sent Events,
// one "instances" event per tick, until the client disconnects. Intended for
// an admin dashboard that wants to watch queue depth and saturation change
// without polling GET /instances itself.
func (s *Server) handleInstanceEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(instanceEventsInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		payload, err := json.Marshal(s.instanceResponses())
		if err != nil {
			s.logger.Warn("instance events: encode failed", slog.String("error", err.Error()))
			return
		}
		if _, err := fmt.Fprintf(w, "event: instances\ndata: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	reclaimed := s.manager.Reclaim()
	writeJSON(w, http.StatusOK, map[string]int{"reclaimed": reclaimed})
}

type logLevelRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req logLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Level == "" {
		http.Error(w, "level is required", http.StatusBadRequest)
		return
	}
	observability.SetLogLevel(req.Level)
	writeJSON(w, http.StatusOK, map[string]string{"level": observability.GetLogLevel()})
}

func (s *Server) handleGetLogLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"level": observability.GetLogLevel()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package http serves the administrative HTTP surface of the gateway:
// liveness, runtime log levels, pause/resume/reload of the publishing
// client, Prometheus metrics and aggregated health.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/c360/photgw/component"
	"github.com/c360/photgw/config"
	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/health"
	"github.com/c360/photgw/logging"
	"github.com/c360/photgw/metric"
	"github.com/c360/photgw/pkg/tlsutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxRequestSize  = 4 * 1024
	shutdownTimeout = 5 * time.Second
	systemName      = "photgw"
)

// Client is the part of the publisher the admin surface can drive.
type Client interface {
	Pause()
	Resume()
	Paused() bool
}

// Deps holds what the admin handlers act on. Reload, Client, Monitor and
// Metrics may be nil; their routes then answer 503 or are not mounted.
type Deps struct {
	Levels  *logging.Levels
	Client  Client
	Reload  func() error
	Monitor *health.Monitor
	Metrics *metric.MetricsRegistry
	Logger  *slog.Logger
}

// LevelInfo is the body of logger requests and responses.
type LevelInfo struct {
	Name  string `json:"name"`
	Level string `json:"level"`
}

// Server is the admin HTTP server.
type Server struct {
	cfg    config.AdminConfig
	deps   Deps
	mux    *http.ServeMux
	logger *slog.Logger

	mu   sync.Mutex
	addr net.Addr

	startTime      time.Time
	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	lastActivity   atomic.Int64
}

var (
	_ component.Runnable     = (*Server)(nil)
	_ component.Discoverable = (*Server)(nil)
)

// New builds the server and its routes. Nothing listens until Run.
func New(cfg config.AdminConfig, deps Deps) (*Server, error) {
	if deps.Levels == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "admin", "New", "log level registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "admin"),
		startTime: time.Now(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /v1", s.handleHello)

	s.mux.HandleFunc("GET /v1/loggers", s.handleList(logging.SpaceComponent))
	s.mux.HandleFunc("GET /v1/loggers/{name}", s.handleGetLevel(logging.SpaceComponent))
	s.mux.HandleFunc("PUT /v1/loggers/{name}", s.handleSetLevel(logging.SpaceComponent))
	s.mux.HandleFunc("GET /v1/ploggers", s.handleList(logging.SpaceDevice))
	s.mux.HandleFunc("GET /v1/ploggers/{name}", s.handleGetLevel(logging.SpaceDevice))
	s.mux.HandleFunc("PUT /v1/ploggers/{name}", s.handleSetLevel(logging.SpaceDevice))

	s.mux.HandleFunc("POST /v1/client/pause", s.handlePause)
	s.mux.HandleFunc("POST /v1/client/resume", s.handleResume)
	s.mux.HandleFunc("POST /v1/client/reload", s.handleReload)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /healthz", s.handleLiveness)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
}

// Handler returns the routed handler with request accounting.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestsTotal.Add(1)
		s.lastActivity.Store(time.Now().UnixNano())
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.mux.ServeHTTP(rec, r)
		if rec.status >= 400 {
			s.requestsFailed.Add(1)
		}
	})
}

// Name implements component.Runnable.
func (s *Server) Name() string { return "admin" }

// Addr returns the bound address once Run is listening, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	var tlsCfg *tls.Config
	if s.cfg.TLS.Enabled {
		var err error
		if tlsCfg, err = tlsutil.ServerConfig(s.cfg.TLS); err != nil {
			return errors.WrapFatal(err, "admin", "Run", "tls setup")
		}
	}

	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return errors.WrapTransient(err, "admin", "Run", "listen "+s.cfg.Address())
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	served := make(chan error, 1)
	go func() { served <- server.Serve(ln) }()
	s.logger.Info("Admin interface listening", "address", ln.Addr().String(), "tls", tlsCfg != nil)

	select {
	case err := <-served:
		return errors.WrapTransient(err, "admin", "Run", "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Admin interface shutdown failed", "error", err)
	}
	<-served
	return nil
}

func (s *Server) handleHello(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("Received hello request")
	s.writeJSON(w, http.StatusOK, message("I'm alive"))
}

func (s *Server) handleList(space logging.Space) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		entries := s.deps.Levels.List(space)
		s.logger.Debug("Logger list request", "space", space, "count", len(entries))
		s.writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleGetLevel(space logging.Space) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := loggerName(space, r.PathValue("name"))
		level, ok := s.deps.Levels.Get(space, name)
		if !ok {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("Logger %s not yet available", name))
			return
		}
		s.writeJSON(w, http.StatusOK, LevelInfo{Name: name, Level: logging.LevelName(level)})
	}
}

func (s *Server) handleSetLevel(space logging.Space) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := loggerName(space, r.PathValue("name"))

		var body LevelInfo
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Name != "" && loggerName(space, body.Name) != name {
			s.writeError(w, http.StatusBadRequest, "logger name does not match path")
			return
		}
		level, err := logging.ParseLevel(body.Level)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid level %q", body.Level))
			return
		}
		if err := s.deps.Levels.Set(space, name, level); err != nil {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("Logger %s not yet available", name))
			return
		}

		s.logger.Info("Logger level changed", "space", space, "logger", name, "level", logging.LevelName(level))
		s.writeJSON(w, http.StatusOK, LevelInfo{Name: name, Level: logging.LevelName(level)})
	}
}

// loggerName folds photometer names the way device configuration does.
func loggerName(space logging.Space, name string) string {
	if space == logging.SpaceDevice {
		return strings.ToLower(name)
	}
	return name
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Client == nil {
		s.writeError(w, http.StatusServiceUnavailable, "client not available")
		return
	}
	s.deps.Client.Pause()
	s.logger.Info("Client paused")
	s.writeJSON(w, http.StatusOK, message("Server paused operation"))
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Client == nil {
		s.writeError(w, http.StatusServiceUnavailable, "client not available")
		return
	}
	s.deps.Client.Resume()
	s.logger.Info("Client resumed")
	s.writeJSON(w, http.StatusOK, message("Server resumed operation"))
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Reload == nil {
		s.writeError(w, http.StatusServiceUnavailable, "reload not available")
		return
	}
	s.logger.Info("Reload configuration request")
	if err := s.deps.Reload(); err != nil {
		s.logger.Error("Reload failed", "error", err)
		status := http.StatusInternalServerError
		if errors.IsInvalid(err) {
			status = http.StatusUnprocessableEntity
		}
		s.writeError(w, status, health.Sanitize(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, message("Server reloaded"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Monitor == nil {
		s.writeJSON(w, http.StatusOK, health.NewHealthy(systemName, "no monitored components"))
		return
	}
	status := s.deps.Monitor.AggregateHealth(systemName)
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func message(text string) map[string]string {
	return map[string]string{"message": text}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		return err
	}
	if len(data) > maxRequestSize {
		return fmt.Errorf("request body exceeds %d bytes", maxRequestSize)
	}
	return json.Unmarshal(data, v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]any{"detail": detail, "status": status})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Meta implements component.Discoverable.
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "admin",
		Type:        "gateway",
		Description: "Administrative HTTP interface",
	}
}

// Health implements component.Discoverable.
func (s *Server) Health() component.HealthStatus {
	listening := s.Addr() != nil
	st := component.HealthStatus{
		Healthy:    listening,
		LastCheck:  time.Now(),
		ErrorCount: int(s.requestsFailed.Load()),
		Uptime:     time.Since(s.startTime),
	}
	if !listening {
		st.LastError = "not listening"
	}
	return st
}

// DataFlow implements component.Discoverable.
func (s *Server) DataFlow() component.FlowMetrics {
	total := s.requestsTotal.Load()
	var last time.Time
	if ns := s.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(int64(total), time.Since(s.startTime)),
		ErrorRate:         component.ErrorRate(int64(s.requestsFailed.Load()), int64(total)),
		LastActivity:      last,
	}
}

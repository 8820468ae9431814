package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"i4.energy/across/modemdiag/diag"
	"i4.energy/across/modemdiag/profile"
)

// maxCommandTimeout bounds the timeout a client may ask for.
const maxCommandTimeout = 2 * time.Minute

// Server handles incoming HTTP requests for interacting with the
// connected modem
type Server struct {
	Logger    *slog.Logger
	Runner    *diag.Runner
	Detection *profile.Detection
	Gatherer  prometheus.Gatherer

	// mu keeps a diagnostic run from interleaving with single commands
	mu     sync.Mutex
	once   sync.Once
	router http.Handler
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(s.routes)
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/diagnostics", s.handleDiagnostics)
	r.Get("/signal", s.handleSignal)
	r.Get("/status", s.handleStatus)
	r.Post("/command", s.handleCommand)

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router = r
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type HealthResponse struct {
		Status string `json:"status"`
		Link   string `json:"link"`
		Modem  string `json:"modem"`
	}
	s.sendJSON(w, HealthResponse{
		Status: "ok",
		Link:   s.Runner.Link.String(),
		Modem:  s.Detection.Description(),
	}, http.StatusOK)
}

// handleDiagnostics runs the full command set. The JSON record is returned
// unless format=text asks for the plain text report.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rec := s.Runner.Run(r.Context(), r.URL.Query().Get("name"), s.Detection)
	s.mu.Unlock()

	if err := r.Context().Err(); err != nil {
		s.Logger.Warn("Diagnostic run aborted by client", "error", err)
		return
	}

	s.Logger.Info("Diagnostic run finished", "record", rec.ID, "failed", len(rec.Failed()))

	var err error
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err = diag.WriteReport(w, rec)
	} else {
		w.Header().Set("Content-Type", "application/json")
		err = diag.WriteJSON(w, rec)
	}
	if err != nil {
		s.Logger.Error("Failed to write report", "error", err)
	}
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res := s.Runner.Signal(r.Context())
	s.mu.Unlock()

	s.sendJSON(w, res, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Results []*diag.CommandResult `json:"results"`
	}

	s.mu.Lock()
	results := s.Runner.QuickStatus(r.Context())
	s.mu.Unlock()

	s.sendJSON(w, StatusResponse{Results: results}, http.StatusOK)
}

// handleCommand sends one AT command. A command the modem rejects is still
// a 200 response; the result carries the status.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	type CommandRequest struct {
		Command string `json:"command"`
		Timeout string `json:"timeout"`
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd := strings.TrimSpace(req.Command)
	if cmd == "" {
		s.sendError(w, "'command' field is required", http.StatusBadRequest)
		return
	}
	if strings.ContainsAny(cmd, "\r\n") {
		s.sendError(w, "command must be a single line", http.StatusBadRequest)
		return
	}

	var timeout time.Duration
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err == nil && (d <= 0 || d > maxCommandTimeout) {
			err = errors.New("out of range")
		}
		if err != nil {
			s.sendError(w, "invalid timeout: "+err.Error(), http.StatusBadRequest)
			return
		}
		timeout = d
	}

	s.mu.Lock()
	res := s.Runner.Exec(r.Context(), profile.Command{Command: normalizeCommand(cmd), Timeout: timeout})
	s.mu.Unlock()

	s.Logger.Info("Command executed", "command", res.Command, "status", res.Status.String(), "elapsed", res.Elapsed)
	s.sendJSON(w, res, http.StatusOK)
}

type serveCommand struct {
	app *app
}

func (c *serveCommand) Execute([]string) error {
	a := c.app
	runner, det, err := a.connect(a.ctx)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr: a.config.BindAddress,
		Handler: &Server{
			Logger:    a.logger.With("component", "server"),
			Runner:    runner,
			Detection: det,
			Gatherer:  a.registry,
		},
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-a.ctx.Done():
		a.logger.Info("Received shutdown signal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.logger.Info("Closing HTTP server")
	return httpServer.Shutdown(ctx)
}

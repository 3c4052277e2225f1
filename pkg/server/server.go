// Package server is the HTTP call surface. It maps the host error
// taxonomy onto transport status codes and otherwise stays thin:
// dispatch owns validation, audit, and timeouts.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/dispatch"
	"github.com/datamancy/toolhost/pkg/hosterror"
)

// maxRequestBody bounds a call request. Statements and vectors are
// small; anything larger is abuse.
const maxRequestBody = 1 << 20

// CallRequest is the body of POST /v1/call.
type CallRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Caller    string          `json:"caller,omitempty"`
}

// CallResponse is the body of every /v1/call reply.
type CallResponse struct {
	OK     bool             `json:"ok"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *hosterror.Error `json:"error,omitempty"`
}

// Server serves the tool invocation API.
type Server struct {
	cfg        config.ServerConfig
	dispatcher *dispatch.Dispatcher
	catalog    *catalog.Catalog
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	server         *http.Server
	startTime      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
}

// New creates the server. The catalog must be sealed before Start.
func New(cfg config.ServerConfig, dispatcher *dispatch.Dispatcher, cat *catalog.Catalog, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		catalog:    cat,
		metrics:    m,
		logger:     logger.With().Str("component", "server").Logger(),
		startTime:  time.Now(),
	}
}

// Handler builds the route table. Exposed so tests can drive the
// server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/call", s.handleCall)
	mux.HandleFunc("/v1/tools", s.handleTools)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start blocks serving until Stop or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("host", s.cfg.Host).
		Int("port", s.cfg.Port).
		Int("tools", s.catalog.Len()).
		Msg("Starting call surface")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("call surface failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down call surface")
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down call surface: %w", err)
	}
	return nil
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.shutdownMu.RLock()
	shuttingDown := s.isShuttingDown
	s.shutdownMu.RUnlock()
	if shuttingDown {
		writeError(w, http.StatusServiceUnavailable,
			hosterror.New(hosterror.CodeBackendError, "server is shutting down"))
		return
	}

	var req CallRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest,
			hosterror.ValidationError("malformed request body: %v", err))
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest,
			hosterror.ValidationError("tool name is required"))
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), req.Tool, req.Arguments, req.Caller)
	if err != nil {
		he := hosterror.AsError(err)
		writeError(w, statusForCode(he.Code), he)
		return
	}

	writeJSON(w, http.StatusOK, CallResponse{OK: true, Result: result})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.catalog.List(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
		"tools":  s.catalog.Len(),
	})
}

// statusForCode maps the error taxonomy onto HTTP status codes.
func statusForCode(code hosterror.Code) int {
	switch code {
	case hosterror.CodeNotFound:
		return http.StatusNotFound
	case hosterror.CodeValidationError:
		return http.StatusBadRequest
	case hosterror.CodeUnprovisioned, hosterror.CodeQueryRejected:
		return http.StatusForbidden
	case hosterror.CodePoolExhausted:
		return http.StatusTooManyRequests
	case hosterror.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, he *hosterror.Error) {
	writeJSON(w, status, CallResponse{OK: false, Error: he})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

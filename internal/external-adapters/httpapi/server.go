// Package httpapi exposes the audit pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	orchestrators "github.com/ochairo/pkgaudit/internal/domain-orchestrators"
	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/gateways"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/repositories"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/services"
	"github.com/ochairo/pkgaudit/internal/external-adapters/packagejson"
)

// maxRequestBody bounds JSON request bodies other than manifest uploads
const maxRequestBody = 1 << 20

// Pipeline is the part of the orchestrator the API drives
type Pipeline interface {
	Submit(ctx context.Context, selection entities.DependencySelection) (string, error)
	State() (entities.PipelineState, string)
	EnvironmentState() entities.EnvironmentState
	Subscribe(observer orchestrators.Observer) func()
}

// Server serves the audit API
type Server struct {
	pipeline Pipeline
	runs     repositories.RunRepository
	codec    gateways.ReportCodec
	reports  services.ReportService
	manifest *packagejson.Reader
	logger   interfaces.Logger

	// runCtx outlives requests so submitted runs are not canceled when
	// the submitting request returns
	runCtx context.Context
	mux    *http.ServeMux
}

// NewServer creates the API server. Runs started through it use ctx.
func NewServer(
	ctx context.Context,
	pipeline Pipeline,
	runs repositories.RunRepository,
	codec gateways.ReportCodec,
	reports services.ReportService,
	logger interfaces.Logger,
) *Server {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	s := &Server{
		pipeline: pipeline,
		runs:     runs,
		codec:    codec,
		reports:  reports,
		manifest: packagejson.NewReader(),
		logger:   logger,
		runCtx:   ctx,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/v1/audits", s.handleSubmit)
	s.mux.HandleFunc("POST /api/v1/audits/manifest", s.handleSubmitManifest)
	s.mux.HandleFunc("GET /api/v1/audits", s.handleList)
	s.mux.HandleFunc("GET /api/v1/audits/{id}", s.handleGet)
	s.mux.HandleFunc("GET /api/v1/audits/{id}/raw", s.handleRaw)
	s.mux.HandleFunc("GET /api/v1/audits/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/v1/state", s.handleState)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is canceled
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", interfaces.F("addr", listener.Addr().String()))
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// Package server exposes the connection registry and the model detector
// over a local HTTP/JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-model-detector/internal/connector"
	"github.com/vitebski/mysql-model-detector/internal/detector"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/internal/store"
)

// Config holds the dependencies of the API server
type Config struct {
	Addr         string
	Registry     *connector.Registry
	Scanner      detector.SchemaScanner
	Orchestrator *detector.Orchestrator
	Logger       *logrus.Logger
}

// Server serves the API
type Server struct {
	addr         string
	registry     *connector.Registry
	scanner      detector.SchemaScanner
	orchestrator *detector.Orchestrator
	logger       *logrus.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	return &Server{
		addr:         cfg.Addr,
		registry:     cfg.Registry,
		scanner:      cfg.Scanner,
		orchestrator: cfg.Orchestrator,
		logger:       cfg.Logger,
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		s.requestLogger,
		middleware.Recoverer,
	)

	r.Route("/api", func(r chi.Router) {
		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.listConnections)
			r.Post("/", s.openConnection)
			r.Post("/test", s.testConnection)
			r.Delete("/{name}", s.closeConnection)
			r.Get("/{name}/status", s.connectionStatus)
			r.Post("/{name}/query", s.executeQuery)
		})

		r.Post("/scan", s.scan)

		r.Route("/model", func(r chi.Router) {
			r.Get("/", s.model)
			r.Post("/detect", s.detect)
			r.Post("/reload", s.reload)
			r.Post("/save", s.save)
			r.Post("/relationships", s.addRelationship)
			r.Put("/relationships", s.updateRelationship)
			r.Delete("/relationships", s.removeRelationship)
			r.Get("/tables/{table}/relationships", s.tableRelations)
		})
	})

	return r
}

// Serve starts the server and blocks until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("API listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Shutting down API server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(store.Response[interface{}]{
		Code:    status,
		Data:    data,
		Message: message,
	}); err != nil {
		s.logger.Errorf("Error encoding response: %v", err)
	}
}

func (s *Server) writeOK(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, data, "ok")
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorf("Request failed: %v", err)
	}
	s.writeJSON(w, status, nil, errs.MessageOf(err))
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindValidation:
		return http.StatusBadRequest
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindInvalidState:
		return http.StatusConflict
	case errs.ErrKindConnection, errs.ErrKindRemoteStore:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.ErrKindValidation, "malformed request body", err)
	}
	return nil
}

package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gocutoff/app"
	"gocutoff/internal/config"
	"gocutoff/internal/errors"
)

// Server exposes engine runs over HTTP
type Server struct {
	router  *chi.Mux
	config  *config.Config
	dataset *app.Dataset
	service *app.ThresholdService
}

// NewServer creates a server over a loaded dataset
func NewServer(cfg *config.Config, dataset *app.Dataset, service *app.ThresholdService) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		dataset: dataset,
		service: service,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Post("/", s.handleCreateRun)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/report", s.handleReport)
			r.Get("/folds", s.handleFolds)
			r.Get("/frequencies", s.handleFrequencies)
			r.Get("/features", s.handleFeatures)
			r.Get("/features/{feature}", s.handleFeature)
			r.Get("/features/{feature}/candidates", s.handleCandidates)
			r.Get("/features/{feature}/selection", s.handleSelection)
		})
	})
}

// Handler returns the router for embedding or testing
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Printf("[API] Shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %v", err)
	}
	writeJSON(w, status, ErrorResponse{Code: code, Message: err.Error()})
}

func statusFor(code string) int {
	switch code {
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeInvalidInput, errors.CodeValidationError, errors.CodeConfigInvalid, errors.CodeConfiguration:
		return http.StatusBadRequest
	case errors.CodeInsufficientData, errors.CodeStratificationError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

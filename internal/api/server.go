package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/ferry/internal/checkpoint"
	"github.com/MikeSquared-Agency/ferry/internal/extract"
)

// Sampler runs an in-memory sample extraction. *extract.Runner implements it.
type Sampler interface {
	Sample(ctx context.Context, opts extract.SampleOptions) (extract.Sample, error)
}

type Server struct {
	router   *chi.Mux
	port     int
	extracts checkpoint.Store
	loads    checkpoint.Store
	sampler  Sampler
	logger   *slog.Logger
}

// NewServer wires the ops routes. sampler is nil when no Botmaker token is configured.
func NewServer(port int, extracts, loads checkpoint.Store, sampler Sampler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		extracts: extracts,
		loads:    loads,
		sampler:  sampler,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/ferry/status", s.status)
	router.Get("/api/v1/ferry/sample", s.sample)
	router.Post("/api/v1/ferry/sample", s.sample)

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	lastExtract, err := s.checkpoint(r.Context(), s.extracts, checkpoint.LastExtract)
	if err != nil {
		s.logger.Error("read checkpoint", "name", checkpoint.LastExtract, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read checkpoints"})
		return
	}
	lastLoad, err := s.checkpoint(r.Context(), s.loads, checkpoint.LastLoad)
	if err != nil {
		s.logger.Error("read checkpoint", "name", checkpoint.LastLoad, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read checkpoints"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":        "ferry",
		"last_extract": lastExtract,
		"last_load":    lastLoad,
	})
}

// checkpoint returns the raw checkpoint, or nil when it has never been written.
func (s *Server) checkpoint(ctx context.Context, store checkpoint.Store, name string) (json.RawMessage, error) {
	if store == nil {
		return nil, nil
	}
	var raw json.RawMessage
	found, err := store.Get(ctx, name, &raw)
	if err != nil || !found {
		return nil, err
	}
	return raw, nil
}

func (s *Server) sample(w http.ResponseWriter, r *http.Request) {
	if s.sampler == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "incomplete credentials",
			"hint":  "Set BOTMAKER_API_TOKEN (and BOTMAKER_BASE_URL if needed) in the environment.",
		})
		return
	}

	result, err := s.sampler.Sample(r.Context(), extract.SampleOptions{MaxChats: 1, MessagesPerChat: 1})
	if err != nil {
		s.logger.Error("sample extraction failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "Botmaker request failed",
			"details": err.Error(),
			"hint":    "Check that the token can read the /chats and /messages APIs.",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

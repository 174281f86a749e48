package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"merch-copilot/internal/domain"
	"merch-copilot/internal/domain/ports/repository"
	"merch-copilot/internal/usecase"
)

// Server is the local admin/debug surface: health, prometheus metrics, the
// live transcript, and the archive index.
type Server struct {
	chatUC  usecase.ChatUseCase
	archive repository.ConversationArchive // optional
	apiKey  string
	log     *zerolog.Logger
	srv     *http.Server
}

func NewServer(chatUC usecase.ChatUseCase, archive repository.ConversationArchive, apiKey string, logger *zerolog.Logger) *Server {
	return &Server{chatUC: chatUC, archive: archive, apiKey: apiKey, log: logger}
}

// Routes builds the admin router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/conversation", s.handleConversation)
		r.Get("/archive", s.handleArchive)
		r.Get("/archive/{id}", s.handleArchivedConversation)
	})
	return r
}

func (s *Server) Start(port int) error {
	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: s.Routes()}
	s.log.Info().Int("port", port).Msg("admin server listening")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.apiKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.chatUC.Conversation())
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive not configured", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recent, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("archive listing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleArchivedConversation(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "archive not configured", http.StatusNotFound)
		return
	}
	conv, err := s.archive.Find(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Msg("archive lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

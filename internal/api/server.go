package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.io/infrasutra/postbox/internal/auth"
	"github.io/infrasutra/postbox/internal/config"
	"github.io/infrasutra/postbox/internal/mailbox"
	"github.io/infrasutra/postbox/internal/pagination"
	"github.io/infrasutra/postbox/internal/sse"
	"github.io/infrasutra/postbox/internal/store"
)

// Pinger is a dependency probed by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg     config.Config
	mailbox *mailbox.Service
	auth    *auth.Manager
	hub     *sse.Hub
	logger  *slog.Logger
	checks  map[string]Pinger
	router  chi.Router
}

func NewServer(cfg config.Config, mail *mailbox.Service, authManager *auth.Manager, hub *sse.Hub, logger *slog.Logger, checks map[string]Pinger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := &Server{
		cfg:     cfg,
		mailbox: mail,
		auth:    authManager,
		hub:     hub,
		logger:  logger,
		checks:  checks,
	}
	server.router = server.routes()
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.identify)

		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			r.Get("/me", s.handleMe)
			r.Get("/messages", s.handleListMessages)
			r.Get("/messages/count", s.handleCountMessages)
			r.Post("/messages/delete", s.handleDeleteMany)
			r.Route("/messages/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetMessage)
				r.Delete("/", s.handleDeleteMessage)
				r.Get("/raw", s.handleRawMessage)
				r.Post("/read", s.handleMarkRead)
				r.Put("/star", s.handleStar)
				r.Post("/trash", s.handleTrash)
				r.Post("/restore", s.handleRestore)
			})
			r.Delete("/trash", s.handleClearTrash)
			r.Delete("/starred", s.handleClearStarred)
			r.Post("/send", s.handleSend)
			r.Get("/counts", s.handleCounts)
			r.Get("/stream", s.handleStream)
		})
	})
	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	email, err := auth.NormalizeEmail(payload.Email)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := time.Now()
	token, err := s.auth.Issue(email, now)
	if err != nil {
		s.logger.Error("issue session", "error", err)
		respondError(w, http.StatusInternalServerError, "unable to create session")
		return
	}
	s.setSessionCookie(w, token, now)
	respondJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"email": ownerFrom(r.Context())})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondText(w, http.StatusOK, "ok")
}

type check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]check, len(s.checks))
	for name, pinger := range s.checks {
		start := time.Now()
		if err := pinger.Ping(ctx); err != nil {
			s.logger.Warn("readiness check", "check", name, "error", err)
			results[name] = check{Status: "fail", Message: "unreachable"}
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = check{Status: "pass", Latency: time.Since(start).String()}
	}
	respondJSON(w, status, map[string]any{"checks": results})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.auth.MaxAge().Seconds()),
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// statusFor maps domain errors onto HTTP statuses. Anything unknown is a
// store failure.
func statusFor(err error) (int, string) {
	switch {
	case mailbox.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrInvalidCursor), errors.Is(err, pagination.ErrInvalidParams):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, auth.ErrSignedOut):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op, "owner", ownerFrom(r.Context()), "request_id", chimw.GetReqID(r.Context()), "error", err)
	}
	respondError(w, status, message)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

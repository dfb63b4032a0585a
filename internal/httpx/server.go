package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/medlink/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Log       zerolog.Logger
	Auth      auth.Authenticator
	Ready     Pinger
	RateRPS   float64
	RateBurst int
}

func NewRouter(cfg RouterConfig, h *ActionsHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(cfg.Log), recoverer(cfg.Log))
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ready.Ping(ctx); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))
		h.Register(r, newIPLimiter(cfg.RateRPS, cfg.RateBurst).middleware)
	})
	return r
}

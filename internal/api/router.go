// Package api wires the thin REST surface (§6) over FleetManager: a chi
// router with the teacher's middleware stack, cookie-based JWT auth, and
// one handler per documented endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/sessionfleet/internal/api/handlers"
	apimiddleware "github.com/marmos91/sessionfleet/internal/api/middleware"
	"github.com/marmos91/sessionfleet/internal/auth"
	"github.com/marmos91/sessionfleet/internal/fleet"
	"github.com/marmos91/sessionfleet/internal/logger"
	"github.com/marmos91/sessionfleet/internal/pairing"
	"github.com/marmos91/sessionfleet/internal/sessionstore"
)

// NewRouter builds the chi router for the REST surface:
//
//   - GET  /health
//   - GET  /metrics
//   - POST /api/register
//   - POST /api/login
//   - POST /api/connect             (authenticated)
//   - POST /api/disconnect          (authenticated)
//   - GET  /api/status              (authenticated)
//   - GET  /api/connection-status/{sessionId}
func NewRouter(jwtService *auth.Service, accounts *sessionstore.AccountStore, fleetMgr *fleet.Manager, sessions *sessionstore.Store, pairingCoord *pairing.Coordinator) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	authHandler := handlers.NewAuthHandler(accounts, jwtService)
	sessionHandler := handlers.NewSessionHandler(fleetMgr, sessions, pairingCoord)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		r.Get("/connection-status/{sessionId}", sessionHandler.ConnectionStatus)

		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.JWTAuth(jwtService))
			r.Post("/connect", sessionHandler.Connect)
			r.Post("/disconnect", sessionHandler.Disconnect)
			r.Get("/status", sessionHandler.Status)
		})
	})

	return r
}

// requestLogger logs each request's method, path, status, and duration at
// INFO, matching the teacher's control-plane API logging.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

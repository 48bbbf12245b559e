// Package httpapi is the HTTP surface of the server: auth endpoints, health
// probes and the websocket entry point to the realtime hub, behind request
// id, access log, panic recovery, CORS and rate-limit middleware.
package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/plotroom/internal/logging"
	"github.com/dmitrijs2005/plotroom/internal/server/ratelimit"
	"github.com/dmitrijs2005/plotroom/internal/server/realtime"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
)

type Deps struct {
	Auth           AuthService
	Hub            *realtime.Hub
	Limiter        *ratelimit.Limiter
	DB             Pinger
	AllowedOrigins []string
	TrustProxy     bool
	Logger         logging.Logger
}

// NewHandler builds the full HTTP handler. Health probes are not rate
// limited; everything else shares one limiter.
func NewHandler(d Deps) http.Handler {
	logger := d.Logger.With("module", "http")

	r := mux.NewRouter()
	r.Use(RequestID, Recoverer(logger), AccessLog(logger))

	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readiness(d.DB)).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(RateLimit(d.Limiter, d.TrustProxy))

	h := &authHandler{svc: d.Auth}

	authenticated := Authenticate(d.Auth)
	optional := OptionalAuthenticate(d.Auth)

	authR := api.PathPrefix("/auth").Subrouter()
	authR.HandleFunc("/register", h.register).Methods(http.MethodPost)
	authR.HandleFunc("/login", h.login).Methods(http.MethodPost)
	authR.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	authR.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	authR.Handle("/logout-all", authenticated(http.HandlerFunc(h.logoutAll))).Methods(http.MethodPost)
	authR.Handle("/change-password", authenticated(http.HandlerFunc(h.changePassword))).Methods(http.MethodPost)
	authR.Handle("/me", authenticated(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	authR.Handle("/status", optional(http.HandlerFunc(h.status))).Methods(http.MethodGet)

	api.Handle("/realtime", newRealtimeHandler(d.Auth, d.Hub, d.AllowedOrigins, logger)).Methods(http.MethodGet)

	return cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})(r)
}

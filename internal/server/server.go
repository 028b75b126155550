package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/lingo/internal/account"
	"github.com/dukerupert/lingo/internal/auth"
	"github.com/dukerupert/lingo/internal/config"
	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/handler"
	"github.com/dukerupert/lingo/internal/i18n"
	"github.com/dukerupert/lingo/internal/metrics"
	"github.com/dukerupert/lingo/internal/middleware"
	"github.com/dukerupert/lingo/internal/store"
	ws "github.com/dukerupert/lingo/internal/websocket"
)

// Login and reset-request attempts allowed per client address per window.
const (
	rateLimit       = 10
	rateLimitWindow = time.Minute
)

type Server struct {
	db         *database.DB
	tokenStore *store.TokenStore
	metrics    *metrics.Metrics
	loginLimit *middleware.Limiter
	resetLimit *middleware.Limiter
	responder  *handler.Responder
	userH      *handler.UserHandler
	authH      *handler.AuthHandler
	liveH      *handler.LiveHandler
	logger     *slog.Logger
}

func New(db *database.DB, cfg *config.Config, notifier account.Notifier, tr *i18n.Translator, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	userStore := store.NewUserStore(db)
	tokenStore := store.NewTokenStore(db, store.WithSessionTTL(cfg.SessionTTL))

	svc := account.New(db, userStore, tokenStore,
		auth.NewBcryptHasher(cfg.BcryptCost),
		notifier,
		logger.With("component", "account"),
		account.WithSessionListener(hub),
		account.WithMetrics(m),
		account.WithNotifyTimeout(cfg.EmailTimeout),
	)

	rs := handler.NewResponder(tr, logger.With("component", "http"))

	return &Server{
		db:         db,
		tokenStore: tokenStore,
		metrics:    m,
		loginLimit: middleware.NewLimiter(rateLimit, rateLimitWindow),
		resetLimit: middleware.NewLimiter(rateLimit, rateLimitWindow),
		responder:  rs,
		userH:      handler.NewUserHandler(svc, rs),
		authH:      handler.NewAuthHandler(svc, rs, logger.With("component", "auth")),
		liveH:      handler.NewLiveHandler(hub, rs),
		logger:     logger,
	}
}

// TokenStore returns the session store for the expiry sweeper.
func (s *Server) TokenStore() *store.TokenStore {
	return s.tokenStore
}

// PruneLimiters drops reset login and reset-request windows every interval
// until ctx is done.
func (s *Server) PruneLimiters(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.loginLimit.Prune() + s.resetLimit.Prune(); n > 0 {
				s.logger.Debug("rate limit windows pruned", "count", n)
			}
		}
	}
}

// Metrics returns the collector set, or nil when metrics are disabled.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handler.Health(s.db))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("POST /api/users", s.userH.Register)
	mux.HandleFunc("POST /api/users/token/{token}", s.userH.Activate)
	mux.HandleFunc("GET /api/users", s.userH.List)
	mux.HandleFunc("GET /api/users/{id}", s.userH.Get)
	mux.HandleFunc("PUT /api/users/{id}", s.userH.Update)
	mux.HandleFunc("DELETE /api/users/{id}", s.userH.Delete)

	mux.HandleFunc("POST /api/auth", s.limited(s.loginLimit, s.authH.Login))
	mux.HandleFunc("POST /api/logout", s.authH.Logout)

	mux.HandleFunc("POST /api/user/password", s.limited(s.resetLimit, s.userH.RequestPasswordReset))
	mux.HandleFunc("PUT /api/user/password", s.userH.CompletePasswordReset)

	mux.HandleFunc("GET /api/ws", s.liveH.Connect)

	// Outermost first: logger -> metrics -> session authenticator -> mux.
	var h http.Handler = mux
	h = middleware.Authenticate(s.tokenStore, s.metrics)(h)
	h = middleware.Instrument(s.metrics)(h)
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

func (s *Server) limited(l *middleware.Limiter, h http.HandlerFunc) http.HandlerFunc {
	return l.Limit(http.HandlerFunc(s.responder.TooManyRequests))(h).ServeHTTP
}

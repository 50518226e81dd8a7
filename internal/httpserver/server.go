package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"linescout/internal/auth"
	"linescout/internal/cache"
	"linescout/internal/config"
	"linescout/internal/handoff"
	"linescout/internal/ledger"
	"linescout/internal/metrics"
	"linescout/internal/notify"
	"linescout/internal/payments"
	"linescout/internal/payout"
	"linescout/internal/repo"
	"linescout/internal/settings"
	"linescout/internal/tier"
)

// Dependencies exposes the services handlers need.
type Dependencies struct {
	Config     *config.Config
	Repository repo.Repository
	Redis      *cache.Redis
	Tokens     *auth.TokenIssuer
	Tier       *tier.Service
	Handoffs   *handoff.Service
	Payments   *payments.Service
	Payouts    *payout.Service
	Wallets    *ledger.WalletService
	Settings   *settings.Service
	Notifier   *notify.Notifier
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
}

// New creates the HTTP server with all API routes mounted.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	handler := mountWithBasePath(server.basePath, server.routes())
	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}
	return server
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhook/paystack", s.handlePaystackWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.Tokens.Middleware)

			r.Get("/me", s.handleMe)
			r.Post("/me/push-token", s.handlePushToken)

			r.Post("/conversations", s.handleEnsureConversation)
			r.Post("/conversations/quick-human", s.handleStartQuickHuman)
			r.Get("/conversations/{id}", s.handleGetConversation)
			r.Post("/conversations/{id}/refresh", s.handleRefreshAccess)
			r.Get("/conversations/{id}/messages", s.handleListMessages)
			r.Post("/conversations/{id}/messages", s.handleSendMessage)

			r.Post("/handoffs", s.handleCreateHandoff)
			r.Get("/handoffs", s.handleListHandoffs)
			r.Get("/handoffs/{id}", s.handleGetHandoff)

			r.Post("/payments/initialize", s.handleInitializePayment)
			r.Get("/payments/verify", s.handleVerifyPayment)

			r.Get("/wallet", s.handleGetWallet)
			r.Get("/wallet/transactions", s.handleWalletTransactions)

			r.Post("/payouts/account", s.handleSavePayoutAccount)
			r.Get("/payouts/account", s.handleGetPayoutAccount)
			r.Post("/payouts/request", s.handleRequestPayout)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireStaff)
				r.Get("/agent/inbox", s.handleAgentInbox)
				r.Post("/conversations/{id}/claim", s.handleClaimConversation)
				r.Post("/handoffs/{id}/status", s.handleUpdateHandoffStatus)
				r.Post("/quotes", s.handleCreateQuote)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/admin/payouts", s.handleListPendingPayouts)
				r.Post("/admin/payouts/agent/{id}/decide", s.handleDecideAgentPayout)
				r.Post("/admin/payouts/user/{id}/reject", s.handleRejectUserPayout)
				r.Post("/admin/payout-accounts/{id}/verify", s.handleVerifyPayoutAccount)
				r.Get("/admin/settings", s.handleGetSettings)
				r.Put("/admin/settings", s.handleUpdateSettings)
			})
		})
	})
	return r
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}

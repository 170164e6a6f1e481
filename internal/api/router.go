// Package api assembles the HTTP surface: routing, middleware and the
// server lifecycle.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/strongbox-io/strongbox/internal/api/auth"
	"github.com/strongbox-io/strongbox/internal/api/handlers"
	"github.com/strongbox-io/strongbox/internal/api/middleware"
	"github.com/strongbox-io/strongbox/internal/logger"
	"github.com/strongbox-io/strongbox/pkg/abuse"
	"github.com/strongbox-io/strongbox/pkg/config"
	"github.com/strongbox-io/strongbox/pkg/files"
	"github.com/strongbox-io/strongbox/pkg/mailer"
	"github.com/strongbox-io/strongbox/pkg/quota"
	"github.com/strongbox-io/strongbox/pkg/shares"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// Deps carries the services the router wires into handlers.
type Deps struct {
	Config  *config.Config
	Store   *store.GORMStore
	Files   *files.Service
	Shares  *shares.Service
	Quota   *quota.Accountant
	Mailer  *mailer.Mailer
	JWT     *auth.JWTService
	Limiter *abuse.Limiter
}

// Per-route throttle caps, requests per minute per source.
const (
	loginRatePerMin          = 5
	registerRatePerMin       = 5
	forgotPasswordRatePerMin = 3
	resetPasswordRatePerMin  = 5
	changePasswordRatePerMin = 5
	uploadRatePerMin         = 30
	publicShareRatePerMin    = 30
)

// NewRouter builds the chi router with the full middleware stack and all
// API routes under /api/v1.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	trustProxy := cfg.Server.TrustProxy
	origins := cfg.Server.AllowedOrigins()

	limit := func(perMin int) func(http.Handler) http.Handler {
		return middleware.NewRateLimiter(time.Minute, perMin, trustProxy).Handler
	}

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(origins))
	r.Use(middleware.CSRF(origins))
	r.Use(middleware.NewRateLimiter(cfg.RateLimit.TTL, cfg.RateLimit.Max, trustProxy).Handler)

	authHandler := handlers.NewAuthHandler(d.Store, d.JWT, d.Mailer, cfg.Auth.PublicRegistration, cfg.Server.FrontendURL)
	fileHandler := handlers.NewFileHandler(d.Files)
	shareHandler := handlers.NewShareHandler(d.Shares, d.Files, d.Limiter, cfg.Server.FrontendURL, trustProxy)
	inviteHandler := handlers.NewInvitationHandler(d.Store, d.JWT, d.Mailer, cfg.Auth.InviteTokenTTL(), cfg.Server.FrontendURL)
	adminHandler := handlers.NewAdminHandler(d.Store, d.Files)
	storageHandler := handlers.NewStorageHandler(d.Store, d.Quota)
	settingsHandler := handlers.NewSettingsHandler(d.Store, d.Mailer)

	sessionAuth := middleware.SessionAuth(d.JWT, d.Store)

	// Liveness probe for deployments.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(limit(registerRatePerMin)).Post("/register", authHandler.Register)
			r.With(limit(loginRatePerMin)).Post("/login", authHandler.Login)
			r.With(limit(forgotPasswordRatePerMin)).Post("/forgot-password", authHandler.ForgotPassword)
			r.With(limit(resetPasswordRatePerMin)).Post("/reset-password", authHandler.ResetPassword)
			r.Get("/setup-status", authHandler.SetupStatus)

			r.Group(func(r chi.Router) {
				r.Use(sessionAuth)
				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.Me)
				r.Patch("/profile", authHandler.UpdateProfile)
				r.With(limit(changePasswordRatePerMin)).Post("/change-password", authHandler.ChangePassword)
			})
		})

		r.Route("/files", func(r chi.Router) {
			r.Use(sessionAuth)

			r.Get("/", fileHandler.List)
			r.Post("/", fileHandler.Create)
			r.Post("/check-duplicate", fileHandler.CheckDuplicate)
			r.Delete("/bulk", fileHandler.BulkDelete)

			r.Get("/trash", fileHandler.ListTrash)
			r.Delete("/trash/empty", fileHandler.EmptyTrash)

			// Share listings come before /{id} so the literal segments
			// are not captured as file IDs.
			r.Get("/shared", shareHandler.ListReceived)
			r.Get("/public-shares", shareHandler.ListPublic)
			r.Get("/private-shares", shareHandler.ListPrivate)

			r.Route("/shares/{id}", func(r chi.Router) {
				r.Patch("/public-settings", shareHandler.UpdatePublicSettings)
				r.Delete("/", shareHandler.Revoke)
				r.Get("/download", shareHandler.DownloadShared)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.With(limit(uploadRatePerMin)).Put("/upload", fileHandler.Upload)
				r.Get("/download", fileHandler.Download)
				r.Patch("/", fileHandler.Rename)
				r.Delete("/", fileHandler.SoftDelete)
				r.Post("/restore", fileHandler.Restore)
				r.Delete("/permanent", fileHandler.PermanentDelete)
				r.Post("/share", shareHandler.Create)
			})
		})

		r.Route("/public/share/{token}", func(r chi.Router) {
			r.Use(limit(publicShareRatePerMin))
			r.Get("/", shareHandler.PublicShareMeta)
			r.Get("/download", shareHandler.PublicShareDownload)
		})

		r.Route("/invites", func(r chi.Router) {
			r.With(limit(registerRatePerMin)).Post("/accept", inviteHandler.Accept)
			r.Get("/validate/{token}", inviteHandler.Validate)

			r.Group(func(r chi.Router) {
				r.Use(sessionAuth)
				r.Post("/", inviteHandler.Create)
				r.Get("/", inviteHandler.List)
				r.Post("/{id}/revoke", inviteHandler.Revoke)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(sessionAuth)
			r.Use(middleware.RequireAdmin())

			r.Get("/users", adminHandler.ListUsers)
			r.Put("/users/{id}", adminHandler.UpdateUser)
			r.Delete("/users/{id}", adminHandler.DeleteUser)
		})

		r.Route("/storage", func(r chi.Router) {
			r.Use(sessionAuth)
			r.Use(middleware.RequireAdmin())

			r.Get("/overview", storageHandler.Overview)
			r.Get("/users", storageHandler.Users)
			r.Get("/users/{id}", storageHandler.User)
			r.Patch("/users/{id}/quota", storageHandler.UpdateQuota)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Use(sessionAuth)
			r.Use(middleware.RequireAdmin())

			r.Get("/", settingsHandler.List)
			r.Put("/", settingsHandler.Set)
			r.Get("/smtp", settingsHandler.GetSMTP)
			r.Put("/smtp", settingsHandler.SetSMTP)
			r.Post("/smtp/test", settingsHandler.TestSMTP)
		})
	})

	return r
}

// requestLogger logs request completion with method, path, status and
// duration through the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("request completed",
			"request_id", middleware.GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", logger.Duration(start),
		)
	})
}

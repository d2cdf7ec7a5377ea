package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-otp-nosql/internal/application/otp"
	"github.com/go-otp-nosql/internal/config"
	"github.com/go-otp-nosql/internal/transport/http/handler"
	appmiddleware "github.com/go-otp-nosql/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds the
// background work of the rate limiter.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if cfg.TrustProxy {
		// Rewrites RemoteAddr from the proxy headers; only safe behind a proxy
		// that overwrites them.
		r.Use(chimiddleware.RealIP)
	}
	r.Use(appmiddleware.RequestLogger(slog.Default()))
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Applied to the issuance and verification endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	otpSvc := otp.NewService(otp.ServiceDeps{
		Store:     deps.Store,
		Flags:     deps.Flags,
		Mailer:    deps.Mailer,
		Generator: deps.Generator,
		Clock:     deps.Clock,
		Guard:     deps.Guard,
		Events:    deps.Events,
		TTL:       cfg.OTP.TTL,
		Policy: otp.Policy{
			Cooldown:   cfg.OTP.Cooldown,
			MaxPerHour: cfg.OTP.MaxPerHour,
		},
		MailTimeout: cfg.MailTimeout,
		ExposeCode:  cfg.OTP.ExposeCode,
	})

	healthH := handler.NewHealthHandler()
	otpH := handler.NewOTPHandler(otpSvc)

	r.Get("/", healthH.Root)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Legacy unversioned paths.
	r.With(sensitiveRL.Limit).Post("/send-otp", otpH.Send)
	r.With(sensitiveRL.Limit).Post("/verify-otp", otpH.Verify)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/otp/{action}", otpH.Action)
		if cfg.ExposeAccountFlags {
			r.With(sensitiveRL.Limit).Get("/account-flags/{email}", otpH.Flag)
		}
	})

	return r
}

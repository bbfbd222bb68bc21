package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"locallift/internal/billing"
	"locallift/internal/config"
	"locallift/internal/db"
	"locallift/internal/email"
	"locallift/internal/entitlement"
	"locallift/internal/gbp"
	"locallift/internal/googleauth"
	httpapi "locallift/internal/http"
	"locallift/internal/identity"
	"locallift/internal/llm"
	"locallift/internal/logger"
	"locallift/internal/metrics"
	"locallift/internal/services"
	"locallift/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	envErr := loadDotEnv()

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	if envErr != nil {
		log.Warn("load .env failed", "error", envErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			fatal(log, "migrations failed", err)
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(log, "db connect failed", err)
	}
	defer pool.Close()

	sealer, err := store.NewSealer(cfg.TokenEncryptionKey)
	if err != nil {
		fatal(log, "token encryption key invalid", err)
	}
	if sealer == nil {
		log.Warn("TOKEN_ENCRYPTION_KEY not set, google tokens are stored in plaintext")
	}
	st := store.NewPostgres(db.OpenDB(pool), sealer)

	if !cfg.GoogleConfigured() {
		log.Warn("google oauth credentials missing, profile connection disabled")
	}
	manager := googleauth.NewManager(googleauth.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL(),
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
		Timeout:      cfg.UpstreamTimeout,
	}, st, log)

	gateway := gbp.NewGateway(manager, gbp.Endpoints{
		AccountsBase:     cfg.GBPAPIBase,
		BusinessInfoBase: cfg.GBPBusinessInfoBase,
		ReviewsBase:      cfg.GBPReviewsBase,
	}, cfg.GBPRequestsPerSecond, cfg.UpstreamTimeout, log)

	ai := llm.NewClient(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: 2 * cfg.UpstreamTimeout,
	})
	if !ai.Configured() {
		log.Warn("OPENAI_API_KEY not set, content generation disabled")
	}

	billingSvc := billing.NewService(billing.Config{
		SecretKey:      cfg.StripeSecretKey,
		WebhookSecret:  cfg.StripeWebhookSecret,
		StarterPriceID: cfg.StripeStarterPriceID,
		TrialDays:      cfg.StripeTrialDays,
		AppURL:         cfg.AppURL,
	}, st, log)

	svc := services.New(services.Deps{
		Store:        st,
		Google:       manager,
		Entitlements: entitlement.NewEngine(st, log),
		Gateway:      gateway,
		AI:           ai,
		Mailer:       email.NewResendClient(cfg.ResendAPIKey, cfg.ResendFromEmail),
		Billing:      billingSvc,
		Logger:       log,
	})

	verifier, err := identity.NewVerifier(ctx, identity.Config{
		JWTSecret:  cfg.SupabaseJWTSecret,
		JWKSURL:    cfg.SupabaseJWKSURL,
		Issuer:     cfg.SupabaseJWTIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		fatal(log, "session verifier setup failed", err)
	}

	var limiter httpapi.RateCounter
	rdb, err := db.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		fatal(log, "redis connect failed", err)
	}
	if rdb != nil {
		defer rdb.Close()
		limiter = db.NewCounter(rdb)
	} else {
		log.Info("REDIS_URL not set, rate limiting disabled")
	}

	metrics.Register()

	server := httpapi.NewServer(svc, cfg, verifier, limiter, log)
	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "server error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
}

// loadDotEnv reads .env when present. A missing file is not an error.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load()
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}

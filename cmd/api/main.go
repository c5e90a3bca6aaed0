// Package main is the entry point for the Tailored Letters API server.
//
// It loads configuration, connects to MongoDB, constructs the provider
// clients that have credentials configured (Stripe, SendGrid, OpenAI), wires
// the domain services into the core chassis, and serves HTTP with graceful
// shutdown on SIGINT/SIGTERM.
//
// Provider credentials are optional: a missing key means the corresponding
// collaborator is not constructed and its endpoints answer 503 instead of
// preventing startup.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"tailoredletters/internal/api/handlers"
	"tailoredletters/internal/auth"
	"tailoredletters/internal/config"
	"tailoredletters/internal/confirm"
	"tailoredletters/internal/core"
	"tailoredletters/internal/db"
	"tailoredletters/internal/external"
	"tailoredletters/internal/generate"
	"tailoredletters/internal/reconcile"
	"tailoredletters/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("tailoredletters API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to MongoDB. Startup fails fast when the store is unreachable;
	// everything else degrades gracefully, the account store does not.
	client, err := db.Connect(ctx, cfg.Mongo)
	if err != nil {
		return fmt.Errorf("connecting to mongodb: %w", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			logger.Error("mongodb disconnect error", "error", err)
		}
	}()

	accounts := db.NewAccountRepo(client.Database(cfg.Mongo.Database), types.RealClock{}, logger)
	if err := accounts.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensuring indexes: %w", err)
	}

	// Auth stack.
	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, types.RealClock{})
	authService := auth.NewService(auth.ServiceConfig{
		Store:  accounts,
		Issuer: issuer,
		Logger: logger,
	})

	// Provider clients. Each is nil when its credential is absent.
	var stripeClient *external.StripeClient
	if !cfg.Billing.StripeSecretKey.Empty() {
		stripeClient = external.NewStripeClient(&http.Client{Timeout: 30 * time.Second}, external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		})
	} else {
		logger.Warn("stripe secret key not configured; checkout and reconciliation disabled")
	}

	var emailSender external.EmailSender
	if !cfg.Email.SendGridAPIKey.Empty() {
		emailSender = external.NewSendGridClient(&http.Client{Timeout: 30 * time.Second}, external.SendGridClientConfig{
			APIKey:      cfg.Email.SendGridAPIKey.Unmask(),
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			Logger:      logger,
		})
	} else {
		logger.Warn("sendgrid API key not configured; confirmation emails disabled")
	}

	var letterBackend external.LetterGenerator
	if !cfg.Generation.OpenAIAPIKey.Empty() {
		letterBackend = external.NewOpenAIGenerator(cfg.Generation, logger)
	} else {
		logger.Warn("openai API key not configured; letter generation disabled")
	}

	// Domain services.
	var reconciler *reconcile.Reconciler
	if stripeClient != nil {
		reconciler = reconcile.New(reconcile.Config{
			Payments: stripeClient,
			Store:    accounts,
			Email:    emailSender,
			Logger:   logger,
		})
	}
	poller := confirm.NewPoller(accounts, logger)
	letterService := generate.NewService(accounts, letterBackend, logger)

	// Core chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = &auth.TokenAuthenticator{Issuer: issuer}
	srv.Health = db.Pinger{Client: client}

	registerRoutes(srv, routeDeps{
		auth:       authService,
		accounts:   accounts,
		reconciler: reconciler,
		stripe:     stripeClient,
		poller:     poller,
		letters:    letterService,
		webhookKey: cfg.Billing.StripeWebhookSecret.Unmask(),
		clientURL:  cfg.Server.ClientURL,
		logger:     logger,
	})
	srv.MountRoutes()

	return serveHTTP(ctx, srv, cfg, logger)
}

// routeDeps bundles everything route registration needs so the wiring reads
// as one block.
type routeDeps struct {
	auth       *auth.Service
	accounts   *db.AccountRepo
	reconciler *reconcile.Reconciler
	stripe     *external.StripeClient
	poller     *confirm.Poller
	letters    *generate.Service
	webhookKey string
	clientURL  string
	logger     *slog.Logger
}

// registerRoutes mounts public routes (auth, webhook) directly and the
// account, billing, and generation surfaces behind RequireAuth.
func registerRoutes(srv *core.Server, deps routeDeps) {
	authHandler := handlers.NewAuthHandler(deps.auth, srv.Validator, deps.logger)

	// The webhook handler only accepts events when both the signature secret
	// and a reconciler are present; otherwise deliveries answer 503 so Stripe
	// redelivers once configuration is fixed.
	var webhookHandler *handlers.StripeWebhookHandler
	if deps.reconciler != nil && deps.webhookKey != "" {
		webhookHandler = handlers.NewStripeWebhookHandler(
			&external.StripeVerifier{},
			deps.reconciler,
			deps.webhookKey,
			deps.logger,
		)
	}

	accountHandler := handlers.NewAccountHandler(deps.accounts, resyncerOrNil(deps.reconciler), srv.Validator, deps.logger)
	billingHandler := handlers.NewBillingHandler(checkoutOrNil(deps.stripe), deps.poller, deps.clientURL, srv.Validator, deps.logger)
	generateHandler := handlers.NewGenerateHandler(deps.letters, srv.Validator, deps.logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		authHandler.RegisterRoutes(r)
		if webhookHandler != nil {
			webhookHandler.RegisterRoutes(r)
		} else {
			r.Post("/webhooks/stripe", func(w http.ResponseWriter, req *http.Request) {
				core.Error(w, req, types.NewAppError(
					types.ErrCodeUpstreamNotConfigured,
					"webhook processing is not configured",
					nil,
				))
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(srv.RequireAuth)
			accountHandler.RegisterRoutes(r)
			billingHandler.RegisterRoutes(r)
			generateHandler.RegisterRoutes(r)
		})
	})
}

// resyncerOrNil avoids handing the handler a typed-nil interface value.
func resyncerOrNil(r *reconcile.Reconciler) handlers.Resyncer {
	if r == nil {
		return nil
	}
	return r
}

// checkoutOrNil avoids handing the handler a typed-nil interface value.
func checkoutOrNil(c *external.StripeClient) handlers.CheckoutStarter {
	if c == nil {
		return nil
	}
	return c
}

// serveHTTP runs the HTTP server until the context is cancelled by a signal,
// then shuts down gracefully.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// The confirmation poll holds the connection for up to ~15s and
		// generation can take most of a minute, so the write timeout sits
		// above the request context ceiling.
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// Command tutorgate runs the tutoring platform's backend: credit-gated
// action endpoints forwarding to automation workflows, a Stripe webhook
// mapping billing events onto entitlement records, and billing session
// endpoints for the pricing and account pages.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edumesh/tutorgate/pkg/api"
	"github.com/edumesh/tutorgate/pkg/auth"
	"github.com/edumesh/tutorgate/pkg/billing"
	billingprom "github.com/edumesh/tutorgate/pkg/billing/metrics/prometheus"
	stripebilling "github.com/edumesh/tutorgate/pkg/billing/stripe"
	"github.com/edumesh/tutorgate/pkg/config"
	"github.com/edumesh/tutorgate/pkg/entitlement"
	entzerolog "github.com/edumesh/tutorgate/pkg/entitlement/logger/zerolog"
	prommetrics "github.com/edumesh/tutorgate/pkg/entitlement/metrics/prometheus"
	"github.com/edumesh/tutorgate/pkg/forwarder"
	"github.com/edumesh/tutorgate/storage/postgres"
	"github.com/edumesh/tutorgate/storage/rediscache"
)

const shutdownTimeout = 15 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = cfg.DatabaseURL
	pgStore, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return err
	}
	defer pgStore.Close()

	var store entitlement.Store = pgStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		cached, err := rediscache.New(pgStore, redis.NewClient(opts), rediscache.DefaultConfig())
		if err != nil {
			return err
		}
		store = cached
		log.Info().Msg("entitlement read cache enabled")
	}

	service, err := entitlement.NewService(store, entitlement.Config{
		Logger:  entzerolog.NewLogger(log.Logger),
		Metrics: prommetrics.DefaultMetrics("tutorgate"),
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		return err
	}

	var provider billing.Provider
	if cfg.StripeAPIKey != "" {
		provider, err = stripebilling.NewProvider(billing.Config{
			Service:       service,
			PlanMapping:   cfg.PlanMapping(),
			APIKey:        cfg.StripeAPIKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Metrics:       billingprom.DefaultMetrics("tutorgate"),
		})
		if err != nil {
			return err
		}
	} else {
		log.Warn().Msg("stripe not configured; billing endpoints disabled")
	}

	handler, err := api.NewHandler(api.Config{
		Verifier:           verifier,
		Service:            service,
		Forwarder:          forwarder.New(forwarder.Config{}),
		Billing:            provider,
		Operations:         cfg.Operations(),
		Logger:             entzerolog.NewLogger(log.Logger),
		CheckoutSuccessURL: cfg.CheckoutSuccessURL,
		CheckoutCancelURL:  cfg.CheckoutCancelURL,
		PortalReturnURL:    cfg.PortalReturnURL,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

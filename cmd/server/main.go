package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meridian-fin/be-payments-workflow/internal/config"
	"github.com/meridian-fin/be-payments-workflow/internal/database"
	"github.com/meridian-fin/be-payments-workflow/internal/handler"
	"github.com/meridian-fin/be-payments-workflow/internal/logger"
	"github.com/meridian-fin/be-payments-workflow/internal/middleware"
	"github.com/meridian-fin/be-payments-workflow/internal/notify"
	"github.com/meridian-fin/be-payments-workflow/internal/objectstore"
	"github.com/meridian-fin/be-payments-workflow/internal/repository/postgres"
	"github.com/meridian-fin/be-payments-workflow/internal/service"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting payments workflow service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	docs, err := objectstore.NewMinio(ctx, cfg.ObjectStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to object store")
	}
	log.Info().Str("bucket", cfg.ObjectStore.Bucket).Msg("Object store ready")

	var events *notify.Publisher
	if cfg.NATS.URL != "" {
		events, err = notify.New(cfg.NATS.URL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer events.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("Event publisher connected")
	} else {
		log.Info().Msg("NATS_URL not set, event publishing disabled")
	}

	store := postgres.NewStore(db)
	payments := service.NewPaymentWorkflowService(store, docs, events, log.Logger)
	ledger := service.NewLedgerService(store, log.Logger)

	mux := http.NewServeMux()
	handler.NewHTTPHandler(payments, ledger, log.Logger).RegisterRoutes(mux)

	var root http.Handler = mux
	root = middleware.Timeout(cfg.Server.WriteTimeout)(root)
	root = middleware.CORS(nil)(root)
	root = middleware.Logger(&log.Logger)(root)
	root = middleware.Recovery(&log.Logger)(root)
	root = middleware.RequestID(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

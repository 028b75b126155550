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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/lingo/internal/account"
	"github.com/dukerupert/lingo/internal/config"
	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/email"
	"github.com/dukerupert/lingo/internal/i18n"
	"github.com/dukerupert/lingo/internal/logging"
	"github.com/dukerupert/lingo/internal/server"
	"github.com/dukerupert/lingo/internal/sweeper"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tr, err := i18n.New()
	if err != nil {
		return err
	}

	var notifier account.Notifier
	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL,
		email.WithHTTPClient(&http.Client{Timeout: cfg.EmailTimeout}),
	)
	if emailClient.Configured() {
		notifier = emailClient
	} else {
		logger.Warn("postmark not configured, emails will be logged only")
		notifier = email.NewLogNotifier(cfg.BaseURL, logger.With("component", "email"))
	}

	srv := server.New(db, cfg, notifier, tr, logger)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sw := sweeper.New(srv.TokenStore(), logger.With("component", "sweeper"),
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithMetrics(srv.Metrics()),
	)
	sw.Start(ctx)
	defer sw.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("lingo running", "addr", httpServer.Addr, "db", db.Dialect())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		srv.PruneLimiters(gctx, time.Hour)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

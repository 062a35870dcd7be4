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

	"golang.org/x/sync/errgroup"

	"carecircle/internal/ratelimit"
	"carecircle/internal/util"
	"carecircle/pkg/ai"
	"carecircle/services/circle/internal/app"
	"carecircle/services/circle/internal/config"
	"carecircle/services/circle/internal/deps"
	"carecircle/services/circle/internal/server"
)

const (
	assistantTemperature = 0.7
	assistantMaxTokens   = 500
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "circle")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := deps.Open(ctx, cfg)
	if err != nil {
		util.Fatal("failed to open dependencies", "err", err)
	}
	defer d.Close()

	if cfg.SeedOnBoot {
		if _, err := d.Store.SeedIfEmpty(ctx); err != nil {
			util.Fatal("failed to seed root", "err", err)
		}
	}
	ran, err := d.Store.Migrate(ctx)
	if err != nil {
		util.Fatal("failed to migrate root", "err", err)
	}
	logger.Info("migrations applied", "ran", ran)

	var assistant ai.ChatCompleter
	if cfg.AssistantAPIKey != "" || cfg.AssistantProvider == "ollama" {
		assistant, err = ai.New(ai.Config{
			Provider: cfg.AssistantProvider,
			BaseURL:  cfg.AssistantBaseURL,
			APIKey:   cfg.AssistantAPIKey,
			Model:    cfg.AssistantModel,
			Options:  ai.Options{Temperature: assistantTemperature, MaxTokens: assistantMaxTokens},
		})
		if err != nil {
			util.Fatal("failed to init assistant", "err", err)
		}
	} else {
		logger.Warn("assistant disabled: no api key configured")
	}

	cfgApp := app.Config{
		Store:         d.Store,
		Assistant:     assistant,
		PublicBaseURL: cfg.PublicBaseURL,
	}
	if d.Outbox != nil {
		cfgApp.Outbox = d.Outbox
	}
	appCore, err := app.New(cfgApp)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}
	var limiter *ratelimit.FixedWindowLimiter
	if cfg.ChatbotRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(d.Redis, "carecircle:ratelimit:chatbot",
			cfg.ChatbotRateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal("failed to init chatbot limiter", "err", err)
		}
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		ChatbotLimiter: limiter,
		TrustedProxies: trusted,
		CORSOrigin:     cfg.CORSOrigin,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("circle server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	logger.Info("circle server stopped")
}

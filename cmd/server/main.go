package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/chollohub/dealbot/internal/ai"
	"github.com/chollohub/dealbot/internal/config"
	"github.com/chollohub/dealbot/internal/filter"
	"github.com/chollohub/dealbot/internal/parser"
	"github.com/chollohub/dealbot/internal/processor"
	"github.com/chollohub/dealbot/internal/publisher"
	"github.com/chollohub/dealbot/internal/reconcile"
	"github.com/chollohub/dealbot/internal/scheduler"
	"github.com/chollohub/dealbot/internal/shortlink"
	"github.com/chollohub/dealbot/internal/sources"
	"github.com/chollohub/dealbot/internal/storage"
)

type Server struct {
	cfg    *config.Config
	runner *processor.Runner

	mu sync.Mutex // one pipeline run at a time
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment")
	}

	slog.Info("Starting deal bot server...")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Critical error opening database", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer store.Close()

	validator, err := ai.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Warn("AI validator unavailable, using local fallback", "error", err)
	}

	var product sources.ProductClient
	if cfg.ProductAPIBaseURL != "" {
		product = sources.NewProductAPIClient(cfg.ProductAPIBaseURL, cfg.ProductAPIKey, cfg.PartnerTag)
	}
	var scrape sources.ScrapeClient
	if cfg.ScrapeAPIBaseURL != "" && cfg.ScrapeAPIKey != "" {
		scrape = sources.NewScrapeAPIClient(cfg.ScrapeAPIBaseURL, cfg.ScrapeAPIKey, cfg.ScrapeServiceName, cfg.ScrapeMaxWait)
	}

	runner := processor.New(cfg,
		parser.New(),
		product,
		scrape,
		sources.NewChromeScraper(),
		reconcile.New(cfg.Thresholds, validatorOrNil(validator)),
		filter.New(cfg.Thresholds),
		store,
		publisher.New(cfg.MessagingBaseURL, cfg.MessagingAPIKey),
		shortlink.New(cfg.ShortlinkProvider, cfg.ShortlinkDomain, cfg.BitlyToken),
	)

	srv := &Server{cfg: cfg, runner: runner}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Error("Invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}
	sched := scheduler.New(location, cfg.ScheduleHours, func(ctx context.Context) {
		srv.runPipeline(ctx, time.Now().In(location).Hour() == lastHour(cfg.ScheduleHours))
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.TriggerHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening on port", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sched.Run(gCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}

// TriggerHandler runs one pipeline pass synchronously so callers (cron
// services, manual curl) learn whether the run succeeded.
func (s *Server) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Minute)
	defer cancel()

	if err := s.runPipeline(ctx, false); err != nil {
		slog.Error("Triggered run failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, "run failed:", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "run completed")
}

func (s *Server) runPipeline(ctx context.Context, withSummary bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.runner.RunOnce(ctx, s.cfg.SourceDir)
	if err != nil {
		return err
	}
	slog.Info("Pipeline run completed", "published", stats.Published, "skipped", stats.Skipped)

	if withSummary {
		if err := s.runner.SendDailySummary(ctx); err != nil {
			slog.Warn("Daily summary failed", "error", err)
		}
	}
	return nil
}

// validatorOrNil avoids storing a typed nil in the Validator interface when
// no API key is configured.
func validatorOrNil(client *ai.Client) reconcile.Validator {
	if client == nil {
		return nil
	}
	return client
}

func lastHour(hours []int) int {
	last := -1
	for _, h := range hours {
		if h > last {
			last = h
		}
	}
	return last
}

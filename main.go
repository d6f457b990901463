package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricewatch/config"
	"pricewatch/database"
	"pricewatch/handlers"
	"pricewatch/logger"
	"pricewatch/middleware"
	"pricewatch/models"
	"pricewatch/notifier"
	"pricewatch/repository"
	"pricewatch/scheduler"
	"pricewatch/scraper"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pricewatch",
		Short:         "Check tracked product prices once and alert on drops",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				_, err := a.checker.Run(ctx)
				return err
			})
		},
	}
	root.AddCommand(newServeCmd(), newSeedCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run checks on a schedule and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), serve)
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <items.yaml>",
		Short: "Insert or update tracked items from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := config.LoadItems(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return seed(ctx, a.items, seeds)
			})
		},
	}
}

// app holds the wiring shared by every command
type app struct {
	cfg     *config.Config
	db      *database.DB
	items   *repository.ItemRepository
	checker *scheduler.PriceChecker
}

func withApp(parent context.Context, fn func(ctx context.Context, a *app) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		return err
	}
	defer db.Close()

	if err := db.CreateTables(ctx); err != nil {
		logger.Error("failed to create tables", "error", err)
		return err
	}

	items := repository.NewItemRepository(db)
	slack := notifier.NewSlack(cfg.SlackWebhook)
	if !slack.Enabled() {
		logger.Warn("SLACK_WEBHOOK not set, alerts will only be logged")
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		items:   items,
		checker: scheduler.NewPriceChecker(items, slack, fetcherFactory(cfg)),
	}
	if err := fn(ctx, a); err != nil {
		logger.Error("pricewatch failed", "error", err)
		return err
	}
	return nil
}

// fetcherFactory launches fresh browsers for each run
func fetcherFactory(cfg *config.Config) scheduler.FetcherFactory {
	fc := fetcherConfig(cfg)
	return func(context.Context) (scheduler.PriceFetcher, error) {
		f, err := scraper.Open(fc)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// fetcherConfig carries proxy settings over only when a proxy server is configured
func fetcherConfig(cfg *config.Config) scraper.FetcherConfig {
	fc := scraper.FetcherConfig{
		ChromeBin:      cfg.ChromeBin,
		Headless:       cfg.Headless,
		DiagnosticsDir: cfg.DiagnosticsDir,
	}
	if cfg.HasProxy() {
		fc.ProxyServer = cfg.ProxyServer
		fc.ProxyUsername = cfg.ProxyUsername
		fc.ProxyPassword = cfg.ProxyPassword
		fc.ProxySite = models.Site(cfg.ProxySite)
		logger.Info("proxy channel enabled", "site", cfg.ProxySite)
	}
	return fc
}

func serve(ctx context.Context, a *app) error {
	sched, err := scheduler.NewScheduler(a.checker, a.cfg.Schedule)
	if err != nil {
		return err
	}
	sched.Start(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           newHandler(a.cfg.Server, handlers.NewHandlers(a.items, sched)),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.cfg.Server.RequestTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			err = fmt.Errorf("failed to serve: %w", err)
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, sched.Stop(stopCtx))
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down server: %w", err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
	}
	return errors.Join(errs...)
}

// newHandler builds the API handler chain. Request logging wraps the router so that
// unmatched paths and methods are logged too.
func newHandler(cfg config.ServerConfig, h *handlers.Handlers) http.Handler {
	r := mux.NewRouter()
	if cfg.RateLimit > 0 {
		r.Use(middleware.RateLimitMiddleware(cfg.RateLimit))
	}
	r.Use(middleware.APIKeyMiddleware(cfg.APIKey))
	h.Register(r)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
	})
	return middleware.LoggingMiddleware(c.Handler(r))
}

// itemUpserter is the slice of the repository seeding needs
type itemUpserter interface {
	UpsertItem(ctx context.Context, item *models.TrackedItem) (bool, error)
}

func seed(ctx context.Context, repo itemUpserter, seeds []config.ItemSeed) error {
	var errs []error
	created, updated := 0, 0
	for _, s := range seeds {
		item := &models.TrackedItem{
			Name:        s.Name,
			Site:        s.Site,
			ProductURL:  s.URL,
			TargetPrice: s.TargetPrice.Decimal,
			Active:      s.IsActive(),
		}
		isNew, err := repo.UpsertItem(ctx, item)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.URL, err))
			continue
		}
		if isNew {
			created++
		} else {
			updated++
		}
		logger.Debug("seeded item", "item_id", item.ID, "url", item.ProductURL, "created", isNew)
	}
	logger.Info("seed finished", "created", created, "updated", updated, "failed", len(errs))
	return errors.Join(errs...)
}

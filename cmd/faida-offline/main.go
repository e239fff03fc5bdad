// Command faida-offline runs the local offline core for the Faida
// business app: a gateway that keeps pages usable without the server, a
// durable queue for operations captured offline, and a sync engine that
// drains the queue when the server comes back.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/faidahq/faida-offline/internal/config"
	"github.com/faidahq/faida-offline/internal/connectivity"
	"github.com/faidahq/faida-offline/internal/db"
	"github.com/faidahq/faida-offline/internal/forms"
	"github.com/faidahq/faida-offline/internal/gateway"
	"github.com/faidahq/faida-offline/internal/logging"
	"github.com/faidahq/faida-offline/internal/models"
	"github.com/faidahq/faida-offline/internal/status"
	syncpkg "github.com/faidahq/faida-offline/internal/sync"
	"github.com/faidahq/faida-offline/internal/sync/queue"
	"github.com/faidahq/faida-offline/internal/sync/scheduler"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	var configDir string
	var verbose bool

	root := &cobra.Command{
		Use:     "faida-offline",
		Short:   "Offline queue and sync core for the Faida business app",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configDir, "config-dir", "c", "", "directory containing faida-offline.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	setup := func() (*config.Config, error) {
		level := logrus.InfoLevel
		if verbose {
			level = logrus.DebugLevel
		}
		logging.Init(os.Stderr, level)
		return config.Load(configDir)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, connectivity monitor and sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return runStatus(cfg)
		},
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Reset failed operations to pending and drain the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			return runRetry(cmd.Context(), cfg)
		},
	}

	root.AddCommand(serve, statusCmd, retry)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		return err
	}

	baseURL, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid server base URL: %w", err)
	}

	q := queue.New(database)
	classifier := connectivity.NewClassifier(cfg.Server.AuthPathPrefix)
	monitor := connectivity.NewMonitor(
		connectivity.NewHTTPClient(cfg.Monitor.ProbeTimeout),
		classifier,
		cfg.Server.BaseURL+cfg.Server.StatusPath,
		cfg.Monitor.ProbeInterval,
	)

	surface := status.NewSurface(status.DefaultDismissAfter)
	client := syncpkg.NewClient(connectivity.NewHTTPClient(30*time.Second), baseURL, cfg.Endpoints, classifier)
	engine := syncpkg.NewEngine(q, client, surface)

	schedCfg := &scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		PollAttempts: cfg.Scheduler.PollAttempts,
	}
	if !cfg.Scheduler.PollEnabled {
		schedCfg.PollInterval = 0
	}
	sched := scheduler.New(engine, q, monitor, schedCfg)

	cache := db.NewCacheRepository(database)
	gw := gateway.New(
		baseURL,
		connectivity.NewNoRedirectClient(30*time.Second),
		cache,
		classifier,
		monitor,
		cfg.Gateway.StaticPrefixes,
		cfg.Server.APIPrefix,
	)

	interceptor := forms.NewInterceptor(q, monitor, surface)
	gw.SetFormInterception(interceptor, cfg.FormRoutes.Map())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go monitor.Run(ctx)
	sched.Start(ctx)
	defer sched.Stop()

	go logSnapshots(ctx, surface)

	server := &http.Server{
		Addr:    cfg.Gateway.ListenAddr,
		Handler: gw,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	logging.Info("gateway listening", logging.Fields{
		"addr":     cfg.Gateway.ListenAddr,
		"upstream": cfg.Server.BaseURL,
	})

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// logSnapshots is the terminal rendering of the status surface.
func logSnapshots(ctx context.Context, surface *status.Surface) {
	snapshots := surface.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			logging.Info("status", logging.Fields{
				"phase":   string(snap.Phase),
				"pending": snap.Pending,
				"synced":  snap.Synced,
				"failed":  snap.Failed,
			})
		}
	}
}

func runStatus(cfg *config.Config) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		return err
	}

	q := queue.New(database)
	for _, s := range []models.OperationStatus{models.StatusPending, models.StatusSynced, models.StatusFailed} {
		n, err := q.Count(s)
		if err != nil {
			return err
		}
		fmt.Printf("%-8s %d\n", s, n)
	}

	failed, err := q.ListFailed()
	if err != nil {
		return err
	}
	for _, op := range failed {
		fmt.Printf("  failed #%d %s (%s): %s\n", op.ID, op.LocalID, op.Kind, op.LastError)
	}
	return nil
}

func runRetry(ctx context.Context, cfg *config.Config) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		return err
	}

	baseURL, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid server base URL: %w", err)
	}

	q := queue.New(database)
	reset, err := q.RetryFailed()
	if err != nil {
		return err
	}
	fmt.Printf("reset %d failed operation(s) to pending\n", reset)

	surface := status.NewSurface(status.DefaultDismissAfter)
	classifier := connectivity.NewClassifier(cfg.Server.AuthPathPrefix)
	client := syncpkg.NewClient(connectivity.NewHTTPClient(30*time.Second), baseURL, cfg.Endpoints, classifier)
	engine := syncpkg.NewEngine(q, client, surface)

	result, err := engine.Drain(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("drained: %d synced, %d failed, %d left pending\n",
		result.Synced, result.Failed, result.LeftPending)
	return nil
}

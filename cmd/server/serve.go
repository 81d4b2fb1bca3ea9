package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/api"
	"github.com/warp/budget-engine/logging"
)

var flagSweepInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&flagSweepInterval, "sweep-interval", time.Hour, "How often every account book is refreshed in the background (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log = log.With(logging.FieldOperation, logging.OpStartup)

	store, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	pub, closePub, err := openPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePub()

	engine := newEngine(cfg, store, pub, log)

	handler := api.NewHandler(engine,
		api.WithHandlerLogger(log),
		api.WithRefreshRateLimit(cfg.Server.RefreshRatePerMinute, cfg.Server.RefreshRatePerMinute),
	)
	router := api.NewRouter(handler)

	scheduler := api.NewRefreshScheduler(store, engine, log)
	scheduler.CheckInterval = flagSweepInterval
	scheduler.Enabled = flagSweepInterval > 0
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr, logging.FieldDriver, cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	log.Info("shutting down server", logging.FieldOperation, logging.OpShutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	log.Info("server stopped", logging.FieldOperation, logging.OpShutdown)
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sharedoc/config"
	"sharedoc/config/database"
	"sharedoc/internal/blob"
	docHandler "sharedoc/internal/document"
	"sharedoc/internal/document/repository"
	"sharedoc/internal/document/service"
	"sharedoc/internal/health"
	"sharedoc/internal/notify"
	"sharedoc/middleware"
	"sharedoc/pkg/logger"
	"sharedoc/router"
	"sharedoc/socket"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the websocket hub and the lock janitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply the schema on startup")
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	if !skipMigrate {
		if err := database.Migrate(ctx, a.db); err != nil {
			return err
		}
	}

	blobs, err := blob.NewFileStore(cfg.BlobRoot)
	if err != nil {
		return err
	}

	var hub *socket.Hub
	if cfg.NotifyDriver == config.NotifyWebsocket {
		hub = socket.NewHub()
		go hub.Run(ctx)
	}
	notifier := notify.NewBroadcaster(a.bus(hub))

	lockRepo := a.lockRepository()
	docs := service.NewDocumentService(repository.NewDocumentRepository(a.db), blobs, notifier, cfg.PublicBaseURL)
	locks := service.NewLockService(lockRepo, notifier, cfg.LockTTL)

	janitor := service.NewJanitor(lockRepo, notifier, cfg.SweepInterval)
	go janitor.Run(ctx)

	checks := map[string]health.Checker{"postgres": a.db.PingContext}
	if a.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.Setup(router.Deps{
			Documents: docHandler.NewDocumentHandler(docs, locks, cfg.MaxImageBytes),
			Sessions:  middleware.NewSessions(cfg.SessionSecret, cfg.SessionLifetime, !cfg.IsDevelopment()),
			Hub:       hub,
			BlobRoot:  blobs.Root,
			Health:    health.NewHandler(checks),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Sugar.Infow("Starting sharedoc server",
			"port", cfg.Port,
			"env", cfg.Env,
			"lock_backend", cfg.LockBackend,
			"notify_driver", cfg.NotifyDriver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Sugar.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Sugar.Info("Server stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/yourusername/codedeck-auth/internal/account"
	"github.com/yourusername/codedeck-auth/internal/config"
	"github.com/yourusername/codedeck-auth/internal/logging"
	"github.com/yourusername/codedeck-auth/internal/metrics"
	"github.com/yourusername/codedeck-auth/internal/server"
	"github.com/yourusername/codedeck-auth/internal/session"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// NewServeCmd は serve サブコマンドを作成します。
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  `Start the HTTP API server and serve until SIGINT or SIGTERM is received.`,
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	gin.SetMode(cfg.GinMode)
	logger := logging.Setup(server.ServiceName, version, cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]server.HealthCheck)

	users, closeUsers, userCheck, err := openUserRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeUsers()
	if userCheck != nil {
		checks["postgres"] = userCheck
	}

	backend, closeSessions, err := openSessionBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()
	checks["sessions"] = backend.Ping

	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		return err
	}
	store := session.NewStore(backend, secret, session.StoreOptions{
		TrustProxy: cfg.TrustProxy,
		Logger:     logger,
	})

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	router, err := server.NewRouter(server.Deps{
		Config:       cfg,
		Logger:       logger,
		Accounts:     account.NewService(users, account.NewBcryptHasher(cfg.BcryptCost)),
		Sessions:     store,
		Metrics:      m,
		HealthChecks: checks,
		Version:      version,
	})
	if err != nil {
		return oops.Code("ROUTER_SETUP_FAILED").Wrap(err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return oops.Code("SERVER_FAILED").With("addr", srv.Addr).Wrap(err)
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SERVER_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

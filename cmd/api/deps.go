package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/samber/oops"

	"github.com/yourusername/codedeck-auth/internal/account"
	"github.com/yourusername/codedeck-auth/internal/account/postgres"
	"github.com/yourusername/codedeck-auth/internal/config"
	"github.com/yourusername/codedeck-auth/internal/server"
	"github.com/yourusername/codedeck-auth/internal/session"
)

const (
	healthPingTimeout     = 2 * time.Second
	sessionJanitorEvery   = time.Minute
	generatedSecretLength = 32
)

// openUserRepository は CREDENTIAL_STORE に応じた account.Repository を作成します。
// 戻り値の close は必ず呼び出してください。
func openUserRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (account.Repository, func(), server.HealthCheck, error) {
	if cfg.CredentialStore == config.StoreMemory {
		logger.Warn("using in-memory credential store, accounts are lost on restart")
		return account.NewMemoryRepository(), func() {}, nil, nil
	}

	pool, err := postgres.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}

	if cfg.AutoMigrate {
		if err := postgres.MigratePool(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		logger.Info("database migrations applied")
	}

	check := func(ctx context.Context) error {
		return postgres.Ping(ctx, pool, healthPingTimeout)
	}
	return postgres.NewUserRepository(pool), pool.Close, check, nil
}

// openSessionBackend は SESSION_STORE に応じた session.Backend を作成します。
func openSessionBackend(cfg *config.Config, logger *slog.Logger) (session.Backend, func(), error) {
	if cfg.SessionStore == config.StoreMemory {
		logger.Warn("using in-memory session store, sessions are lost on restart")
		backend := session.NewMemoryBackend(sessionJanitorEvery)
		return backend, func() { _ = backend.Close() }, nil
	}

	rdb, err := session.NewRedisClient(cfg.SessionRedisURL)
	if err != nil {
		return nil, nil, err
	}
	return session.NewRedisBackend(rdb), func() { _ = rdb.Close() }, nil
}

// sessionSecret はセッションクッキーの署名鍵を返します。
// 未設定は release 以外でのみ許可され、その場合は起動ごとにランダムな鍵を使います。
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	if cfg.GinMode == gin.ReleaseMode {
		return nil, oops.Code("CONFIG_INVALID").Errorf("SESSION_SECRET is required in release mode")
	}

	logger.Warn("SESSION_SECRET is not set, using a random key; sessions will not survive a restart")
	key := securecookie.GenerateRandomKey(generatedSecretLength)
	if key == nil {
		return nil, oops.Code("SESSION_SECRET_GENERATE_FAILED").Errorf("failed to generate session secret")
	}
	return key, nil
}

// Package app wires the warden server runtime: config, logging, the
// Postgres-backed stores, the optional Redis guards, and HTTP routes.
//
// It is intentionally small and deterministic to keep CI gates strict and
// behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/api"
	"warden/cmd/internal/auth/guard"
	"warden/cmd/internal/auth/session"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App is the warden server runtime: it owns the HTTP server wiring and the
// lifecycle of the DB pool and Redis client.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	rdb    redis.UniversalClient

	auth *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("WARDEN_DATABASE_URL is required")
	}

	ctx := context.Background()

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rdb := NewRedisClient(ctx, cfg, log)

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	tokens, err := session.NewJWTEd25519Manager(sessCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sessions := session.NewService(sessCfg,
		session.NewPostgresStore(pool),
		session.NewPostgresRegistry(pool),
		tokens, log)

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	authCfg := api.LoadConfigFromEnv()
	authHandler, err := api.NewHandler(log, authCfg, users, sessions,
		guard.NewLockout(rdb, authCfg.Lockout, log),
		guard.NewDenylist(rdb, log),
		pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &App{
		cfg:    cfg,
		log:    log,
		dbPool: pool,
		rdb:    rdb,
		auth:   authHandler,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.auth)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "redis_enabled", a.rdb != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
	}
	a.dbPool.Close()

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

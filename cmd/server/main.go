package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/partregistry/internal/config"
	"github.com/JonMunkholm/partregistry/internal/core"
	"github.com/JonMunkholm/partregistry/internal/logging"
	"github.com/JonMunkholm/partregistry/internal/store"
	"github.com/JonMunkholm/partregistry/internal/web"
)

// backend is a catalog store that owns resources to release on exit.
type backend interface {
	core.Store
	io.Closer
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"prefix_map_modules", len(cfg.PrefixMap),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	st, err := openStore(ctx, &cfg.Database)
	if err != nil {
		slog.Error("failed to open catalog store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	service := core.NewService(st, core.Options{
		PadWidth:            cfg.IDs.PadWidth,
		StandardPrefix:      cfg.IDs.StandardPrefix,
		ReserveTimeout:      cfg.IDs.ReserveTimeout,
		Threshold:           cfg.Matching.Threshold,
		MaxSuggestions:      cfg.Matching.MaxSuggestions,
		CandidateLimit:      cfg.Matching.CandidateLimit,
		CandidateMax:        cfg.Matching.CandidateMax,
		ImportMaxConcurrent: cfg.Import.MaxConcurrent,
		ImportMaxWait:       cfg.Import.MaxWaitTime,
		SessionTTL:          cfg.Import.SessionTTL,
		MaxImportRows:       cfg.Import.MaxRows,
		AllowReset:          cfg.Admin.AllowReset,
		PrefixMap:           cfg.PrefixMap,
	})

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let in-flight classifications finish before the store closes.
		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for imports to finish classifying", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not finish in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		return
	}
	slog.Info("server stopped")
}

// openStore connects to the configured backend and migrates its schema.
func openStore(ctx context.Context, cfg *config.DatabaseConfig) (backend, error) {
	if cfg.Driver == config.DriverSQLite {
		st, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite catalog", "path", cfg.SQLitePath)
		return st, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	st := store.NewPostgres(pool)
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return st, nil
}

// Command license-server issues device-bound license tokens over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"popwatch/internal/config"
	"popwatch/internal/infrastructure"
	"popwatch/internal/issuer"
	"popwatch/internal/middleware"
	"popwatch/internal/security"
	"popwatch/internal/store"
	transport "popwatch/internal/transport/http"
)

func main() {
	var (
		seed           = flag.Bool("seed", false, "create a license, print its key, and exit")
		seedMaxDevices = flag.Int("seed-max-devices", 1, "max devices for the seeded license")
		seedValidity   = flag.Duration("seed-validity", 0, "seeded license validity (0 = never expires)")
	)
	flag.Parse()

	if err := run(*seed, *seedMaxDevices, *seedValidity); err != nil {
		slog.Error("license server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(seed bool, seedMaxDevices int, seedValidity time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.RequireSecret(); err != nil {
		return err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	signer := security.NewSigner([]byte(cfg.License.Secret))
	service := issuer.New(st, signer, issuer.Config{TokenTTL: cfg.License.TokenTTL}, logger, issuer.NewMetrics(registry))

	if seed {
		var expiresAt *time.Time
		if seedValidity > 0 {
			t := time.Now().Add(seedValidity)
			expiresAt = &t
		}
		lic, err := service.GenerateLicense(ctx, seedMaxDevices, expiresAt)
		if err != nil {
			return fmt.Errorf("failed to seed license: %w", err)
		}
		fmt.Println(lic.LicenseKey)
		return nil
	}

	shutdownTracing, err := infrastructure.InitializeTracing("license-server", "1.0.0", os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var limiter *middleware.IPRateLimiter
	if cfg.Server.RateLimit.Enabled {
		limiter = middleware.NewIPRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst, logger)
		defer limiter.Stop()
	}

	router := transport.NewRouter(transport.RouterOptions{
		Handler:     transport.NewLicenseHandler(service, logger),
		Logger:      logger,
		RateLimiter: limiter,
		Registry:    registry,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("license server listening",
			slog.String("action", "server_start"),
			slog.Int("port", cfg.Server.Port),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", slog.String("action", "server_shutdown"))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return shutdownTracing(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database DSN configured, using in-memory store",
			slog.String("action", "store_fallback"),
		)
		return store.NewMemoryStore(), nil
	}
	return store.Open(ctx, cfg.Database.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
}

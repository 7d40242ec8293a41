// orchestratord runs the fleet control plane: the session manager, the
// lifecycle poller, the retention sweeper, the notification router and
// the read-only status API, all wired to one process-scoped event bus.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/tarsy/pkg/analytics"
	"github.com/codeready-toolchain/tarsy/pkg/api"
	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/lifecycle"
	"github.com/codeready-toolchain/tarsy/pkg/manager"
	"github.com/codeready-toolchain/tarsy/pkg/masking"
	"github.com/codeready-toolchain/tarsy/pkg/notify"
	"github.com/codeready-toolchain/tarsy/pkg/retention"
	"github.com/codeready-toolchain/tarsy/pkg/store"
	"github.com/codeready-toolchain/tarsy/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	log.Printf("starting %s", version.Full())
	log.Printf("config directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	registry := capability.New()
	registry.LoadBuiltins(capability.Builtins())
	if err := registry.LoadFromConfig(cfg); err != nil {
		log.Fatalf("failed to resolve configured plugins: %v", err)
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("error closing session store: %v", err)
		}
	}()
	maskingSvc := masking.NewService()
	st.SetMasker(maskingSvc)

	bus := events.NewBus()

	if cfg.Analytics.Enabled() {
		mirror, err := analytics.NewMirror(ctx, cfg.Analytics.DSN)
		if err != nil {
			slog.Warn("analytics mirror disabled", "error", err)
		} else {
			bus.AddSink(mirror)
			defer mirror.Close()
		}
	}

	sessions := manager.New(cfg, registry, st, bus)
	sessions.SetMasker(maskingSvc)
	lc := lifecycle.New(cfg, registry, st, bus, sessions)
	retentionSvc := retention.NewService(cfg.Retention, st)
	router := notify.New(registry, cfg.NotificationRouting)
	conns := events.NewConnectionManager(bus, 10*time.Second)
	server := api.NewServer(cfg, sessions, st, conns)

	go lc.Start(ctx)
	go retentionSvc.Start(ctx)
	go router.Start(ctx, bus)
	go conns.Run(ctx, bus)

	addr := getEnv("HTTP_ADDR", portToAddr(cfg.Port))
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("status api exited", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("status api shutdown error", "error", err)
	}

	lc.Stop()
	retentionSvc.Stop()
}

func portToAddr(port int) string {
	if port == 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}

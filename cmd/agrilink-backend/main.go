// Command agrilink-backend runs the self-contained consultation backend:
// REST API, websocket snapshot stream, NATS snapshot publishing and optional
// Web Push delivery, backed by SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shonalidesh/agrilink/pkg/bus"
	"github.com/shonalidesh/agrilink/pkg/config"
	"github.com/shonalidesh/agrilink/pkg/devserver"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/notify"
	"github.com/shonalidesh/agrilink/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agrilink-backend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	bind := flag.String("bind", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "sqlite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	if *dbPath != "" {
		cfg.Server.StoragePath = *dbPath
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, "backend")
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	store, err := storage.New(cfg.Server.StoragePath)
	if err != nil {
		return err
	}
	defer store.Close()

	var mb bus.MessageBus
	if nb, err := bus.NewNATSBus(bus.Config{URL: cfg.Sync.NATSURL, Name: "agrilink-backend"}); err != nil {
		logger.Warn(logging.CategoryServer, "nats_unavailable", err.Error(), nil)
	} else {
		mb = nb
		defer nb.Close()
	}

	var push *notify.WebPushNotifier
	if cfg.Notify.WebPush {
		push, err = notify.NewWebPushNotifier(store, cfg.Notify.VAPIDSubject)
		if err != nil {
			return fmt.Errorf("web push: %w", err)
		}
		logger.Info(logging.CategoryServer, "push_enabled", "", map[string]any{
			"public_key": push.PublicKey(),
		})
	}

	server := devserver.NewServer(store, mb, logger, devserver.Options{Push: push})
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(logging.CategoryServer, "listening", cfg.Server.Bind, nil)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

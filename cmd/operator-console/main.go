// Command operator-console shows a live overview of every consultation in
// the system, grouped by status. It follows the push channel like the expert
// console but never mutates anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shonalidesh/agrilink/pkg/backend"
	"github.com/shonalidesh/agrilink/pkg/bus"
	"github.com/shonalidesh/agrilink/pkg/config"
	"github.com/shonalidesh/agrilink/pkg/consultation"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/poll"
	"github.com/shonalidesh/agrilink/pkg/session"
	"github.com/shonalidesh/agrilink/pkg/store"
	syncpkg "github.com/shonalidesh/agrilink/pkg/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "operator-console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	operatorID := flag.String("operator", "ops", "operator user id")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	viewer := session.Identity{UserID: *operatorID, Role: session.RoleOperator}
	if err := viewer.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, viewer.String())
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	st := store.New()
	st.Observe(func() {
		printOverview(st)
	})

	client := backend.NewClient(cfg.API.BaseURL, backend.StaticToken(cfg.API.Token), backend.Options{
		Timeout: cfg.API.Timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source syncpkg.SnapshotSource
	switch cfg.Sync.Transport {
	case config.TransportWebsocket:
		source = syncpkg.NewWebsocketSource(cfg.Sync.WebsocketURL, logger)
	default:
		nb, err := bus.NewNATSBus(bus.Config{URL: cfg.Sync.NATSURL, Name: "operator-console"})
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer nb.Close()
		source = syncpkg.NewBusSource(nb, logger)
	}

	fetcher := poll.NewFetcher(viewer, client, st, logger, cfg.Poll.Interval)
	if err := fetcher.RefreshNow(ctx); err != nil {
		logger.Warn(logging.CategoryFetch, "initial_fetch_failed", err.Error(), nil)
	}

	listener := syncpkg.NewListener(source, syncpkg.NewReconciler(viewer, st, nil, logger), logger)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	defer listener.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func printOverview(st *store.Store) {
	counts := map[consultation.Status]int{}
	for _, req := range st.List() {
		counts[req.Status]++
	}
	fmt.Printf("total=%d new=%d in_progress=%d completed=%d rejected=%d\n",
		st.Len(),
		counts[consultation.StatusNew],
		counts[consultation.StatusInProgress],
		counts[consultation.StatusCompleted],
		counts[consultation.StatusRejected])
}

// Command farmer-console is the farmer-side terminal client. It refreshes
// the farmer's own consultation requests on an interval and can raise a new
// request with -create.
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
	"github.com/shonalidesh/agrilink/pkg/config"
	apperrors "github.com/shonalidesh/agrilink/pkg/errors"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/poll"
	"github.com/shonalidesh/agrilink/pkg/session"
	"github.com/shonalidesh/agrilink/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "farmer-console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	farmerID := flag.String("farmer", "", "farmer user id")
	name := flag.String("name", "", "display name")
	create := flag.Bool("create", false, "create a new consultation request and exit")
	issueType := flag.String("issue", "", "issue type for -create")
	description := flag.String("desc", "", "description for -create")
	fieldID := flag.String("field", "", "field id for -create")
	flag.Parse()

	if *farmerID == "" {
		return fmt.Errorf("-farmer is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	viewer := session.Identity{UserID: *farmerID, Role: session.RoleFarmer, DisplayName: *name}
	if err := viewer.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, viewer.String())
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))

	client := backend.NewClient(cfg.API.BaseURL, backend.StaticToken(cfg.API.Token), backend.Options{
		Timeout: cfg.API.Timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *create {
		req, err := client.CreateConsultation(ctx, backend.CreateRequest{
			FarmerID:    viewer.UserID,
			FarmerName:  viewer.DisplayName,
			FieldID:     *fieldID,
			Category:    *issueType,
			Description: *description,
		})
		if err != nil {
			return fmt.Errorf("%s", apperrors.UserFacing(err, "Could not submit the request."))
		}
		fmt.Printf("created %s (%s)\n", req.ID, req.Status)
		return nil
	}

	st := store.New()
	st.Observe(func() {
		printRequests(st)
	})

	fetcher := poll.NewFetcher(viewer, client, st, logger, cfg.Poll.Interval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := fetcher.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	return g.Wait()
}

func printRequests(st *store.Store) {
	reqs := st.List()
	fmt.Printf("--- %d requests ---\n", len(reqs))
	for _, req := range reqs {
		fmt.Printf("%-28s %-12s %s\n", req.ID, req.Status, req.Category)
	}
}

// Command expert-console is the expert-side terminal client. It keeps a
// local mirror of the expert's consultation queue via pushed snapshots and
// drives accept/reject/complete transitions from stdin commands.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shonalidesh/agrilink/pkg/backend"
	"github.com/shonalidesh/agrilink/pkg/bus"
	"github.com/shonalidesh/agrilink/pkg/config"
	"github.com/shonalidesh/agrilink/pkg/consultation"
	apperrors "github.com/shonalidesh/agrilink/pkg/errors"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/notify"
	"github.com/shonalidesh/agrilink/pkg/session"
	"github.com/shonalidesh/agrilink/pkg/store"
	syncpkg "github.com/shonalidesh/agrilink/pkg/sync"
	"github.com/shonalidesh/agrilink/pkg/transition"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "expert-console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	expertID := flag.String("expert", "", "expert user id")
	name := flag.String("name", "", "display name")
	flag.Parse()

	if *expertID == "" {
		return fmt.Errorf("-expert is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	viewer := session.Identity{UserID: *expertID, Role: session.RoleExpert, DisplayName: *name}
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
	client := backend.NewClient(cfg.API.BaseURL, backend.StaticToken(cfg.API.Token), backend.Options{
		Timeout: cfg.API.Timeout,
	})

	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}

	var source syncpkg.SnapshotSource
	switch cfg.Sync.Transport {
	case config.TransportWebsocket:
		source = syncpkg.NewWebsocketSource(cfg.Sync.WebsocketURL, logger)
	default:
		nb, err := bus.NewNATSBus(bus.Config{URL: cfg.Sync.NATSURL, Name: "expert-console"})
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer nb.Close()
		source = syncpkg.NewBusSource(nb, logger)
		if cfg.Notify.Bus {
			notifiers = append(notifiers, notify.NewBusNotifier(nb, session.RoleExpert))
		}
	}

	notifier := notify.NewMulti(func(name string, err error) {
		logger.Warn(logging.CategoryNotify, "surface_failed", err.Error(), map[string]any{
			"surface": name,
		})
	}, notifiers...)

	// Print the toast-equivalent line as notifications arrive.
	st.Observe(func() {
		fmt.Printf("[queue] %d requests\n", st.Len())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The store fills from the first pushed snapshot rather than a REST
	// pre-fetch, so requests already waiting at login are announced like any
	// other first sighting.
	listener := syncpkg.NewListener(source, syncpkg.NewReconciler(viewer, st, notifier, logger), logger)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	defer listener.Stop()

	svc := transition.NewService(viewer, client, st, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		commandLoop(ctx, st, svc)
		stop()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

func commandLoop(ctx context.Context, st *store.Store, svc *transition.Service) {
	fmt.Println("commands: list | accept <id> | reject <id> | complete <id> <summary>|<diagnosis>|<recommendation> | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "quit", "exit":
			return
		case "list":
			printQueue(st)
		case "accept":
			if len(fields) < 2 {
				fmt.Println("usage: accept <id>")
				continue
			}
			err = svc.Accept(ctx, fields[1])
		case "reject":
			if len(fields) < 2 {
				fmt.Println("usage: reject <id>")
				continue
			}
			err = svc.Reject(ctx, fields[1])
		case "complete":
			if len(fields) < 3 {
				fmt.Println("usage: complete <id> <summary>|<diagnosis>|<recommendation>")
				continue
			}
			report, parseErr := parseReport(strings.Join(fields[2:], " "))
			if parseErr != nil {
				fmt.Println(parseErr)
				continue
			}
			err = svc.Complete(ctx, fields[1], report)
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}

		if err != nil {
			fmt.Println(apperrors.UserFacing(err, "The operation failed. Please try again."))
		}
	}
}

func parseReport(text string) (consultation.Report, error) {
	parts := strings.SplitN(text, "|", 3)
	if len(parts) != 3 {
		return consultation.Report{}, fmt.Errorf("report needs three |-separated sections")
	}
	return consultation.Report{
		ProblemSummary: strings.TrimSpace(parts[0]),
		Diagnosis:      strings.TrimSpace(parts[1]),
		Recommendation: strings.TrimSpace(parts[2]),
	}, nil
}

func printQueue(st *store.Store) {
	reqs := st.List()
	if len(reqs) == 0 {
		fmt.Println("queue is empty")
		return
	}
	for _, req := range reqs {
		fmt.Printf("%-28s %-12s %s\n", req.ID, req.Status, req.Requester.Name)
	}
}

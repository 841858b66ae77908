// Package poll implements the pull-based refresh path. Consoles without a
// push channel fetch their full request list on an interval and replace the
// local store wholesale.
package poll

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/shonalidesh/agrilink/pkg/consultation"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/session"
	"github.com/shonalidesh/agrilink/pkg/store"
)

// DefaultInterval is the refresh cadence when none is configured.
const DefaultInterval = 30 * time.Second

// Lister is the slice of the backend client the fetcher needs.
type Lister interface {
	ListOwnRequests(ctx context.Context, farmerID string) ([]consultation.Request, int, error)
	ListAssignments(ctx context.Context, expertID string) ([]consultation.Request, int, error)
	ListAll(ctx context.Context) ([]consultation.Request, int, error)
}

// Fetcher refreshes the local store from the REST API.
type Fetcher struct {
	viewer   session.Identity
	backend  Lister
	store    *store.Store
	logger   *logging.Logger
	interval time.Duration

	// limiter bounds manual RefreshNow calls so a rage-tapped refresh
	// button cannot hammer the API.
	limiter *rate.Limiter
}

// NewFetcher creates a fetcher. A non-positive interval falls back to the
// default.
func NewFetcher(viewer session.Identity, backend Lister, st *store.Store, logger *logging.Logger, interval time.Duration) *Fetcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Fetcher{
		viewer:   viewer,
		backend:  backend,
		store:    st,
		logger:   logger,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// Run fetches immediately, then on every tick until the context ends.
func (f *Fetcher) Run(ctx context.Context) error {
	f.refresh(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.refresh(ctx)
		}
	}
}

// RefreshNow performs an immediate rate-limited refresh. Returns the fetch
// error so the caller can surface it.
func (f *Fetcher) RefreshNow(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	return f.refresh(ctx)
}

// refresh fetches the viewer's collection and replaces the store. On error
// the store keeps its previous contents.
func (f *Fetcher) refresh(ctx context.Context) error {
	reqs, skipped, err := f.list(ctx)
	if err != nil {
		f.logger.Warn(logging.CategoryFetch, "fetch_failed", err.Error(), nil)
		return err
	}

	f.store.Dispatch(store.SetAll{Requests: reqs})
	f.logger.Debug(logging.CategoryFetch, "fetch_applied", "", map[string]any{
		"count":   len(reqs),
		"skipped": skipped,
	})
	return nil
}

func (f *Fetcher) list(ctx context.Context) ([]consultation.Request, int, error) {
	switch f.viewer.Role {
	case session.RoleExpert:
		return f.backend.ListAssignments(ctx, f.viewer.UserID)
	case session.RoleOperator:
		return f.backend.ListAll(ctx)
	default:
		return f.backend.ListOwnRequests(ctx, f.viewer.UserID)
	}
}

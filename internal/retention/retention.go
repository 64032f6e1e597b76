// Package retention removes cog records older than a cutoff.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/event"
	"github.com/trinetra-eo/cogcatalog/internal/metrics"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

// Age is a calendar age; the cutoff is now minus the age.
type Age struct {
	Years  int
	Months int
	Days   int
}

// Cutoff returns now minus a in epoch millis. At least one component must be
// positive and none may be negative.
func (a Age) Cutoff(now time.Time) (int64, error) {
	if a.Years < 0 || a.Months < 0 || a.Days < 0 {
		return 0, apperrors.Validation("days, months and years must not be negative")
	}
	if a.Years == 0 && a.Months == 0 && a.Days == 0 {
		return 0, apperrors.Validation("one of days, months or years is required")
	}
	return now.UTC().AddDate(-a.Years, -a.Months, -a.Days).UnixMilli(), nil
}

// Result reports one purge.
type Result struct {
	Cutoff  int64 `json:"cutoff"`
	Deleted int   `json:"deletedCount"`
}

// Purger deletes expired cogs and announces the purge.
type Purger struct {
	store   storage.Store
	events  event.Publisher
	metrics *metrics.Metrics
}

// NewPurger creates a purger. A nil publisher disables the purge event.
func NewPurger(store storage.Store, pub event.Publisher) *Purger {
	if pub == nil {
		pub = event.NewNoop()
	}
	return &Purger{store: store, events: pub, metrics: metrics.NewMetrics()}
}

// PurgeBefore deletes every cog acquired strictly before cutoff.
func (p *Purger) PurgeBefore(ctx context.Context, cutoff int64) (Result, error) {
	start := time.Now()
	n, err := p.store.DeleteCogsBefore(ctx, cutoff)
	p.metrics.ObserveStorage("delete_cogs_before", start, err)
	if err != nil {
		return Result{}, fmt.Errorf("purge cogs: %w", err)
	}
	p.metrics.CogsPurgedTotal.Add(float64(n))
	slog.InfoContext(ctx, "cogs purged", "cutoff", time.UnixMilli(cutoff).UTC().Format(time.RFC3339), "deleted", n)

	if n > 0 {
		err := p.events.PublishCogsPurged(ctx, cutoff, n)
		p.metrics.EventPublishTotal.WithLabelValues(event.TypeCogsPurged, metrics.Status(err)).Inc()
		if err != nil {
			slog.WarnContext(ctx, "failed to publish purge event", "error", err)
		}
	}
	return Result{Cutoff: cutoff, Deleted: n}, nil
}

// PurgeOlderThan deletes every cog older than age relative to now.
func (p *Purger) PurgeOlderThan(ctx context.Context, age Age, now time.Time) (Result, error) {
	cutoff, err := age.Cutoff(now)
	if err != nil {
		return Result{}, err
	}
	return p.PurgeBefore(ctx, cutoff)
}

package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/trinetra-eo/cogcatalog/internal/band"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
	"github.com/trinetra-eo/cogcatalog/internal/visibility"
)

// Composer executes requests against the store under the visibility rules.
type Composer struct {
	store    storage.Store
	resolver *visibility.Resolver
}

// NewComposer creates a composer.
func NewComposer(store storage.Store, resolver *visibility.Resolver) *Composer {
	return &Composer{store: store, resolver: resolver}
}

// Find resolves visibility, queries the store and applies post-filters.
func (c *Composer) Find(ctx context.Context, req Request) ([]model.Cog, error) {
	scope, err := c.resolver.Resolve(ctx, req.Filter(), req.ShowHidden)
	if err != nil {
		return nil, err
	}
	plan := Compose(req, scope)
	cogs, err := c.store.FindCogs(ctx, plan.Query)
	if err != nil {
		return nil, fmt.Errorf("find cogs: %w", err)
	}
	return plan.Finish(cogs), nil
}

// Get returns a single cog by id, hidden-aware.
func (c *Composer) Get(ctx context.Context, id string, showHidden bool) (*model.Cog, error) {
	cogs, err := c.store.FindCogs(ctx, storage.CogQuery{IDs: []string{id}, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find cog: %w", err)
	}
	if len(cogs) == 0 {
		return nil, apperrors.Invalid(apperrors.CAT_NOT_FOUND, "cog %s not found", id)
	}
	ok, err := c.resolver.Visible(ctx, cogs[0], showHidden)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Invalid(apperrors.CAT_NOT_FOUND, "cog %s not found", id)
	}
	return &cogs[0], nil
}

// Last returns the most recent count cogs, optionally at or before timestamp.
// The count is validated before any store access.
func (c *Composer) Last(ctx context.Context, req Request, timestamp *int64, count int) ([]model.Cog, error) {
	if err := ValidateFrameCount(count); err != nil {
		return nil, err
	}
	if timestamp != nil && (req.End == nil || *timestamp < *req.End) {
		req.End = timestamp
	}
	req.Sort = storage.SortDesc
	req.Limit, req.Skip = count, 0
	return c.Find(ctx, req)
}

// Show returns the cog acquired exactly at datetime, or the latest one when datetime is nil.
func (c *Composer) Show(ctx context.Context, req Request, datetime *int64) (*model.Cog, error) {
	if datetime != nil {
		req.Start, req.End = datetime, datetime
	}
	req.Sort = storage.SortDesc
	req.Limit, req.Skip = 1, 0
	cogs, err := c.Find(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(cogs) == 0 {
		return nil, apperrors.Invalid(apperrors.CAT_NOT_FOUND, "no matching cog")
	}
	return &cogs[0], nil
}

// AvailableTimes returns the distinct acquisition instants in ascending order.
func (c *Composer) AvailableTimes(ctx context.Context, req Request) ([]int64, error) {
	req.Sort = storage.SortAsc
	cogs, err := c.Find(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(cogs))
	for _, cog := range cogs {
		if n := len(out); n == 0 || out[n-1] != cog.AquisitionDatetime {
			out = append(out, cog.AquisitionDatetime)
		}
	}
	return out, nil
}

// AvailableDates returns the distinct UTC acquisition days (YYYY-MM-DD) in ascending order.
func (c *Composer) AvailableDates(ctx context.Context, req Request) ([]string, error) {
	times, err := c.AvailableTimes(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(times))
	for _, ms := range times {
		day := (model.Cog{AquisitionDatetime: ms}).AcquisitionTime().Format(dateLayout)
		if n := len(out); n == 0 || out[n-1] != day {
			out = append(out, day)
		}
	}
	return out, nil
}

// Types returns the distinct stored type values, sorted.
func (c *Composer) Types(ctx context.Context, req Request) ([]string, error) {
	cogs, err := c.Find(ctx, req)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, cog := range cogs {
		if cog.Type != "" {
			set[cog.Type] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// TypeLatest pairs a stored type with its most recent cog.
type TypeLatest struct {
	Type string    `json:"type"`
	Cog  model.Cog `json:"cog"`
}

// TypesWithLatest returns the latest cog per stored type, sorted by type.
func (c *Composer) TypesWithLatest(ctx context.Context, req Request) ([]TypeLatest, error) {
	req.Sort = storage.SortDesc
	req.Limit, req.Skip = 0, 0
	cogs, err := c.Find(ctx, req)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	out := make([]TypeLatest, 0)
	for _, cog := range cogs {
		if cog.Type == "" || seen[cog.Type] {
			continue
		}
		seen[cog.Type] = true
		out = append(out, TypeLatest{Type: cog.Type, Cog: cog})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// AllBands returns every distinct band token across the matching cogs.
func (c *Composer) AllBands(ctx context.Context, req Request) ([]string, error) {
	cogs, err := c.Find(ctx, req)
	if err != nil {
		return nil, err
	}
	return band.Distinct(cogs), nil
}

// BandsWithLatest returns one representative cog per band, preferring native
// sources, scanning latest acquisitions first.
func (c *Composer) BandsWithLatest(ctx context.Context, req Request) ([]band.Representative, error) {
	req.Sort = storage.SortDesc
	req.Limit, req.Skip = 0, 0
	cogs, err := c.Find(ctx, req)
	if err != nil {
		return nil, err
	}
	return band.Representatives(cogs), nil
}

// BandsAt returns one representative cog per band among cogs acquired exactly at datetime.
func (c *Composer) BandsAt(ctx context.Context, req Request, datetime int64) ([]band.Representative, error) {
	req.Start, req.End = &datetime, &datetime
	return c.BandsWithLatest(ctx, req)
}

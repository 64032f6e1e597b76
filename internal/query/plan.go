// Package query turns structured cog requests into store queries plus the
// in-memory predicates the store cannot express (band membership and spatial
// tests over nested corner coordinates).
package query

import (
	"github.com/paulmach/orb"

	"github.com/trinetra-eo/cogcatalog/internal/band"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
	"github.com/trinetra-eo/cogcatalog/internal/visibility"
)

// Request is a cog listing request. Zero-valued fields do not filter.
type Request struct {
	SatelliteIDs     []string
	ProcessingLevels []string
	ProductCodes     []string
	Types            []string // exact match on the stored type
	Bands            []string // matched against band.EffectiveBands

	Start *int64 // inclusive, epoch millis
	End   *int64 // inclusive, epoch millis

	BBox  *orb.Bound // [west, south] .. [east, north]
	Point *orb.Point // [lon, lat]

	ShowHidden bool
	Sort       storage.SortOrder
	Limit      int
	Skip       int
}

// Filter returns the product-level part of the request.
func (r Request) Filter() visibility.Filter {
	return visibility.Filter{
		SatelliteIDs:     r.SatelliteIDs,
		ProcessingLevels: r.ProcessingLevels,
		ProductCodes:     normalizeAll(r.ProductCodes),
	}
}

// PostFilter is a predicate evaluated after the store query.
type PostFilter func(model.Cog) bool

// Plan is the store-agnostic result of composing a Request.
type Plan struct {
	Query       storage.CogQuery
	PostFilters []PostFilter

	// Pagination deferred until after post-filtering.
	Limit int
	Skip  int
}

// Compose builds the plan for req under scope. It performs no I/O.
func Compose(req Request, scope visibility.Scope) Plan {
	q := storage.CogQuery{
		SatelliteIDs:     req.SatelliteIDs,
		ProcessingLevels: req.ProcessingLevels,
		ProductCodes:     normalizeAll(req.ProductCodes),
		Types:            req.Types,
		From:             req.Start,
		To:               req.End,
		Sort:             req.Sort,
	}
	scope.Apply(&q)

	var filters []PostFilter
	if len(req.Bands) > 0 {
		bands := req.Bands
		filters = append(filters, func(c model.Cog) bool { return band.MatchesAny(c, bands) })
	}
	if req.BBox != nil {
		box := *req.BBox
		filters = append(filters, func(c model.Cog) bool { return Overlaps(c, box) })
	}
	if req.Point != nil {
		pt := *req.Point
		filters = append(filters, func(c model.Cog) bool { return ContainsPoint(c, pt) })
	}

	plan := Plan{Query: q, PostFilters: filters}
	if len(filters) == 0 {
		plan.Query.Limit, plan.Query.Skip = req.Limit, req.Skip
	} else {
		plan.Limit, plan.Skip = req.Limit, req.Skip
	}
	return plan
}

// Keep reports whether c passes every post-filter.
func (p Plan) Keep(c model.Cog) bool {
	for _, f := range p.PostFilters {
		if !f(c) {
			return false
		}
	}
	return true
}

// Finish applies post-filters and deferred pagination to the store result.
func (p Plan) Finish(cogs []model.Cog) []model.Cog {
	if len(p.PostFilters) == 0 {
		return cogs
	}
	out := make([]model.Cog, 0, len(cogs))
	for _, c := range cogs {
		if p.Keep(c) {
			out = append(out, c)
		}
	}
	if p.Skip > 0 {
		if p.Skip >= len(out) {
			return []model.Cog{}
		}
		out = out[p.Skip:]
	}
	if p.Limit > 0 && p.Limit < len(out) {
		out = out[:p.Limit]
	}
	return out
}

// CogBound is the min/max box over the cog's four corners. ok is false when
// corner coordinates are missing or incomplete.
func CogBound(c model.Cog) (orb.Bound, bool) {
	if c.CornerCoords == nil {
		return orb.Bound{}, false
	}
	corners := c.CornerCoords.Corners()
	mp := make(orb.MultiPoint, 0, len(corners))
	for _, p := range corners {
		if !p.Valid() {
			return orb.Bound{}, false
		}
		mp = append(mp, orb.Point{p.Lon(), p.Lat()})
	}
	return mp.Bound(), true
}

// Overlaps reports whether the cog's bounds intersect box, edges inclusive.
func Overlaps(c model.Cog, box orb.Bound) bool {
	b, ok := CogBound(c)
	return ok && b.Intersects(box)
}

// ContainsPoint reports whether pt lies inside the cog's bounds, edges inclusive.
func ContainsPoint(c model.Cog, pt orb.Point) bool {
	b, ok := CogBound(c)
	return ok && b.Contains(pt)
}

func normalizeAll(codes []string) []string {
	if len(codes) == 0 {
		return codes
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = band.NormalizeName(c)
	}
	return out
}

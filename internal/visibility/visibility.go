// Package visibility resolves which products are visible and turns that into
// a restriction on cog queries. Every listing path goes through a Resolver.
package visibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

// Filter narrows the set of products considered. Empty fields match all.
type Filter struct {
	SatelliteIDs     []string
	ProcessingLevels []string
	ProductCodes     []string
}

// Scope is the outcome of a resolution. A nil ProductIDs slice means unrestricted;
// an empty non-nil slice means nothing is visible.
type Scope struct {
	ProductIDs []string
}

// Unrestricted reports whether the scope lets every cog through.
func (s Scope) Unrestricted() bool { return s.ProductIDs == nil }

// Apply ANDs the scope into q.
func (s Scope) Apply(q *storage.CogQuery) {
	if s.Unrestricted() {
		return
	}
	q.RestrictProducts = true
	q.ProductIDs = append([]string{}, s.ProductIDs...)
}

// Allows reports whether a cog referencing productID falls inside the scope.
func (s Scope) Allows(productID string) bool {
	if s.Unrestricted() {
		return true
	}
	for _, id := range s.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Resolver computes visibility scopes against a Store.
type Resolver struct {
	store storage.Store
}

// NewResolver creates a resolver backed by store.
func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the scope for f. With showHidden the scope is unrestricted and
// the store is not consulted.
func (r *Resolver) Resolve(ctx context.Context, f Filter, showHidden bool) (Scope, error) {
	if showHidden {
		return Scope{}, nil
	}
	products, err := r.store.FindProducts(ctx, storage.ProductQuery{
		SatelliteIDs:     f.SatelliteIDs,
		ProcessingLevels: f.ProcessingLevels,
		ProductIDs:       f.ProductCodes,
		VisibleOnly:      true,
	})
	if err != nil {
		return Scope{}, fmt.Errorf("resolve visible products: %w", err)
	}
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return Scope{ProductIDs: ids}, nil
}

// ProductFilter returns a product query for f that hides invisible products
// unless showHidden is set.
func ProductFilter(f Filter, showHidden bool) storage.ProductQuery {
	return storage.ProductQuery{
		SatelliteIDs:     f.SatelliteIDs,
		ProcessingLevels: f.ProcessingLevels,
		ProductIDs:       f.ProductCodes,
		VisibleOnly:      !showHidden,
	}
}

// Visible reports whether a single cog may be returned. A cog whose product is hidden
// or missing is not visible when hidden items are excluded.
func (r *Resolver) Visible(ctx context.Context, cog model.Cog, showHidden bool) (bool, error) {
	if showHidden {
		return true, nil
	}
	if cog.Product == "" {
		return false, nil
	}
	p, err := r.store.GetProduct(ctx, cog.Product)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load product %s: %w", cog.Product, err)
	}
	return p.IsVisible, nil
}

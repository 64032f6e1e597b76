package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trinetra-eo/cogcatalog/internal/model"
)

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu         sync.RWMutex                // Protects concurrent access to maps
	satellites map[string]*model.Satellite // Map of satelliteId to satellite
	products   map[string]*model.Product   // Map of store id to product
	cogs       map[string]*model.Cog       // Map of store id to cog
	users      map[string]*model.User      // Map of user id to user
}

// NewMemory creates a new in-memory storage implementation.
// Returns a Store interface that can be used for testing or development.
func NewMemory() Store {
	return &memory{
		satellites: make(map[string]*model.Satellite),
		products:   make(map[string]*model.Product),
		cogs:       make(map[string]*model.Cog),
		users:      make(map[string]*model.User),
	}
}

func (m *memory) Ping(ctx context.Context) error { return nil }

func (m *memory) CreateSatellite(ctx context.Context, sat model.Satellite) (*model.Satellite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.satellites[sat.SatelliteID]; exists {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	if sat.ID == "" {
		sat.ID = NewID()
	}
	sat.Products = appendMissing(nil, sat.Products)
	sat.Cogs = appendMissing(nil, sat.Cogs)
	sat.CreatedAt, sat.UpdatedAt = now, now
	m.satellites[sat.SatelliteID] = &sat
	return cloneSatellite(&sat), nil
}

func (m *memory) GetSatellite(ctx context.Context, satelliteID string) (*model.Satellite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sat, exists := m.satellites[satelliteID]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneSatellite(sat), nil
}

func (m *memory) ListSatellites(ctx context.Context) ([]model.Satellite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Satellite, 0, len(m.satellites))
	for _, s := range m.satellites {
		out = append(out, *cloneSatellite(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SatelliteID < out[j].SatelliteID })
	return out, nil
}

func (m *memory) UpdateSatellite(ctx context.Context, satelliteID string, upd SatelliteUpdate) (*model.Satellite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sat, exists := m.satellites[satelliteID]
	if !exists {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		sat.Name = *upd.Name
	}
	if upd.Manufacturer != nil {
		sat.Manufacturer = *upd.Manufacturer
	}
	if upd.Orbit != nil {
		sat.Orbit = *upd.Orbit
	}
	sat.UpdatedAt = time.Now().UTC()
	return cloneSatellite(sat), nil
}

func (m *memory) DeleteSatellite(ctx context.Context, satelliteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.satellites[satelliteID]; !exists {
		return ErrNotFound
	}
	delete(m.satellites, satelliteID)
	return nil
}

func (m *memory) AddSatelliteRefs(ctx context.Context, satelliteID string, productIDs, cogIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sat, exists := m.satellites[satelliteID]
	if !exists {
		return ErrNotFound
	}
	sat.Products = appendMissing(sat.Products, productIDs)
	sat.Cogs = appendMissing(sat.Cogs, cogIDs)
	sat.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memory) FindOrCreateProduct(ctx context.Context, key model.ProductKey, displayName string) (*model.Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.products {
		if p.Key() == key {
			if p.ProductDisplayName == "" && displayName != "" {
				p.ProductDisplayName = displayName
				p.UpdatedAt = time.Now().UTC()
			}
			return cloneProduct(p), false, nil
		}
	}

	now := time.Now().UTC()
	p := &model.Product{
		ID:                 NewID(),
		ProductID:          key.ProductID,
		SatelliteID:        key.SatelliteID,
		ProcessingLevel:    key.ProcessingLevel,
		IsVisible:          true,
		ProductDisplayName: displayName,
		Cogs:               []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.products[p.ID] = p
	return cloneProduct(p), true, nil
}

func (m *memory) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.products {
		if existing.Key() == p.Key() {
			return nil, ErrConflict
		}
	}
	now := time.Now().UTC()
	p.ID = NewID()
	p.Cogs = appendMissing(nil, p.Cogs)
	p.CreatedAt, p.UpdatedAt = now, now
	m.products[p.ID] = &p
	return cloneProduct(&p), nil
}

func (m *memory) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.products[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneProduct(p), nil
}

func (m *memory) matchProducts(q ProductQuery) []model.Product {
	out := make([]model.Product, 0)
	for _, p := range m.products {
		if len(q.IDs) > 0 && !contains(q.IDs, p.ID) {
			continue
		}
		if len(q.ProductIDs) > 0 && !contains(q.ProductIDs, p.ProductID) {
			continue
		}
		if len(q.SatelliteIDs) > 0 && !contains(q.SatelliteIDs, p.SatelliteID) {
			continue
		}
		if len(q.ProcessingLevels) > 0 && !contains(q.ProcessingLevels, p.ProcessingLevel) {
			continue
		}
		if q.VisibleOnly && !p.IsVisible {
			continue
		}
		if q.CreatedFrom != nil && p.CreatedAt.Before(*q.CreatedFrom) {
			continue
		}
		if q.CreatedTo != nil && p.CreatedAt.After(*q.CreatedTo) {
			continue
		}
		out = append(out, *cloneProduct(p))
	}
	return out
}

func (m *memory) FindProducts(ctx context.Context, q ProductQuery) ([]model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.matchProducts(q)
	sortProducts(out, q.SortBy, q.SortDesc)
	return paginate(out, q.Skip, q.Limit), nil
}

func (m *memory) CountProducts(ctx context.Context, q ProductQuery) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matchProducts(q)), nil
}

func (m *memory) UpdateProduct(ctx context.Context, id string, upd ProductUpdate) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.products[id]
	if !exists {
		return nil, ErrNotFound
	}
	if upd.ProductDisplayName != nil {
		p.ProductDisplayName = *upd.ProductDisplayName
	}
	if upd.IsVisible != nil {
		p.IsVisible = *upd.IsVisible
	}
	p.UpdatedAt = time.Now().UTC()
	return cloneProduct(p), nil
}

func (m *memory) SetProductsVisibility(ctx context.Context, ids []string, visible bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	modified := 0
	for _, id := range ids {
		p, exists := m.products[id]
		if !exists || p.IsVisible == visible {
			continue
		}
		p.IsVisible = visible
		p.UpdatedAt = time.Now().UTC()
		modified++
	}
	return modified, nil
}

func (m *memory) DeleteProduct(ctx context.Context, id string) (*model.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.products[id]
	if !exists {
		return nil, 0, ErrNotFound
	}
	delete(m.products, id)

	removed := map[string]struct{}{id: {}}
	for cid, c := range m.cogs {
		if c.Product == id {
			delete(m.cogs, cid)
			removed[cid] = struct{}{}
		}
	}
	if sat, ok := m.satellites[p.SatelliteID]; ok {
		sat.Products = pullAll(sat.Products, removed)
		sat.Cogs = pullAll(sat.Cogs, removed)
		sat.UpdatedAt = time.Now().UTC()
	}
	return cloneProduct(p), len(removed) - 1, nil
}

func (m *memory) AddProductCogs(ctx context.Context, productID string, cogIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.products[productID]
	if !exists {
		return ErrNotFound
	}
	p.Cogs = appendMissing(p.Cogs, cogIDs)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memory) InsertCog(ctx context.Context, cog model.Cog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cog.ID == "" {
		cog.ID = NewID()
	}
	if _, exists := m.cogs[cog.ID]; exists {
		return ErrConflict
	}
	if cog.CreatedAt.IsZero() {
		cog.CreatedAt = time.Now().UTC()
	}
	c := cog
	m.cogs[cog.ID] = &c
	return nil
}

func (m *memory) FindCogs(ctx context.Context, q CogQuery) ([]model.Cog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if q.RestrictProducts && len(q.ProductIDs) == 0 {
		return []model.Cog{}, nil
	}

	out := make([]model.Cog, 0)
	for _, c := range m.cogs {
		if len(q.IDs) > 0 && !contains(q.IDs, c.ID) {
			continue
		}
		if len(q.SatelliteIDs) > 0 && !contains(q.SatelliteIDs, c.SatelliteID) {
			continue
		}
		if len(q.ProcessingLevels) > 0 && !contains(q.ProcessingLevels, c.ProcessingLevel) {
			continue
		}
		if len(q.ProductCodes) > 0 && !contains(q.ProductCodes, c.ProductCode) {
			continue
		}
		if len(q.Types) > 0 && !contains(q.Types, c.Type) {
			continue
		}
		if q.RestrictProducts && !contains(q.ProductIDs, c.Product) {
			continue
		}
		if q.From != nil && c.AquisitionDatetime < *q.From {
			continue
		}
		if q.To != nil && c.AquisitionDatetime > *q.To {
			continue
		}
		out = append(out, *c)
	}

	// Stable ordering by id first so equal timestamps come back deterministically
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	switch q.Sort {
	case SortAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].AquisitionDatetime < out[j].AquisitionDatetime })
	case SortDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].AquisitionDatetime > out[j].AquisitionDatetime })
	}
	return paginate(out, q.Skip, q.Limit), nil
}

func (m *memory) DeleteCogsBefore(ctx context.Context, cutoff int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := make(map[string]struct{})
	for id, c := range m.cogs {
		if c.AquisitionDatetime < cutoff {
			removed[id] = struct{}{}
			delete(m.cogs, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	for _, p := range m.products {
		p.Cogs = pullAll(p.Cogs, removed)
	}
	for _, s := range m.satellites {
		s.Cogs = pullAll(s.Cogs, removed)
	}
	return len(removed), nil
}

func (m *memory) CreateUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	userCopy := u
	m.users[u.ID] = &userCopy
	return nil
}

func (m *memory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			userCopy := *u
			return &userCopy, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memory) GetUser(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, exists := m.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	userCopy := *u
	return &userCopy, nil
}

func cloneSatellite(s *model.Satellite) *model.Satellite {
	c := *s
	c.Products = append([]string{}, s.Products...)
	c.Cogs = append([]string{}, s.Cogs...)
	return &c
}

func cloneProduct(p *model.Product) *model.Product {
	c := *p
	c.Cogs = append([]string{}, p.Cogs...)
	return &c
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// appendMissing appends each value not already in set, preserving order.
func appendMissing(set []string, values []string) []string {
	if set == nil {
		set = []string{}
	}
	for _, v := range values {
		if !contains(set, v) {
			set = append(set, v)
		}
	}
	return set
}

func pullAll(set []string, removed map[string]struct{}) []string {
	out := set[:0]
	for _, v := range set {
		if _, gone := removed[v]; !gone {
			out = append(out, v)
		}
	}
	return out
}

func paginate[T any](items []T, skip, limit int) []T {
	if skip > 0 {
		if skip >= len(items) {
			return []T{}
		}
		items = items[skip:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortProducts(ps []model.Product, by string, desc bool) {
	less := func(i, j int) bool { return ps[i].CreatedAt.Before(ps[j].CreatedAt) }
	switch by {
	case "productId":
		less = func(i, j int) bool { return ps[i].ProductID < ps[j].ProductID }
	case "satelliteId":
		less = func(i, j int) bool { return ps[i].SatelliteID < ps[j].SatelliteID }
	case "processingLevel":
		less = func(i, j int) bool { return ps[i].ProcessingLevel < ps[j].ProcessingLevel }
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	if desc {
		sort.SliceStable(ps, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(ps, less)
}

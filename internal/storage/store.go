// Package storage provides the metadata store used by the catalog service.
// Three backends implement Store: an in-memory map store for development and tests,
// PostgreSQL for relational deployments and MongoDB for document deployments.
package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trinetra-eo/cogcatalog/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a document is not found
	ErrConflict = errors.New("conflict")  // Returned when a unique key already exists
)

// SortOrder controls ordering on aquisition_datetime.
type SortOrder int

const (
	SortNone SortOrder = iota
	SortAsc
	SortDesc
)

// CogQuery is the store-level predicate over the cog collection.
// Every non-empty slice is an "in" match; all fields are ANDed.
type CogQuery struct {
	IDs              []string
	SatelliteIDs     []string
	ProcessingLevels []string
	ProductCodes     []string
	Types            []string

	// ProductIDs restricts cogs to the given product store ids when RestrictProducts
	// is set. An empty list then matches nothing.
	ProductIDs       []string
	RestrictProducts bool

	From *int64 // inclusive lower bound on aquisition_datetime
	To   *int64 // inclusive upper bound on aquisition_datetime

	Sort  SortOrder
	Limit int // 0 means unlimited
	Skip  int
}

// ProductQuery is the store-level predicate over the product collection.
type ProductQuery struct {
	IDs              []string
	ProductIDs       []string // product codes
	SatelliteIDs     []string
	ProcessingLevels []string
	VisibleOnly      bool
	CreatedFrom      *time.Time
	CreatedTo        *time.Time

	SortBy   string // createdAt, productId, satelliteId, processingLevel
	SortDesc bool
	Limit    int
	Skip     int
}

// ProductUpdate carries the mutable product fields; nil fields are left untouched.
type ProductUpdate struct {
	ProductDisplayName *string
	IsVisible          *bool
}

// SatelliteUpdate carries the mutable satellite fields; nil fields are left untouched.
type SatelliteUpdate struct {
	Name         *string
	Manufacturer *string
	Orbit        *string
}

// Store interface defines the storage operations required by the catalog service.
type Store interface {
	// Satellite operations
	CreateSatellite(ctx context.Context, sat model.Satellite) (*model.Satellite, error)
	GetSatellite(ctx context.Context, satelliteID string) (*model.Satellite, error)
	ListSatellites(ctx context.Context) ([]model.Satellite, error)
	UpdateSatellite(ctx context.Context, satelliteID string, upd SatelliteUpdate) (*model.Satellite, error)
	DeleteSatellite(ctx context.Context, satelliteID string) error
	// AddSatelliteRefs adds product and cog ids to the satellite's sets if absent.
	AddSatelliteRefs(ctx context.Context, satelliteID string, productIDs, cogIDs []string) error

	// Product operations
	// FindOrCreateProduct atomically returns the product for key, creating it visible
	// when absent. An unset display name is backfilled from displayName.
	FindOrCreateProduct(ctx context.Context, key model.ProductKey, displayName string) (*model.Product, bool, error)
	CreateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	FindProducts(ctx context.Context, q ProductQuery) ([]model.Product, error)
	CountProducts(ctx context.Context, q ProductQuery) (int, error)
	UpdateProduct(ctx context.Context, id string, upd ProductUpdate) (*model.Product, error)
	SetProductsVisibility(ctx context.Context, ids []string, visible bool) (int, error)
	// DeleteProduct removes the product and every cog referencing it.
	DeleteProduct(ctx context.Context, id string) (*model.Product, int, error)
	AddProductCogs(ctx context.Context, productID string, cogIDs []string) error

	// Cog operations
	InsertCog(ctx context.Context, cog model.Cog) error
	FindCogs(ctx context.Context, q CogQuery) ([]model.Cog, error)
	// DeleteCogsBefore removes cogs acquired strictly before cutoff (epoch millis) and
	// pulls their ids out of the owning product and satellite sets.
	DeleteCogsBefore(ctx context.Context, cutoff int64) (int, error)

	// User operations
	CreateUser(ctx context.Context, u model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a new lexicographically sortable document id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

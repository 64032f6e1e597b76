package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trinetra-eo/cogcatalog/internal/aggregate"
	"github.com/trinetra-eo/cogcatalog/internal/band"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/event"
	"github.com/trinetra-eo/cogcatalog/internal/metrics"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/schema"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
	"github.com/trinetra-eo/cogcatalog/internal/visibility"
)

const (
	defaultProductPageSize = 100
	maxCompareProducts     = 10
)

// publishVisibility announces a visibility change. Failures are logged only.
func (s *Server) publishVisibility(ctx context.Context, ids []string, visible bool) {
	err := s.pub.PublishProductVisibility(ctx, ids, visible)
	s.metrics.EventPublishTotal.WithLabelValues(event.TypeProductVisibility, metrics.Status(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "failed to publish visibility event", "correlation_id", CorrelationID(ctx), "error", err)
	}
}

// visibleProduct loads a product, reporting hidden ones as missing unless showHidden.
func (s *Server) visibleProduct(ctx context.Context, id string, showHidden bool) (*model.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsVisible && !showHidden {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

type createProductRequest struct {
	ProductID          string `json:"productId" validate:"required"`
	SatelliteID        string `json:"satelliteId" validate:"required"`
	ProcessingLevel    string `json:"processingLevel" validate:"required"`
	ProductDisplayName string `json:"productDisplayName"`
	IsVisible          *bool  `json:"isVisible"`
}

// handleCreateProduct handles POST /product
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleCreateProduct")
	defer span.End()

	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.schema.Validate(schema.KindProductCreate, body); err != nil {
		s.fail(w, r, err)
		return
	}
	var req createProductRequest
	if err := s.decodeInto(body, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	sat, err := s.store.GetSatellite(r.Context(), req.SatelliteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.fail(w, r, apperrors.Invalid(apperrors.CAT_SATELLITE_UNDEFINED, "satellite %q not defined", req.SatelliteID))
			return
		}
		s.fail(w, r, err)
		return
	}

	visible := true
	if req.IsVisible != nil {
		visible = *req.IsVisible
	}
	product, err := s.store.CreateProduct(r.Context(), model.Product{
		ProductID:          band.NormalizeName(req.ProductID),
		SatelliteID:        sat.SatelliteID,
		ProcessingLevel:    req.ProcessingLevel,
		ProductDisplayName: req.ProductDisplayName,
		IsVisible:          visible,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.fail(w, r, apperrors.Invalid(apperrors.CAT_CONFLICT, "product %s/%s/%s already exists",
				sat.SatelliteID, req.ProcessingLevel, band.NormalizeName(req.ProductID)))
			return
		}
		s.fail(w, r, err)
		return
	}
	if err := s.store.AddSatelliteRefs(r.Context(), sat.SatelliteID, []string{product.ID}, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("product.id", product.ID))
	writeSuccess(w, http.StatusCreated, product)
}

// handleGetProduct handles GET /product/{id}
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, span := startSpan(r, "handleGetProduct", attribute.String("product.id", id))
	defer span.End()

	p, err := s.visibleProduct(r.Context(), id, showHidden(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, p)
}

type updateProductRequest struct {
	ProductDisplayName *string `json:"productDisplayName"`
	IsVisible          *bool   `json:"isVisible"`
}

// handleUpdateProduct handles PUT /product/{id}
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, span := startSpan(r, "handleUpdateProduct", attribute.String("product.id", id))
	defer span.End()

	var req updateProductRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ProductDisplayName == nil && req.IsVisible == nil {
		s.fail(w, r, apperrors.Validation("one of productDisplayName or isVisible is required"))
		return
	}

	before, err := s.store.GetProduct(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	after, err := s.store.UpdateProduct(r.Context(), id, storage.ProductUpdate{
		ProductDisplayName: req.ProductDisplayName,
		IsVisible:          req.IsVisible,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if before.IsVisible != after.IsVisible {
		s.publishVisibility(r.Context(), []string{id}, after.IsVisible)
	}
	writeSuccess(w, http.StatusOK, after)
}

type deleteProductResponse struct {
	Product     *model.Product `json:"product"`
	DeletedCogs int            `json:"deletedCogs"`
}

// handleDeleteProduct handles DELETE /product/{id}; the product's cogs go with it.
func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, span := startSpan(r, "handleDeleteProduct", attribute.String("product.id", id))
	defer span.End()

	start := time.Now()
	p, n, err := s.store.DeleteProduct(r.Context(), id)
	s.metrics.ObserveStorage("delete_product", start, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "product deleted", "correlation_id", CorrelationID(r.Context()), "product_id", id, "deleted_cogs", n)
	writeSuccess(w, http.StatusOK, deleteProductResponse{Product: p, DeletedCogs: n})
}

// handleProductSatellite handles GET /product/{id}/satellite
func (s *Server) handleProductSatellite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, span := startSpan(r, "handleProductSatellite", attribute.String("product.id", id))
	defer span.End()

	p, err := s.visibleProduct(r.Context(), id, showHidden(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sat, err := s.store.GetSatellite(r.Context(), p.SatelliteID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sat)
}

// handleToggleVisibility handles PATCH /product/{id}/toggle-visibility
func (s *Server) handleToggleVisibility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, span := startSpan(r, "handleToggleVisibility", attribute.String("product.id", id))
	defer span.End()

	p, err := s.store.GetProduct(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	visible := !p.IsVisible
	updated, err := s.store.UpdateProduct(r.Context(), id, storage.ProductUpdate{IsVisible: &visible})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.publishVisibility(r.Context(), []string{id}, visible)
	writeSuccess(w, http.StatusOK, updated)
}

type batchVisibilityRequest struct {
	ProductIDs []string `json:"productIds" validate:"required,min=1,dive,required"`
	IsVisible  *bool    `json:"isVisible" validate:"required"`
}

type batchVisibilityResponse struct {
	UpdatedCount int  `json:"updatedCount"`
	IsVisible    bool `json:"isVisible"`
}

// handleBatchSetVisibility handles POST /product/batch/set-visibility
func (s *Server) handleBatchSetVisibility(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleBatchSetVisibility")
	defer span.End()

	var req batchVisibilityRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.store.SetProductsVisibility(r.Context(), req.ProductIDs, *req.IsVisible)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if n > 0 {
		s.publishVisibility(r.Context(), req.ProductIDs, *req.IsVisible)
	}
	span.SetAttributes(attribute.Int("updated", n))
	writeSuccess(w, http.StatusOK, batchVisibilityResponse{UpdatedCount: n, IsVisible: *req.IsVisible})
}

// satelliteProducts lists the products of satId after checking the satellite exists.
func (s *Server) satelliteProducts(r *http.Request, satID string, levels, codes []string) ([]model.Product, error) {
	if _, err := s.store.GetSatellite(r.Context(), satID); err != nil {
		return nil, err
	}
	normalized := make([]string, len(codes))
	for i, c := range codes {
		normalized[i] = band.NormalizeName(c)
	}
	q := visibility.ProductFilter(visibility.Filter{
		SatelliteIDs:     []string{satID},
		ProcessingLevels: levels,
		ProductCodes:     normalized,
	}, showHidden(r))
	q.SortBy = "productId"
	return s.store.FindProducts(r.Context(), q)
}

// handleSatelliteProducts serves /product/satellite/{satId}[/products] and /satellite/{satId}/products.
func (s *Server) handleSatelliteProducts(w http.ResponseWriter, r *http.Request) {
	satID := chi.URLParam(r, "satId")
	r, span := startSpan(r, "handleSatelliteProducts", attribute.String("satellite.id", satID))
	defer span.End()

	products, err := s.satelliteProducts(r, satID, listParam(r, "", "processingLevel"), listParam(r, "", "productCode"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, products)
}

// handleProcessingLevels handles GET /product/satellite/{satId}/processing-levels
func (s *Server) handleProcessingLevels(w http.ResponseWriter, r *http.Request) {
	satID := chi.URLParam(r, "satId")
	r, span := startSpan(r, "handleProcessingLevels", attribute.String("satellite.id", satID))
	defer span.End()

	products, err := s.satelliteProducts(r, satID, nil, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, distinct(products, func(p model.Product) string { return p.ProcessingLevel }))
}

// handleProductCodes handles GET /product/satellite/{satId}/{processingLevel}/product-codes
func (s *Server) handleProductCodes(w http.ResponseWriter, r *http.Request) {
	satID := chi.URLParam(r, "satId")
	level := chi.URLParam(r, "processingLevel")
	r, span := startSpan(r, "handleProductCodes", attribute.String("satellite.id", satID), attribute.String("processing_level", level))
	defer span.End()

	products, err := s.satelliteProducts(r, satID, []string{level}, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, distinct(products, func(p model.Product) string { return p.ProductID }))
}

func distinct(products []model.Product, key func(model.Product) string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, p := range products {
		k := key(p)
		if _, ok := seen[k]; ok || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type productDateRange struct {
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
	Start     *time.Time `json:"start"`
	End       *time.Time `json:"end"`
}

// bounds prefers startDate/endDate and falls back to start/end.
func (d productDateRange) bounds() (from, to *time.Time) {
	from, to = d.StartDate, d.EndDate
	if from == nil {
		from = d.Start
	}
	if to == nil {
		to = d.End
	}
	return from, to
}

type productSearchRequest struct {
	SatelliteIDs     []string          `json:"satelliteIds"`
	ProcessingLevels []string          `json:"processingLevels"`
	ProductCodes     []string          `json:"productCodes"`
	ProductIDs       []string          `json:"productIds"`
	DateRange        *productDateRange `json:"dateRange"`
	SortBy           string            `json:"sortBy" validate:"omitempty,oneof=createdAt productId satelliteId processingLevel"`
	SortOrder        string            `json:"sortOrder" validate:"omitempty,oneof=asc desc"`
	Skip             int               `json:"skip" validate:"gte=0,lte=1000000000"`
	Page             int               `json:"page" validate:"gte=0,lte=1000000"`
	Limit            int               `json:"limit" validate:"gte=0,lte=1000"`
	ShowHidden       bool              `json:"showHidden"`
}

type productSearchResponse struct {
	Products   []model.Product `json:"products"`
	TotalCount int             `json:"totalCount"`
	Page       int             `json:"page"`
	TotalPages int             `json:"totalPages"`
}

// handleAdvancedProductSearch handles POST /product/advanced-search
func (s *Server) handleAdvancedProductSearch(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleAdvancedProductSearch")
	defer span.End()

	var req productSearchRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultProductPageSize
	}
	if req.SortBy == "" {
		req.SortBy = "createdAt"
	}
	// page wins over skip when both are given
	skip := req.Skip
	if req.Page > 0 {
		skip = (req.Page - 1) * req.Limit
	} else {
		req.Page = skip/req.Limit + 1
	}

	raw := append(append([]string{}, req.ProductCodes...), req.ProductIDs...)
	codes := make([]string, len(raw))
	for i, c := range raw {
		codes[i] = band.NormalizeName(c)
	}
	q := visibility.ProductFilter(visibility.Filter{
		SatelliteIDs:     req.SatelliteIDs,
		ProcessingLevels: req.ProcessingLevels,
		ProductCodes:     codes,
	}, req.ShowHidden || showHidden(r))
	if req.DateRange != nil {
		q.CreatedFrom, q.CreatedTo = req.DateRange.bounds()
		if q.CreatedFrom != nil && q.CreatedTo != nil && q.CreatedFrom.After(*q.CreatedTo) {
			s.fail(w, r, apperrors.Validation("dateRange startDate must not be after endDate"))
			return
		}
	}

	total, err := s.store.CountProducts(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q.SortBy = req.SortBy
	q.SortDesc = req.SortOrder != "asc"
	q.Limit = req.Limit
	q.Skip = skip
	products, err := s.store.FindProducts(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	span.SetAttributes(attribute.Int("result.total", total))
	writeSuccess(w, http.StatusOK, productSearchResponse{
		Products:   products,
		TotalCount: total,
		Page:       req.Page,
		TotalPages: (total + req.Limit - 1) / req.Limit,
	})
}

type compareProductsRequest struct {
	ProductIDs         []string `json:"productIds" validate:"required,min=2,dive,required"`
	SatelliteID        string   `json:"satelliteId"`
	ProcessingLevel    string   `json:"processingLevel"`
	IncludeHidden      bool     `json:"includeHidden"`
	IncludeCogMetadata bool     `json:"includeCogMetadata"`
}

// handleCompareProducts handles POST /product/compare. Product codes are resolved
// to products, optionally narrowed by satellite and processing level.
func (s *Server) handleCompareProducts(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleCompareProducts")
	defer span.End()

	var req compareProductsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	f := visibility.Filter{}
	for _, c := range req.ProductIDs {
		f.ProductCodes = append(f.ProductCodes, band.NormalizeName(c))
	}
	if req.SatelliteID != "" {
		f.SatelliteIDs = []string{req.SatelliteID}
	}
	if req.ProcessingLevel != "" {
		f.ProcessingLevels = []string{req.ProcessingLevel}
	}
	q := visibility.ProductFilter(f, req.IncludeHidden)
	q.SortBy = "productId"
	products, err := s.store.FindProducts(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(products) == 0 {
		s.fail(w, r, apperrors.Invalid(apperrors.CAT_NOT_FOUND, "no products match the requested codes"))
		return
	}
	if len(products) > maxCompareProducts {
		s.fail(w, r, apperrors.Validation("at most %d products can be compared, narrow by satelliteId or processingLevel", maxCompareProducts))
		return
	}

	ceiling := s.opts.MaxAggregateCogs
	fetch := func(ctx context.Context, p model.Product) ([]model.Cog, error) {
		cogs, err := s.store.FindCogs(ctx, storage.CogQuery{
			ProductIDs:       []string{p.ID},
			RestrictProducts: true,
			Sort:             storage.SortDesc,
			Limit:            ceiling + 1,
		})
		if err != nil {
			return nil, err
		}
		if len(cogs) > ceiling {
			return nil, apperrors.Validation("product %s has more than %d cogs", p.ID, ceiling)
		}
		return cogs, nil
	}
	result, err := aggregate.CompareProducts(r.Context(), products, fetch, req.IncludeCogMetadata)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("products", len(products)))
	writeSuccess(w, http.StatusOK, result)
}

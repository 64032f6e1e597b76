package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trinetra-eo/cogcatalog/internal/aggregate"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/query"
	"github.com/trinetra-eo/cogcatalog/internal/schema"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
	"github.com/trinetra-eo/cogcatalog/internal/visibility"
)

const (
	defaultManufacturer = "ISRO"
	defaultOrbit        = "unknown"
)

type createSatelliteRequest struct {
	SatelliteID  string `json:"satelliteId" validate:"required,max=64"`
	Name         string `json:"name" validate:"required,max=256"`
	Manufacturer string `json:"manufacturer"`
	Orbit        string `json:"orbit"`
}

// handleCreateSatellite handles POST /satellite
func (s *Server) handleCreateSatellite(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleCreateSatellite")
	defer span.End()

	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.schema.Validate(schema.KindSatelliteCreate, body); err != nil {
		s.fail(w, r, err)
		return
	}
	var req createSatelliteRequest
	if err := s.decodeInto(body, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Manufacturer == "" {
		req.Manufacturer = defaultManufacturer
	}
	if req.Orbit == "" {
		req.Orbit = defaultOrbit
	}

	sat, err := s.store.CreateSatellite(r.Context(), model.Satellite{
		SatelliteID:  req.SatelliteID,
		Name:         req.Name,
		Manufacturer: req.Manufacturer,
		Orbit:        req.Orbit,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.fail(w, r, apperrors.Invalid(apperrors.CAT_CONFLICT, "satellite %q already exists", req.SatelliteID))
			return
		}
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("satellite.id", sat.SatelliteID))
	writeSuccess(w, http.StatusCreated, sat)
}

// handleListSatellites handles GET /satellite
func (s *Server) handleListSatellites(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleListSatellites")
	defer span.End()

	sats, err := s.store.ListSatellites(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sats)
}

// handleGetSatellite handles GET /satellite/{satId}
func (s *Server) handleGetSatellite(w http.ResponseWriter, r *http.Request) {
	satID := chi.URLParam(r, "satId")
	r, span := startSpan(r, "handleGetSatellite", attribute.String("satellite.id", satID))
	defer span.End()

	sat, err := s.store.GetSatellite(r.Context(), satID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sat)
}

type updateSatelliteRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=256"`
	Manufacturer *string `json:"manufacturer"`
	Orbit        *string `json:"orbit"`
}

// handleUpdateSatellite handles PUT /satellite/{satId}
func (s *Server) handleUpdateSatellite(w http.ResponseWriter, r *http.Request) {
	satID := chi.URLParam(r, "satId")
	r, span := startSpan(r, "handleUpdateSatellite", attribute.String("satellite.id", satID))
	defer span.End()

	var req updateSatelliteRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == nil && req.Manufacturer == nil && req.Orbit == nil {
		s.fail(w, r, apperrors.Validation("one of name, manufacturer or orbit is required"))
		return
	}
	sat, err := s.store.UpdateSatellite(r.Context(), satID, storage.SatelliteUpdate{
		Name:         req.Name,
		Manufacturer: req.Manufacturer,
		Orbit:        req.Orbit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sat)
}

// handleDeleteSatellite handles DELETE /satellite/{satId}. A satellite that still
// owns products is kept.
func (s *Server) handleDeleteSatellite(w http.ResponseWriter, r *http.Request) {
	satID := chi.URLParam(r, "satId")
	r, span := startSpan(r, "handleDeleteSatellite", attribute.String("satellite.id", satID))
	defer span.End()

	n, err := s.store.CountProducts(r.Context(), storage.ProductQuery{SatelliteIDs: []string{satID}})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if n > 0 {
		s.fail(w, r, apperrors.Invalid(apperrors.CAT_CONFLICT, "satellite %q still has %d products", satID, n))
		return
	}
	if err := s.store.DeleteSatellite(r.Context(), satID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"satelliteId": satID})
}

type attachProductsRequest struct {
	ProductIDs []string `json:"productIds" validate:"required,min=1,dive,required"`
}

// handleAttachProducts handles POST /satellite/{satId}/products. Every product must
// exist and belong to the satellite.
func (s *Server) handleAttachProducts(w http.ResponseWriter, r *http.Request) {
	satID := chi.URLParam(r, "satId")
	r, span := startSpan(r, "handleAttachProducts", attribute.String("satellite.id", satID))
	defer span.End()

	var req attachProductsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.store.GetSatellite(r.Context(), satID); err != nil {
		s.fail(w, r, err)
		return
	}
	for _, id := range req.ProductIDs {
		p, err := s.store.GetProduct(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			s.fail(w, r, apperrors.Validation("product %q does not exist", id))
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if p.SatelliteID != satID {
			s.fail(w, r, apperrors.Validation("product %q belongs to satellite %q", id, p.SatelliteID))
			return
		}
	}
	if err := s.store.AddSatelliteRefs(r.Context(), satID, req.ProductIDs, nil); err != nil {
		s.fail(w, r, err)
		return
	}
	sat, err := s.store.GetSatellite(r.Context(), satID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sat)
}

// handleSatelliteStats handles GET /satellite/{satId}/stats. Counts come from
// product and cog queries, not from the satellite's reference sets.
func (s *Server) handleSatelliteStats(w http.ResponseWriter, r *http.Request) {
	satID := chi.URLParam(r, "satId")
	r, span := startSpan(r, "handleSatelliteStats", attribute.String("satellite.id", satID))
	defer span.End()

	if _, err := s.store.GetSatellite(r.Context(), satID); err != nil {
		s.fail(w, r, err)
		return
	}
	hidden := showHidden(r)
	products, err := s.store.FindProducts(r.Context(), visibility.ProductFilter(visibility.Filter{SatelliteIDs: []string{satID}}, hidden))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cogs, err := s.fetchBounded(r.Context(), query.Request{SatelliteIDs: []string{satID}, ShowHidden: hidden})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, aggregate.Stats(satID, products, cogs))
}

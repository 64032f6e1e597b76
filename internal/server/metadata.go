package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trinetra-eo/cogcatalog/internal/band"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/query"
	"github.com/trinetra-eo/cogcatalog/internal/retention"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

// handleSaveMetadata handles POST /metadata/save
func (s *Server) handleSaveMetadata(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleSaveMetadata")
	defer span.End()

	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cog, err := s.ingest.Ingest(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("cog.id", cog.ID), attribute.String("satellite.id", cog.SatelliteID))
	writeSuccess(w, http.StatusOK, cog)
}

// handleAllCogs serves the three "cog/all" listings; path parameters narrow the request.
func (s *Server) handleAllCogs(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleAllCogs")
	defer span.End()

	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Sort == storage.SortNone {
		req.Sort = storage.SortDesc
	}
	cogs, err := s.composer.Find(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, normalizeOut(cogs))
}

// handleGetCog handles GET /metadata/cog/{id}
func (s *Server) handleGetCog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r, span := startSpan(r, "handleGetCog", attribute.String("cog.id", id))
	defer span.End()

	cog, err := s.composer.Get(r.Context(), id, showHidden(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, band.NormalizeCog(*cog))
}

// handleCogRange handles GET /metadata/{satId}/cog/range
func (s *Server) handleCogRange(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleCogRange")
	defer span.End()

	start, end, err := query.RequireRange(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req.Start, req.End = &start, &end
	if req.Sort == storage.SortNone {
		req.Sort = storage.SortAsc
	}
	cogs, err := s.composer.Find(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, normalizeOut(cogs))
}

// handleLastCogs handles GET /metadata/{satId}/cog/last
func (s *Server) handleLastCogs(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleLastCogs")
	defer span.End()

	count, err := query.ParseFrameCount(r.URL.Query().Get("count"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	timestamp, err := query.OptionalInstant(r.URL.Query().Get("timestamp"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("count", count))
	cogs, err := s.composer.Last(r.Context(), req, timestamp, count)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, normalizeOut(cogs))
}

// handleShowCog handles GET /metadata/{satId}/cog/show
func (s *Server) handleShowCog(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleShowCog")
	defer span.End()

	datetime, err := query.OptionalInstant(r.URL.Query().Get("datetime"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cog, err := s.composer.Show(r.Context(), req, datetime)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, band.NormalizeCog(*cog))
}

// handleAvailableTimes handles GET /metadata/{satId}/cog/available-times
func (s *Server) handleAvailableTimes(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleAvailableTimes")
	defer span.End()

	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	times, err := s.composer.AvailableTimes(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, times)
}

// handleAvailableDates handles GET /metadata/{satId}/cog/available-dates
func (s *Server) handleAvailableDates(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleAvailableDates")
	defer span.End()

	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	dates, err := s.composer.AvailableDates(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, dates)
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleTypes")
	defer span.End()

	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	types, err := s.composer.Types(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, types)
}

func (s *Server) handleTypesWithLatest(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleTypesWithLatest")
	defer span.End()

	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	latest, err := s.composer.TypesWithLatest(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for i := range latest {
		latest[i].Cog = band.NormalizeCog(latest[i].Cog)
	}
	writeSuccess(w, http.StatusOK, latest)
}

func (s *Server) handleAllBands(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleAllBands")
	defer span.End()

	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	bands, err := s.composer.AllBands(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, bands)
}

func (s *Server) handleBandsWithLatest(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleBandsWithLatest")
	defer span.End()

	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reps, err := s.composer.BandsWithLatest(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, normalizeReps(reps))
}

// handleBandsAt handles GET /metadata/{satId}/{processingLevel}/all-bands-with-datetime
func (s *Server) handleBandsAt(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleBandsAt")
	defer span.End()

	raw := r.URL.Query().Get("datetime")
	if raw == "" {
		s.fail(w, r, apperrors.Validation("datetime is required"))
		return
	}
	datetime, err := query.ParseInstant(raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reps, err := s.composer.BandsAt(r.Context(), req, datetime)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, normalizeReps(reps))
}

func normalizeReps(reps []band.Representative) []band.Representative {
	for i := range reps {
		reps[i].Cog = band.NormalizeCog(reps[i].Cog)
	}
	return reps
}

// handleDeleteCogsBefore handles DELETE /metadata/delete-cogs-before?date=
func (s *Server) handleDeleteCogsBefore(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleDeleteCogsBefore")
	defer span.End()

	raw := r.URL.Query().Get("date")
	if raw == "" {
		s.fail(w, r, apperrors.Validation("date is required"))
		return
	}
	cutoff, err := query.ParseInstant(raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.purger.PurgeBefore(r.Context(), cutoff)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// handleDeleteCogsOlderThan handles DELETE /metadata/delete-cogs?days=&months=&years=
func (s *Server) handleDeleteCogsOlderThan(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleDeleteCogsOlderThan")
	defer span.End()

	var age retention.Age
	for name, dst := range map[string]*int{"days": &age.Days, "months": &age.Months, "years": &age.Years} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, apperrors.Validation("%s must be an integer", name))
			return
		}
		*dst = n
	}
	res, err := s.purger.PurgeOlderThan(r.Context(), age, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

type searchPoint struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

type searchRequest struct {
	SatelliteIDs     []string       `json:"satelliteIds"`
	ProcessingLevels []string       `json:"processingLevels"`
	ProductCodes     []string       `json:"productCodes"`
	Types            []string       `json:"types"`
	Bands            []string       `json:"bands"`
	Start            *query.Instant `json:"start"`
	End              *query.Instant `json:"end"`
	BBox             []float64      `json:"bbox" validate:"omitempty,len=4"`
	Point            *searchPoint   `json:"point"`
	ShowHidden       bool           `json:"showHidden"`
	Sort             string         `json:"sort" validate:"omitempty,oneof=asc desc ASC DESC"`
	Limit            int            `json:"limit" validate:"gte=0"`
	Skip             int            `json:"skip" validate:"gte=0"`
}

// handleSearchCogs handles POST /metadata/cog/search
func (s *Server) handleSearchCogs(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleSearchCogs")
	defer span.End()

	var body searchRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req := query.Request{
		SatelliteIDs:     body.SatelliteIDs,
		ProcessingLevels: body.ProcessingLevels,
		ProductCodes:     body.ProductCodes,
		Types:            body.Types,
		Bands:            body.Bands,
		ShowHidden:       body.ShowHidden || showHidden(r),
		Sort:             query.ParseSort(body.Sort),
		Limit:            body.Limit,
		Skip:             body.Skip,
	}
	if body.Start != nil {
		req.Start = body.Start.Millis()
	}
	if body.End != nil {
		req.End = body.End.Millis()
	}
	if req.Start != nil && req.End != nil && *req.Start > *req.End {
		s.fail(w, r, apperrors.Validation("start must not be after end"))
		return
	}
	if body.BBox != nil {
		box, err := query.BBoxFromSlice(body.BBox)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		req.BBox = box
	}
	if body.Point != nil {
		req.Point = &orb.Point{*body.Point.Lon, *body.Point.Lat}
	}
	if req.Sort == storage.SortNone {
		req.Sort = storage.SortDesc
	}

	cogs, err := s.composer.Find(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("result.count", len(cogs)))
	writeSuccess(w, http.StatusOK, normalizeOut(cogs))
}

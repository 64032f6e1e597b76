package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/trinetra-eo/cogcatalog/internal/aggregate"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/query"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

// fetchBounded loads the cog set of an aggregation, refusing sets larger than
// the configured ceiling.
func (s *Server) fetchBounded(ctx context.Context, req query.Request) ([]model.Cog, error) {
	ceiling := s.opts.MaxAggregateCogs
	req.Limit, req.Skip = ceiling+1, 0
	if req.Sort == storage.SortNone {
		req.Sort = storage.SortAsc
	}
	cogs, err := s.composer.Find(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(cogs) > ceiling {
		return nil, apperrors.Validation("query matches more than %d cogs, narrow the time range or filters", ceiling)
	}
	return cogs, nil
}

type timeSeriesResponse struct {
	Interval aggregate.Interval `json:"interval"`
	Band     string             `json:"band,omitempty"`
	Total    int                `json:"total"`
	Series   []aggregate.Bucket `json:"series"`
}

// handleTimeSeries handles GET /metadata/time-series
func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleTimeSeries")
	defer span.End()

	interval, err := aggregate.ParseInterval(r.URL.Query().Get("interval"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("band"))
	req.Bands = nil

	cogs, err := s.fetchBounded(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	series := aggregate.TimeSeries(cogs, interval, token)
	total := 0
	for _, b := range series {
		total += b.Count
	}
	span.SetAttributes(attribute.String("interval", string(interval)), attribute.Int("buckets", len(series)))
	writeSuccess(w, http.StatusOK, timeSeriesResponse{Interval: interval, Band: token, Total: total, Series: series})
}

type bandDistributionResponse struct {
	TotalCogs int                   `json:"totalCogs"`
	Bands     []aggregate.BandCount `json:"bands"`
}

// handleBandDistribution handles GET /metadata/analytics/band-distribution
func (s *Server) handleBandDistribution(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleBandDistribution")
	defer span.End()

	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cogs, err := s.fetchBounded(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, bandDistributionResponse{TotalCogs: len(cogs), Bands: aggregate.BandDistribution(cogs)})
}

type period struct {
	Start *query.Instant `json:"start" validate:"required"`
	End   *query.Instant `json:"end" validate:"required"`
}

func (p period) window() aggregate.Window {
	return aggregate.Window{Start: int64(*p.Start), End: int64(*p.End)}
}

type comparativeRequest struct {
	BaselinePeriod   period   `json:"baselinePeriod" validate:"required"`
	ComparisonPeriod period   `json:"comparisonPeriod" validate:"required"`
	SatelliteIDs     []string `json:"satelliteIds"`
	ProcessingLevels []string `json:"processingLevels"`
	ProductCodes     []string `json:"productCodes"`
	Bands            []string `json:"bands"`
	Metrics          []string `json:"metrics"`
	ShowHidden       bool     `json:"showHidden"`
}

// handleComparativeAnalysis handles POST /metadata/comparative-analysis
func (s *Server) handleComparativeAnalysis(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleComparativeAnalysis")
	defer span.End()

	var body comparativeRequest
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	metricSet, err := aggregate.ParseMetrics(body.Metrics)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	base := query.Request{
		SatelliteIDs:     body.SatelliteIDs,
		ProcessingLevels: body.ProcessingLevels,
		ProductCodes:     body.ProductCodes,
		Bands:            body.Bands,
		ShowHidden:       body.ShowHidden || showHidden(r),
	}
	fetch := func(ctx context.Context, win aggregate.Window) ([]model.Cog, error) {
		req := base
		req.Start, req.End = &win.Start, &win.End
		return s.fetchBounded(ctx, req)
	}

	result, err := aggregate.CompareWindows(r.Context(), fetch, body.BaselinePeriod.window(), body.ComparisonPeriod.window(), metricSet)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleGeographicCoverage handles GET /metadata/geographic-coverage?gridSize&format=geojson
func (s *Server) handleGeographicCoverage(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleGeographicCoverage")
	defer span.End()

	cellSize := 1.0
	if raw := strings.TrimSpace(r.URL.Query().Get("gridSize")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.fail(w, r, apperrors.Validation("gridSize must be a number"))
			return
		}
		cellSize = v
	}
	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cogs, err := s.fetchBounded(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	coverage, err := aggregate.GridCoverage(cogs, cellSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.Float64("grid.size", cellSize), attribute.Int("grid.touched", coverage.TouchedCells))

	if strings.EqualFold(r.URL.Query().Get("format"), "geojson") {
		writeSuccess(w, http.StatusOK, coverage.FeatureCollection())
		return
	}
	writeSuccess(w, http.StatusOK, coverage)
}

type temporalDistributionResponse struct {
	Interval     aggregate.Interval         `json:"interval"`
	Total        int                        `json:"total"`
	Distribution []aggregate.TemporalBucket `json:"distribution"`
}

// handleTemporalDistribution handles GET /product/analytics/temporal-distribution
func (s *Server) handleTemporalDistribution(w http.ResponseWriter, r *http.Request) {
	r, span := startSpan(r, "handleTemporalDistribution")
	defer span.End()

	interval, err := aggregate.ParseInterval(r.URL.Query().Get("interval"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := cogRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cogs, err := s.fetchBounded(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, temporalDistributionResponse{
		Interval:     interval,
		Total:        len(cogs),
		Distribution: aggregate.TemporalDistribution(cogs, interval),
	})
}

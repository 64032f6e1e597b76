package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trinetra-eo/cogcatalog/internal/band"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/query"
	"github.com/trinetra-eo/cogcatalog/internal/telemetry"
)

// startSpan opens a handler span and returns the request bound to it.
func startSpan(r *http.Request, name string, attrs ...attribute.KeyValue) (*http.Request, trace.Span) {
	ctx, span := otel.Tracer(telemetry.ServiceName).Start(r.Context(), name, trace.WithAttributes(attrs...))
	return r.WithContext(ctx), span
}

// showHidden reads the showHidden flag; anything but a true boolean is false.
func showHidden(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("showHidden"))
	return err == nil && v
}

func nonNegativeInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}

// listParam merges a path parameter with a comma-separated query parameter.
func listParam(r *http.Request, pathKey, queryKey string) []string {
	if pathKey != "" {
		if v := chi.URLParam(r, pathKey); v != "" {
			return []string{v}
		}
	}
	return query.ParseList(r.URL.Query().Get(queryKey))
}

// firstParam returns the first non-empty query parameter among names.
func firstParam(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, n := range names {
		if v := strings.TrimSpace(q.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

// cogRequest builds a query.Request from path and query parameters. Time bounds
// are optional here; range endpoints enforce them separately.
func cogRequest(r *http.Request) (query.Request, error) {
	q := r.URL.Query()
	req := query.Request{
		SatelliteIDs:     listParam(r, "satId", "satelliteId"),
		ProcessingLevels: listParam(r, "processingLevel", "processingLevel"),
		ProductCodes:     listParam(r, "productCode", "productCode"),
		Types:            query.ParseList(q.Get("type")),
		Bands:            query.ParseList(q.Get("band")),
		ShowHidden:       showHidden(r),
		Sort:             query.ParseSort(q.Get("sort")),
	}

	var err error
	if req.Start, err = query.OptionalInstant(firstParam(r, "start", "startDate")); err != nil {
		return req, err
	}
	if req.End, err = query.OptionalInstant(firstParam(r, "end", "endDate")); err != nil {
		return req, err
	}
	if req.Start != nil && req.End != nil && *req.Start > *req.End {
		return req, apperrors.Validation("start must not be after end")
	}
	if req.BBox, err = query.ParseBBox(q.Get("bbox")); err != nil {
		return req, err
	}
	if req.Point, err = query.ParsePoint(q.Get("lat"), q.Get("lon")); err != nil {
		return req, err
	}
	if req.Limit, err = nonNegativeInt(r, "limit", 0); err != nil {
		return req, err
	}
	if req.Skip, err = nonNegativeInt(r, "skip", 0); err != nil {
		return req, err
	}
	return req, nil
}

// normalizeOut strips legacy band prefixes from cogs before they leave the service.
func normalizeOut(cogs []model.Cog) []model.Cog {
	out := make([]model.Cog, len(cogs))
	for i, c := range cogs {
		out[i] = band.NormalizeCog(c)
	}
	return out
}

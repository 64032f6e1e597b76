// Package ingest persists new cog metadata records.
//
// An ingest validates the raw payload, resolves the owning satellite, finds or
// creates the product, stores the cog and maintains the back-reference sets of
// the satellite and product. There is no cross-entity transaction: a failure
// after the product is created leaves an empty product behind.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/trinetra-eo/cogcatalog/internal/audit"
	"github.com/trinetra-eo/cogcatalog/internal/band"
	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/event"
	"github.com/trinetra-eo/cogcatalog/internal/metrics"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/schema"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

// Payload is the wire form of an ingestion request.
type Payload struct {
	SatelliteID        string              `json:"satelliteId"`
	ProcessingLevel    string              `json:"processingLevel"`
	ProductCode        string              `json:"productCode"`
	ProductDisplayName string              `json:"productDisplayName"`
	Filename           string              `json:"filename"`
	Filepath           string              `json:"filepath"`
	AquisitionDatetime json.RawMessage     `json:"aquisition_datetime"`
	Coverage           *model.Coverage     `json:"coverage"`
	CoordinateSystem   any                 `json:"coordinateSystem"`
	Size               *model.Size         `json:"size"`
	CornerCoords       *model.CornerCoords `json:"cornerCoords"`
	Bands              []model.Band        `json:"bands"`
	Version            string              `json:"version"`
	Revision           string              `json:"revision"`
	Resolution         string              `json:"resolution"`
	Type               string              `json:"type"`
}

// Service runs the ingestion pipeline.
type Service struct {
	store     storage.Store
	validator *schema.Validator
	audit     audit.Sink
	events    event.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService wires an ingestion pipeline. A nil sink or publisher disables that side channel.
func NewService(store storage.Store, validator *schema.Validator, sink audit.Sink, pub event.Publisher) *Service {
	if sink == nil {
		sink = audit.Discard{}
	}
	if pub == nil {
		pub = event.NewNoop()
	}
	return &Service{
		store:     store,
		validator: validator,
		audit:     sink,
		events:    pub,
		metrics:   metrics.NewMetrics(),
		now:       time.Now,
	}
}

// Ingest stores the cog described by raw and returns it.
// Client faults are *errors.Error values; anything else is a store failure.
func (s *Service) Ingest(ctx context.Context, raw []byte) (*model.Cog, error) {
	err := s.validator.Validate(schema.KindCogIngest, raw)
	s.metrics.SchemaValidationTotal.WithLabelValues(schema.KindCogIngest, metrics.Status(err)).Inc()
	if err != nil {
		return nil, err
	}

	var p Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, apperrors.Invalid(apperrors.CAT_BAD_REQUEST, "malformed payload: %v", err)
	}

	start := s.now()
	sat, err := s.store.GetSatellite(ctx, p.SatelliteID)
	s.metrics.ObserveStorage("get_satellite", start, ignoreNotFound(err))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.Invalid(apperrors.CAT_SATELLITE_UNDEFINED, "satellite %q not defined", p.SatelliteID)
	}
	if err != nil {
		return nil, fmt.Errorf("get satellite: %w", err)
	}

	acquired, err := ParseAcquisition(p.AquisitionDatetime)
	if err != nil {
		return nil, err
	}

	cog := band.NormalizeCog(model.Cog{
		ID:                 storage.NewID(),
		Satellite:          sat.ID,
		SatelliteID:        sat.SatelliteID,
		Filename:           p.Filename,
		Filepath:           p.Filepath,
		AquisitionDatetime: acquired,
		Coverage:           p.Coverage,
		CoordinateSystem:   p.CoordinateSystem,
		Size:               p.Size,
		CornerCoords:       p.CornerCoords,
		Bands:              p.Bands,
		ProcessingLevel:    p.ProcessingLevel,
		Version:            p.Version,
		Revision:           p.Revision,
		Resolution:         p.Resolution,
		Type:               p.Type,
		ProductCode:        p.ProductCode,
		CreatedAt:          s.now().UTC(),
	})
	if cog.Bands == nil {
		cog.Bands = []model.Band{}
	}

	key := model.ProductKey{ProductID: cog.ProductCode, SatelliteID: sat.SatelliteID, ProcessingLevel: cog.ProcessingLevel}
	start = s.now()
	product, created, err := s.store.FindOrCreateProduct(ctx, key, p.ProductDisplayName)
	s.metrics.ObserveStorage("find_or_create_product", start, err)
	if err != nil {
		return nil, fmt.Errorf("find or create product: %w", err)
	}
	if created {
		slog.InfoContext(ctx, "product created", "product_id", product.ID, "product_code", key.ProductID,
			"satellite_id", key.SatelliteID, "processing_level", key.ProcessingLevel)
		if err := s.store.AddSatelliteRefs(ctx, sat.SatelliteID, []string{product.ID}, nil); err != nil {
			return nil, fmt.Errorf("link product to satellite: %w", err)
		}
	}
	cog.Product = product.ID

	start = s.now()
	err = s.store.InsertCog(ctx, cog)
	s.metrics.ObserveStorage("insert_cog", start, err)
	if err != nil {
		return nil, fmt.Errorf("insert cog: %w", err)
	}
	if err := s.store.AddSatelliteRefs(ctx, sat.SatelliteID, nil, []string{cog.ID}); err != nil {
		return nil, fmt.Errorf("link cog to satellite: %w", err)
	}
	if err := s.store.AddProductCogs(ctx, product.ID, []string{cog.ID}); err != nil {
		return nil, fmt.Errorf("link cog to product: %w", err)
	}
	s.metrics.CogsIngestedTotal.WithLabelValues(cog.SatelliteID, cog.ProcessingLevel).Inc()

	s.sideChannels(ctx, cog, raw)
	return &cog, nil
}

// sideChannels writes the audit copy and publishes the ingest event. Failures are
// logged and never returned.
func (s *Service) sideChannels(ctx context.Context, cog model.Cog, raw []byte) {
	key, err := s.audit.Write(ctx, cog.SatelliteID, s.now(), raw)
	s.metrics.AuditWriteTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "audit write failed", "cog_id", cog.ID, "error", err)
	} else if key != "" {
		slog.DebugContext(ctx, "audit payload stored", "cog_id", cog.ID, "key", key)
	}

	err = s.events.PublishCogIngested(ctx, cog)
	s.metrics.EventPublishTotal.WithLabelValues(event.TypeCogIngested, metrics.Status(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "failed to publish cog ingested event", "cog_id", cog.ID, "error", err)
	}
}

// ParseAcquisition converts the wire acquisition datetime into epoch millis.
// Integral JSON numbers are taken as epoch millis; strings must be RFC 3339.
func ParseAcquisition(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperrors.Validation("aquisition_datetime is required")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, apperrors.Validation("aquisition_datetime is not a valid string")
		}
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return 0, apperrors.Validation("aquisition_datetime %q is not an RFC 3339 timestamp", s)
		}
		return t.UnixMilli(), nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, apperrors.Validation("aquisition_datetime must be epoch millis or an RFC 3339 string")
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, apperrors.Validation("aquisition_datetime %s is not an integral epoch millis value", n)
	}
	return int64(f), nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

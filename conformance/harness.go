// Package conformance provides an end-to-end harness that drives the catalog over
// real HTTP: satellite registration, ingestion, queries, visibility, analytics
// and retention.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/trinetra-eo/cogcatalog/internal/audit"
	"github.com/trinetra-eo/cogcatalog/internal/ingest"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/schema"
	"github.com/trinetra-eo/cogcatalog/internal/server"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

// Satellite is the satellite every scenario registers.
const Satellite = "3S"

// Acquisition instants used by the scenario (epoch millis, UTC).
const (
	march1At0600 = int64(1709272800000) // 2024-03-01T06:00:00Z
	march1At0630 = int64(1709274600000) // 2024-03-01T06:30:00Z
	march2At0600 = int64(1709359200000) // 2024-03-02T06:00:00Z
	april3At0600 = int64(1743660000000) // 2025-04-03T06:00:00Z
)

// Harness runs the catalog behind an httptest server.
type Harness struct {
	server   *httptest.Server
	store    storage.Store
	pub      *RecordingPublisher
	auditDir string
}

// Config holds configuration for the harness.
type Config struct {
	// AuditDir receives payload copies; required.
	AuditDir string

	// MaxAggregateCogs bounds analytics requests; zero keeps the server default.
	MaxAggregateCogs int
}

// NewHarness creates a harness over an in-memory store.
func NewHarness(cfg Config) (*Harness, error) {
	if cfg.AuditDir == "" {
		return nil, fmt.Errorf("audit dir is required")
	}
	store := storage.NewMemory()
	pub := &RecordingPublisher{}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}
	srv, err := server.New(server.Deps{
		Store:     store,
		Validator: validator,
		Ingest:    ingest.NewService(store, validator, audit.NewFileSink(cfg.AuditDir), pub),
		Publisher: pub,
	}, server.Options{MaxAggregateCogs: cfg.MaxAggregateCogs})
	if err != nil {
		return nil, err
	}

	return &Harness{
		server:   httptest.NewServer(srv.Handler()),
		store:    store,
		pub:      pub,
		auditDir: cfg.AuditDir,
	}, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test server.
func (h *Harness) Close() {
	h.server.Close()
	h.pub.Close()
}

// RunScenario runs every stage in order; later stages depend on earlier ones.
func (h *Harness) RunScenario(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("Registration", h.testRegistration)
	t.Run("Ingestion", h.testIngestion)
	t.Run("Queries", h.testQueries)
	t.Run("Visibility", h.testVisibility)
	t.Run("Analytics", h.testAnalytics)
	t.Run("Retention", h.testRetention)
}

// RunCogLifecycle ingests a single VIS cog on satellite 3R, reads it back through
// the show and types routes, then purges it and checks the product back reference.
// It needs a fresh harness.
func (h *Harness) RunCogLifecycle(t *testing.T) {
	if status := h.call(t, http.MethodPost, "/satellite", map[string]string{"satelliteId": "3R", "name": "INSAT-3DR"}, nil); status != http.StatusCreated {
		t.Fatalf("expected status 201 for satellite create, got %d", status)
	}

	doc := map[string]interface{}{
		"satelliteId":         "3R",
		"processingLevel":     "L1B",
		"productCode":         "HMK",
		"filename":            "3RIMG_03APR2025_0600_L1B_HMK.tif",
		"filepath":            "/cogs/3R/L1B/3RIMG_03APR2025_0600_L1B_HMK.tif",
		"aquisition_datetime": april3At0600,
		"type":                "VIS",
	}
	var cogA model.Cog
	if status := h.call(t, http.MethodPost, "/metadata/save", doc, &cogA); status != http.StatusOK {
		t.Fatalf("expected status 200 for ingest, got %d", status)
	}

	var shown model.Cog
	if status := h.call(t, http.MethodGet, "/metadata/3R/cog/show?type=VIS", nil, &shown); status != http.StatusOK {
		t.Fatalf("expected status 200 for show, got %d", status)
	}
	if shown.ID != cogA.ID {
		t.Errorf("show returned %s, want %s", shown.ID, cogA.ID)
	}

	var types []string
	if status := h.call(t, http.MethodGet, "/metadata/3R/L1B/types", nil, &types); status != http.StatusOK {
		t.Fatalf("expected status 200 for types, got %d", status)
	}
	if len(types) != 1 || types[0] != "VIS" {
		t.Errorf("expected types [VIS], got %v", types)
	}

	var product model.Product
	h.call(t, http.MethodGet, "/product/"+cogA.Product, nil, &product)
	if product.ProductID != "HMK" || !contains(product.Cogs, cogA.ID) {
		t.Fatalf("product HMK should reference %s: %+v", cogA.ID, product)
	}

	var res struct {
		Deleted int `json:"deletedCount"`
	}
	if status := h.call(t, http.MethodDelete, "/metadata/delete-cogs-before?date=2025-04-04", nil, &res); status != http.StatusOK {
		t.Fatalf("expected status 200 for purge, got %d", status)
	}
	if res.Deleted != 1 {
		t.Errorf("expected 1 purged cog, got %d", res.Deleted)
	}
	if status := h.call(t, http.MethodGet, "/metadata/cog/"+cogA.ID, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected status 404 for purged cog, got %d", status)
	}

	product = model.Product{}
	h.call(t, http.MethodGet, "/product/"+cogA.Product, nil, &product)
	if contains(product.Cogs, cogA.ID) {
		t.Errorf("purged cog %s still referenced by product HMK: %v", cogA.ID, product.Cogs)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// RecordingPublisher captures events in memory.
type RecordingPublisher struct {
	mu         sync.Mutex
	Ingested   []model.Cog
	Purges     []int
	Visibility map[string]bool
}

func (p *RecordingPublisher) PublishCogIngested(ctx context.Context, cog model.Cog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Ingested = append(p.Ingested, cog)
	return nil
}

func (p *RecordingPublisher) PublishCogsPurged(ctx context.Context, cutoff int64, deleted int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Purges = append(p.Purges, deleted)
	return nil
}

func (p *RecordingPublisher) PublishProductVisibility(ctx context.Context, ids []string, visible bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Visibility == nil {
		p.Visibility = make(map[string]bool)
	}
	for _, id := range ids {
		p.Visibility[id] = visible
	}
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call issues a request and decodes the response envelope into out when non-nil.
func (h *Harness) call(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.URL()+path, reader)
	if err != nil {
		t.Fatalf("failed to build %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: response is not an envelope: %v", method, path, err)
	}
	if env.Error != nil {
		t.Logf("%s %s: %s %s", method, path, env.Error.Code, env.Error.Message)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("%s %s: unexpected data %s: %v", method, path, env.Data, err)
		}
	}
	return resp.StatusCode
}

func cogDocument(level, code, typ string, acquired int64, bands ...string) map[string]interface{} {
	bandDocs := make([]map[string]interface{}, len(bands))
	for i, b := range bands {
		bandDocs[i] = map[string]interface{}{"bandId": i + 1, "description": b}
	}
	return map[string]interface{}{
		"satelliteId":         Satellite,
		"processingLevel":     level,
		"productCode":         code,
		"filename":            fmt.Sprintf("%s_%s_%d.tif", level, code, acquired),
		"filepath":            fmt.Sprintf("/cogs/%s/%s/%d.tif", Satellite, level, acquired),
		"aquisition_datetime": acquired,
		"type":                typ,
		"cornerCoords": map[string]interface{}{
			"upperLeft":  []float64{40, 45},
			"upperRight": []float64{100, 45},
			"lowerLeft":  []float64{40, -10},
			"lowerRight": []float64{100, -10},
		},
		"bands": bandDocs,
	}
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("failed to GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func (h *Harness) testRegistration(t *testing.T) {
	var sat model.Satellite
	status := h.call(t, http.MethodPost, "/satellite", map[string]string{"satelliteId": Satellite, "name": "INSAT-3DS"}, &sat)
	if status != http.StatusCreated {
		t.Fatalf("expected status 201 for satellite create, got %d", status)
	}
	if sat.Manufacturer != "ISRO" || sat.Orbit != "unknown" {
		t.Errorf("satellite defaults not applied: %+v", sat)
	}
	if status := h.call(t, http.MethodPost, "/satellite", map[string]string{"satelliteId": Satellite, "name": "again"}, nil); status != http.StatusConflict {
		t.Errorf("expected status 409 for duplicate satellite, got %d", status)
	}
	if status := h.call(t, http.MethodPost, "/satellite", map[string]string{"name": "nameless"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for satellite without id, got %d", status)
	}
}

func (h *Harness) testIngestion(t *testing.T) {
	docs := []map[string]interface{}{
		cogDocument("L1B", "IMG_MIR", "MULTI", march1At0600, "IMG_VIS", "IMG_TIR1"),
		cogDocument("L1B", "MIR", "TIR1", march1At0630, "IMG_TIR1"),
		cogDocument("L1C", "IMG_WV", "WV", march2At0600, "IMG_WV"),
	}
	var products []string
	for _, d := range docs {
		var cog model.Cog
		if status := h.call(t, http.MethodPost, "/metadata/save", d, &cog); status != http.StatusOK {
			t.Fatalf("expected status 200 for ingest, got %d", status)
		}
		products = append(products, cog.Product)
	}
	if products[0] != products[1] {
		t.Errorf("IMG_MIR and MIR should share a product: %v", products)
	}
	if products[0] == products[2] {
		t.Errorf("L1C cog must not join the L1B product: %v", products)
	}

	h.pub.mu.Lock()
	published := len(h.pub.Ingested)
	h.pub.mu.Unlock()
	if published != len(docs) {
		t.Errorf("expected %d ingest events, got %d", len(docs), published)
	}

	copies := 0
	err := filepath.WalkDir(filepath.Join(h.auditDir, Satellite), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			copies++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk audit dir: %v", err)
	}
	if copies != len(docs) {
		t.Errorf("expected %d audit copies, got %d", len(docs), copies)
	}

	bad := cogDocument("L1B", "MIR", "MULTI", march1At0600)
	bad["aquisition_datetime"] = "yesterday"
	if status := h.call(t, http.MethodPost, "/metadata/save", bad, nil); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad acquisition datetime, got %d", status)
	}
}

func (h *Harness) testQueries(t *testing.T) {
	var cogs []model.Cog
	status := h.call(t, http.MethodGet, "/metadata/"+Satellite+"/cog/range?start=2024-03-01&end=2024-03-01T23:59:59Z", nil, &cogs)
	if status != http.StatusOK {
		t.Fatalf("expected status 200 for range, got %d", status)
	}
	if len(cogs) != 2 || cogs[0].AquisitionDatetime != march1At0600 || cogs[1].AquisitionDatetime != march1At0630 {
		t.Errorf("range should return both March 1 cogs ascending, got %d", len(cogs))
	}

	var dates []string
	h.call(t, http.MethodGet, "/metadata/"+Satellite+"/cog/available-dates", nil, &dates)
	if fmt.Sprint(dates) != "[2024-03-01 2024-03-02]" {
		t.Errorf("unexpected available dates: %v", dates)
	}

	cogs = nil
	h.call(t, http.MethodGet, "/metadata/"+Satellite+"/cog/last?count=1&band=TIR1", nil, &cogs)
	if len(cogs) != 1 || cogs[0].AquisitionDatetime != march1At0630 {
		t.Errorf("last TIR1 cog should be the 06:30 acquisition, got %+v", cogs)
	}

	var bands []string
	h.call(t, http.MethodGet, "/metadata/"+Satellite+"/L1B/all-bands", nil, &bands)
	if fmt.Sprint(bands) != "[TIR1 VIS]" {
		t.Errorf("unexpected L1B bands: %v", bands)
	}

	var reps []struct {
		Band   string    `json:"band"`
		Native bool      `json:"native"`
		Cog    model.Cog `json:"cog"`
	}
	h.call(t, http.MethodGet, "/metadata/"+Satellite+"/L1B/all-bands-with-latest-data", nil, &reps)
	for _, r := range reps {
		if r.Band == "TIR1" && (!r.Native || r.Cog.Type != "TIR1") {
			t.Errorf("TIR1 should be represented by its native cog, got %+v", r)
		}
	}

	if status := h.call(t, http.MethodGet, "/metadata/"+Satellite+"/cog/last?count=4", nil, nil); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for count outside the allow-list, got %d", status)
	}
}

func (h *Harness) testVisibility(t *testing.T) {
	var products []model.Product
	h.call(t, http.MethodGet, "/product/satellite/"+Satellite+"/products?processingLevel=L1C", nil, &products)
	if len(products) != 1 {
		t.Fatalf("expected one L1C product, got %d", len(products))
	}
	id := products[0].ID

	if status := h.call(t, http.MethodPatch, "/product/"+id+"/toggle-visibility", nil, nil); status != http.StatusOK {
		t.Fatalf("expected status 200 for toggle, got %d", status)
	}
	var dates []string
	h.call(t, http.MethodGet, "/metadata/"+Satellite+"/cog/available-dates", nil, &dates)
	if fmt.Sprint(dates) != "[2024-03-01]" {
		t.Errorf("hidden product still visible in dates: %v", dates)
	}
	dates = nil
	h.call(t, http.MethodGet, "/metadata/"+Satellite+"/cog/available-dates?showHidden=true", nil, &dates)
	if len(dates) != 2 {
		t.Errorf("showHidden should restore hidden dates: %v", dates)
	}

	h.pub.mu.Lock()
	visible, announced := h.pub.Visibility[id]
	h.pub.mu.Unlock()
	if !announced || visible {
		t.Errorf("expected a hidden visibility event for %s", id)
	}

	body := map[string]interface{}{"productIds": []string{id}, "isVisible": true}
	if status := h.call(t, http.MethodPost, "/product/batch/set-visibility", body, nil); status != http.StatusOK {
		t.Fatalf("expected status 200 for batch visibility, got %d", status)
	}
}

func (h *Harness) testAnalytics(t *testing.T) {
	var series struct {
		Total  int `json:"total"`
		Series []struct {
			Count int `json:"count"`
		} `json:"series"`
	}
	if status := h.call(t, http.MethodGet, "/metadata/time-series?interval=daily&satelliteId="+Satellite, nil, &series); status != http.StatusOK {
		t.Fatalf("expected status 200 for time series, got %d", status)
	}
	if series.Total != 3 || len(series.Series) != 2 || series.Series[0].Count != 2 || series.Series[1].Count != 1 {
		t.Errorf("unexpected daily series: %+v", series)
	}

	req := map[string]interface{}{
		"baselinePeriod":   map[string]string{"start": "2024-03-01T00:00:00Z", "end": "2024-03-01T23:59:59Z"},
		"comparisonPeriod": map[string]string{"start": "2024-03-02T00:00:00Z", "end": "2024-03-02T23:59:59Z"},
		"metrics":          []string{"satellites", "bands"},
	}
	var cmp struct {
		Baseline struct {
			Total int `json:"total"`
		} `json:"baseline"`
		Changes struct {
			Total float64 `json:"total"`
		} `json:"percentChange"`
	}
	if status := h.call(t, http.MethodPost, "/metadata/comparative-analysis", req, &cmp); status != http.StatusOK {
		t.Fatalf("expected status 200 for comparative analysis, got %d", status)
	}
	if cmp.Baseline.Total != 2 || cmp.Changes.Total != -50 {
		t.Errorf("unexpected comparison: %+v", cmp)
	}

	req["comparisonPeriod"] = map[string]string{"start": "2024-03-01T12:00:00Z", "end": "2024-03-02T23:59:59Z"}
	if status := h.call(t, http.MethodPost, "/metadata/comparative-analysis", req, nil); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for overlapping windows, got %d", status)
	}

	var stats struct {
		CogCount     int `json:"cogCount"`
		ProductCount int `json:"productCount"`
	}
	h.call(t, http.MethodGet, "/satellite/"+Satellite+"/stats", nil, &stats)
	if stats.CogCount != 3 || stats.ProductCount != 2 {
		t.Errorf("unexpected satellite stats: %+v", stats)
	}
}

func (h *Harness) testRetention(t *testing.T) {
	var res struct {
		Deleted int `json:"deletedCount"`
	}
	if status := h.call(t, http.MethodDelete, "/metadata/delete-cogs-before?date=2024-03-02", nil, &res); status != http.StatusOK {
		t.Fatalf("expected status 200 for purge, got %d", status)
	}
	if res.Deleted != 2 {
		t.Errorf("expected 2 purged cogs, got %d", res.Deleted)
	}

	var cogs []model.Cog
	h.call(t, http.MethodGet, "/metadata/cog/all", nil, &cogs)
	if len(cogs) != 1 || cogs[0].AquisitionDatetime != march2At0600 {
		t.Errorf("only the March 2 cog should remain, got %d", len(cogs))
	}

	sat, err := h.store.GetSatellite(context.Background(), Satellite)
	if err != nil {
		t.Fatalf("failed to load satellite: %v", err)
	}
	if len(sat.Cogs) != 1 {
		t.Errorf("purged cog ids should leave the satellite set, got %v", sat.Cogs)
	}

	h.pub.mu.Lock()
	purges := h.pub.Purges
	h.pub.mu.Unlock()
	if len(purges) != 1 || purges[0] != 2 {
		t.Errorf("expected one purge event for 2 cogs, got %v", purges)
	}
}

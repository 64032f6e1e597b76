package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
	} `json:"error"`
}

// newTestServer builds a server over a memory store seeded with satellite 3R.
func newTestServer(t *testing.T, opts Options) (http.Handler, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	if _, err := store.CreateSatellite(context.Background(), model.Satellite{SatelliteID: "3R", Name: "INSAT-3DR"}); err != nil {
		t.Fatal(err)
	}
	srv, err := New(Deps{Store: store}, opts)
	if err != nil {
		t.Fatal(err)
	}
	return srv.Handler(), store
}

func do(t *testing.T, h http.Handler, method, target, body string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("response is not a JSON envelope: %v (%s)", err, rr.Body.String())
		}
	}
	return rr, env
}

func cogPayload(productCode string, acquired int64) string {
	return fmt.Sprintf(`{
		"satelliteId": "3R",
		"processingLevel": "L1B",
		"productCode": %q,
		"filename": "scene.tif",
		"filepath": "/data/3R/scene.tif",
		"aquisition_datetime": %d,
		"type": "MULTI",
		"cornerCoords": {
			"upperLeft": [70.0, 30.0], "upperRight": [80.0, 30.0],
			"lowerLeft": [70.0, 20.0], "lowerRight": [80.0, 20.0]
		},
		"bands": [{"bandId": 1, "description": "IMG_VIS"}, {"bandId": 2, "description": "IMG_TIR1"}]
	}`, productCode, acquired)
}

func ingestCog(t *testing.T, h http.Handler, productCode string, acquired int64) model.Cog {
	t.Helper()
	rr, env := do(t, h, http.MethodPost, "/metadata/save", cogPayload(productCode, acquired))
	if rr.Code != http.StatusOK {
		t.Fatalf("ingest returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var cog model.Cog
	if err := json.Unmarshal(env.Data, &cog); err != nil {
		t.Fatal(err)
	}
	return cog
}

func decodeCogs(t *testing.T, env envelope) []model.Cog {
	t.Helper()
	var cogs []model.Cog
	if err := json.Unmarshal(env.Data, &cogs); err != nil {
		t.Fatalf("unexpected data %s: %v", env.Data, err)
	}
	return cogs
}

// TestHealthzEndpoint tests the healthz endpoint.
func TestHealthzEndpoint(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	req, err := http.NewRequest("GET", "/healthz", nil)
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), "ok")
	}
}

// TestReadyzEndpoint tests the readyz endpoint against the memory store.
func TestReadyzEndpoint(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rr, _ := do(t, h, http.MethodGet, "/readyz", "")
	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
	}
	if got := rr.Header().Get("X-Correlation-Id"); got != "corr-123" {
		t.Errorf("correlation id not echoed: got %q", got)
	}
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != "CAT_NOT_FOUND" || env.Error.CorrelationID != "corr-123" {
		t.Errorf("unexpected error envelope: %s", rr.Body.String())
	}
}

func TestSaveMetadataNormalizesAndLists(t *testing.T) {
	h, store := newTestServer(t, Options{})
	cog := ingestCog(t, h, "IMG_MIR", 1700000000000)

	if cog.ProductCode != "MIR" {
		t.Errorf("product code not normalized: got %q", cog.ProductCode)
	}
	sat, err := store.GetSatellite(context.Background(), "3R")
	if err != nil {
		t.Fatal(err)
	}
	if len(sat.Cogs) != 1 || sat.Cogs[0] != cog.ID || len(sat.Products) != 1 {
		t.Errorf("satellite references not maintained: %+v", sat)
	}

	for _, target := range []string{"/metadata/cog/all", "/metadata/3R/cog/all", "/metadata/3R/L1B/IMG_MIR/cog/all"} {
		rr, env := do(t, h, http.MethodGet, target, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s returned wrong status code: got %v want %v", target, rr.Code, http.StatusOK)
		}
		if cogs := decodeCogs(t, env); len(cogs) != 1 {
			t.Errorf("%s returned %d cogs, want 1", target, len(cogs))
		}
	}
}

func TestSaveMetadataRejectsUnknownSatellite(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	body := strings.Replace(cogPayload("MIR", 1700000000000), `"3R"`, `"9Z"`, 1)

	rr, env := do(t, h, http.MethodPost, "/metadata/save", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
	if env.Error == nil || env.Error.Code != "CAT_SATELLITE_UNDEFINED" {
		t.Errorf("unexpected error: %s", rr.Body.String())
	}
}

func TestSaveMetadataRejectsInvalidPayload(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rr, env := do(t, h, http.MethodPost, "/metadata/save", `{"satelliteId":"3R"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
	if env.Error == nil || env.Error.Code != "CAT_SCHEMA_REJECT" {
		t.Errorf("unexpected error: %s", rr.Body.String())
	}
}

func TestLastRejectsFrameCount(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	ingestCog(t, h, "MIR", 1700000000000)

	rr, env := do(t, h, http.MethodGet, "/metadata/3R/cog/last?count=7", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
	if env.Error == nil || env.Error.Code != "CAT_FRAME_COUNT" {
		t.Errorf("unexpected error: %s", rr.Body.String())
	}

	rr, env = do(t, h, http.MethodGet, "/metadata/3R/cog/last?count=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if cogs := decodeCogs(t, env); len(cogs) != 1 {
		t.Errorf("got %d cogs, want 1", len(cogs))
	}
}

func TestLastReturnsNewestFirst(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	for _, ts := range []int64{1700000000000, 1700000600000, 1700001200000} {
		ingestCog(t, h, "MIR", ts)
	}

	_, env := do(t, h, http.MethodGet, "/metadata/3R/cog/last?count=3&timestamp=1700000600000", "")
	cogs := decodeCogs(t, env)
	if len(cogs) != 2 {
		t.Fatalf("got %d cogs, want 2", len(cogs))
	}
	if cogs[0].AquisitionDatetime != 1700000600000 || cogs[1].AquisitionDatetime != 1700000000000 {
		t.Errorf("unexpected order: %d, %d", cogs[0].AquisitionDatetime, cogs[1].AquisitionDatetime)
	}
}

func TestRangeRequiresBounds(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rr, _ := do(t, h, http.MethodGet, "/metadata/3R/cog/range?start=2024-01-01", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
	rr, _ = do(t, h, http.MethodGet, "/metadata/3R/cog/range?start=2024-02-01&end=2024-01-01", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
}

func TestHiddenProductsAreExcluded(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	cog := ingestCog(t, h, "MIR", 1700000000000)

	rr, _ := do(t, h, http.MethodPatch, "/product/"+cog.Product+"/toggle-visibility", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}

	_, env := do(t, h, http.MethodGet, "/metadata/3R/cog/all", "")
	if cogs := decodeCogs(t, env); len(cogs) != 0 {
		t.Errorf("hidden product leaked %d cogs", len(cogs))
	}
	_, env = do(t, h, http.MethodGet, "/metadata/3R/cog/all?showHidden=true", "")
	if cogs := decodeCogs(t, env); len(cogs) != 1 {
		t.Errorf("showHidden returned %d cogs, want 1", len(cogs))
	}

	rr, _ = do(t, h, http.MethodGet, "/metadata/cog/"+cog.ID, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("hidden cog lookup returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
	}
	rr, _ = do(t, h, http.MethodGet, "/product/"+cog.Product, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("hidden product lookup returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
	}
}

func TestSearchByBandAndBBox(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	ingestCog(t, h, "MIR", 1700000000000)

	cases := []struct {
		body string
		want int
	}{
		{`{"bands":["VIS"]}`, 1},
		{`{"bands":["WV"]}`, 0},
		{`{"bbox":[75,25,76,26]}`, 1},
		{`{"bbox":[0,0,10,10]}`, 0},
		{`{"point":{"lat":25,"lon":75}}`, 1},
		{`{"start":"2023-11-14T22:13:20Z","end":1700000000000}`, 1},
	}
	for _, tc := range cases {
		rr, env := do(t, h, http.MethodPost, "/metadata/cog/search", tc.body)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s returned wrong status code: got %v want %v (%s)", tc.body, rr.Code, http.StatusOK, rr.Body.String())
		}
		if cogs := decodeCogs(t, env); len(cogs) != tc.want {
			t.Errorf("%s returned %d cogs, want %d", tc.body, len(cogs), tc.want)
		}
	}

	rr, _ := do(t, h, http.MethodPost, "/metadata/cog/search", `{"bbox":[1,2,3]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("short bbox returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
}

func TestAggregationCeiling(t *testing.T) {
	h, _ := newTestServer(t, Options{MaxAggregateCogs: 1})
	ingestCog(t, h, "MIR", 1700000000000)
	ingestCog(t, h, "MIR", 1700000600000)

	rr, env := do(t, h, http.MethodGet, "/metadata/analytics/band-distribution", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}
	if env.Error == nil || env.Error.Code != "CAT_VALIDATION" {
		t.Errorf("unexpected error: %s", rr.Body.String())
	}
}

func TestGeographicCoverage(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	ingestCog(t, h, "MIR", 1700000000000)

	rr, _ := do(t, h, http.MethodGet, "/metadata/geographic-coverage?gridSize=0", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
	}

	rr, env := do(t, h, http.MethodGet, "/metadata/geographic-coverage?gridSize=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var cov struct {
		TouchedCells    int     `json:"touchedCells"`
		CoveragePercent float64 `json:"coveragePercent"`
	}
	if err := json.Unmarshal(env.Data, &cov); err != nil {
		t.Fatal(err)
	}
	// lon 70..80 and lat 20..30 touch columns 14..16 and rows 4..6
	if cov.TouchedCells != 9 || cov.CoveragePercent != 100 {
		t.Errorf("unexpected coverage: %+v", cov)
	}

	_, env = do(t, h, http.MethodGet, "/metadata/geographic-coverage?gridSize=5&format=geojson", "")
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(env.Data, &fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 9 {
		t.Errorf("unexpected feature collection: type %q with %d features", fc.Type, len(fc.Features))
	}
}

func TestDeleteSatelliteWithProductsConflicts(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	ingestCog(t, h, "MIR", 1700000000000)

	rr, env := do(t, h, http.MethodDelete, "/satellite/3R", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusConflict)
	}
	if env.Error == nil || env.Error.Code != "CAT_CONFLICT" {
		t.Errorf("unexpected error: %s", rr.Body.String())
	}
}

func TestDeleteCogsBeforeIsStrict(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	ingestCog(t, h, "MIR", 1700000000000)
	ingestCog(t, h, "MIR", 1700000600000)

	rr, env := do(t, h, http.MethodDelete, "/metadata/delete-cogs-before?date=1700000600000", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var res struct {
		Deleted int `json:"deletedCount"`
	}
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 1 {
		t.Errorf("deleted %d cogs, want 1", res.Deleted)
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	h, _ := newTestServer(t, Options{RequireAuth: true})

	rr, env := do(t, h, http.MethodDelete, "/metadata/delete-cogs?days=30", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
	}
	if env.Error == nil || env.Error.Code != "CAT_AUTHN" {
		t.Errorf("unexpected error: %s", rr.Body.String())
	}

	rr, _ = do(t, h, http.MethodPost, "/users/register", `{"email":"ops@example.org","password":"correct-horse"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	rr, _ = do(t, h, http.MethodPost, "/auth/login", `{"email":"ops@example.org","password":"wrong-password"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad password returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
	}
	rr, _ = do(t, h, http.MethodPost, "/auth/login", `{"email":"ops@example.org","password":"correct-horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "auth_token" {
			session = c
		}
	}
	if session == nil || !session.HttpOnly {
		t.Fatalf("login did not set an HTTP-only session cookie")
	}

	rr, _ = do(t, h, http.MethodDelete, "/metadata/delete-cogs?days=30", "", session)
	if rr.Code != http.StatusOK {
		t.Errorf("authenticated purge returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	rr, env = do(t, h, http.MethodGet, "/users/me", "", session)
	if rr.Code != http.StatusOK {
		t.Fatalf("me returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	var me model.User
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatal(err)
	}
	if me.Email != "ops@example.org" {
		t.Errorf("unexpected user: %+v", me)
	}
}

func TestProductCatalogRoutes(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	ingestCog(t, h, "MIR", 1700000000000)

	rr, _ := do(t, h, http.MethodPost, "/product", `{"productId":"IMG_TIR","satelliteId":"3R","processingLevel":"L1C"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	rr, _ = do(t, h, http.MethodPost, "/product", `{"productId":"TIR","satelliteId":"3R","processingLevel":"L1C"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate create returned wrong status code: got %v want %v", rr.Code, http.StatusConflict)
	}

	_, env := do(t, h, http.MethodGet, "/product/satellite/3R/processing-levels", "")
	var levels []string
	if err := json.Unmarshal(env.Data, &levels); err != nil {
		t.Fatal(err)
	}
	if strings.Join(levels, ",") != "L1B,L1C" {
		t.Errorf("unexpected processing levels: %v", levels)
	}

	_, env = do(t, h, http.MethodPost, "/product/advanced-search", `{"sortBy":"productId","sortOrder":"asc","limit":1}`)
	var page struct {
		Products   []model.Product `json:"products"`
		TotalCount int             `json:"totalCount"`
		TotalPages int             `json:"totalPages"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatal(err)
	}
	if page.TotalCount != 2 || page.TotalPages != 2 || len(page.Products) != 1 || page.Products[0].ProductID != "MIR" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestAdvancedProductSearchFields(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	ingestCog(t, h, "MIR", 1700000000000)
	ingestCog(t, h, "IMG_HMK", 1700000000000)

	type page struct {
		Products   []model.Product `json:"products"`
		TotalCount int             `json:"totalCount"`
		Page       int             `json:"page"`
	}
	search := func(body string) (int, page) {
		t.Helper()
		rr, env := do(t, h, http.MethodPost, "/product/advanced-search", body)
		var p page
		if rr.Code == http.StatusOK {
			if err := json.Unmarshal(env.Data, &p); err != nil {
				t.Fatal(err)
			}
		}
		return rr.Code, p
	}

	code, p := search(`{"productCodes":["HMK"]}`)
	if code != http.StatusOK || p.TotalCount != 1 || len(p.Products) != 1 || p.Products[0].ProductID != "HMK" {
		t.Errorf("productCodes filter: got %d %+v", code, p)
	}

	code, p = search(`{"skip":1,"limit":1,"sortBy":"productId","sortOrder":"asc"}`)
	if code != http.StatusOK || p.Page != 2 || len(p.Products) != 1 || p.Products[0].ProductID != "MIR" {
		t.Errorf("skip pagination: got %d %+v", code, p)
	}

	code, p = search(`{"dateRange":{"startDate":"2999-01-01T00:00:00Z","endDate":"2999-12-31T00:00:00Z"}}`)
	if code != http.StatusOK || p.TotalCount != 0 {
		t.Errorf("dateRange filter: got %d %+v", code, p)
	}

	if code, _ = search(`{"productCode":["HMK"]}`); code != http.StatusBadRequest {
		t.Errorf("unknown field returned wrong status code: got %v want %v", code, http.StatusBadRequest)
	}
	if code, _ = search(`{"page":9223372036854775807,"limit":1000}`); code != http.StatusBadRequest {
		t.Errorf("huge page returned wrong status code: got %v want %v", code, http.StatusBadRequest)
	}
}

func TestTemporalDistributionDateParams(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	ingestCog(t, h, "MIR", 1700000000000) // 2023-11-14
	ingestCog(t, h, "MIR", 1710000000000) // 2024-03-09

	cases := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"&startDate=2024-01-01", 1},
		{"&endDate=2024-01-01", 1},
		{"&start=2024-01-01", 1},
		{"&startDate=2025-01-01", 0},
	}
	for _, tc := range cases {
		rr, env := do(t, h, http.MethodGet, "/product/analytics/temporal-distribution?satelliteId=3R"+tc.query, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%q returned wrong status code: got %v want %v", tc.query, rr.Code, http.StatusOK)
		}
		var got struct {
			Total int `json:"total"`
		}
		if err := json.Unmarshal(env.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Total != tc.want {
			t.Errorf("%q: got total %d want %d", tc.query, got.Total, tc.want)
		}
	}
}

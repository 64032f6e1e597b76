// Package integration exercises the session token flow end to end: tokens signed
// outside the service, cookie handling and the admin gate.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trinetra-eo/cogcatalog/internal/auth"
	"github.com/trinetra-eo/cogcatalog/internal/model"
	"github.com/trinetra-eo/cogcatalog/internal/server"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

const (
	testSecret = "integration-secret"
	testIssuer = "cogcatalog"
)

func newServer(t *testing.T) (http.Handler, model.User) {
	t.Helper()
	store := storage.NewMemory()
	hash, err := auth.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	user := model.User{ID: "user-1", Email: "analyst@example.org", PasswordHash: hash, CreatedAt: time.Now().UTC()}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatal(err)
	}
	srv, err := server.New(server.Deps{
		Store:  store,
		Tokens: auth.NewTokens(testSecret, testIssuer, time.Hour),
	}, server.Options{RequireAuth: true})
	if err != nil {
		t.Fatal(err)
	}
	return srv.Handler(), user
}

// createTestJWT signs claims the way an external client holding the secret would.
func createTestJWT(t *testing.T, method jwt.SigningMethod, secret, issuer, subject string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   issuer,
		"sub":   subject,
		"email": "analyst@example.org",
		"exp":   float64(exp.Unix()),
		"iat":   float64(time.Now().Unix()),
	}
	tokenString, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign JWT: %v", err)
	}
	return tokenString
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not an envelope: %v", err)
	}
	return env.Error.Code
}

// TestBearerTokenValidation checks every verification outcome for /users/me.
func TestBearerTokenValidation(t *testing.T) {
	h, user := newServer(t)
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"valid", createTestJWT(t, jwt.SigningMethodHS256, testSecret, testIssuer, user.ID, hour), http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, "CAT_AUTHN"},
		{"expired", createTestJWT(t, jwt.SigningMethodHS256, testSecret, testIssuer, user.ID, time.Now().Add(-time.Minute)), http.StatusUnauthorized, "CAT_JWT_EXPIRED"},
		{"wrong secret", createTestJWT(t, jwt.SigningMethodHS256, "other-secret", testIssuer, user.ID, hour), http.StatusUnauthorized, "CAT_JWT_INVALID"},
		{"wrong algorithm", createTestJWT(t, jwt.SigningMethodHS384, testSecret, testIssuer, user.ID, hour), http.StatusUnauthorized, "CAT_JWT_INVALID"},
		{"wrong issuer", createTestJWT(t, jwt.SigningMethodHS256, testSecret, "someone-else", user.ID, hour), http.StatusUnauthorized, "CAT_JWT_INVALID"},
		{"malformed", "not-a-jwt", http.StatusUnauthorized, "CAT_JWT_MALFORMED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantCode != "" {
				if got := errorCode(t, rr); got != tt.wantCode {
					t.Errorf("unexpected error code: got %v want %v", got, tt.wantCode)
				}
			}
		})
	}
}

// TestCookieSessionLifecycle logs in, uses the cookie on a gated route and logs out.
func TestCookieSessionLifecycle(t *testing.T) {
	h, _ := newServer(t)

	// Gated write without a session
	req := httptest.NewRequest(http.MethodPost, "/satellite", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("gated route returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/login", jsonBody(`{"email":"Analyst@Example.org","password":"s3cret-pass"}`))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName {
			session = c
		}
	}
	if session == nil {
		t.Fatal("login did not set the session cookie")
	}
	if !session.HttpOnly || session.Path != "/" {
		t.Errorf("session cookie has unexpected attributes: %+v", session)
	}

	req = httptest.NewRequest(http.MethodPost, "/satellite", jsonBody(`{"satelliteId":"EOS6","name":"Oceansat-3"}`))
	req.AddCookie(session)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Errorf("authenticated create returned wrong status code: got %v want %v (%s)", rr.Code, http.StatusCreated, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/validate-token", nil)
	req.AddCookie(session)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("validate-token returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	cleared := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not expire the session cookie")
	}
}

// TestReadRoutesStayOpen checks that the admin gate leaves reads alone.
func TestReadRoutesStayOpen(t *testing.T) {
	h, _ := newServer(t)

	for _, path := range []string{"/satellite", "/metadata/cog/all", "/healthz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s returned wrong status code: got %v want %v", path, rr.Code, http.StatusOK)
		}
	}
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}

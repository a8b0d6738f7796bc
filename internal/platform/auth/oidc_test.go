package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testAudience = "https://orders.internal.example.com"

type oidcFixture struct {
	validator *OIDCValidator
	logs      *observer.ObservedLogs
	key       *rsa.PrivateKey
	jwksHits  *atomic.Int32
	jwksURL   string
	now       time.Time
}

func newOIDCFixture(t *testing.T) *oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = original })

	core, logs := observer.New(zapcore.DebugLevel)
	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now }))
	return &oidcFixture{
		validator: NewOIDCValidator(cache, zap.New(core)),
		logs:      logs,
		key:       key,
		jwksHits:  hits,
		jwksURL:   server.URL,
		now:       now,
	}
}

func (f *oidcFixture) token(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":   []string{testAudience},
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@project.iam.gserviceaccount.com",
		"exp":   float64(f.now.Add(time.Hour).Unix()),
		"iat":   float64(f.now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWKSCacheCachesKeys(t *testing.T) {
	f := newOIDCFixture(t)
	cache := f.validator.cache
	for i := 0; i < 3; i++ {
		key, err := cache.Key(context.Background(), "svc-key")
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", key)
		}
	}
	if hits := f.jwksHits.Load(); hits != 1 {
		t.Fatalf("expected one JWKS fetch, got %d", hits)
	}
	if _, err := cache.Key(context.Background(), "unknown"); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
}

func TestRequireOIDCSuccess(t *testing.T) {
	f := newOIDCFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/internal/orders/stale", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, nil))
	rr := httptest.NewRecorder()

	f.validator.RequireOIDC(testAudience, []string{"https://accounts.google.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := ServiceIdentityFromContext(r.Context())
		if !ok || identity.Email != "scheduler@project.iam.gserviceaccount.com" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequireOIDCUsesIAPHeader(t *testing.T) {
	f := newOIDCFixture(t)
	iapAudience := "/projects/123/global/backendServices/456"
	token := f.token(t, func(c jwt.MapClaims) {
		c["aud"] = iapAudience
		c["iss"] = "https://cloud.google.com/iap"
	})
	req := httptest.NewRequest(http.MethodGet, "/internal/orders/stale", nil)
	req.Header.Set("X-Goog-Iap-Jwt-Assertion", token)
	rr := httptest.NewRecorder()

	f.validator.RequireOIDC(iapAudience, []string{"https://cloud.google.com/iap"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestRequireOIDCRejections(t *testing.T) {
	cases := map[string]struct {
		mutate   func(jwt.MapClaims)
		audience string
		status   int
		reason   string
	}{
		"audience mismatch": {audience: "https://other.example.com", status: http.StatusUnauthorized, reason: "audience_mismatch"},
		"issuer mismatch": {
			mutate:   func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
			audience: testAudience, status: http.StatusUnauthorized, reason: "issuer_mismatch",
		},
		"expired": {
			mutate:   func(c jwt.MapClaims) { c["exp"] = float64(time.Unix(1_600_000_000, 0).Unix()) },
			audience: testAudience, status: http.StatusUnauthorized, reason: "token_invalid",
		},
		"audience not configured": {audience: "", status: http.StatusServiceUnavailable, reason: "audience_not_configured"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newOIDCFixture(t)
			req := httptest.NewRequest(http.MethodGet, "/internal/orders/stale", nil)
			req.Header.Set("Authorization", "Bearer "+f.token(t, tc.mutate))
			rr := httptest.NewRecorder()

			f.validator.RequireOIDC(tc.audience, []string{"https://accounts.google.com"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			})).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["reason"] != tc.reason {
				t.Fatalf("expected reason %s, got %v", tc.reason, body["reason"])
			}
			if f.logs.FilterField(zap.String("reason", tc.reason)).Len() != 1 {
				t.Fatalf("expected rejection log for %s", tc.reason)
			}
		})
	}
}

func TestRequireOIDCJWKSUnavailable(t *testing.T) {
	f := newOIDCFixture(t)
	token := f.token(t, nil)
	f.validator.cache.url = "http://127.0.0.1:1/unreachable"

	req := httptest.NewRequest(http.MethodGet, "/internal/orders/stale", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	f.validator.RequireOIDC(testAudience, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=600, must-revalidate"); got != 10*time.Minute {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAge("no-cache"); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}

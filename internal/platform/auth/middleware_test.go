package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"email":          "user@example.com",
				"email_verified": true,
			},
		},
	}

	called := false
	handler := NewAuthenticator(verifier).RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "user@example.com" || !identity.EmailVerified {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if identity.Token() == nil {
			t.Fatalf("expected token attached")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", nil)
	req.Header.Set("Authorization", "bearer token-value")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuth_Rejections(t *testing.T) {
	cases := map[string]struct {
		header   string
		verifier *stubTokenVerifier
		status   int
		code     string
	}{
		"missing header": {
			header:   "",
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		"wrong scheme": {
			header:   "Basic abc",
			verifier: &stubTokenVerifier{},
			status:   http.StatusUnauthorized,
			code:     "unauthenticated",
		},
		"expired": {
			header:   "Bearer expired",
			verifier: &stubTokenVerifier{err: ErrTokenExpired},
			status:   http.StatusUnauthorized,
			code:     "token_expired",
		},
		"invalid": {
			header:   "Bearer broken",
			verifier: &stubTokenVerifier{err: ErrTokenInvalid},
			status:   http.StatusUnauthorized,
			code:     "invalid_token",
		},
		"disabled account": {
			header:   "Bearer ok",
			verifier: &stubTokenVerifier{token: &firebaseauth.Token{UID: "u1", Claims: map[string]interface{}{"disabled": true}}},
			status:   http.StatusForbidden,
			code:     "account_disabled",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler := NewAuthenticator(tc.verifier).RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("expected JSON body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
		})
	}
}

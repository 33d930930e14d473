package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, role string, secret string, expiresIn time.Duration) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyAdmin(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		query   string
		wantErr bool
	}{
		{"valid bearer", "Bearer " + signToken(t, "admin", testSecret, time.Hour), "", false},
		{"missing token", "", "", true},
		{"wrong scheme", "Basic abc", "", true},
		{"wrong secret", "Bearer " + signToken(t, "admin", "other-secret", time.Hour), "", true},
		{"wrong role", "Bearer " + signToken(t, "visitor", testSecret, time.Hour), "", true},
		{"expired", "Bearer " + signToken(t, "admin", testSecret, -time.Minute), "", true},
		{"query token", "", signToken(t, "admin", testSecret, time.Hour), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/chat/ws"
			if tc.query != "" {
				url += "?access_token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			adminID, err := VerifyAdmin(req, testSecret)
			if (err != nil) != tc.wantErr {
				t.Fatalf("VerifyAdmin err = %v", err)
			}
			if !tc.wantErr && adminID != "admin-1" {
				t.Fatalf("adminID = %q", adminID)
			}
		})
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	var gotAdminID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAdminID = GetAdminID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AdminAuth(testSecret)(next)

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "admin", testSecret, time.Hour))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated request = %d", rec.Code)
	}
	if gotAdminID != "admin-1" {
		t.Fatalf("admin id in context = %q", gotAdminID)
	}
}

package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shortguard/shortguard/internal/auth"
)

func newAuthenticator(t *testing.T, expiration time.Duration) *auth.Authenticator {
	t.Helper()
	a, err := auth.New("test-secret", expiration)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	return a
}

func TestGenerateAndValidateToken(t *testing.T) {
	a := newAuthenticator(t, time.Hour)

	token, err := a.GenerateToken("owner-42")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.OwnerID != "owner-42" {
		t.Fatalf("OwnerID = %q, want owner-42", claims.OwnerID)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	a := newAuthenticator(t, time.Hour)
	other, err := auth.New("other-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}

	token, err := other.GenerateToken("owner-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := a.ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	a := newAuthenticator(t, time.Nanosecond)

	token, err := a.GenerateToken("owner-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := a.ValidateToken(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := auth.New("", time.Hour); err == nil {
		t.Fatal("empty secret accepted")
	}
}

func TestMiddleware(t *testing.T) {
	a := newAuthenticator(t, time.Hour)

	var gotOwner string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.OwnerID(r.Context())
		if !ok {
			t.Fatal("owner id missing from request context")
		}
		gotOwner = id
		w.WriteHeader(http.StatusNoContent)
	})
	unauthorized := func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
	}
	handler := a.Middleware(unauthorized)(next)

	token, err := a.GenerateToken("owner-7")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid bearer token", "Bearer " + token, http.StatusNoContent},
		{"case insensitive scheme", "bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotOwner = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantStatus == http.StatusNoContent && gotOwner != "owner-7" {
				t.Fatalf("owner = %q, want owner-7", gotOwner)
			}
		})
	}
}

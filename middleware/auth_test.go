package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/handlers/auth"
)

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			http.Error(w, "no identity", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(identity)
	})
}

func TestAuthJWT(t *testing.T) {
	auth.InitAuth("test-secret")
	token, err := auth.CreateJWT(core.Identity{ID: "U1", DisplayName: "Ada"}, time.Hour)
	if err != nil {
		t.Fatalf("CreateJWT() failed: %v", err)
	}

	testCases := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{"Bearer header", "Bearer " + token, "", http.StatusOK},
		{"Lower case scheme", "bearer " + token, "", http.StatusOK},
		{"Query token", "", "?token=" + token, http.StatusOK},
		{"Missing", "", "", http.StatusUnauthorized},
		{"Wrong scheme", "Basic " + token, "", http.StatusUnauthorized},
		{"Invalid token", "Bearer nope", "", http.StatusUnauthorized},
		{"Header wins over query", "Bearer nope", "?token=" + token, http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			AuthJWT(echoIdentity()).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}

			var identity core.Identity
			if err := json.NewDecoder(rec.Body).Decode(&identity); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if identity.ID != "U1" || identity.DisplayName != "Ada" {
				t.Errorf("Identity mismatch: %+v", identity)
			}
		})
	}
}

func TestIdentityFrom_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := IdentityFrom(req.Context()); ok {
		t.Error("IdentityFrom() should fail without an identity")
	}
	if _, ok := IdentityFrom(WithIdentity(req.Context(), core.Identity{})); ok {
		t.Error("IdentityFrom() should reject an empty identity")
	}
}

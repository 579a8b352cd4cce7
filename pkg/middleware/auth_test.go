package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTokenManager(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager(testSecret, "gatehouse-test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	return tm
}

// setAuthContextForTest stores authCtx the way AuthMiddleware does
func setAuthContextForTest(r *http.Request, authCtx *auth.AuthContext) *http.Request {
	return r.WithContext(contextkeys.WithAuth(r.Context(), authCtx))
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error envelope %q: %v", w.Body.String(), err)
	}
	return body.Errors.Message
}

func TestAuthMiddleware_Handler(t *testing.T) {
	tm := newTokenManager(t)

	t.Run("rejects request without Authorization header when required", func(t *testing.T) {
		handler := NewAuthMiddleware(tm, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/roles", nil))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
		if msg := errorMessage(t, w); msg != "missing authorization header" {
			t.Errorf("unexpected message: %s", msg)
		}
	})

	t.Run("allows request without Authorization header when optional", func(t *testing.T) {
		called := false
		handler := NewAuthMiddleware(tm, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			if GetAuthContext(r) != nil {
				t.Error("expected no auth context")
			}
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/roles", nil))
		if !called {
			t.Error("handler should have been called")
		}
	})

	t.Run("rejects malformed headers", func(t *testing.T) {
		handler := NewAuthMiddleware(tm, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		testCases := []struct {
			name   string
			header string
			want   string
		}{
			{"no Bearer prefix", "token123", "invalid authorization header format"},
			{"Basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
			{"empty Bearer", "Bearer ", "invalid authorization header format"},
			{"garbage token", "Bearer abc.def.ghi", "invalid token"},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				req := httptest.NewRequest("GET", "/roles", nil)
				req.Header.Set("Authorization", tc.header)
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				if w.Code != http.StatusUnauthorized {
					t.Errorf("expected status 401, got %d", w.Code)
				}
				if msg := errorMessage(t, w); msg != tc.want {
					t.Errorf("message = %q, want %q", msg, tc.want)
				}
			})
		}
	})

	t.Run("stores principal for valid token", func(t *testing.T) {
		token, _, err := tm.CreateToken("user-7", "role-3", 0)
		if err != nil {
			t.Fatal(err)
		}

		var got *auth.AuthContext
		var userID string
		handler := NewAuthMiddleware(tm, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = GetAuthContext(r)
			userID = contextkeys.GetUserID(r.Context())
		}))

		req := httptest.NewRequest("GET", "/roles", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got == nil {
			t.Fatal("expected auth context")
		}
		if got.RoleID() != "role-3" || userID != "user-7" {
			t.Errorf("unexpected principal %+v user %q", got.Principal, userID)
		}
	})
}

func TestGetAuthContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if GetAuthContext(req) != nil {
		t.Error("expected nil without context")
	}

	req = req.WithContext(context.WithValue(req.Context(), contextkeys.AuthKey, "wrong type"))
	if GetAuthContext(req) != nil {
		t.Error("expected nil for wrong type")
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}

	req := setAuthContextForTest(httptest.NewRequest("GET", "/", nil), &auth.AuthContext{
		Principal: &auth.Principal{UserID: "u", RoleID: "r"},
	})
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	myMiddleware "go-dm/internal/middleware"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	s := newTestService(t)
	h := NewHandler(s)

	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(myMiddleware.NewAuthMiddleware(s).Handle)
		r.Get("/api/users", h.ListUsers)
		r.Get("/api/users/search", h.SearchUsers)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerFlow(t *testing.T) {
	h := newTestRouter(t)

	if rec := do(t, h, http.MethodPost, "/register", `{"username":"ann","password":"pw"}`, ""); rec.Code != http.StatusCreated {
		t.Fatalf("register ann: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPost, "/register", `{"username":"ben","password":"pw"}`, ""); rec.Code != http.StatusCreated {
		t.Fatalf("register ben: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPost, "/register", `{"username":"ben","password":"pw"}`, ""); rec.Code != http.StatusConflict {
		t.Errorf("duplicate register: %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/login", `{"username":"ann","password":"nope"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login: %d, want 401", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/login", `{"username":"ann","password":"pw"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}
	var login LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	rec = do(t, h, http.MethodGet, "/api/users", "", login.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: %d", rec.Code)
	}
	var users []User
	json.NewDecoder(rec.Body).Decode(&users)
	if len(users) != 1 || users[0].Username != "ben" {
		t.Errorf("list users = %+v, want [ben]", users)
	}

	if rec := do(t, h, http.MethodGet, "/api/users", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list: %d, want 401", rec.Code)
	}
}

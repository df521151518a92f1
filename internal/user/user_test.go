package user

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store/memory"
)

func TestSync(t *testing.T) {
	st := memory.New()
	st.PutUser(domain.User{ID: "tradie-parent", Email: "p@example.com", Role: domain.RoleTradie})
	st.PutUser(domain.User{ID: "owner-1", Email: "o@example.com", Role: domain.RoleOwner})
	ctx := context.Background()

	tests := []struct {
		name    string
		user    domain.User
		wantErr bool
	}{
		{"owner", domain.User{ID: "owner-2", Email: "o2@example.com", Role: domain.RoleOwner}, false},
		{"child tradie", domain.User{ID: "tradie-child", Email: "c@example.com", Role: domain.RoleTradie, ParentID: "tradie-parent"}, false},
		{"missing id", domain.User{Email: "x@example.com", Role: domain.RoleOwner}, true},
		{"bad email", domain.User{ID: "u", Email: "nope", Role: domain.RoleOwner}, true},
		{"system role", domain.User{ID: "u", Email: "u@example.com", Role: domain.RoleSystem}, true},
		{"self parent", domain.User{ID: "t", Email: "t@example.com", Role: domain.RoleTradie, ParentID: "t"}, true},
		{"unknown parent", domain.User{ID: "t", Email: "t@example.com", Role: domain.RoleTradie, ParentID: "ghost"}, true},
		{"parent not tradie", domain.User{ID: "t", Email: "t@example.com", Role: domain.RoleTradie, ParentID: "owner-1"}, true},
		{"owner with parent", domain.User{ID: "o3", Email: "o3@example.com", Role: domain.RoleOwner, ParentID: "tradie-parent"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sync(ctx, st, tt.user)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("err = %v, want invalid input", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sync: %v", err)
			}
			got, err := st.GetUser(ctx, tt.user.ID)
			if err != nil || got != tt.user {
				t.Fatalf("mirrored %+v err %v", got, err)
			}
		})
	}
}

func TestHandlers(t *testing.T) {
	st := memory.New()
	st.PutUser(domain.User{ID: "owner-1", Email: "o@example.com", Name: "Olivia", Role: domain.RoleOwner})

	e := echo.New()
	auth := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", "owner-1")
			c.Set("role", "owner")
			return next(c)
		}
	}
	NewHandler(st).Register(e.Group("", auth), e.Group(""), e.Group("/admin"))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(http.MethodGet, "/me", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "o@example.com") {
		t.Fatalf("me = %d %s", rec.Code, rec.Body)
	}
	rec := do(http.MethodGet, "/users/owner-1/profile", "")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "o@example.com") {
		t.Fatalf("public profile leaked or failed: %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodGet, "/users/ghost/profile", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown profile = %d", rec.Code)
	}
	if rec := do(http.MethodPut, "/admin/users/tradie-9", `{"email":"t9@example.com","name":"T9","role":"Tradie"}`); rec.Code != http.StatusOK {
		t.Fatalf("sync = %d %s", rec.Code, rec.Body)
	}
	if u, err := st.GetUser(context.Background(), "tradie-9"); err != nil || u.Role != domain.RoleTradie {
		t.Fatalf("synced user %+v err %v", u, err)
	}
	if rec := do(http.MethodPut, "/admin/users/x", `{"email":"bad","role":"owner"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid sync = %d", rec.Code)
	}
}

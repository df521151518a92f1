package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	mware "github.com/sudo-init-do/tradiehub/internal/middleware"
)

func TestSignTokenIsAcceptedByMiddleware(t *testing.T) {
	secret := []byte("dev-secret")
	tok, err := SignToken(secret, "tradie-1", domain.RoleTradie, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	e := echo.New()
	var got domain.Caller
	h := mware.JWTMiddleware(secret)(func(c echo.Context) error {
		got, _ = mware.CallerFrom(c)
		return c.NoContent(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNoContent || got != (domain.Caller{UserID: "tradie-1", Role: domain.RoleTradie}) {
		t.Fatalf("status = %d caller = %+v", rec.Code, got)
	}
}

func TestSignTokenRejectsMissingFields(t *testing.T) {
	if _, err := SignToken(nil, "u", domain.RoleOwner, 0, time.Now()); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := SignToken([]byte("s"), "", domain.RoleOwner, 0, time.Now()); err == nil {
		t.Fatal("expected error for empty user")
	}
}

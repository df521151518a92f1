package escrow

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	esc := f.open(t, "p1", tradie.UserID, "1000")

	e := echo.New()
	as := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", c.Request().Header.Get("X-User"))
			c.Set("role", c.Request().Header.Get("X-Role"))
			return next(c)
		}
	}
	NewHandler(f.ledger).Register(e.Group("", as), e.Group("/admin", as))

	do := func(method, path, body string, who domain.Caller) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("X-User", who.UserID)
		req.Header.Set("X-Role", string(who.Role))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(http.MethodGet, "/escrows/"+esc.ID, "", other); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger view = %d", rec.Code)
	}
	if rec := do(http.MethodGet, "/escrows", "", tradie); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), esc.ID) {
		t.Fatalf("list = %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodPost, "/escrows/"+esc.ID+"/release", "", tradie); rec.Code != http.StatusForbidden {
		t.Fatalf("tradie release = %d", rec.Code)
	}
	if rec := do(http.MethodPost, "/escrows/"+esc.ID+"/disputes", `{}`, tradie); rec.Code != http.StatusBadRequest {
		t.Fatalf("dispute without reason = %d", rec.Code)
	}
	if rec := do(http.MethodPost, "/escrows/"+esc.ID+"/disputes", `{"reason":"work unfinished"}`, tradie); rec.Code != http.StatusCreated {
		t.Fatalf("dispute = %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodPost, "/escrows/"+esc.ID+"/release", "", owner); rec.Code != http.StatusConflict {
		t.Fatalf("release while disputed = %d", rec.Code)
	}
	if rec := do(http.MethodGet, "/admin/disputes?status=open", "", admin); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "work unfinished") {
		t.Fatalf("open disputes = %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodPost, "/admin/escrows/"+esc.ID+"/resolve", `{"outcome":"release","notes":"photos checked"}`, admin); rec.Code != http.StatusOK {
		t.Fatalf("resolve = %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodPost, "/admin/escrows/"+esc.ID+"/resolve", `{"outcome":"release"}`, admin); rec.Code != http.StatusConflict {
		t.Fatalf("second resolve = %d", rec.Code)
	}
	if got := f.escrow(t, esc.ID); got.Status != domain.EscrowReleased || got.ReleasedBy != admin.UserID {
		t.Fatalf("escrow = %+v", got)
	}
}

package wallet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	e := echo.New()
	as := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", c.Request().Header.Get("X-User"))
			c.Set("role", c.Request().Header.Get("X-Role"))
			return next(c)
		}
	}
	NewHandler(f.processor).Register(e.Group("", as), e.Group("/admin", as))

	do := func(method, path, body string, who domain.Caller) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("X-User", who.UserID)
		req.Header.Set("X-Role", string(who.Role))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/wallet/withdrawals", `{"amount":"1200"}`, payee)
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "1150.00") {
		t.Fatalf("overdraw = %d %s", rec.Code, rec.Body)
	}

	rec = do(http.MethodPost, "/wallet/withdrawals", `{"amount":"1000"}`, payee)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request = %d %s", rec.Code, rec.Body)
	}
	var created struct {
		Withdrawal domain.Withdrawal `json:"withdrawal"`
		Message    string            `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(created.Message, "2 business days") {
		t.Fatalf("message = %q", created.Message)
	}

	rec = do(http.MethodGet, "/wallet/balance?currency=NZD", "", payee)
	var bal domain.Balance
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil || !bal.Available.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("balance = %s err %v", rec.Body, err)
	}

	if rec := do(http.MethodPost, "/admin/withdrawals/"+created.Withdrawal.ID+"/completed", "", payee); rec.Code != http.StatusForbidden {
		t.Fatalf("payee completing own withdrawal = %d", rec.Code)
	}
	if rec := do(http.MethodPost, "/admin/withdrawals/"+created.Withdrawal.ID+"/failed", `{"reason":"account closed"}`, admin); rec.Code != http.StatusOK {
		t.Fatalf("mark failed = %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodPost, "/admin/withdrawals/"+created.Withdrawal.ID+"/completed", "", admin); rec.Code != http.StatusConflict {
		t.Fatalf("complete after failure = %d", rec.Code)
	}

	rec = do(http.MethodGet, "/admin/payees/"+payee.UserID+"/withdrawals", "", admin)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "account closed") {
		t.Fatalf("payee history = %d %s", rec.Code, rec.Body)
	}
}

package payments

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/httperr"
	mware "github.com/sudo-init-do/tradiehub/internal/middleware"
)

const maxWebhookBody = 64 << 10

type Handler struct {
	gateway *Gateway
}

func NewHandler(g *Gateway) *Handler { return &Handler{gateway: g} }

// Register mounts checkout on the authenticated group g and the provider
// callbacks on the public group.
func (h *Handler) Register(g, public *echo.Group) {
	g.POST("/payments/intents", h.CreateIntent, mware.RequireRoles(domain.RoleOwner))
	public.POST("/payments/webhooks/:provider", h.Webhook)
}

// ===== CreateIntent - owner starts checkout for an accepted quote =====
func (h *Handler) CreateIntent(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req CreateIntentInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}
	if req.ProjectID == "" || req.QuoteID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "project_id and quote_id are required"})
	}
	res, err := h.gateway.CreateIntent(c.Request().Context(), who, req)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// ===== Webhook - provider callback, acknowledged only after commit =====
func (h *Handler) Webhook(c echo.Context) error {
	provider := c.Param("provider")
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read body"})
	}

	var signature string
	if p, err := h.gateway.providers.get(provider); err == nil && p.SignatureHeader() != "" {
		signature = c.Request().Header.Get(p.SignatureHeader())
	}

	if err := h.gateway.HandleWebhook(c.Request().Context(), provider, payload, signature); err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}

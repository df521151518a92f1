package escrow

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/httperr"
	mware "github.com/sudo-init-do/tradiehub/internal/middleware"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(l *Ledger) *Handler { return &Handler{ledger: l} }

// Register mounts participant routes on g and admin routes on admin.
func (h *Handler) Register(g, admin *echo.Group) {
	g.GET("/escrows", h.List)
	g.GET("/escrows/:id", h.Get)
	g.POST("/escrows/:id/release", h.Release, mware.RequireRoles(domain.RoleOwner))
	g.POST("/escrows/:id/disputes", h.OpenDispute)

	admin.GET("/disputes", h.ListDisputes)
	admin.POST("/escrows/:id/resolve", h.ResolveDispute)
	admin.POST("/escrows/sweep", h.Sweep)
}

// GET /escrows
func (h *Handler) List(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.ledger.ListForUser(c.Request().Context(), who)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"escrows": items})
}

// GET /escrows/:id
func (h *Handler) Get(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	e, err := h.ledger.Get(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

// POST /escrows/:id/release
func (h *Handler) Release(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	e, err := h.ledger.ReleaseEarly(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Escrow funds released successfully.",
		"escrow":  e,
	})
}

// POST /escrows/:id/disputes
func (h *Handler) OpenDispute(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil || req.Reason == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload: reason required"})
	}
	d, err := h.ledger.OpenDispute(c.Request().Context(), who, c.Param("id"), req.Reason)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

// GET /admin/disputes?status=open
func (h *Handler) ListDisputes(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.ledger.ListDisputes(c.Request().Context(), who, domain.DisputeStatus(c.QueryParam("status")))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"disputes": items})
}

// POST /admin/escrows/:id/resolve
func (h *Handler) ResolveDispute(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req Resolution
	if err := c.Bind(&req); err != nil || req.Outcome == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload: outcome required"})
	}
	e, err := h.ledger.ResolveDispute(c.Request().Context(), who, c.Param("id"), req)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "resolved", "escrow": e, "outcome": req.Outcome})
}

// POST /admin/escrows/sweep runs the expiry sweep on demand.
func (h *Handler) Sweep(c echo.Context) error {
	res, err := h.ledger.ReleaseOnExpiry(c.Request().Context())
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

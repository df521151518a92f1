package marketplace

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/httperr"
	mware "github.com/sudo-init-do/tradiehub/internal/middleware"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(l *Ledger) *Handler { return &Handler{ledger: l} }

// Register mounts the quote ledger routes on an authenticated group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/projects", h.CreateProject, mware.RequireRoles(domain.RoleOwner))
	g.POST("/projects/:id/quotes", h.SubmitQuote, mware.RequireRoles(domain.RoleTradie))
	g.GET("/projects/:id/quotes", h.ListQuotes)
	g.POST("/projects/:id/advance", h.AdvanceProject)
	g.POST("/projects/:id/cancel", h.CancelProject)
	g.PATCH("/quotes/:id", h.EditQuote, mware.RequireRoles(domain.RoleTradie))
	g.DELETE("/quotes/:id", h.WithdrawQuote, mware.RequireRoles(domain.RoleTradie))
	g.POST("/quotes/:id/accept", h.AcceptQuote, mware.RequireRoles(domain.RoleOwner))
}

// =========================
// CreateProject - Owner publishes a project
// =========================
func (h *Handler) CreateProject(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req CreateProjectInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	p, err := h.ledger.CreateProject(c.Request().Context(), who, req)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// =========================
// SubmitQuote - Tradie quotes on a project
// =========================
func (h *Handler) SubmitQuote(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req struct {
		Price       decimal.Decimal `json:"price"`
		Currency    string          `json:"currency"`
		Description string          `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	q, err := h.ledger.SubmitQuote(c.Request().Context(), who, SubmitQuoteInput{
		ProjectID:   c.Param("id"),
		Price:       req.Price,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, q)
}

// =========================
// EditQuote - Tradie changes a pending quote
// =========================
func (h *Handler) EditQuote(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req EditQuoteInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	q, err := h.ledger.EditQuote(c.Request().Context(), who, c.Param("id"), req)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

// =========================
// WithdrawQuote - Tradie pulls a pending quote
// =========================
func (h *Handler) WithdrawQuote(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.ledger.WithdrawQuote(c.Request().Context(), who, c.Param("id")); err != nil {
		return httperr.Write(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// =========================
// AcceptQuote - Owner accepts one quote, the rest are rejected
// =========================
func (h *Handler) AcceptQuote(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.ledger.AcceptQuote(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"quote":          res.Accepted,
		"rejected_count": len(res.Rejected),
		"message":        "Quote accepted. Proceed to payment.",
	})
}

// =========================
// ListQuotes - Quotes on a project visible to the caller
// =========================
func (h *Handler) ListQuotes(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	quotes, err := h.ledger.ListQuotes(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"quotes": quotes})
}

// =========================
// AdvanceProject - Start, complete, confirm or review
// =========================
func (h *Handler) AdvanceProject(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req struct {
		Status domain.ProjectStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil || !req.Status.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	p, err := h.ledger.AdvanceProject(c.Request().Context(), who, c.Param("id"), req.Status)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// =========================
// CancelProject - Owner cancels before payment
// =========================
func (h *Handler) CancelProject(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	p, err := h.ledger.CancelProject(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/httperr"
	mware "github.com/sudo-init-do/tradiehub/internal/middleware"
)

type Handler struct {
	processor *Processor
}

func NewHandler(p *Processor) *Handler { return &Handler{processor: p} }

// Register mounts payee routes on g and payout-rail routes on admin.
func (h *Handler) Register(g, admin *echo.Group) {
	g.GET("/wallet/balance", h.Balance)
	g.GET("/wallet/withdrawals", h.ListWithdrawals)
	g.POST("/wallet/withdrawals", h.RequestWithdrawal)

	admin.GET("/payees/:id/withdrawals", h.ListPayeeWithdrawals)
	admin.POST("/withdrawals/:id/processing", h.MarkProcessing)
	admin.POST("/withdrawals/:id/completed", h.MarkCompleted)
	admin.POST("/withdrawals/:id/failed", h.MarkFailed)
}

// ===== Balance - released, held and available funds =====
func (h *Handler) Balance(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.processor.Balance(c.Request().Context(), who, c.QueryParam("payee_id"), c.QueryParam("currency"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// ===== RequestWithdrawal - payee moves released funds out =====
func (h *Handler) RequestWithdrawal(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized or invalid user"})
	}
	var req RequestInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	w, err := h.processor.RequestWithdrawal(c.Request().Context(), who, req)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"withdrawal": w,
		"message":    "Withdrawal requested. Expected in " + w.EstimatedProcessingTime + ".",
	})
}

// ===== ListWithdrawals - the caller's withdrawal history =====
func (h *Handler) ListWithdrawals(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.processor.ListWithdrawals(c.Request().Context(), who, "")
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawals": items})
}

// ===== ListPayeeWithdrawals - admin view of one payee =====
func (h *Handler) ListPayeeWithdrawals(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.processor.ListWithdrawals(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawals": items})
}

// ===== MarkProcessing / MarkCompleted / MarkFailed - payout rail updates =====
func (h *Handler) MarkProcessing(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	w, err := h.processor.MarkProcessing(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) MarkCompleted(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	w, err := h.processor.MarkCompleted(c.Request().Context(), who, c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) MarkFailed(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&req)
	w, err := h.processor.MarkFailed(c.Request().Context(), who, c.Param("id"), req.Reason)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

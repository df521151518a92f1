package alerts

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/httperr"
	mware "github.com/sudo-init-do/tradiehub/internal/middleware"
)

const defaultInboxLimit = 50

type Handler struct {
	inbox Inbox
	now   func() time.Time
}

func NewHandler(inbox Inbox) *Handler { return &Handler{inbox: inbox, now: time.Now} }

func (h *Handler) Register(g *echo.Group) {
	g.GET("/notifications", h.ListNotifications)
	g.POST("/notifications/:id/read", h.MarkNotificationRead)
}

// ListNotifications returns current user's notifications, newest first
func (h *Handler) ListNotifications(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit := defaultInboxLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be between 1 and 200"})
		}
		limit = n
	}
	items, err := h.inbox.ListNotifications(c.Request().Context(), who.UserID, limit)
	if err != nil {
		return httperr.Write(c, err)
	}
	if items == nil {
		items = []domain.Notification{}
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": items})
}

// MarkNotificationRead marks specific notification as read
func (h *Handler) MarkNotificationRead(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	nid := c.Param("id")
	if nid == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing notification id"})
	}
	changed, err := h.inbox.MarkNotificationRead(c.Request().Context(), who.UserID, nid, h.now().UTC())
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok", "changed": changed})
}

package user

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/httperr"
	mware "github.com/sudo-init-do/tradiehub/internal/middleware"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type Handler struct {
	mirror store.UserMirror
}

func NewHandler(m store.UserMirror) *Handler { return &Handler{mirror: m} }

func (h *Handler) Register(g, public, admin *echo.Group) {
	g.GET("/me", h.Me)
	public.GET("/users/:id/profile", h.GetPublicProfile)
	admin.PUT("/users/:id", h.SyncUser)
}

// GET /me
func (h *Handler) Me(c echo.Context) error {
	who, ok := mware.CallerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	u, err := h.mirror.GetUser(c.Request().Context(), who.UserID)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// GET /users/:id/profile
func (h *Handler) GetPublicProfile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing user id"})
	}
	u, err := h.mirror.GetUser(c.Request().Context(), id)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":   u.ID,
		"name": u.Name,
		"role": u.Role,
	})
}

// ===== SyncUser - mirror a user pushed by the identity provider =====
func (h *Handler) SyncUser(c echo.Context) error {
	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	u, err := Sync(c.Request().Context(), h.mirror, req.toUser(c.Param("id")))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

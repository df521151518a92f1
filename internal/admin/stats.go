// Package admin serves platform-wide views for administrators.
package admin

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/httperr"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

type Handler struct {
	stats StatsSource
}

func NewHandler(s StatsSource) *Handler { return &Handler{stats: s} }

func (h *Handler) Register(admin *echo.Group) {
	admin.GET("/stats", h.Stats)
}

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	s, err := h.stats.Stats(c.Request().Context())
	if err != nil {
		return httperr.Write(c, err)
	}
	held := make(map[string]string, len(s.Held))
	for cur, amt := range s.Held {
		held[cur] = amt.StringFixed(fees.MinorUnits(cur))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"users":       s.Users,
		"projects":    s.Projects,
		"escrows":     s.Escrows,
		"withdrawals": s.Withdrawals,
		"held":        held,
	})
}

package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the admin read surface. The caller gates the
// group on the audit-read capability.
func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/audit-logs", h.List)
}

func (h *Handler) List(c echo.Context) error {
	f := Filter{
		Action:  c.QueryParam("action"),
		ActorID: c.QueryParam("actor"),
		Since:   c.QueryParam("since"),
		SortAsc: c.QueryParam("sortOrder") == "asc",
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}

	entries, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data": map[string]any{
			"auditLogs": entries,
			"total":     total,
		},
	})
}

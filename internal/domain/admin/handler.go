package admin

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/careportal/api/internal/domain/account"
	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
	"github.com/careportal/api/internal/platform/mediator"
	"github.com/careportal/api/pkg/pagination"
)

type Handler struct {
	svc     *Service
	med     *mediator.Mediator
	metrics echo.HandlerFunc
}

// NewHandler wires the operator routes. metricsHandler serves the
// exposition endpoint; pass nil to return 404 there.
func NewHandler(svc *Service, med *mediator.Mediator, metricsHandler echo.HandlerFunc) *Handler {
	return &Handler{svc: svc, med: med, metrics: metricsHandler}
}

// RegisterRoutes mounts /admin behind authentication. Each route is
// gated on its own capability so the matrix stays the single source of
// truth.
func (h *Handler) RegisterRoutes(authed *echo.Group) {
	g := authed.Group("/admin")

	users := h.med.Require(authz.OpAdminUsers, mediator.NoTarget)
	metrics := h.med.Require(authz.OpAdminMetrics, mediator.NoTarget)

	g.GET("/dashboard", h.Dashboard, users)
	g.GET("/users", h.ListUsers, users)
	g.PATCH("/users/:id", h.UpdateUser, users)
	g.DELETE("/users/:id", h.DeleteUser, users)
	g.POST("/bulk-operations", h.BulkOperations, h.med.Require(authz.OpAdminBulk, mediator.NoTarget))
	g.POST("/notifications/bulk", h.BulkNotify, h.med.Require(authz.OpAdminNotify, mediator.NoTarget))
	g.GET("/system-health", h.SystemHealth, metrics)
	g.GET("/metrics", h.Metrics, metrics)
	g.GET("/analytics/:report", h.Analytics, metrics)
}

func principal(c echo.Context) (mediator.Principal, error) {
	p, ok := mediator.PrincipalFromContext(c.Request().Context())
	if !ok {
		return mediator.Principal{}, apperr.E(apperr.KindAuthRequired, "no authenticated principal")
	}
	return p, nil
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.GetDashboard(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": d})
}

func (h *Handler) ListUsers(c echo.Context) error {
	page := pagination.FromContext(c)
	f := account.ListFilter{
		Role:   c.QueryParam("role"),
		Search: c.QueryParam("search"),
		Page:   page.Page,
		Limit:  page.Limit,
	}
	switch c.QueryParam("isActive") {
	case "true":
		f.Status = string(account.StatusActive)
	case "false":
		// Suspended accounts are inactive too.
		f.ExcludeStatus = string(account.StatusActive)
	}
	if s := c.QueryParam("status"); s != "" {
		f.Status = s
	}
	if v := c.QueryParam("dateFrom"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return apperr.E(apperr.KindValidation, "dateFrom must be RFC 3339")
		}
		f.DateFrom = &ts
	}
	if v := c.QueryParam("dateTo"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return apperr.E(apperr.KindValidation, "dateTo must be RFC 3339")
		}
		f.DateTo = &ts
	}

	users, total, err := h.svc.accounts.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if users == nil {
		users = []account.Principal{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data": map[string]any{
			"users":      users,
			"total":      total,
			"totalPages": page.TotalPages(total),
		},
	})
}

func (h *Handler) UpdateUser(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	if body.Status == "" {
		return apperr.E(apperr.KindValidation, "status is required")
	}
	u, err := h.svc.accounts.SetStatus(c.Request().Context(), p.ID, c.Param("id"),
		account.Status(body.Status), body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"user": u}})
}

func (h *Handler) DeleteUser(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason    string `json:"reason"`
		Permanent bool   `json:"permanent"`
	}
	// The body is optional; a bare DELETE soft-deletes.
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return apperr.E(apperr.KindValidation, "malformed request body")
		}
	}
	if c.QueryParam("permanent") == "true" {
		body.Permanent = true
	}
	id := c.Param("id")
	if err := h.svc.accounts.Delete(c.Request().Context(), p.ID, id, body.Reason, body.Permanent); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data": map[string]any{"id": id, "permanent": body.Permanent},
	})
}

func (h *Handler) BulkOperations(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req BulkRequest
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	results, err := h.svc.RunBulk(c.Request().Context(), h.med, p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"data": map[string]any{"results": results},
	})
}

func (h *Handler) BulkNotify(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req BulkNotifyRequest
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	res, err := h.svc.BulkNotify(c.Request().Context(), p.ID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": res})
}

func (h *Handler) SystemHealth(c echo.Context) error {
	health, err := h.svc.GetSystemHealth(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": health})
}

func (h *Handler) Metrics(c echo.Context) error {
	if h.metrics == nil {
		return apperr.E(apperr.KindNotFound, "metrics are not enabled")
	}
	return h.metrics(c)
}

func (h *Handler) Analytics(c echo.Context) error {
	d, err := h.svc.Analytics(c.Param("report"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": d})
}

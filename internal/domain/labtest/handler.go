package labtest

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
	"github.com/careportal/api/internal/platform/mediator"
)

type Handler struct {
	svc *Service
	med *mediator.Mediator
}

func NewHandler(svc *Service, med *mediator.Mediator) *Handler {
	return &Handler{svc: svc, med: med}
}

func (h *Handler) RegisterRoutes(authed *echo.Group) {
	authed.GET("/tests", h.List, h.med.Require(authz.OpTestUpdate, mediator.NoTarget))
	authed.POST("/tests", h.Create, h.med.Require(authz.OpTestCreate, mediator.NoTarget))
	authed.PATCH("/tests/:id", h.Update, h.med.Require(authz.OpTestUpdate, mediator.NoTarget))
	authed.DELETE("/tests/:id", h.Delete, h.med.Require(authz.OpTestDelete, mediator.NoTarget))
	authed.POST("/tests/:id/assign", h.Assign, h.med.Require(authz.OpTestAssign, mediator.NoTarget))
}

func actorID(c echo.Context) string {
	p, _ := mediator.PrincipalFromContext(c.Request().Context())
	return p.ID
}

func (h *Handler) Create(c echo.Context) error {
	var req struct {
		PatientID string `json:"patientId"`
		Kind      string `json:"kind"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	t, err := h.svc.Create(c.Request().Context(), actorID(c), CreateInput{
		PatientID: req.PatientID,
		Kind:      req.Kind,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"data": map[string]any{"test": t}})
}

func (h *Handler) Update(c echo.Context) error {
	var req struct {
		Result *string `json:"result"`
		Status *Status `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	t, err := h.svc.Update(c.Request().Context(), actorID(c), c.Param("id"), UpdateInput{
		Result: req.Result,
		Status: req.Status,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"test": t}})
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), actorID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Assign(c echo.Context) error {
	var req struct {
		TechnicianID string `json:"technicianId"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	t, err := h.svc.Assign(c.Request().Context(), actorID(c), c.Param("id"), req.TechnicianID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"test": t}})
}

func (h *Handler) List(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	list, err := h.svc.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []LabTest{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"tests": list}})
}

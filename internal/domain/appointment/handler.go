package appointment

import (
	"net/http"
	"strconv"
	"time"

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
	authed.POST("/appointments", h.Book)
	authed.GET("/appointments", h.List, h.med.Require(authz.OpAppointmentList, mediator.NoTarget))
}

func (h *Handler) Book(c echo.Context) error {
	p, ok := mediator.PrincipalFromContext(c.Request().Context())
	if !ok {
		return apperr.E(apperr.KindAuthRequired, "no authenticated principal")
	}
	var req struct {
		PatientID   string    `json:"patientId"`
		ProviderID  string    `json:"providerId"`
		ScheduledAt time.Time `json:"scheduledAt"`
		Reason      string    `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	if req.PatientID == "" {
		req.PatientID = p.ID
	}
	ctx := c.Request().Context()
	if err := h.med.Authorize(ctx, p, authz.OpAppointmentBook, req.PatientID); err != nil {
		return err
	}
	a, err := h.svc.Book(ctx, p.ID, BookInput{
		PatientID:   req.PatientID,
		ProviderID:  req.ProviderID,
		ScheduledAt: req.ScheduledAt,
		Reason:      req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"data": map[string]any{"appointment": a}})
}

func (h *Handler) List(c echo.Context) error {
	p, _ := mediator.PrincipalFromContext(c.Request().Context())
	ctx := c.Request().Context()

	var (
		list []Appointment
		err  error
	)
	if p.Role == authz.RolePatient {
		list, err = h.svc.ListForPatient(ctx, p.ID)
	} else {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		list, err = h.svc.ListAll(ctx, limit)
	}
	if err != nil {
		return err
	}
	if list == nil {
		list = []Appointment{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"appointments": list}})
}

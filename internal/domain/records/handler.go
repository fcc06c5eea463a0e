package records

import (
	"net/http"

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

// RegisterRoutes mounts the record surface behind authentication.
func (h *Handler) RegisterRoutes(authed *echo.Group) {
	authed.GET("/records", h.List)
	authed.GET("/records/:id", h.Get)
	authed.POST("/records/:id/share", h.Share, h.med.Require(authz.OpRecordsShare, mediator.NoTarget))
	authed.DELETE("/records/:id/share/:granteeId", h.Unshare, h.med.Require(authz.OpRecordsShare, mediator.NoTarget))
}

func principal(c echo.Context) (mediator.Principal, error) {
	p, ok := mediator.PrincipalFromContext(c.Request().Context())
	if !ok {
		return mediator.Principal{}, apperr.E(apperr.KindAuthRequired, "no authenticated principal")
	}
	return p, nil
}

// List returns the caller's records; clinicians and admins pass
// ?patient=<id> to read another patient's set, subject to policy.
func (h *Handler) List(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	patientID := c.QueryParam("patient")
	if patientID == "" {
		patientID = p.ID
	}
	if err := h.med.Authorize(ctx, p, authz.OpRecordsRead, patientID); err != nil {
		return err
	}
	list, err := h.svc.ListForPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if list == nil {
		list = []Record{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"records": list}})
}

// Get fetches the record first, then authorizes against its owner.
func (h *Handler) Get(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	r, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.med.Authorize(ctx, p, authz.OpRecordsRead, r.PatientID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"record": r}})
}

func (h *Handler) Share(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	r, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	// Owner-or-admin: the share capability is self-scoped against the
	// record owner.
	if err := h.med.Authorize(ctx, p, authz.OpRecordsShare, r.PatientID); err != nil {
		return err
	}

	var req struct {
		GranteeID string `json:"granteeId"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	g, err := h.svc.Share(ctx, p.ID, r.ID, req.GranteeID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"data": map[string]any{"share": g}})
}

func (h *Handler) Unshare(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	r, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.med.Authorize(ctx, p, authz.OpRecordsShare, r.PatientID); err != nil {
		return err
	}
	if err := h.svc.Unshare(ctx, p.ID, r.ID, c.Param("granteeId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

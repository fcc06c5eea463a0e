package account

import (
	"net/http"
	"strings"

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

// RegisterRoutes mounts the account surface. public carries no
// authentication; authed runs behind the mediator.
func (h *Handler) RegisterRoutes(public, authed *echo.Group) {
	public.POST("/users/register", h.Register)
	public.POST("/users/login", h.Login)

	read := h.med.Require(authz.OpProfileRead, mediator.NoTarget)
	update := h.med.Require(authz.OpProfileUpdate, mediator.NoTarget)

	authed.POST("/users/logout", h.Logout)
	authed.GET("/users/me", h.Me, read)
	authed.PATCH("/users/me", h.UpdateMe, update)
	authed.POST("/users/me/password", h.RotatePassword, update)
}

func rawToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func (h *Handler) Register(c echo.Context) error {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	p, err := h.svc.Register(c.Request().Context(), RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"data": map[string]any{"user": p}})
}

func (h *Handler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	p, tok, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{
		"user":        p,
		"accessToken": tok,
	}})
}

func (h *Handler) Logout(c echo.Context) error {
	if tok := rawToken(c); tok != "" {
		if err := h.svc.Revoke(c.Request().Context(), tok); err != nil {
			return err
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	p, ok := mediator.PrincipalFromContext(c.Request().Context())
	if !ok {
		return apperr.E(apperr.KindAuthRequired, "no authenticated principal")
	}
	user, err := h.svc.Get(c.Request().Context(), p.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"user": user}})
}

func (h *Handler) UpdateMe(c echo.Context) error {
	p, ok := mediator.PrincipalFromContext(c.Request().Context())
	if !ok {
		return apperr.E(apperr.KindAuthRequired, "no authenticated principal")
	}
	var req struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	user, err := h.svc.UpdateProfile(c.Request().Context(), p.ID, UpdateProfileInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": map[string]any{"user": user}})
}

func (h *Handler) RotatePassword(c echo.Context) error {
	p, ok := mediator.PrincipalFromContext(c.Request().Context())
	if !ok {
		return apperr.E(apperr.KindAuthRequired, "no authenticated principal")
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.E(apperr.KindValidation, "malformed request body")
	}
	if err := h.svc.RotateCredential(c.Request().Context(), p.ID,
		req.CurrentPassword, req.NewPassword, rawToken(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

package admin

import (
	"context"

	"github.com/careportal/api/internal/domain/account"
	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
	"github.com/careportal/api/internal/platform/mediator"
	"github.com/careportal/api/internal/platform/notification"
)

// Bulk operation names accepted by the operator surface.
const (
	BulkActivate         = "activate"
	BulkDeactivate       = "deactivate"
	BulkSuspend          = "suspend"
	BulkAssignRole       = "assign_role"
	BulkSendNotification = "send_notification"
)

// BulkRequest is the operator's intent: one operation over many
// principals.
type BulkRequest struct {
	Operation string            `json:"operation"`
	UserIDs   []string          `json:"userIds"`
	Data      map[string]string `json:"data"`
}

// RunBulk validates the request up front, then hands per-target
// execution to the mediator so each target gets its own policy check
// and audit entry. Parameter errors fail the whole request before any
// target is touched.
func (s *Service) RunBulk(ctx context.Context, med *mediator.Mediator, actor mediator.Principal, req BulkRequest) ([]mediator.TargetResult, error) {
	if len(req.UserIDs) == 0 {
		return nil, apperr.E(apperr.KindValidation, "userIds are required")
	}

	var fn mediator.BulkFunc
	switch req.Operation {
	case BulkActivate:
		fn = s.setStatusFunc(actor.ID, account.StatusActive, req.Data["reason"])
	case BulkDeactivate:
		fn = s.setStatusFunc(actor.ID, account.StatusInactive, req.Data["reason"])
	case BulkSuspend:
		fn = s.setStatusFunc(actor.ID, account.StatusSuspended, req.Data["reason"])
	case BulkAssignRole:
		role := req.Data["role"]
		if _, err := authz.ParseRole(role); err != nil {
			return nil, err
		}
		fn = func(ctx context.Context, target string) error {
			_, err := s.accounts.AssignRole(ctx, actor.ID, target, role)
			return err
		}
	case BulkSendNotification:
		if req.Data["message"] == "" {
			return nil, apperr.E(apperr.KindValidation, "message is required")
		}
		fn = s.notifyFunc(req.Data["subject"], req.Data["message"])
	default:
		return nil, apperr.Sub(apperr.KindValidation, apperr.SubUnknownOperation,
			"unknown bulk operation %q", req.Operation)
	}

	return med.RunBulk(ctx, actor, authz.OpAdminBulk, audit.ActionBulkIntent, req.UserIDs, fn), nil
}

func (s *Service) setStatusFunc(actorID string, status account.Status, reason string) mediator.BulkFunc {
	return func(ctx context.Context, target string) error {
		_, err := s.accounts.SetStatus(ctx, actorID, target, status, reason)
		return err
	}
}

// notifyFunc resolves the target to an address and enqueues the
// message. Delivery failure is a warning, not a target failure: the
// message sits in the outbox for retry and the bulk run proceeds.
func (s *Service) notifyFunc(subject, message string) mediator.BulkFunc {
	return func(ctx context.Context, target string) error {
		p, err := s.accounts.Get(ctx, target)
		if err != nil {
			return err
		}
		data := map[string]string{"subject": subject, "message": message}
		if _, err := s.notifier.SendFromTemplate(ctx, notification.TypeEmail, "announcement", data, p.Email); err != nil {
			s.logger.Warn().Err(err).Str("principal_id", target).Msg("notification delivery deferred")
		}
		return nil
	}
}

// BulkNotifyRequest is the fire-and-forget announcement endpoint.
// Type selects the channel and defaults to email.
type BulkNotifyRequest struct {
	UserIDs []string          `json:"userIds"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Type    notification.Type `json:"type"`
}

// BulkNotifyResult reports what was enqueued. Failures are warnings.
type BulkNotifyResult struct {
	Enqueued int      `json:"enqueued"`
	Warnings []string `json:"warnings"`
}

// BulkNotify sends an announcement to each listed principal. It never
// fails per recipient: unknown principals and delivery errors
// accumulate as warnings.
func (s *Service) BulkNotify(ctx context.Context, actorID string, req BulkNotifyRequest) (*BulkNotifyResult, error) {
	if len(req.UserIDs) == 0 {
		return nil, apperr.E(apperr.KindValidation, "userIds are required")
	}
	if req.Message == "" {
		return nil, apperr.E(apperr.KindValidation, "message is required")
	}
	typ := req.Type
	if typ == "" {
		typ = notification.TypeEmail
	}
	if typ != notification.TypeEmail && typ != notification.TypeSMS {
		return nil, apperr.E(apperr.KindValidation, "unknown notification type %q", typ)
	}

	s.audit.Record(ctx, audit.ActionNotifyBulk, actorID, "", map[string]any{
		"recipients": len(req.UserIDs),
		"title":      req.Title,
		"type":       string(typ),
	})

	res := &BulkNotifyResult{Warnings: []string{}}
	data := map[string]string{"subject": req.Title, "message": req.Message}
	for _, id := range req.UserIDs {
		p, err := s.accounts.Get(ctx, id)
		if err != nil {
			res.Warnings = append(res.Warnings, id+": "+err.Error())
			continue
		}
		if _, err := s.notifier.SendFromTemplate(ctx, typ, "announcement", data, p.Email); err != nil {
			res.Warnings = append(res.Warnings, id+": "+err.Error())
			continue
		}
		res.Enqueued++
	}
	return res, nil
}

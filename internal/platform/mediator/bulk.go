package mediator

import (
	"context"

	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/authz"
)

// Bulk outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeDenied    = "denied"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// TargetResult is the per-target verdict of a bulk run. Targets are
// always principal IDs, so the wire name is userId.
type TargetResult struct {
	Target  string `json:"userId"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// BulkFunc applies the operation to one target.
type BulkFunc func(ctx context.Context, targetID string) error

// RunBulk applies fn to each target in caller order. The policy is
// re-checked per target, so a bulk request never widens what the actor
// could do one call at a time. Once the context deadline passes, the
// remaining targets report cancelled without being attempted.
// Duplicate targets fail rather than apply twice.
func (m *Mediator) RunBulk(ctx context.Context, actor Principal, op authz.Operation, action string, targets []string, fn BulkFunc) []TargetResult {
	m.audit.Record(ctx, action, actor.ID, "", map[string]any{
		"operation": string(op),
		"targets":   len(targets),
	})

	results := make([]TargetResult, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	cancelled := false

	for _, target := range targets {
		if cancelled || ctx.Err() != nil {
			cancelled = true
			results = append(results, TargetResult{Target: target, Outcome: OutcomeCancelled, Reason: "deadline exceeded"})
			continue
		}
		if seen[target] {
			results = append(results, m.finishTarget(ctx, actor, action, TargetResult{
				Target: target, Outcome: OutcomeFailed, Reason: "duplicate target",
			}))
			continue
		}
		seen[target] = true

		if err := m.Authorize(ctx, actor, op, target); err != nil {
			results = append(results, m.finishTarget(ctx, actor, action, TargetResult{
				Target: target, Outcome: OutcomeDenied, Reason: err.Error(),
			}))
			continue
		}

		err := fn(ctx, target)
		switch {
		case err == nil:
			results = append(results, m.finishTarget(ctx, actor, action, TargetResult{
				Target: target, Outcome: OutcomeOK,
			}))
		case ctx.Err() != nil:
			cancelled = true
			results = append(results, TargetResult{Target: target, Outcome: OutcomeCancelled, Reason: "deadline exceeded"})
		case apperr.KindOf(err) == apperr.KindForbidden:
			// Domain-level refusals (peer-admin protection, demotion
			// guard) are denials, not execution failures.
			results = append(results, m.finishTarget(ctx, actor, action, TargetResult{
				Target: target, Outcome: OutcomeDenied, Reason: err.Error(),
			}))
		default:
			results = append(results, m.finishTarget(ctx, actor, action, TargetResult{
				Target: target, Outcome: OutcomeFailed, Reason: err.Error(),
			}))
		}
	}
	return results
}

func (m *Mediator) finishTarget(ctx context.Context, actor Principal, action string, r TargetResult) TargetResult {
	payload := map[string]any{"outcome": r.Outcome}
	if r.Reason != "" {
		payload["reason"] = r.Reason
	}
	m.audit.Record(ctx, audit.ActionBulkTarget, actor.ID, r.Target, payload)
	return r
}

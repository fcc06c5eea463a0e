package audit

import (
	"context"
	"strings"
	"time"
)

// SystemActor is the actor recorded for entries not tied to a caller.
const SystemActor = "system"

// Entry is one append-only audit record. Ordinal is gap-free within a
// process lifetime; ID is a ulid.
type Entry struct {
	ID        string         `json:"id"`
	Ordinal   uint64         `json:"ordinal"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId"`
	SubjectID string         `json:"subjectId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	SourceIP  string         `json:"sourceIp,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	At        time.Time      `json:"at"`
}

// Action tags. Dot-separated, area first.
const (
	ActionUserCreate     = "USER.CREATE"
	ActionUserUpdate     = "USER.UPDATE"
	ActionUserStatus     = "USER.STATUS"
	ActionUserRole       = "USER.ROLE"
	ActionUserDelete     = "USER.DELETE"
	ActionLogin          = "AUTH.LOGIN"
	ActionLoginFailed    = "AUTH.LOGIN_FAILED"
	ActionLogout         = "AUTH.LOGOUT"
	ActionPasswordRotate = "AUTH.PASSWORD_ROTATE"
	ActionAccessDenied   = "ACCESS.DENIED"
	ActionRecordShare    = "RECORD.SHARE"
	ActionRecordUnshare  = "RECORD.UNSHARE"
	ActionAppointment    = "APPOINTMENT.BOOK"
	ActionTestCreate     = "TEST.CREATE"
	ActionTestUpdate     = "TEST.UPDATE"
	ActionTestDelete     = "TEST.DELETE"
	ActionTestAssign     = "TEST.ASSIGN"
	ActionBulkIntent     = "ADMIN.BULK"
	ActionBulkTarget     = "ADMIN.BULK_TARGET"
	ActionNotifyBulk     = "ADMIN.NOTIFY_BULK"
)

type ctxKey string

const sourceKey ctxKey = "audit_source"

// Source carries the request origin into audit entries.
type Source struct {
	IP        string
	UserAgent string
}

// WithSource attaches the request origin to the context.
func WithSource(ctx context.Context, ip, userAgent string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" && userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, sourceKey, Source{IP: ip, UserAgent: userAgent})
}

func sourceFromContext(ctx context.Context) Source {
	if ctx == nil {
		return Source{}
	}
	src, _ := ctx.Value(sourceKey).(Source)
	return src
}

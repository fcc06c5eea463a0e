// Package admin is the operator surface: dashboard aggregates, user
// management, bulk operations, notifications and system health.
package admin

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/careportal/api/internal/domain/account"
	"github.com/careportal/api/internal/domain/appointment"
	"github.com/careportal/api/internal/domain/audit"
	"github.com/careportal/api/internal/domain/labtest"
	"github.com/careportal/api/internal/platform/apperr"
	"github.com/careportal/api/internal/platform/notification"
)

// Accounts is the slice of the account service the admin surface
// drives.
type Accounts interface {
	Get(ctx context.Context, id string) (*account.Principal, error)
	List(ctx context.Context, f account.ListFilter) ([]account.Principal, int, error)
	SetStatus(ctx context.Context, actorID, id string, status account.Status, reason string) (*account.Principal, error)
	AssignRole(ctx context.Context, actorID, id, role string) (*account.Principal, error)
	Delete(ctx context.Context, actorID, id, reason string, permanent bool) error
	CountByStatus(ctx context.Context) (map[account.Status]int, error)
	CountByRole(ctx context.Context) (map[string]int, error)
	ActiveSessions(ctx context.Context) (int, error)
}

// Appointments and LabTests feed the dashboard counters.
type Appointments interface {
	CountByStatus(ctx context.Context) (map[appointment.Status]int, error)
}

type LabTests interface {
	CountByStatus(ctx context.Context) (map[labtest.Status]int, error)
}

// Records counts stored record rows.
type Records interface {
	Count(ctx context.Context) (int, error)
}

// PoolStats reports connection pool gauges for the health endpoint.
type PoolStats func() map[string]int64

// Service aggregates the domain services for the operator endpoints.
type Service struct {
	accounts     Accounts
	appointments Appointments
	labTests     LabTests
	records      Records
	notifier     *notification.Manager
	audit        audit.Recorder
	poolStats    PoolStats
	logger       zerolog.Logger
	started      time.Time
}

func NewService(accounts Accounts, appts Appointments, tests LabTests, recs Records, notifier *notification.Manager, rec audit.Recorder, poolStats PoolStats, logger zerolog.Logger) *Service {
	return &Service{
		accounts:     accounts,
		appointments: appts,
		labTests:     tests,
		records:      recs,
		notifier:     notifier,
		audit:        rec,
		poolStats:    poolStats,
		logger:       logger,
		started:      time.Now().UTC(),
	}
}

// Dashboard is the aggregate stats document.
type Dashboard struct {
	Users        UserStats      `json:"users"`
	Appointments map[string]int `json:"appointments"`
	Medical      MedicalStats   `json:"medical"`
	Financial    FinancialStats `json:"financial"`
	System       SystemStats    `json:"system"`
}

type UserStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
	ByRole   map[string]int `json:"byRole"`
}

type MedicalStats struct {
	Records  int            `json:"records"`
	LabTests map[string]int `json:"labTests"`
}

// FinancialStats is a placeholder: billing is not wired yet, so the
// document carries zeros with an explicit currency.
type FinancialStats struct {
	Currency     string  `json:"currency"`
	RevenueTotal float64 `json:"revenueTotal"`
	Outstanding  float64 `json:"outstanding"`
}

type SystemStats struct {
	ActiveSessions int              `json:"activeSessions"`
	Notifications  map[string]int   `json:"notifications"`
	UptimeSeconds  int64            `json:"uptimeSeconds"`
	Pool           map[string]int64 `json:"pool,omitempty"`
}

// GetDashboard assembles the stats document. Individual counter
// failures fail the whole document; partial dashboards mislead.
func (s *Service) GetDashboard(ctx context.Context) (*Dashboard, error) {
	byStatus, err := s.accounts.CountByStatus(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	byRole, err := s.accounts.CountByRole(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	users := UserStats{ByStatus: make(map[string]int), ByRole: byRole}
	for status, n := range byStatus {
		users.ByStatus[string(status)] = n
		if status != account.StatusDeleted {
			users.Total += n
		}
	}
	if users.ByRole == nil {
		users.ByRole = map[string]int{}
	}

	apptCounts, err := s.appointments.CountByStatus(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	appts := make(map[string]int, len(apptCounts))
	for status, n := range apptCounts {
		appts[string(status)] = n
	}

	recordCount, err := s.records.Count(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	testCounts, err := s.labTests.CountByStatus(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	tests := make(map[string]int, len(testCounts))
	for status, n := range testCounts {
		tests[string(status)] = n
	}

	sessions, err := s.accounts.ActiveSessions(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &Dashboard{
		Users:        users,
		Appointments: appts,
		Medical:      MedicalStats{Records: recordCount, LabTests: tests},
		Financial:    FinancialStats{Currency: "USD"},
		System: SystemStats{
			ActiveSessions: sessions,
			Notifications:  s.notifier.Stats(),
			UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		},
	}, nil
}

// SystemHealth is the operational health document.
type SystemHealth struct {
	Status         string           `json:"status"`
	ActiveSessions int              `json:"activeSessions"`
	Pool           map[string]int64 `json:"pool,omitempty"`
	Notifications  map[string]int   `json:"notifications"`
	UptimeSeconds  int64            `json:"uptimeSeconds"`
}

func (s *Service) GetSystemHealth(ctx context.Context) (*SystemHealth, error) {
	sessions, err := s.accounts.ActiveSessions(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	h := &SystemHealth{
		Status:         "ok",
		ActiveSessions: sessions,
		Notifications:  s.notifier.Stats(),
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
	}
	if s.poolStats != nil {
		h.Pool = s.poolStats()
	}
	return h, nil
}

// Analytics descriptors document the reporting surface before the
// warehouse exists. Each names its dimensions and refresh cadence.
type AnalyticsDescriptor struct {
	Report     string   `json:"report"`
	Dimensions []string `json:"dimensions"`
	Refresh    string   `json:"refresh"`
	Status     string   `json:"status"`
}

var analyticsReports = map[string]AnalyticsDescriptor{
	"users": {
		Report:     "users",
		Dimensions: []string{"role", "status", "signup_week"},
		Refresh:    "daily",
		Status:     "planned",
	},
	"revenue": {
		Report:     "revenue",
		Dimensions: []string{"month", "payer", "service_line"},
		Refresh:    "monthly",
		Status:     "planned",
	},
	"providers": {
		Report:     "providers",
		Dimensions: []string{"provider", "appointment_volume", "utilization"},
		Refresh:    "weekly",
		Status:     "planned",
	},
}

func (s *Service) Analytics(report string) (*AnalyticsDescriptor, error) {
	d, ok := analyticsReports[report]
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "unknown analytics report %q", report)
	}
	return &d, nil
}

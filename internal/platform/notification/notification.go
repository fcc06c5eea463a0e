// Package notification delivers email and SMS messages with template
// rendering, an in-memory outbox, and mock senders for development.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careportal/api/internal/platform/apperr"
)

// Type is the delivery channel.
type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
)

// StatusPending, StatusSent and StatusFailed track one message.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Notification is a single outbound message.
type Notification struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"templateId,omitempty"`
	TemplateData map[string]string `json:"templateData,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EmailSender delivers email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a reusable message body with {{placeholder}} slots.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Type    Type   `json:"type"`
}

// TemplateEngine stores templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine pre-registers the portal's built-in templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "welcome",
			Name:    "Welcome",
			Subject: "Welcome to the patient portal",
			Body:    "Dear {{name}}, your portal account has been created. You can now sign in with your email address.",
			Type:    TypeEmail,
		},
		{
			ID:      "password-changed",
			Name:    "Password Changed",
			Subject: "Your password was changed",
			Body:    "Dear {{name}}, the password on your account was changed. Other sessions have been signed out. If this was not you, contact support immediately.",
			Type:    TypeEmail,
		},
		{
			ID:      "account-status",
			Name:    "Account Status Changed",
			Subject: "Your account status changed",
			Body:    "Dear {{name}}, your portal account is now {{status}}. Reason: {{reason}}.",
			Type:    TypeEmail,
		},
		{
			ID:      "appointment-booked",
			Name:    "Appointment Booked",
			Subject: "Appointment confirmation",
			Body:    "Dear {{name}}, your appointment on {{date}} with {{provider}} is confirmed.",
			Type:    TypeEmail,
		},
		{
			ID:      "announcement",
			Name:    "Announcement",
			Subject: "{{subject}}",
			Body:    "{{message}}",
			Type:    TypeEmail,
		},
	}
	for i := range builtIn {
		e.templates[builtIn[i].ID] = &builtIn[i]
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := t
	e.templates[t.ID] = &cp
}

// Render substitutes {{key}} placeholders with data values.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", apperr.E(apperr.KindNotFound, "unknown template %q", templateID)
	}
	subject, body = t.Subject, t.Body
	for key, val := range data {
		placeholder := "{{" + key + "}}"
		subject = strings.ReplaceAll(subject, placeholder, val)
		body = strings.ReplaceAll(body, placeholder, val)
	}
	return subject, body, nil
}

// EmailCall records one mock delivery.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records sends instead of delivering.
type MockEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	// Fail makes every send error. Tests exercise the failure path
	// with it.
	Fail bool
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("smtp unavailable")
	}
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records one mock delivery.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender records sends instead of delivering.
type MockSMSSender struct {
	mu    sync.Mutex
	calls []SMSCall
	Fail  bool
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("sms gateway unavailable")
	}
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	return nil
}

func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Manager routes notifications to senders and keeps an in-memory
// outbox for inspection.
type Manager struct {
	email EmailSender
	sms   SMSSender
	tpl   *TemplateEngine

	mu     sync.RWMutex
	outbox map[string]*Notification
}

func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine) *Manager {
	return &Manager{
		email:  email,
		sms:    sms,
		tpl:    tpl,
		outbox: make(map[string]*Notification),
	}
}

// Send delivers one notification and records the outcome. A delivery
// failure marks the message failed and returns the error; the caller
// decides whether that is fatal.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return apperr.E(apperr.KindValidation, "recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusPending

	var err error
	switch n.Type {
	case TypeEmail:
		err = m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case TypeSMS:
		err = m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		err = apperr.E(apperr.KindValidation, "unknown notification type %q", n.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		now := time.Now().UTC()
		n.Status = StatusSent
		n.SentAt = &now
	}
	cp := *n
	m.outbox[n.ID] = &cp
	return err
}

// SendFromTemplate renders and sends in one step over the given
// channel.
func (m *Manager) SendFromTemplate(ctx context.Context, typ Type, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := m.tpl.Render(templateID, data)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		Type:         typ,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	sendErr := m.Send(ctx, n)
	return n, sendErr
}

// Get returns one outbox entry.
func (m *Manager) Get(id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.outbox[id]
	if !ok {
		return nil, apperr.E(apperr.KindNotFound, "notification not found")
	}
	cp := *n
	return &cp, nil
}

// ListByRecipient returns a recipient's messages in no particular
// order.
func (m *Manager) ListByRecipient(recipient string, limit int) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Notification
	for _, n := range m.outbox {
		if n.Recipient == recipient {
			cp := *n
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats counts outbox entries by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int{StatusSent: 0, StatusFailed: 0, StatusPending: 0}
	for _, n := range m.outbox {
		out[n.Status]++
	}
	return out
}

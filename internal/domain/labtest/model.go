package labtest

import "time"

// Status is the lab test lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ValidStatus reports whether s is a recognized state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// LabTest is one ordered test, worked by an assigned technician.
type LabTest struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patientId"`
	Kind       string    `json:"kind"`
	Result     string    `json:"result,omitempty"`
	Status     Status    `json:"status"`
	AssignedTo string    `json:"assignedTo,omitempty"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

package appointment

import "time"

// Status is the appointment lifecycle.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Appointment links a patient to a provider at a scheduled time.
type Appointment struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	ProviderID  string    `json:"providerId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

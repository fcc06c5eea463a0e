package records

import "time"

// Record is medical record metadata. The clinical payload itself lives
// in the document store; PayloadRef points at it.
type Record struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patientId"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	PayloadRef string    `json:"payloadRef,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ShareGrant is a revocable consent edge: the patient lets a clinician
// read their records.
type ShareGrant struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patientId"`
	GranteeID string     `json:"granteeId"`
	RecordID  string     `json:"recordId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Active reports whether the grant currently authorizes access.
func (g *ShareGrant) Active() bool {
	return g.RevokedAt == nil
}

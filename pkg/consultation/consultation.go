// Package consultation defines the consultation request entity shared by all
// three consoles, the closed client status vocabulary, and the mapping from
// the backend's status strings into it.
package consultation

import "time"

// Status is the client-side request status. The four values below are the
// only vocabulary views, report forms, and stores may depend on.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusRejected   Status = "REJECTED"
)

// Terminal reports whether the status ends the request lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Backend status vocabulary, as the remote API speaks it.
const (
	BackendPending  = "PENDING"
	BackendAccepted = "ACCEPTED"
	BackendRejected = "REJECTED"
	BackendComplete = "COMPLETED"
)

// MapBackendStatus translates a backend status string into the client
// vocabulary. The backend vocabulary is not closed; unknown values map to
// COMPLETED so they land in a terminal, non-actionable state instead of
// crashing the console or disappearing.
func MapBackendStatus(raw string) Status {
	switch raw {
	case BackendPending:
		return StatusNew
	case BackendAccepted:
		return StatusInProgress
	case BackendRejected:
		return StatusRejected
	default:
		return StatusCompleted
	}
}

// BackendStatus translates a client status back into the backend vocabulary,
// used when issuing status mutations.
func (s Status) BackendStatus() string {
	switch s {
	case StatusNew:
		return BackendPending
	case StatusInProgress:
		return BackendAccepted
	case StatusRejected:
		return BackendRejected
	default:
		return BackendComplete
	}
}

// RequesterSummary is the farmer who raised the request, embedded by value.
// The request never holds a live link to a mutable farmer record.
type RequesterSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// SubjectContext is an immutable snapshot of the field the request concerns,
// taken at creation time.
type SubjectContext struct {
	FieldID   string  `json:"field_id,omitempty"`
	Name      string  `json:"name"`
	Crop      string  `json:"crop,omitempty"`
	AreaAcres float64 `json:"area_acres,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lng       float64 `json:"lng,omitempty"`
}

// Request is the canonical consultation request entity.
type Request struct {
	ID               string           `json:"id"`
	Status           Status           `json:"status"`
	Requester        RequesterSummary `json:"requester"`
	AssignedExpertID string           `json:"assigned_expert_id,omitempty"`
	Subject          *SubjectContext  `json:"subject,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	Description      string           `json:"description"`
	Category         string           `json:"category"`
}

package consultation

import (
	"time"

	"github.com/shonalidesh/agrilink/pkg/errors"
)

// Report is the structured consultation report an expert submits when
// completing a request. All three text sections are mandatory.
type Report struct {
	RequestID        string    `json:"request_id"`
	FieldID          string    `json:"field_id,omitempty"`
	ProblemSummary   string    `json:"problem_summary"`
	Diagnosis        string    `json:"diagnosis"`
	Recommendation   string    `json:"recommendation"`
	FertilizerAdvice string    `json:"fertilizer_advice,omitempty"`
	FollowUpRequired bool      `json:"follow_up_required"`
	FollowUpDays     int       `json:"follow_up_days,omitempty"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// Validate checks the report is complete enough to submit. A complete
// transition must not issue any network call when this fails.
func (r Report) Validate() error {
	if r.RequestID == "" {
		return errors.New(errors.ErrCodeReportInvalid, "report missing request id").
			WithUserMessage("Report is not linked to a request.")
	}
	if r.ProblemSummary == "" || r.Diagnosis == "" || r.Recommendation == "" {
		return errors.New(errors.ErrCodeReportInvalid, "report missing mandatory sections").
			WithContext("request_id", r.RequestID).
			WithUserMessage("Problem summary, diagnosis and recommendation are all mandatory.")
	}
	if r.FollowUpRequired && r.FollowUpDays <= 0 {
		return errors.New(errors.ErrCodeReportInvalid, "follow-up requested without a day count").
			WithContext("request_id", r.RequestID).
			WithUserMessage("Set the number of days until follow-up.")
	}
	return nil
}

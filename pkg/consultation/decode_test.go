package consultation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shonalidesh/agrilink/pkg/errors"
)

func TestDecode(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 21,
		"status": "PENDING",
		"expert_id": "e9",
		"farmer": {"id": "f123", "name": "Rahim", "phone": "017", "location": "Jessore", "profile_picture": "https://img/r.png"},
		"issue_type": "Leaf Blight",
		"description": "Yellow spots on paddy leaves",
		"created_at": "2026-08-20T09:30:00Z",
		"field_details": {"id": 4, "name": "North Field", "crop": "Paddy", "area": 2.5, "center": {"lat": 23.81, "lng": 90.41}}
	}`)

	req, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if req.ID != "21" {
		t.Errorf("ID = %q, want 21 (numeric id normalized to string)", req.ID)
	}
	if req.Status != StatusNew {
		t.Errorf("Status = %v, want NEW", req.Status)
	}
	if req.AssignedExpertID != "e9" {
		t.Errorf("AssignedExpertID = %q, want e9", req.AssignedExpertID)
	}
	if req.Requester.Name != "Rahim" || req.Requester.Location != "Jessore" {
		t.Errorf("Requester = %+v", req.Requester)
	}
	if req.Category != "Leaf Blight" {
		t.Errorf("Category = %q", req.Category)
	}
	if req.CreatedAt.IsZero() {
		t.Error("CreatedAt should be parsed")
	}
	if req.Subject == nil {
		t.Fatal("Subject should be mapped from field_details")
	}
	if req.Subject.Crop != "Paddy" || req.Subject.AreaAcres != 2.5 {
		t.Errorf("Subject = %+v", req.Subject)
	}
	if req.Subject.Lat != 23.81 || req.Subject.Lng != 90.41 {
		t.Errorf("Subject center = (%v, %v)", req.Subject.Lat, req.Subject.Lng)
	}
}

func TestDecode_Fallbacks(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "R2",
		"status": "ACCEPTED",
		"farmer": {"id": "f1"},
		"farmer_name": "Karim"
	}`)

	req, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Requester.Name != "Karim" {
		t.Errorf("name fallback = %q, want farmer_name value", req.Requester.Name)
	}
	if req.Requester.Location != "Unknown" {
		t.Errorf("location fallback = %q", req.Requester.Location)
	}
	if !strings.Contains(req.Requester.Avatar, "ui-avatars.com") {
		t.Errorf("avatar fallback = %q", req.Requester.Avatar)
	}
	if req.Subject != nil {
		t.Error("Subject should be nil without field_details")
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":       `{"id": `,
		"missing id":     `{"status": "PENDING", "farmer": {"id": "f1", "name": "Rahim"}}`,
		"missing farmer": `{"id": "R1", "status": "PENDING"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(json.RawMessage(raw))
			if err == nil {
				t.Fatal("Decode should fail")
			}
			if !errors.IsCode(err, errors.ErrCodeEntityMalformed) {
				t.Errorf("error code = %v, want ENTITY_MALFORMED", errors.GetCode(err))
			}
		})
	}
}

func TestDecodeList_SkipsMalformed(t *testing.T) {
	items := []json.RawMessage{
		json.RawMessage(`{"id": "R1", "status": "PENDING", "farmer": {"id": "f1", "name": "Rahim"}}`),
		json.RawMessage(`{"status": "PENDING"}`),
		json.RawMessage(`{"id": "R3", "status": "REJECTED", "farmer": {"id": "f2", "name": "Karim"}}`),
	}

	requests, skipped := DecodeList(items)
	if len(requests) != 2 {
		t.Fatalf("len = %d, want 2", len(requests))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if requests[0].ID != "R1" || requests[1].ID != "R3" {
		t.Errorf("order not preserved: %v, %v", requests[0].ID, requests[1].ID)
	}
}

func TestReportValidate(t *testing.T) {
	valid := Report{
		RequestID:      "R1",
		ProblemSummary: "Blight on lower leaves",
		Diagnosis:      "Early-stage fungal infection",
		Recommendation: "Apply fungicide within 48 hours",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid report rejected: %v", err)
	}

	missing := valid
	missing.Diagnosis = ""
	if err := missing.Validate(); !errors.IsCode(err, errors.ErrCodeReportInvalid) {
		t.Errorf("missing diagnosis should be REPORT_INVALID, got %v", err)
	}

	noID := valid
	noID.RequestID = ""
	if err := noID.Validate(); err == nil {
		t.Error("report without request id should be rejected")
	}

	followUp := valid
	followUp.FollowUpRequired = true
	if err := followUp.Validate(); err == nil {
		t.Error("follow-up without day count should be rejected")
	}
	followUp.FollowUpDays = 7
	if err := followUp.Validate(); err != nil {
		t.Errorf("follow-up with day count rejected: %v", err)
	}
}

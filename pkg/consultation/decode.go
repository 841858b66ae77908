package consultation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/shonalidesh/agrilink/pkg/errors"
)

// wireID accepts both string and numeric ids. The backend assigns numeric
// ids in some deployments and ULID strings in others.
type wireID string

func (w *wireID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*w = wireID(n.String())
	return nil
}

// wireItem is the consultation shape as delivered both by the snapshot
// channel and by the REST listing endpoints.
type wireItem struct {
	ID       wireID `json:"id"`
	Status   string `json:"status"`
	ExpertID wireID `json:"expert_id"`
	Farmer   *struct {
		ID             wireID `json:"id"`
		Name           string `json:"name"`
		Phone          string `json:"phone"`
		Location       string `json:"location"`
		ProfilePicture string `json:"profile_picture"`
	} `json:"farmer"`
	FarmerName   string `json:"farmer_name"`
	IssueType    string `json:"issue_type"`
	Description  string `json:"description"`
	CreatedAt    string `json:"created_at"`
	FieldDetails *struct {
		ID     wireID  `json:"id"`
		Name   string  `json:"name"`
		Crop   string  `json:"crop"`
		Area   float64 `json:"area"`
		Center *struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"center"`
	} `json:"field_details"`
}

// Decode maps one remote consultation payload into the canonical entity.
// It is the single mapping point for the external shape: a missing id or a
// missing farmer block marks the item malformed and the caller skips it.
func Decode(raw json.RawMessage) (Request, error) {
	var item wireItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return Request{}, errors.Wrap(err, errors.ErrCodeEntityMalformed, "consultation payload is not valid JSON")
	}
	return item.toRequest()
}

func (item wireItem) toRequest() (Request, error) {
	if item.ID == "" {
		return Request{}, errors.New(errors.ErrCodeEntityMalformed, "consultation missing id")
	}
	if item.Farmer == nil {
		return Request{}, errors.New(errors.ErrCodeEntityMalformed, "consultation missing farmer").
			WithContext("id", string(item.ID))
	}

	name := item.Farmer.Name
	if name == "" {
		name = item.FarmerName
	}
	if name == "" {
		name = "Unknown Farmer"
	}

	avatar := item.Farmer.ProfilePicture
	if avatar == "" {
		avatar = "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
	}

	location := item.Farmer.Location
	if location == "" {
		location = "Unknown"
	}

	req := Request{
		ID:     string(item.ID),
		Status: MapBackendStatus(item.Status),
		Requester: RequesterSummary{
			ID:       string(item.Farmer.ID),
			Name:     name,
			Phone:    item.Farmer.Phone,
			Location: location,
			Avatar:   avatar,
		},
		AssignedExpertID: string(item.ExpertID),
		Description:      item.Description,
		Category:         item.IssueType,
	}

	if item.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, item.CreatedAt); err == nil {
			req.CreatedAt = ts
		}
	}

	if fd := item.FieldDetails; fd != nil {
		subject := &SubjectContext{
			FieldID:   string(fd.ID),
			Name:      fd.Name,
			Crop:      fd.Crop,
			AreaAcres: fd.Area,
		}
		if fd.Center != nil {
			subject.Lat = fd.Center.Lat
			subject.Lng = fd.Center.Lng
		}
		req.Subject = subject
	}

	return req, nil
}

// DecodeList maps a listing response, dropping malformed items. The number
// of dropped items is returned so callers can log it.
func DecodeList(items []json.RawMessage) ([]Request, int) {
	requests := make([]Request, 0, len(items))
	skipped := 0
	for _, raw := range items {
		req, err := Decode(raw)
		if err != nil {
			skipped++
			continue
		}
		requests = append(requests, req)
	}
	return requests, skipped
}

package devserver

import (
	"encoding/json"
	"time"

	"github.com/shonalidesh/agrilink/pkg/storage"
)

// wireFarmer mirrors the farmer block of the API wire format.
type wireFarmer struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	Location       string `json:"location,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type wireCenter struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type wireField struct {
	ID     string     `json:"id"`
	Name   string     `json:"name,omitempty"`
	Crop   string     `json:"crop,omitempty"`
	Area   float64    `json:"area,omitempty"`
	Center wireCenter `json:"center"`
}

// wireConsultation is the JSON shape consoles decode. The same shape is used
// for REST responses and snapshot items.
type wireConsultation struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	ExpertID     string     `json:"expert_id,omitempty"`
	Farmer       wireFarmer `json:"farmer"`
	IssueType    string     `json:"issue_type,omitempty"`
	Description  string     `json:"description,omitempty"`
	CreatedAt    string     `json:"created_at"`
	FieldDetails *wireField `json:"field_details,omitempty"`
}

func toWire(c *storage.Consultation) wireConsultation {
	w := wireConsultation{
		ID:       c.ID,
		Status:   c.Status,
		ExpertID: c.ExpertID,
		Farmer: wireFarmer{
			ID:             c.FarmerID,
			Name:           c.FarmerName,
			Phone:          c.FarmerPhone,
			Location:       c.FarmerLocation,
			ProfilePicture: c.FarmerAvatar,
		},
		IssueType:   c.IssueType,
		Description: c.Description,
		CreatedAt:   c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.FieldID != "" {
		w.FieldDetails = &wireField{
			ID:     c.FieldID,
			Name:   c.FieldName,
			Crop:   c.FieldCrop,
			Area:   c.FieldArea,
			Center: wireCenter{Lat: c.FieldLat, Lng: c.FieldLng},
		}
	}
	return w
}

func encodeSnapshot(consultations []*storage.Consultation) ([]byte, error) {
	items := make([]wireConsultation, 0, len(consultations))
	for _, c := range consultations {
		items = append(items, toWire(c))
	}
	return json.Marshal(items)
}

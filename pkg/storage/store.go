// Package storage is the SQLite persistence layer for the dev backend.
package storage

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict indicates a conditional update lost a race, e.g. two
	// experts accepting the same request.
	ErrConflict = errors.New("storage: conflict")
)

// Consultation is the persisted form of a consultation request.
type Consultation struct {
	ID             string
	Status         string
	FarmerID       string
	FarmerName     string
	FarmerPhone    string
	FarmerLocation string
	FarmerAvatar   string
	ExpertID       string
	FieldID        string
	FieldName      string
	FieldCrop      string
	FieldArea      float64
	FieldLat       float64
	FieldLng       float64
	IssueType      string
	Description    string
	CreatedAt      time.Time
}

// AdviceReport is the persisted expert report for a completed consultation.
type AdviceReport struct {
	RequestID        string
	FieldID          string
	ProblemSummary   string
	Diagnosis        string
	Recommendation   string
	FertilizerAdvice string
	FollowUpDays     int
	SubmittedAt      time.Time
}

// Store manages SQLite database operations.
type Store struct {
	db *sql.DB
}

// New opens the database at path and runs the schema. The parent directory
// is created if missing.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports one writer at a time; WAL allows readers alongside it.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const consultationColumns = `id, status, farmer_id, farmer_name, farmer_phone, farmer_location,
	farmer_avatar, expert_id, field_id, field_name, field_crop, field_area, field_lat, field_lng,
	issue_type, description, created_at`

// CreateConsultation inserts a new consultation row.
func (s *Store) CreateConsultation(c *Consultation) error {
	_, err := s.db.Exec(`INSERT INTO consultations (`+consultationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Status, c.FarmerID, c.FarmerName, c.FarmerPhone, c.FarmerLocation,
		c.FarmerAvatar, c.ExpertID, c.FieldID, c.FieldName, c.FieldCrop, c.FieldArea,
		c.FieldLat, c.FieldLng, c.IssueType, c.Description, c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

func scanConsultation(row interface{ Scan(dest ...any) error }) (*Consultation, error) {
	var c Consultation
	var createdAt string
	err := row.Scan(&c.ID, &c.Status, &c.FarmerID, &c.FarmerName, &c.FarmerPhone,
		&c.FarmerLocation, &c.FarmerAvatar, &c.ExpertID, &c.FieldID, &c.FieldName,
		&c.FieldCrop, &c.FieldArea, &c.FieldLat, &c.FieldLng, &c.IssueType,
		&c.Description, &createdAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// GetConsultation fetches one consultation by id.
func (s *Store) GetConsultation(id string) (*Consultation, error) {
	row := s.db.QueryRow(`SELECT `+consultationColumns+` FROM consultations WHERE id = ?`, id)
	c, err := scanConsultation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

func (s *Store) queryConsultations(query string, args ...any) ([]*Consultation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consultation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListConsultations returns every consultation, newest first.
func (s *Store) ListConsultations() ([]*Consultation, error) {
	return s.queryConsultations(`SELECT ` + consultationColumns +
		` FROM consultations ORDER BY created_at DESC`)
}

// ListConsultationsByFarmer returns a farmer's consultations, newest first.
func (s *Store) ListConsultationsByFarmer(farmerID string) ([]*Consultation, error) {
	return s.queryConsultations(`SELECT `+consultationColumns+
		` FROM consultations WHERE farmer_id = ? ORDER BY created_at DESC`, farmerID)
}

// ListAssignments returns the consultations visible to an expert: pending
// ones plus everything assigned to them, newest first.
func (s *Store) ListAssignments(expertID string) ([]*Consultation, error) {
	return s.queryConsultations(`SELECT `+consultationColumns+
		` FROM consultations WHERE status = 'PENDING' OR expert_id = ? ORDER BY created_at DESC`, expertID)
}

// ClaimConsultation atomically moves a PENDING consultation to ACCEPTED for
// the given expert. Returns ErrConflict when the request was already claimed
// or resolved.
func (s *Store) ClaimConsultation(id, expertID string) error {
	res, err := s.db.Exec(`UPDATE consultations SET status = 'ACCEPTED', expert_id = ?
		WHERE id = ? AND status = 'PENDING'`, expertID, id)
	if err != nil {
		return fmt.Errorf("claim consultation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetConsultation(id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// UpdateConsultationStatus sets the status of a consultation owned by the
// given expert. Returns ErrConflict when the row is not in the expected
// prior state.
func (s *Store) UpdateConsultationStatus(id, expertID, from, to string) error {
	res, err := s.db.Exec(`UPDATE consultations SET status = ?
		WHERE id = ? AND status = ? AND (expert_id = ? OR expert_id = '')`, to, id, from, expertID)
	if err != nil {
		return fmt.Errorf("update consultation status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetConsultation(id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// SaveAdviceReport stores or replaces the report for a consultation.
func (s *Store) SaveAdviceReport(r *AdviceReport) error {
	_, err := s.db.Exec(`INSERT INTO advice_reports
		(request_id, field_id, problem_summary, diagnosis, recommendation, fertilizer_advice, follow_up_days, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			problem_summary = excluded.problem_summary,
			diagnosis = excluded.diagnosis,
			recommendation = excluded.recommendation,
			fertilizer_advice = excluded.fertilizer_advice,
			follow_up_days = excluded.follow_up_days,
			submitted_at = excluded.submitted_at`,
		r.RequestID, r.FieldID, r.ProblemSummary, r.Diagnosis, r.Recommendation,
		r.FertilizerAdvice, r.FollowUpDays, r.SubmittedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save advice report: %w", err)
	}
	return nil
}

// GetAdviceReport fetches the report for a consultation.
func (s *Store) GetAdviceReport(requestID string) (*AdviceReport, error) {
	var r AdviceReport
	var submittedAt string
	err := s.db.QueryRow(`SELECT request_id, field_id, problem_summary, diagnosis,
		recommendation, fertilizer_advice, follow_up_days, submitted_at
		FROM advice_reports WHERE request_id = ?`, requestID).
		Scan(&r.RequestID, &r.FieldID, &r.ProblemSummary, &r.Diagnosis,
			&r.Recommendation, &r.FertilizerAdvice, &r.FollowUpDays, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get advice report: %w", err)
	}
	r.SubmittedAt, _ = time.Parse(time.RFC3339, submittedAt)
	return &r, nil
}

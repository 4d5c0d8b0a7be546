package client

import (
	"context"
	"net/url"
	"time"

	"github.com/labportal/labportal/internal/session"
)

// LabResult represents a single lab result
type LabResult struct {
	ID             string     `json:"id"`
	PatientID      string     `json:"patientId"`
	PatientName    string     `json:"patientName"`
	LaboratoryID   string     `json:"laboratoryId"`
	LaboratoryName string     `json:"laboratoryName"`
	TestName       string     `json:"testName"`
	Value          string     `json:"value"`
	Unit           string     `json:"unit"`
	ReferenceRange string     `json:"referenceRange"`
	Flag           string     `json:"flag,omitempty"` // "H", "L" or empty
	Status         string     `json:"status"`         // "pending", "final"
	CollectedAt    time.Time  `json:"collectedAt"`
	ReportedAt     *time.Time `json:"reportedAt,omitempty"`
}

// Patient represents a patient visible to the current user
type Patient struct {
	ID                  string `json:"id"`
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	DateOfBirth         string `json:"dateOfBirth"`
	MedicalRecordNumber string `json:"medicalRecordNumber"`
}

// Laboratory represents a laboratory
type Laboratory struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// NewsItem represents a portal news entry
type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"publishedAt"`
}

// ResultFilter narrows ListResults.
type ResultFilter struct {
	PatientID string
	Status    string
}

func (f ResultFilter) query() url.Values {
	q := url.Values{}
	if f.PatientID != "" {
		q.Set("patientId", f.PatientID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	return q
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (*session.User, error) {
	var user session.User
	if err := c.get(ctx, "/api/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListResults returns lab results visible to the current user
func (c *Client) ListResults(ctx context.Context, filter ResultFilter) ([]LabResult, error) {
	var results []LabResult
	if err := c.get(ctx, "/api/results", filter.query(), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// GetResult returns a single lab result by ID
func (c *Client) GetResult(ctx context.Context, id string) (*LabResult, error) {
	var result LabResult
	if err := c.get(ctx, "/api/results/"+url.PathEscape(id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPatients returns patients, optionally filtered by a name search
func (c *Client) ListPatients(ctx context.Context, search string) ([]Patient, error) {
	q := url.Values{}
	if search != "" {
		q.Set("q", search)
	}
	var patients []Patient
	if err := c.get(ctx, "/api/patients", q, &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// ListLaboratories returns all laboratories
func (c *Client) ListLaboratories(ctx context.Context) ([]Laboratory, error) {
	var labs []Laboratory
	if err := c.get(ctx, "/api/laboratories", nil, &labs); err != nil {
		return nil, err
	}
	return labs, nil
}

// ListNews returns published news, newest first
func (c *Client) ListNews(ctx context.Context) ([]NewsItem, error) {
	var news []NewsItem
	if err := c.get(ctx, "/api/news", nil, &news); err != nil {
		return nil, err
	}
	return news, nil
}

// Package fixtures loads development data into the portal database.
package fixtures

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/labportal/labportal/internal/auth"
	"github.com/labportal/labportal/internal/models"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the fixture file layout
type Seed struct {
	Users        []User       `yaml:"users"`
	Laboratories []Laboratory `yaml:"laboratories"`
	Patients     []Patient    `yaml:"patients"`
	Results      []Result     `yaml:"results"`
	News         []News       `yaml:"news"`
}

type User struct {
	Username        string   `yaml:"username"`
	Email           string   `yaml:"email"`
	Password        string   `yaml:"password"`
	FirstName       string   `yaml:"first_name"`
	LastName        string   `yaml:"last_name"`
	Role            string   `yaml:"role"`
	Permissions     []string `yaml:"permissions"`
	TOTPSecret      string   `yaml:"totp_secret"`
	PasswordAgeDays int      `yaml:"password_age_days"`
}

type Laboratory struct {
	Key     string `yaml:"key"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Phone   string `yaml:"phone"`
}

type Patient struct {
	Key         string `yaml:"key"`
	User        string `yaml:"user"` // username of the owning account
	FirstName   string `yaml:"first_name"`
	LastName    string `yaml:"last_name"`
	DateOfBirth string `yaml:"date_of_birth"`
	MRN         string `yaml:"mrn"`
}

type Result struct {
	Patient          string `yaml:"patient"`
	Laboratory       string `yaml:"laboratory"`
	Test             string `yaml:"test"`
	Value            string `yaml:"value"`
	Unit             string `yaml:"unit"`
	ReferenceRange   string `yaml:"reference_range"`
	Flag             string `yaml:"flag"`
	Status           string `yaml:"status"`
	CollectedDaysAgo int    `yaml:"collected_days_ago"`
	ReportedDaysAgo  *int   `yaml:"reported_days_ago"`
}

type News struct {
	Title            string `yaml:"title"`
	Summary          string `yaml:"summary"`
	PublishedDaysAgo int    `yaml:"published_days_ago"`
}

// Parse decodes a fixture file
func Parse(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return &seed, nil
}

// Default returns the built-in fixtures
func Default() (*Seed, error) {
	return Parse(defaultSeed)
}

// LoadFile reads fixtures from path, or the built-in set when path is empty
func LoadFile(path string) (*Seed, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return Parse(data)
}

const day = 24 * time.Hour

// Apply inserts the seed in one transaction. It does nothing when the
// database already has users. Relative dates are resolved against now.
func Apply(db *gorm.DB, seed *Seed, now time.Time, log zerolog.Logger) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		log.Debug().Int64("users", count).Msg("Database already seeded")
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		users := make(map[string]string, len(seed.Users))
		for _, u := range seed.Users {
			hash, err := auth.HashPassword(u.Password)
			if err != nil {
				return err
			}
			role := u.Role
			if role == "" {
				role = models.RolePatient
			}
			user := &models.User{
				Username:          u.Username,
				Email:             u.Email,
				PasswordHash:      hash,
				FirstName:         u.FirstName,
				LastName:          u.LastName,
				Role:              role,
				Permissions:       u.Permissions,
				TOTPSecret:        u.TOTPSecret,
				PasswordChangedAt: now.Add(-time.Duration(u.PasswordAgeDays) * day),
			}
			if err := tx.Create(user).Error; err != nil {
				return fmt.Errorf("failed to create user %s: %w", u.Username, err)
			}
			users[u.Username] = user.ID
		}

		labs := make(map[string]string, len(seed.Laboratories))
		for _, l := range seed.Laboratories {
			lab := &models.Laboratory{Name: l.Name, Address: l.Address, Phone: l.Phone}
			if err := tx.Create(lab).Error; err != nil {
				return fmt.Errorf("failed to create laboratory %s: %w", l.Key, err)
			}
			labs[l.Key] = lab.ID
		}

		patients := make(map[string]string, len(seed.Patients))
		for _, p := range seed.Patients {
			patient := &models.Patient{
				FirstName:           p.FirstName,
				LastName:            p.LastName,
				DateOfBirth:         p.DateOfBirth,
				MedicalRecordNumber: p.MRN,
			}
			if p.User != "" {
				id, ok := users[p.User]
				if !ok {
					return fmt.Errorf("patient %s references unknown user %s", p.Key, p.User)
				}
				patient.UserID = &id
			}
			if err := tx.Create(patient).Error; err != nil {
				return fmt.Errorf("failed to create patient %s: %w", p.Key, err)
			}
			patients[p.Key] = patient.ID
		}

		for _, r := range seed.Results {
			patientID, ok := patients[r.Patient]
			if !ok {
				return fmt.Errorf("result %s references unknown patient %s", r.Test, r.Patient)
			}
			labID, ok := labs[r.Laboratory]
			if !ok {
				return fmt.Errorf("result %s references unknown laboratory %s", r.Test, r.Laboratory)
			}
			status := r.Status
			if status == "" {
				status = models.ResultPending
			}
			result := &models.LabResult{
				PatientID:      patientID,
				LaboratoryID:   labID,
				TestName:       r.Test,
				Value:          r.Value,
				Unit:           r.Unit,
				ReferenceRange: r.ReferenceRange,
				Flag:           r.Flag,
				Status:         status,
				CollectedAt:    now.Add(-time.Duration(r.CollectedDaysAgo) * day),
			}
			if r.ReportedDaysAgo != nil {
				reported := now.Add(-time.Duration(*r.ReportedDaysAgo) * day)
				result.ReportedAt = &reported
			}
			if err := tx.Create(result).Error; err != nil {
				return fmt.Errorf("failed to create result %s: %w", r.Test, err)
			}
		}

		for _, n := range seed.News {
			item := &models.NewsItem{
				Title:       n.Title,
				Summary:     n.Summary,
				PublishedAt: now.Add(-time.Duration(n.PublishedDaysAgo) * day),
			}
			if err := tx.Create(item).Error; err != nil {
				return fmt.Errorf("failed to create news %q: %w", n.Title, err)
			}
		}

		log.Info().
			Int("users", len(seed.Users)).
			Int("patients", len(seed.Patients)).
			Int("results", len(seed.Results)).
			Msg("Database seeded")
		return nil
	})
}

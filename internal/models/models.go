package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Roles
const (
	RolePatient   = "patient"
	RolePhysician = "physician"
	RoleAdmin     = "admin"
)

// User represents a portal account
type User struct {
	BaseModel
	Username          string    `json:"username" gorm:"unique;not null"`
	Email             string    `json:"email" gorm:"unique;not null"`
	PasswordHash      string    `json:"-" gorm:"not null"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Role              string    `json:"role" gorm:"not null;default:patient"`
	Permissions       []string  `json:"permissions" gorm:"serializer:json"`
	TOTPSecret        string    `json:"-"` // empty = no second factor
	PasswordChangedAt time.Time `json:"password_changed_at"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// FullName joins first and last name
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// RequiresSecondFactor reports whether login needs a TOTP code
func (u *User) RequiresSecondFactor() bool {
	return u.TOTPSecret != ""
}

// RefreshToken records an issued refresh token. Tokens are single use: a
// used or revoked token has RevokedAt set.
type RefreshToken struct {
	BaseModel
	TokenID   string     `json:"token_id" gorm:"unique;not null"` // jti of the JWT
	UserID    string     `json:"user_id" gorm:"not null;index"`
	DeviceID  string     `json:"device_id"`
	ExpiresAt time.Time  `json:"expires_at" gorm:"not null"`
	RevokedAt *time.Time `json:"revoked_at"`

	User *User `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Active reports whether the token can still be exchanged at now
func (r *RefreshToken) Active(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// Laboratory represents a laboratory that reports results
type Laboratory struct {
	BaseModel
	Name    string `json:"name" gorm:"unique;not null"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// Patient represents a patient. A patient account sees only the records
// linked to it through UserID.
type Patient struct {
	BaseModel
	UserID              *string `json:"user_id" gorm:"index"`
	FirstName           string  `json:"first_name" gorm:"not null"`
	LastName            string  `json:"last_name" gorm:"not null"`
	DateOfBirth         string  `json:"date_of_birth"` // YYYY-MM-DD
	MedicalRecordNumber string  `json:"medical_record_number" gorm:"unique;not null"`
}

// Result statuses
const (
	ResultPending = "pending"
	ResultFinal   = "final"
)

// LabResult represents a single test result
type LabResult struct {
	BaseModel
	PatientID      string     `json:"patient_id" gorm:"not null;index"`
	LaboratoryID   string     `json:"laboratory_id" gorm:"not null"`
	TestName       string     `json:"test_name" gorm:"not null"`
	Value          string     `json:"value"`
	Unit           string     `json:"unit"`
	ReferenceRange string     `json:"reference_range"`
	Flag           string     `json:"flag"`
	Status         string     `json:"status" gorm:"not null;default:pending"`
	CollectedAt    time.Time  `json:"collected_at" gorm:"not null"`
	ReportedAt     *time.Time `json:"reported_at"`

	// Relationships
	Patient    Patient    `json:"patient,omitzero" gorm:"foreignKey:PatientID;constraint:OnDelete:CASCADE"`
	Laboratory Laboratory `json:"laboratory,omitzero" gorm:"foreignKey:LaboratoryID"`
}

// NewsItem represents a public portal announcement
type NewsItem struct {
	BaseModel
	Title       string    `json:"title" gorm:"not null"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at" gorm:"not null;index"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	// Collect all models
	models := []interface{}{
		&User{}, &RefreshToken{}, &Laboratory{}, &Patient{}, &LabResult{}, &NewsItem{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

// FindByIDWithPreload finds a record by ID with preloading
func FindByIDWithPreload[T any](db *gorm.DB, id string, model *T, preloads ...string) error {
	query := db
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	return query.Where("id = ?", id).First(model).Error
}

package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/labportal/labportal/internal/auth"
	"github.com/labportal/labportal/internal/models"
)

// LabResultDetail is a result as shown in the portal
type LabResultDetail struct {
	ID             string     `json:"id"`
	PatientID      string     `json:"patientId"`
	PatientName    string     `json:"patientName"`
	LaboratoryID   string     `json:"laboratoryId"`
	LaboratoryName string     `json:"laboratoryName"`
	TestName       string     `json:"testName"`
	Value          string     `json:"value"`
	Unit           string     `json:"unit"`
	ReferenceRange string     `json:"referenceRange"`
	Flag           string     `json:"flag,omitempty"`
	Status         string     `json:"status"`
	CollectedAt    time.Time  `json:"collectedAt"`
	ReportedAt     *time.Time `json:"reportedAt,omitempty"`
}

// PatientDetail is a patient as shown in the portal
type PatientDetail struct {
	ID                  string `json:"id"`
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	DateOfBirth         string `json:"dateOfBirth"`
	MedicalRecordNumber string `json:"medicalRecordNumber"`
}

// LaboratoryDetail is a laboratory as shown in the portal
type LaboratoryDetail struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// NewsDetail is a news entry as shown in the portal
type NewsDetail struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"publishedAt"`
}

func toLabResultDetail(r *models.LabResult) LabResultDetail {
	return LabResultDetail{
		ID:             r.ID,
		PatientID:      r.PatientID,
		PatientName:    strings.TrimSpace(r.Patient.FirstName + " " + r.Patient.LastName),
		LaboratoryID:   r.LaboratoryID,
		LaboratoryName: r.Laboratory.Name,
		TestName:       r.TestName,
		Value:          r.Value,
		Unit:           r.Unit,
		ReferenceRange: r.ReferenceRange,
		Flag:           r.Flag,
		Status:         r.Status,
		CollectedAt:    r.CollectedAt,
		ReportedAt:     r.ReportedAt,
	}
}

// visibleResults scopes a results query to what the session may see.
// Patients only see results for records linked to their account.
func (s *Server) visibleResults(sessionData *auth.SessionData) *gorm.DB {
	query := s.db.Model(&models.LabResult{}).Preload("Patient").Preload("Laboratory")
	if sessionData.Role == models.RolePatient {
		query = query.Where("patient_id IN (?)",
			s.db.Model(&models.Patient{}).Select("id").Where("user_id = ?", sessionData.UserID))
	}
	return query
}

// @Summary List lab results
// @Tags results
// @Produce json
// @Security BearerAuth
// @Param patientId query string false "Patient ID"
// @Param status query string false "pending or final"
// @Success 200 {array} LabResultDetail
// @Router /api/results [get]
func (s *Server) listResults(c *gin.Context) {
	sessionData, _ := GetSessionData(c)

	query := s.visibleResults(sessionData)
	if patientID := c.Query("patientId"); patientID != "" {
		query = query.Where("patient_id = ?", patientID)
	}
	if status := c.Query("status"); status != "" {
		if status != models.ResultPending && status != models.ResultFinal {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Status must be pending or final"})
			return
		}
		query = query.Where("status = ?", status)
	}

	var results []models.LabResult
	if err := query.Order("collected_at DESC").Find(&results).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list results")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	details := make([]LabResultDetail, len(results))
	for i := range results {
		details[i] = toLabResultDetail(&results[i])
	}
	c.JSON(http.StatusOK, details)
}

// @Summary Get lab result
// @Tags results
// @Produce json
// @Security BearerAuth
// @Param id path string true "Result ID"
// @Success 200 {object} LabResultDetail
// @Failure 404 {object} map[string]interface{}
// @Router /api/results/{id} [get]
func (s *Server) getResult(c *gin.Context) {
	sessionData, _ := GetSessionData(c)

	var result models.LabResult
	if err := s.visibleResults(sessionData).Where("lab_results.id = ?", c.Param("id")).First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get result")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, toLabResultDetail(&result))
}

// @Summary List patients
// @Tags patients
// @Produce json
// @Security BearerAuth
// @Param q query string false "Name or record number search"
// @Success 200 {array} PatientDetail
// @Router /api/patients [get]
func (s *Server) listPatients(c *gin.Context) {
	query := s.db.Model(&models.Patient{})
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(medical_record_number) LIKE ?", like, like, like)
	}

	var patients []models.Patient
	if err := query.Order("last_name, first_name").Find(&patients).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list patients")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	details := make([]PatientDetail, len(patients))
	for i, p := range patients {
		details[i] = PatientDetail{
			ID:                  p.ID,
			FirstName:           p.FirstName,
			LastName:            p.LastName,
			DateOfBirth:         p.DateOfBirth,
			MedicalRecordNumber: p.MedicalRecordNumber,
		}
	}
	c.JSON(http.StatusOK, details)
}

// @Summary List laboratories
// @Tags laboratories
// @Produce json
// @Security BearerAuth
// @Success 200 {array} LaboratoryDetail
// @Router /api/laboratories [get]
func (s *Server) listLaboratories(c *gin.Context) {
	var labs []models.Laboratory
	if err := s.db.Order("name").Find(&labs).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list laboratories")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	details := make([]LaboratoryDetail, len(labs))
	for i, l := range labs {
		details[i] = LaboratoryDetail{ID: l.ID, Name: l.Name, Address: l.Address, Phone: l.Phone}
	}
	c.JSON(http.StatusOK, details)
}

// @Summary List news
// @Tags news
// @Produce json
// @Success 200 {array} NewsDetail
// @Router /api/news [get]
func (s *Server) listNews(c *gin.Context) {
	var news []models.NewsItem
	if err := s.db.Where("published_at <= ?", s.now()).Order("published_at DESC").Find(&news).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list news")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	details := make([]NewsDetail, len(news))
	for i, n := range news {
		details[i] = NewsDetail{ID: n.ID, Title: n.Title, Summary: n.Summary, PublishedAt: n.PublishedAt}
	}
	c.JSON(http.StatusOK, details)
}

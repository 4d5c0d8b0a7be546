package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/labportal/labportal/internal/auth"
	"github.com/labportal/labportal/internal/models"
)

// DeviceInfo describes the client device sent on login
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	Platform   string `json:"platform"`
	Model      string `json:"model"`
	AppVersion string `json:"appVersion"`
}

// AuthorizeRequest represents a login request
type AuthorizeRequest struct {
	Username   string     `json:"username" binding:"required"`
	Password   string     `json:"password" binding:"required"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

// AuthorizeResponse carries either a session or a temp token
type AuthorizeResponse struct {
	Token                string      `json:"token,omitempty"`
	TempToken            string      `json:"tempToken,omitempty"`
	RefreshToken         string      `json:"refreshToken,omitempty"`
	RequiresSecondFactor bool        `json:"requiresSecondFactor"`
	PasswordExpired      bool        `json:"passwordExpired"`
	Fullname             string      `json:"fullname,omitempty"`
	Email                string      `json:"email,omitempty"`
	User                 *UserDetail `json:"user,omitempty"`
}

// VerifyTwoFactorRequest represents the second login step
type VerifyTwoFactorRequest struct {
	Username  string `json:"username" binding:"required"`
	TempToken string `json:"tempToken" binding:"required"`
	Code      string `json:"code" binding:"required" validate:"required,otpcode"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshResponse represents a rotated credential pair
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required" validate:"required,min=8,max=128,nefield=OldPassword"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func toUserDetail(u *models.User) *UserDetail {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return &UserDetail{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		Permissions: perms,
	}
}

// @Summary Login
// @Description Authenticate with username and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body AuthorizeRequest true "Login request"
// @Success 200 {object} AuthorizeResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{}
// @Router /authorize [post]
func (s *Server) authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if !s.limiter.Allow(c.ClientIP()+"|"+req.Username, s.now()) {
		s.logger.Warn().Str("username", req.Username).Msg("Login rate limit exceeded")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts"})
		return
	}

	// Find user by username
	var user models.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Verify password
	if err := auth.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	if user.RequiresSecondFactor() {
		temp, err := s.tokens.TempToken(user.ID, user.Username)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to generate temp token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		s.logger.Info().Str("user_id", user.ID).Msg("Second factor required")
		c.JSON(http.StatusOK, AuthorizeResponse{
			TempToken:            temp.Token,
			RequiresSecondFactor: true,
		})
		return
	}

	resp, err := s.startSession(&user, req.DeviceInfo.DeviceID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("device_id", req.DeviceInfo.DeviceID).
		Bool("password_expired", resp.PasswordExpired).
		Msg("User logged in")
	c.JSON(http.StatusOK, resp)
}

// @Summary Verify second factor
// @Tags auth
// @Accept json
// @Produce json
// @Param request body VerifyTwoFactorRequest true "Verification request"
// @Success 200 {object} AuthorizeResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /verify2FA [post]
func (s *Server) verifyTwoFactor(c *gin.Context) {
	var req VerifyTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Verification code must be six digits", "details": err.Error()})
		return
	}

	claims, err := s.tokens.Validate(req.TempToken, auth.PurposeTemp)
	if err != nil || claims.Username != req.Username {
		s.logger.Debug().Err(err).Str("username", req.Username).Msg("Rejected temp token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Verification session expired"})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, claims.UserID, &user); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Verification session expired"})
		return
	}

	if !auth.ValidateTOTP(req.Code, user.TOTPSecret, s.now()) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid verification code"})
		return
	}

	resp, err := s.startSession(&user, "")
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User logged in with second factor")
	c.JSON(http.StatusOK, resp)
}

// @Summary Refresh tokens
// @Description Exchange a refresh token for a new pair. Refresh tokens are single use.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Success 200 {object} RefreshResponse
// @Failure 401 {object} map[string]interface{}
// @Router /refresh [post]
func (s *Server) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	claims, err := s.tokens.Validate(req.RefreshToken, auth.PurposeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	var stored models.RefreshToken
	if err := s.db.Where("token_id = ?", claims.ID).First(&stored).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	now := s.now()
	if stored.RevokedAt != nil {
		// A used token came back: assume it leaked and end every session
		s.revokeAll(stored.UserID)
		s.logger.Warn().Str("user_id", stored.UserID).Msg("Refresh token reuse detected, all sessions revoked")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Refresh token revoked"})
		return
	}
	if !stored.Active(now) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Refresh token expired"})
		return
	}

	// Revoke conditionally so two concurrent exchanges cannot both win
	res := s.db.Model(&models.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", stored.ID).
		Update("revoked_at", now)
	if res.Error != nil {
		s.logger.Error().Err(res.Error).Msg("Failed to revoke refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Refresh token revoked"})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, stored.UserID, &user); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	access, refresh, err := s.issuePair(&user, stored.DeviceID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to rotate tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.logger.Debug().Str("user_id", user.ID).Msg("Tokens rotated")
	c.JSON(http.StatusOK, RefreshResponse{AccessToken: access, RefreshToken: refresh})
}

// @Summary Logout
// @Description Revokes the caller's refresh tokens. Always succeeds.
// @Tags auth
// @Produce json
// @Router /logout [post]
func (s *Server) logout(c *gin.Context) {
	if token, err := extractBearerToken(c.GetHeader("Authorization")); err == nil {
		if claims, err := s.tokens.Validate(token, auth.PurposeAccess); err == nil {
			s.revokeAll(claims.UserID)
			s.logger.Info().Str("user_id", claims.UserID).Msg("User logged out")
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Change password
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Change password request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /changePassword [post]
func (s *Server) changePassword(c *gin.Context) {
	sessionData, exists := GetSessionData(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "New password must be 8 to 128 characters and differ from the old one", "details": err.Error()})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, sessionData.UserID, &user); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	if err := auth.VerifyPassword(req.OldPassword, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Old password does not match"})
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change password"})
		return
	}

	if err := s.db.Model(&user).Updates(map[string]any{
		"password_hash":       hash,
		"password_changed_at": s.now(),
	}).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to update password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change password"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("Password changed")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Get current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UserDetail
// @Router /api/me [get]
func (s *Server) getCurrentUser(c *gin.Context) {
	sessionData, exists := GetSessionData(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, sessionData.UserID, &user); err != nil {
		s.logger.Error().Err(err).Str("user_id", sessionData.UserID).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, toUserDetail(&user))
}

// startSession issues a full credential pair and the login response body
func (s *Server) startSession(user *models.User, deviceID string) (*AuthorizeResponse, error) {
	access, refresh, err := s.issuePair(user, deviceID)
	if err != nil {
		return nil, err
	}
	return &AuthorizeResponse{
		Token:           access,
		RefreshToken:    refresh,
		PasswordExpired: s.passwordExpired(user),
		Fullname:        user.FullName(),
		Email:           user.Email,
		User:            toUserDetail(user),
	}, nil
}

func (s *Server) issuePair(user *models.User, deviceID string) (access, refresh string, err error) {
	a, err := s.tokens.AccessToken(user.ID, user.Username)
	if err != nil {
		return "", "", err
	}
	r, err := s.tokens.RefreshToken(user.ID, user.Username)
	if err != nil {
		return "", "", err
	}

	record := &models.RefreshToken{
		TokenID:   r.ID,
		UserID:    user.ID,
		DeviceID:  deviceID,
		ExpiresAt: r.ExpiresAt,
	}
	if err := s.db.Create(record).Error; err != nil {
		return "", "", err
	}
	return a.Token, r.Token, nil
}

func (s *Server) passwordExpired(user *models.User) bool {
	maxAge := s.config.PasswordMaxAge
	return maxAge > 0 && s.now().Sub(user.PasswordChangedAt) > maxAge
}

func (s *Server) revokeAll(userID string) {
	if err := s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now()).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to revoke refresh tokens")
	}
}

package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/labportal/labportal/internal/auth"
	"github.com/labportal/labportal/internal/models"
)

const (
	bearerPrefix = "Bearer "

	// Five quick attempts, then one every 12 seconds
	loginBurst  = 5
	loginRefill = 12 * time.Second
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrUserNotFound      = errors.New("user not found")
)

func setSession(c *gin.Context, sessionData *auth.SessionData) {
	c.Set("session", sessionData)
}

func GetSessionData(c *gin.Context) (*auth.SessionData, bool) {
	session, exists := c.Get("session")
	if !exists {
		return nil, false
	}

	sessionData, ok := session.(*auth.SessionData)
	return sessionData, ok
}

func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// JWTAuthMiddleware validates access tokens
func JWTAuthMiddleware(db *gorm.DB, tokens *auth.Issuer, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			var message string
			switch err {
			case ErrMissingAuthHeader:
				message = "Missing authorization header"
			case ErrInvalidAuthFormat:
				message = "Invalid authorization header format"
			case ErrEmptyToken:
				message = "Empty token"
			}
			respondWithError(c, log, http.StatusUnauthorized, err, message)
			return
		}

		claims, err := tokens.Validate(token, auth.PurposeAccess)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to validate access token")
			respondWithError(c, log, http.StatusUnauthorized, ErrInvalidToken, "Invalid or expired token")
			return
		}

		// Verify user exists in database
		var user models.User
		if err := models.FindByID(db, claims.UserID, &user); err != nil {
			log.Error().Err(err).Str("user_id", claims.UserID).Msg("User not found")
			respondWithError(c, log, http.StatusUnauthorized, ErrUserNotFound, "User not found")
			return
		}

		setSession(c, &auth.SessionData{
			UserID:      user.ID,
			Username:    user.Username,
			Role:        user.Role,
			Permissions: user.Permissions,
			TokenID:     claims.ID,
		})

		c.Next()
	}
}

// RequirePermission ensures the authenticated user holds perm
func RequirePermission(perm string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData, exists := GetSessionData(c)
		if !exists {
			respondWithError(c, log, http.StatusUnauthorized, errors.New("no session"), "Unauthorized")
			return
		}

		if !sessionData.Can(perm) {
			respondWithError(c, log, http.StatusForbidden, errors.New("missing "+perm), "Permission denied")
			return
		}

		c.Next()
	}
}

// loginLimiter throttles password attempts per username and client
type loginLimiter struct {
	mu       sync.Mutex
	burst    int
	every    time.Duration
	limiters map[string]*rate.Limiter
}

func newLoginLimiter(burst int, every time.Duration) *loginLimiter {
	return &loginLimiter{
		burst:    burst,
		every:    every,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *loginLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

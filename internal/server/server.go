// Package server
//
// @title LabPortal development API
// @version 1.0
// @description Local Authentication Service and portal API
// @host localhost:8080
// @BasePath /
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/labportal/labportal/internal/auth"
	"github.com/labportal/labportal/internal/config"
	"github.com/labportal/labportal/internal/models"
	"github.com/labportal/labportal/internal/workers"
)

// Server represents the HTTP server
type Server struct {
	router    *gin.Engine
	db        *gorm.DB
	config    *config.DevServerConfig
	logger    zerolog.Logger
	validator *validator.Validate
	tokens    *auth.Issuer
	cleaner   *workers.TokenCleaner
	limiter   *loginLimiter
	now       func() time.Time
	version   string
}

// New creates a new server instance on an open database
func New(cfg *config.DevServerConfig, db *gorm.DB, zlog zerolog.Logger, version string) (*Server, error) {
	// Run database migrations
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	// Initialize validator
	validate := validator.New()

	// Register custom validators
	validate.RegisterValidation("otpcode", func(fl validator.FieldLevel) bool {
		// Exactly six ASCII digits
		value := fl.Field().String()
		if len(value) != 6 {
			return false
		}
		for _, char := range value {
			if char < '0' || char > '9' {
				return false
			}
		}
		return true
	})

	server := &Server{
		db:        db,
		config:    cfg,
		logger:    zlog,
		validator: validate,
		tokens: auth.NewIssuer(cfg.JWTSecret, auth.TokenTTLs{
			Access:  cfg.AccessTokenTTL,
			Refresh: cfg.RefreshTokenTTL,
			Temp:    cfg.TempTokenTTL,
		}),
		limiter: newLoginLimiter(loginBurst, loginRefill),
		now:     time.Now,
		version: version,
	}

	if cfg.TokenCleanupSchedule != "" {
		cleaner, err := workers.NewTokenCleaner(db, cfg.TokenCleanupSchedule, zlog)
		if err != nil {
			return nil, err
		}
		server.cleaner = cleaner
	}

	// Setup router
	server.setupRouter()

	return server, nil
}

// OpenDatabase opens the SQLite database with production settings
func OpenDatabase(url string, zlog zerolog.Logger) (*gorm.DB, error) {
	const (
		maxOpenConns    = 8   // Reduced for SQLite efficiency
		maxIdleConns    = 4   // Reduced proportionally
		connMaxLifetime = 300 // 5 minutes
		busyTimeout     = 5000
		cacheSize       = 10000
	)

	// Open database connection
	db, err := gorm.Open(sqlite.Open(url), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Get underlying sql.DB to configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(connMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode must be set first for optimal concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		fmt.Sprintf("PRAGMA cache_size=-%d", cacheSize),
		"PRAGMA foreign_keys=1",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	return db, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	// Add middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	// CORS middleware
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint (no auth required)
	s.router.GET("/health", s.healthCheck)

	// Authentication Service (no auth required)
	s.router.POST("/authorize", s.authorize)
	s.router.POST("/verify2FA", s.verifyTwoFactor)
	s.router.POST("/refresh", s.refresh)
	s.router.POST("/logout", s.logout)

	s.router.POST("/changePassword", JWTAuthMiddleware(s.db, s.tokens, s.logger), s.changePassword)

	// Public portal content
	s.router.GET("/api/news", s.listNews)

	// Authenticated API routes (JWT required)
	api := s.router.Group("/api")
	api.Use(JWTAuthMiddleware(s.db, s.tokens, s.logger))
	{
		api.GET("/me", s.getCurrentUser)

		api.GET("/results", RequirePermission("results:read", s.logger), s.listResults)
		api.GET("/results/:id", RequirePermission("results:read", s.logger), s.getResult)
		api.GET("/patients", RequirePermission("patients:read", s.logger), s.listPatients)
		api.GET("/laboratories", RequirePermission("labs:read", s.logger), s.listLaboratories)
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetHeader("X-Request-ID")).
			Msg("HTTP request")
	}
}

// @Router /health [get]
// @Success 200 {object} map[string]interface{}
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": s.now().UTC(),
		"service":   "labportal-devserver",
		"version":   s.version,
	})
}

// setClock replaces the time source of the server and its token issuer
func (s *Server) setClock(now func() time.Time) {
	s.now = now
	s.tokens.SetClock(now)
}

// Handler returns the router for use in tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetDB returns the database connection
func (s *Server) GetDB() *gorm.DB {
	return s.db
}

// Start starts the HTTP server and blocks until SIGINT or SIGTERM
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if s.cleaner != nil {
		s.cleaner.Start()
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-sigChan:
	}
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	if s.cleaner != nil {
		s.cleaner.Stop()
	}

	// Close database connection to flush WAL writes
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing database")
		}
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}

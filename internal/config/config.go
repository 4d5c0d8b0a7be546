package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/labportal/labportal/internal/session"
)

// ClientConfig holds all configuration for the portal CLI
type ClientConfig struct {
	// APIURL overrides the server selected in portal.json
	APIURL string

	Session SessionConfig

	// IdleTimeout is the inactivity window of the interactive shell
	IdleTimeout time.Duration

	// HTTPTimeout bounds every API call
	HTTPTimeout time.Duration

	Logging LoggingConfig
}

// SessionConfig selects where the durable session is kept
type SessionConfig struct {
	Backend      string // file, keyring, bolt, redis, memory
	Path         string
	RedisAddress string
	RedisTTL     time.Duration
}

// DevServerConfig holds all configuration for the development server
type DevServerConfig struct {
	Port int

	// Database Configuration
	Database DatabaseConfig

	JWTSecret string

	// SeedFile replaces the built-in fixtures when set
	SeedFile string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	TempTokenTTL    time.Duration
	PasswordMaxAge  time.Duration

	// TokenCleanupSchedule is a cron spec for purging expired refresh tokens
	TokenCleanupSchedule string

	CORSOrigins []string

	Logging LoggingConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// loadDotenv loads .env files (fails silently if files don't exist)
func loadDotenv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// LoadClient loads the CLI configuration from environment variables
func LoadClient() (*ClientConfig, error) {
	loadDotenv()

	idle, err := durationEnv("LABPORTAL_IDLE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	httpTimeout, err := durationEnv("LABPORTAL_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	redisTTL, err := durationEnv("LABPORTAL_REDIS_TTL", 0)
	if err != nil {
		return nil, err
	}

	backend := stringEnv("LABPORTAL_SESSION_BACKEND", session.BackendFile)
	path := os.Getenv("LABPORTAL_SESSION_PATH")
	if path == "" {
		path, err = defaultSessionPath(backend)
		if err != nil {
			return nil, err
		}
	}

	return &ClientConfig{
		APIURL: strings.TrimSuffix(os.Getenv("LABPORTAL_API_URL"), "/"),
		Session: SessionConfig{
			Backend:      backend,
			Path:         path,
			RedisAddress: stringEnv("LABPORTAL_REDIS_ADDRESS", "localhost:6379"),
			RedisTTL:     redisTTL,
		},
		IdleTimeout: idle,
		HTTPTimeout: httpTimeout,
		Logging: LoggingConfig{
			// The CLI stays quiet unless asked
			Level:  stringEnv("LOG_LEVEL", "warn"),
			Format: stringEnv("LOG_FORMAT", "console"),
		},
	}, nil
}

// Repository returns the session repository settings for one server.
func (c *ClientConfig) Repository(namespace string) session.RepositoryConfig {
	return session.RepositoryConfig{
		Backend:      c.Session.Backend,
		Path:         c.Session.Path,
		RedisAddress: c.Session.RedisAddress,
		RedisTTL:     c.Session.RedisTTL,
		Namespace:    namespace,
	}
}

func defaultSessionPath(backend string) (string, error) {
	switch backend {
	case session.BackendFile, "":
		return session.DefaultFilePath()
	case session.BackendBolt:
		path, err := session.DefaultFilePath()
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(path, ".json") + ".db", nil
	}
	return "", nil
}

// LoadDevServer loads the development server configuration from
// environment variables
func LoadDevServer() (*DevServerConfig, error) {
	loadDotenv()

	port, err := intEnv("DEVSERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	accessTTL, err := durationEnv("ACCESS_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := durationEnv("REFRESH_TOKEN_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	tempTTL, err := durationEnv("TEMP_TOKEN_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	maxAge, err := durationEnv("PASSWORD_MAX_AGE", 90*24*time.Hour)
	if err != nil {
		return nil, err
	}

	var origins []string
	for _, o := range strings.Split(stringEnv("CORS_ORIGINS", "http://localhost:3000"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &DevServerConfig{
		Port: port,
		Database: DatabaseConfig{
			URL: stringEnv("DATABASE_URL", "labportal-dev.sqlite"),
		},
		JWTSecret:            os.Getenv("JWT_SECRET"),
		SeedFile:             os.Getenv("DEVSERVER_SEED_FILE"),
		AccessTokenTTL:       accessTTL,
		RefreshTokenTTL:      refreshTTL,
		TempTokenTTL:         tempTTL,
		PasswordMaxAge:       maxAge,
		TokenCleanupSchedule: stringEnv("TOKEN_CLEANUP_SCHEDULE", "@hourly"),
		CORSOrigins:          origins,
		Logging: LoggingConfig{
			Level:  stringEnv("LOG_LEVEL", "info"),
			Format: stringEnv("LOG_FORMAT", "console"),
		},
	}, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

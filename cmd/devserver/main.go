package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/labportal/labportal/internal/config"
	"github.com/labportal/labportal/internal/fixtures"
	"github.com/labportal/labportal/internal/logger"
	"github.com/labportal/labportal/internal/server"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.LoadDevServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	if cfg.JWTSecret == "" {
		// Tokens will not survive a restart
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatal().Err(err).Msg("Failed to generate JWT secret")
		}
		cfg.JWTSecret = hex.EncodeToString(secret)
		log.Warn().Msg("JWT_SECRET not set, using a random secret")
	}

	db, err := server.OpenDatabase(cfg.Database.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	// Create server (runs migrations)
	srv, err := server.New(cfg, db, log, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	seed, err := fixtures.LoadFile(cfg.SeedFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load fixtures")
	}
	if err := fixtures.Apply(db, seed, time.Now(), log); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed database")
	}

	log.Info().Str("version", version).Int("port", cfg.Port).Msg("Starting lab portal dev server...")

	// Start HTTP server (this blocks)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
}

package workers

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/labportal/labportal/internal/models"
)

// TokenCleaner periodically deletes refresh tokens past their expiry.
// Revoked tokens are kept until they expire so reuse can still be
// detected.
type TokenCleaner struct {
	db       *gorm.DB
	expr     string
	schedule cron.Schedule
	now      func() time.Time
	logger   zerolog.Logger
	cron     *cron.Cron
}

// NewTokenCleaner parses expr, a standard five-field cron expression or a
// descriptor such as @hourly.
func NewTokenCleaner(db *gorm.DB, expr string, logger zerolog.Logger) (*TokenCleaner, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid token cleanup schedule %q: %w", expr, err)
	}

	return &TokenCleaner{
		db:       db,
		expr:     expr,
		schedule: schedule,
		now:      time.Now,
		logger:   logger.With().Str("worker", "token_cleanup").Logger(),
	}, nil
}

// NextRun returns when the cleaner fires next after from.
func (c *TokenCleaner) NextRun(from time.Time) time.Time {
	return c.schedule.Next(from)
}

// RunOnce deletes every refresh token that expired before now and
// returns how many were removed.
func (c *TokenCleaner) RunOnce() (int64, error) {
	result := c.db.Where("expires_at < ?", c.now()).Delete(&models.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge refresh tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (c *TokenCleaner) run() {
	purged, err := c.RunOnce()
	if err != nil {
		c.logger.Error().Err(err).Msg("Token cleanup failed")
		return
	}
	if purged > 0 {
		c.logger.Info().Int64("purged", purged).Msg("Purged expired refresh tokens")
		return
	}
	c.logger.Debug().Msg("No expired refresh tokens")
}

// Start runs a cleanup immediately, then on the schedule until Stop.
func (c *TokenCleaner) Start() {
	c.run()

	c.cron = cron.New()
	c.cron.Schedule(c.schedule, cron.FuncJob(c.run))
	c.cron.Start()

	c.logger.Info().
		Str("schedule", c.expr).
		Time("next_run", c.NextRun(c.now())).
		Msg("Token cleanup scheduled")
}

// Stop halts the schedule and waits for a running cleanup to finish.
func (c *TokenCleaner) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
}

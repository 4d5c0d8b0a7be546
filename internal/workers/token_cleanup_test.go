package workers

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/labportal/labportal/internal/models"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "workers.sqlite")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestNewTokenCleaner_Schedule(t *testing.T) {
	db := setupDB(t)

	c, err := NewTokenCleaner(db, "@hourly", zerolog.Nop())
	require.NoError(t, err)
	from := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), c.NextRun(from))

	c, err = NewTokenCleaner(db, "30 2 * * *", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC), c.NextRun(from))

	_, err = NewTokenCleaner(db, "every so often", zerolog.Nop())
	assert.ErrorContains(t, err, "invalid token cleanup schedule")
}

func TestTokenCleaner_RunOncePurgesOnlyExpired(t *testing.T) {
	db := setupDB(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	user := &models.User{Username: "jane", Email: "jane@example.com", PasswordHash: "x", Role: models.RolePatient}
	require.NoError(t, db.Create(user).Error)

	revokedAt := now.Add(-time.Hour)
	tokens := []*models.RefreshToken{
		{TokenID: "expired", UserID: user.ID, ExpiresAt: now.Add(-time.Minute)},
		{TokenID: "active", UserID: user.ID, ExpiresAt: now.Add(time.Hour)},
		{TokenID: "revoked-not-expired", UserID: user.ID, ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt},
	}
	for _, tok := range tokens {
		require.NoError(t, db.Create(tok).Error)
	}

	c, err := NewTokenCleaner(db, "@hourly", zerolog.Nop())
	require.NoError(t, err)
	c.now = func() time.Time { return now }

	purged, err := c.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	var remaining []models.RefreshToken
	require.NoError(t, db.Order("token_id").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, "active", remaining[0].TokenID)
	assert.Equal(t, "revoked-not-expired", remaining[1].TokenID)

	purged, err = c.RunOnce()
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestTokenCleaner_StartStop(t *testing.T) {
	db := setupDB(t)
	c, err := NewTokenCleaner(db, "@hourly", zerolog.Nop())
	require.NoError(t, err)

	c.Start()
	c.Stop()
	c.Stop()
}

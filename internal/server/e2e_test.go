package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labportal/labportal/internal/apierr"
	"github.com/labportal/labportal/internal/auth"
	cliauth "github.com/labportal/labportal/internal/cli/auth"
	"github.com/labportal/labportal/internal/cli/client"
	"github.com/labportal/labportal/internal/models"
	"github.com/labportal/labportal/internal/session"
)

type portal struct {
	server *Server
	clock  *testClock
	store  *session.Store
	client *client.Client
	cache  *client.Cache
	orch   *cliauth.Orchestrator
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	s, clock := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	store := session.New(session.NewMemoryRepository(), zerolog.Nop())
	cache := client.NewCache(time.Minute)
	c := client.NewAuthenticated(ts.URL, store, client.WithCache(cache))
	orch := cliauth.New(c, store,
		cliauth.WithQueryCache(cache),
		cliauth.WithDevice(client.CurrentDevice("e2e-device", "test")),
	)
	return &portal{server: s, clock: clock, store: store, client: c, cache: cache, orch: orch}
}

func TestEndToEnd_PasswordLoginRefreshLogout(t *testing.T) {
	p := newPortal(t)
	ctx := context.Background()

	result, err := p.orch.Login(ctx, "jane", "patient-pass-1")
	require.NoError(t, err)
	assert.False(t, result.RequiresTwoFactor)
	assert.Equal(t, cliauth.Authenticated, p.orch.State())

	results, err := p.client.ListResults(ctx, client.ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// The access token expires; the next call refreshes transparently
	firstToken := p.store.Token()
	firstRefresh := p.store.RefreshToken()
	p.clock.Advance(16 * time.Minute)
	p.cache.Clear()

	results, err = p.client.ListResults(ctx, client.ResultFilter{Status: models.ResultFinal})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.NotEqual(t, firstToken, p.store.Token())
	assert.NotEqual(t, firstRefresh, p.store.RefreshToken())
	assert.True(t, p.store.IsAuthenticated())

	me, err := p.client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jane", me.Username)

	lastRefresh := p.store.RefreshToken()
	p.orch.Logout(ctx)
	assert.Equal(t, cliauth.Anonymous, p.orch.State())
	assert.Nil(t, p.store.Snapshot().User)
	assert.Zero(t, p.cache.Len())

	// The server revoked the session as well
	_, err = p.client.Refresh(ctx, lastRefresh)
	require.Error(t, err)
	assert.Equal(t, apierr.Auth, apierr.CategoryOf(err))
}

func TestEndToEnd_TwoFactor(t *testing.T) {
	p := newPortal(t)
	ctx := context.Background()

	result, err := p.orch.Login(ctx, "drsmith", "physician-pass-1")
	require.NoError(t, err)
	require.True(t, result.RequiresTwoFactor)
	assert.Equal(t, cliauth.AwaitingTwoFactor, p.orch.State())
	assert.Empty(t, p.store.Token())

	_, err = p.orch.VerifyTwoFactor(ctx, "000000")
	require.Error(t, err)
	assert.Equal(t, cliauth.AwaitingTwoFactor, p.orch.State())

	code, err := auth.TOTPCode(drsmithSecret, p.clock.Now())
	require.NoError(t, err)
	result, err = p.orch.VerifyTwoFactor(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "drsmith", result.User.Username)
	assert.Equal(t, cliauth.Authenticated, p.orch.State())

	patients, err := p.client.ListPatients(ctx, "")
	require.NoError(t, err)
	assert.Len(t, patients, 3)
}

func TestEndToEnd_RevokedRefreshLogsOut(t *testing.T) {
	p := newPortal(t)
	ctx := context.Background()

	_, err := p.orch.Login(ctx, "jane", "patient-pass-1")
	require.NoError(t, err)

	// Another device logs the user out everywhere
	p.server.revokeAll(p.store.Snapshot().User.ID)
	p.clock.Advance(16 * time.Minute)

	_, err = p.client.ListResults(ctx, client.ResultFilter{})
	require.Error(t, err)
	assert.Equal(t, apierr.Auth, apierr.CategoryOf(err))
	assert.False(t, p.store.IsAuthenticated())
	assert.Empty(t, p.store.RefreshToken())
}

func TestEndToEnd_ForbiddenIsNotRefreshed(t *testing.T) {
	p := newPortal(t)
	ctx := context.Background()

	_, err := p.orch.Login(ctx, "jane", "patient-pass-1")
	require.NoError(t, err)
	token := p.store.Token()

	_, err = p.client.ListPatients(ctx, "")
	require.Error(t, err)
	assert.Equal(t, apierr.Auth, apierr.CategoryOf(err))
	assert.Equal(t, token, p.store.Token())
	assert.True(t, p.store.IsAuthenticated())
}

func TestEndToEnd_ChangePassword(t *testing.T) {
	p := newPortal(t)
	ctx := context.Background()

	_, err := p.orch.Login(ctx, "oldtimer", "patient-pass-2")
	require.NoError(t, err)
	assert.True(t, p.store.Snapshot().PasswordExpired)

	err = p.orch.ChangePassword(ctx, "wrong", "brand-new-pass")
	require.Error(t, err)
	assert.Equal(t, apierr.Validation, apierr.CategoryOf(err))

	require.NoError(t, p.orch.ChangePassword(ctx, "patient-pass-2", "brand-new-pass"))
	assert.True(t, p.store.IsAuthenticated())
}

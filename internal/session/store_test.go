package session

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() *User {
	return &User{
		ID:          "1",
		Email:       "jane@example.com",
		Username:    "jane",
		FirstName:   "Jane",
		LastName:    "Doe",
		Role:        "physician",
		Permissions: []string{"results:read", "patients:read"},
	}
}

func assertInvariant(t *testing.T, st State) {
	t.Helper()
	assert.Equal(t, st.Token != "" && !st.RequiresTwoFactor, st.IsAuthenticated,
		"isAuthenticated must hold iff token is set and no 2FA is pending (state=%+v)", st)
}

func TestStore_IsAuthenticatedInvariant_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	mutations := []func(s *Store){
		func(s *Store) { s.SetUser(testUser()) },
		func(s *Store) { s.SetToken("access", "refresh") },
		func(s *Store) { s.SetToken("", "") },
		func(s *Store) { s.SetTempToken("temp", "jane") },
		func(s *Store) { s.SetRequiresTwoFactor(true) },
		func(s *Store) { s.SetRequiresTwoFactor(false) },
		func(s *Store) { s.SetPasswordExpired(rng.Intn(2) == 0) },
		func(s *Store) { s.SetPin("1234") },
		func(s *Store) { s.SetBiometricEnabled(rng.Intn(2) == 0) },
		func(s *Store) { s.UpdateLastActivity(time.Now()) },
		func(s *Store) { s.Logout() },
		func(s *Store) { s.ClearSession() },
	}

	for run := 0; run < 200; run++ {
		s := New(nil, zerolog.Nop())
		for step := 0; step < 30; step++ {
			mutations[rng.Intn(len(mutations))](s)
			assertInvariant(t, s.Snapshot())
		}
	}
}

func TestStore_SetTempToken(t *testing.T) {
	s := New(nil, zerolog.Nop())

	s.SetTempToken("temp-123", "jane")

	st := s.Snapshot()
	assert.True(t, st.RequiresTwoFactor)
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "temp-123", st.TempToken)
	assert.Equal(t, "jane", st.PendingUsername)
	assert.Empty(t, st.Token)
}

func TestStore_SetTempTokenDropsEarlierSession(t *testing.T) {
	repo := NewMemoryRepository()
	s := New(repo, zerolog.Nop())
	s.SetUser(testUser())
	s.SetToken("jane-access", "jane-refresh")

	s.SetTempToken("temp-bob", "bob")

	st := s.Snapshot()
	assert.Nil(t, st.User)
	assert.Empty(t, st.Token)
	assert.Empty(t, st.RefreshToken)
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "bob", st.PendingUsername)

	// A restart mid-2FA must not bring the earlier session back
	restored, err := Open(context.Background(), repo, zerolog.Nop())
	require.NoError(t, err)
	rs := restored.Snapshot()
	assert.Empty(t, rs.Token)
	assert.Nil(t, rs.User)
	assert.False(t, rs.IsAuthenticated)
}

func TestStore_SetTokenClearsTwoFactor(t *testing.T) {
	s := New(nil, zerolog.Nop())

	s.SetTempToken("temp-123", "jane")
	s.SetToken("access-1", "refresh-1")

	st := s.Snapshot()
	assert.Empty(t, st.TempToken)
	assert.Empty(t, st.PendingUsername)
	assert.False(t, st.RequiresTwoFactor)
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "refresh-1", st.RefreshToken)
}

func TestStore_SetTokenKeepsRefreshWhenEmpty(t *testing.T) {
	s := New(nil, zerolog.Nop())

	s.SetToken("access-1", "refresh-1")
	s.SetToken("access-2", "")

	assert.Equal(t, "access-2", s.Token())
	assert.Equal(t, "refresh-1", s.RefreshToken())
}

func TestStore_LogoutThenClearSessionIsIdempotent(t *testing.T) {
	s := New(nil, zerolog.Nop())
	s.SetUser(testUser())
	s.SetToken("access", "refresh")

	s.Logout()
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.Token())

	s.ClearSession()
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.Token())

	s.Logout()
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.Token())
}

func TestStore_ClearSessionPreservesUserLogoutDoesNot(t *testing.T) {
	s := New(nil, zerolog.Nop())
	s.SetUser(testUser())
	s.SetToken("access", "refresh")
	s.SetPin("4321")

	s.ClearSession()

	st := s.Snapshot()
	require.NotNil(t, st.User)
	assert.Equal(t, "1", st.User.ID)
	assert.Empty(t, st.Token)
	assert.Empty(t, st.RefreshToken)
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "4321", st.Pin)

	s.Logout()

	st = s.Snapshot()
	assert.Nil(t, st.User)
	assert.Empty(t, st.Pin)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := New(nil, zerolog.Nop())
	s.SetUser(testUser())

	st := s.Snapshot()
	st.User.Permissions[0] = "tampered"
	st.Token = "tampered"

	fresh := s.Snapshot()
	assert.Equal(t, "results:read", fresh.User.Permissions[0])
	assert.Empty(t, fresh.Token)
}

func TestStore_PersistsOnlyDurableFields(t *testing.T) {
	repo := NewMemoryRepository()
	s := New(repo, zerolog.Nop())

	s.SetTempToken("temp", "jane")
	s.SetUser(testUser())
	s.SetToken("access", "refresh")
	s.SetBiometricEnabled(true)
	s.SetPasswordExpired(true)
	s.UpdateLastActivity(time.Now())

	p, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access", p.Token)
	assert.Equal(t, "refresh", p.RefreshToken)
	assert.True(t, p.IsAuthenticated)
	assert.True(t, p.BiometricEnabled)
	require.NotNil(t, p.User)
	assert.Equal(t, []string{"results:read", "patients:read"}, p.User.Permissions)
}

func TestStore_EphemeralMutationsSkipRepository(t *testing.T) {
	repo := NewMemoryRepository()
	s := New(repo, zerolog.Nop())

	s.UpdateLastActivity(time.Now())
	s.SetPasswordExpired(true)

	assert.Equal(t, 0, repo.Saves())
}

func TestStore_LogoutClearsRepository(t *testing.T) {
	repo := NewMemoryRepository()
	s := New(repo, zerolog.Nop())
	s.SetToken("access", "refresh")

	s.Logout()

	_, err := repo.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_RehydratesAndRecomputesAuthentication(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(context.Background(), Persisted{
		User:            testUser(),
		Token:           "",
		IsAuthenticated: true, // stale flag, must not be trusted
		Pin:             "9999",
	}))

	s, err := Open(context.Background(), repo, zerolog.Nop())
	require.NoError(t, err)

	st := s.Snapshot()
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, "9999", st.Pin)
	assert.Equal(t, "1", st.User.ID)
}

func TestOpen_RestartMidTwoFactorStartsOver(t *testing.T) {
	repo := NewMemoryRepository()
	s := New(repo, zerolog.Nop())
	s.SetTempToken("temp", "jane")

	restored, err := Open(context.Background(), repo, zerolog.Nop())
	require.NoError(t, err)

	st := restored.Snapshot()
	assert.Empty(t, st.TempToken)
	assert.False(t, st.RequiresTwoFactor)
	assert.False(t, st.IsAuthenticated)
}

func TestOpen_EmptyRepository(t *testing.T) {
	s, err := Open(context.Background(), NewMemoryRepository(), zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, s.IsAuthenticated())
}

func TestStore_ObserversSeeEveryMutationInOrder(t *testing.T) {
	s := New(nil, zerolog.Nop())

	var mu sync.Mutex
	var versions []uint64
	unsubscribe := s.Subscribe(func(st State) {
		mu.Lock()
		versions = append(versions, st.Version)
		mu.Unlock()
		assertInvariant(t, st)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.SetToken("access", "refresh")
				s.ClearSession()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	require.Len(t, versions, 400)
	for i := 1; i < len(versions); i++ {
		assert.Equal(t, versions[i-1]+1, versions[i])
	}
	mu.Unlock()

	unsubscribe()
	s.Logout()

	mu.Lock()
	assert.Len(t, versions, 400)
	mu.Unlock()
}

func TestStore_ObserverMayReadStore(t *testing.T) {
	s := New(nil, zerolog.Nop())

	var seen bool
	s.Subscribe(func(st State) {
		seen = s.IsAuthenticated() == st.IsAuthenticated
	})

	s.SetToken("access", "")
	assert.True(t, seen)
}

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "Jane Doe", testUser().DisplayName())
	assert.Equal(t, "jane", (&User{Username: "jane"}).DisplayName())
	assert.Equal(t, "", (*User)(nil).DisplayName())
	assert.True(t, testUser().HasPermission("patients:read"))
	assert.False(t, testUser().HasPermission("admin"))
}

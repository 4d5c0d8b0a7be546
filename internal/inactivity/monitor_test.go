package inactivity

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labportal/labportal/internal/session"
)

// countingSession wraps a real store and counts monitor-driven calls
type countingSession struct {
	*session.Store
	updates atomic.Int32
	clears  atomic.Int32
}

func (c *countingSession) UpdateLastActivity(at time.Time) {
	c.updates.Add(1)
	c.Store.UpdateLastActivity(at)
}

func (c *countingSession) ClearSession() {
	c.clears.Add(1)
	c.Store.ClearSession()
}

func setup(t *testing.T) (*Monitor, *countingSession, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sess := &countingSession{Store: session.New(nil, zerolog.Nop())}
	m := New(DefaultConfig(), clock, zerolog.Nop())
	m.Attach(sess)
	t.Cleanup(m.Close)
	return m, sess, clock
}

func authenticate(sess *countingSession) {
	sess.SetUser(&session.User{ID: "1", Username: "jane"})
	sess.SetToken("access-1", "refresh-1")
}

const (
	wait = time.Second
	tick = 5 * time.Millisecond
	hold = 100 * time.Millisecond
)

func TestMonitor_InertWhileAnonymous(t *testing.T) {
	m, sess, clock := setup(t)

	assert.False(t, m.Armed())
	assert.False(t, m.Notify(KeyPress))

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return sess.clears.Load() > 0 }, hold, tick)
	assert.Equal(t, int32(0), sess.updates.Load())
}

func TestMonitor_ClearsAfterIdleWindow(t *testing.T) {
	m, sess, clock := setup(t)
	authenticate(sess)
	require.True(t, m.Armed())
	require.Eventually(t, func() bool { return sess.updates.Load() == 1 }, wait, tick, "initial activity update")

	clock.Advance(5*time.Minute - time.Millisecond)
	assert.Never(t, func() bool { return sess.clears.Load() > 0 }, hold, tick)
	assert.True(t, sess.IsAuthenticated())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return sess.clears.Load() == 1 }, wait, tick)
	assert.False(t, sess.IsAuthenticated())
	assert.False(t, m.Armed())

	snap := sess.Snapshot()
	require.NotNil(t, snap.User, "user survives an inactivity timeout")
	assert.Equal(t, "1", snap.User.ID)

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return sess.clears.Load() > 1 }, hold, tick)
}

func TestMonitor_ThrottlesSignals(t *testing.T) {
	m, sess, _ := setup(t)
	authenticate(sess)

	accepted := 0
	for i := 0; i < 10; i++ {
		if m.Notify(PointerMove) {
			accepted++
		}
	}

	assert.Equal(t, 1, accepted)
	require.Eventually(t, func() bool { return sess.updates.Load() == 2 }, wait, tick)
	assert.Never(t, func() bool { return sess.updates.Load() > 2 }, hold, tick)
}

func TestMonitor_ActivityExtendsSession(t *testing.T) {
	m, sess, clock := setup(t)
	authenticate(sess)
	require.Eventually(t, func() bool { return sess.updates.Load() == 1 }, wait, tick)

	clock.Advance(4 * time.Minute)
	require.True(t, m.Notify(KeyPress))
	require.Eventually(t, func() bool { return sess.updates.Load() == 2 }, wait, tick)
	assert.Equal(t, clock.Now(), sess.Snapshot().LastActivityAt)

	clock.Advance(4 * time.Minute)
	assert.Never(t, func() bool { return sess.clears.Load() > 0 }, hold, tick)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return sess.clears.Load() == 1 }, wait, tick)
}

func TestMonitor_ResetTimerBypassesThrottle(t *testing.T) {
	m, sess, clock := setup(t)
	authenticate(sess)
	require.True(t, m.Notify(Scroll))
	require.Eventually(t, func() bool { return sess.updates.Load() == 2 }, wait, tick)

	m.ResetTimer()
	m.ResetTimer()
	require.Eventually(t, func() bool { return sess.updates.Load() == 4 }, wait, tick)

	clock.Advance(5*time.Minute - time.Millisecond)
	assert.Never(t, func() bool { return sess.clears.Load() > 0 }, hold, tick)
}

func TestMonitor_LogoutCancelsCountdown(t *testing.T) {
	m, sess, clock := setup(t)
	authenticate(sess)
	require.True(t, m.Armed())

	sess.Logout()
	assert.False(t, m.Armed())
	assert.False(t, m.Notify(TouchStart))

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return sess.clears.Load() > 0 }, hold, tick)
}

func TestMonitor_RearmsOnNextLogin(t *testing.T) {
	m, sess, clock := setup(t)
	authenticate(sess)
	clock.Advance(5 * time.Minute)
	require.Eventually(t, func() bool { return sess.clears.Load() == 1 }, wait, tick)

	sess.SetToken("access-2", "refresh-2")
	require.True(t, m.Armed())

	clock.Advance(5 * time.Minute)
	require.Eventually(t, func() bool { return sess.clears.Load() == 2 }, wait, tick)
}

func TestMonitor_AttachToAuthenticatedSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sess := &countingSession{Store: session.New(nil, zerolog.Nop())}
	authenticate(sess)

	m := New(Config{IdleTimeout: time.Minute}, clock, zerolog.Nop())
	m.Attach(sess)
	defer m.Close()

	require.True(t, m.Armed())
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return sess.clears.Load() == 1 }, wait, tick)
}

func TestMonitor_CloseDetaches(t *testing.T) {
	m, sess, _ := setup(t)
	m.Close()

	authenticate(sess)
	assert.False(t, m.Armed())
}

func TestSignalString(t *testing.T) {
	assert.Equal(t, "key_press", KeyPress.String())
	assert.Equal(t, "touch_start", TouchStart.String())
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const saveTimeout = 5 * time.Second

// Observer receives a snapshot after every mutation. Observers run one at a
// time in mutation order. They may read the Store but must not mutate it
// synchronously.
type Observer func(State)

// Store is the single owner of the session state. All mutations are
// serialized, persisted write-through to the Repository and then announced
// to observers.
type Store struct {
	mu        sync.Mutex
	state     State
	observers map[int]Observer
	nextID    int

	// Tickets issued under mu keep persistence and observer delivery in
	// mutation order.
	issued    uint64
	delivered uint64
	turnMu    sync.Mutex
	turn      *sync.Cond

	repo   Repository
	logger zerolog.Logger
}

// New creates an empty Store backed by repo. A nil repo keeps the session
// in memory only.
func New(repo Repository, logger zerolog.Logger) *Store {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	s := &Store{
		repo:      repo,
		logger:    logger.With().Str("component", "session").Logger(),
		observers: make(map[int]Observer),
	}
	s.turn = sync.NewCond(&s.turnMu)
	return s
}

// Open creates a Store and rehydrates it from repo. A missing record yields
// an empty session.
func Open(ctx context.Context, repo Repository, logger zerolog.Logger) (*Store, error) {
	s := New(repo, logger)

	p, err := s.repo.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	s.state = p.rehydrate()
	s.logger.Debug().
		Bool("authenticated", s.state.IsAuthenticated).
		Msg("Session rehydrated")
	return s, nil
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Token returns the bearer token, or "" when absent.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// RefreshToken returns the refresh credential, or "" when absent.
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RefreshToken
}

// IsAuthenticated reports whether a bearer token is set and no 2FA is pending.
func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsAuthenticated
}

// SetUser replaces the identity record.
func (s *Store) SetUser(u *User) {
	s.mutate("set_user", func(st *State) persistOp {
		st.User = u.clone()
		return persistSave
	})
}

// SetToken stores a fresh access/refresh pair. It always ends any pending
// 2FA flow. An empty refresh keeps the current refresh credential.
func (s *Store) SetToken(token, refresh string) {
	s.mutate("set_token", func(st *State) persistOp {
		st.Token = token
		if refresh != "" {
			st.RefreshToken = refresh
		}
		st.TempToken = ""
		st.PendingUsername = ""
		st.RequiresTwoFactor = false
		return persistSave
	})
}

// SetTempToken records the mid-2FA credential and the username it belongs
// to. It never authenticates the session. Credentials and the user of any
// earlier session are dropped, since the pending login may be someone else.
func (s *Store) SetTempToken(temp, username string) {
	s.mutate("set_temp_token", func(st *State) persistOp {
		st.User = nil
		st.Token = ""
		st.RefreshToken = ""
		st.TempToken = temp
		st.PendingUsername = username
		st.RequiresTwoFactor = true
		return persistSave
	})
}

// SetRequiresTwoFactor toggles the pending-2FA flag. Clearing it also
// drops the temp token.
func (s *Store) SetRequiresTwoFactor(required bool) {
	s.mutate("set_requires_two_factor", func(st *State) persistOp {
		st.RequiresTwoFactor = required
		if !required {
			st.TempToken = ""
			st.PendingUsername = ""
		}
		// IsAuthenticated is persisted and may flip here.
		return persistSave
	})
}

// SetPasswordExpired flags that the server reported an expired password.
func (s *Store) SetPasswordExpired(expired bool) {
	s.mutate("set_password_expired", func(st *State) persistOp {
		st.PasswordExpired = expired
		return persistNone
	})
}

// SetPin sets the local unlock code. An empty pin removes it.
func (s *Store) SetPin(pin string) {
	s.mutate("set_pin", func(st *State) persistOp {
		st.Pin = pin
		return persistSave
	})
}

// SetBiometricEnabled toggles the biometric unlock capability.
func (s *Store) SetBiometricEnabled(enabled bool) {
	s.mutate("set_biometric_enabled", func(st *State) persistOp {
		st.BiometricEnabled = enabled
		return persistSave
	})
}

// UpdateLastActivity records qualifying user input at the given time.
func (s *Store) UpdateLastActivity(at time.Time) {
	s.mutate("update_last_activity", func(st *State) persistOp {
		st.LastActivityAt = at
		return persistNone
	})
}

// Logout clears every field and removes the stored record.
func (s *Store) Logout() {
	s.mutate("logout", func(st *State) persistOp {
		*st = State{Version: st.Version}
		return persistClear
	})
}

// ClearSession drops all credentials but keeps the user so the UI can
// still say whose session expired.
func (s *Store) ClearSession() {
	s.mutate("clear_session", func(st *State) persistOp {
		st.Token = ""
		st.RefreshToken = ""
		st.TempToken = ""
		st.PendingUsername = ""
		st.RequiresTwoFactor = false
		return persistSave
	})
}

type persistOp int

const (
	persistNone persistOp = iota
	persistSave
	persistClear
)

func (s *Store) mutate(op string, fn func(*State) persistOp) {
	s.mu.Lock()
	persist := fn(&s.state)
	s.state.normalize()
	s.state.Version++
	snap := s.state.clone()
	observers := make([]Observer, 0, len(s.observers))
	for id := 0; id < s.nextID; id++ {
		if o, ok := s.observers[id]; ok {
			observers = append(observers, o)
		}
	}
	ticket := s.issued
	s.issued++
	s.mu.Unlock()

	s.turnMu.Lock()
	for s.delivered != ticket {
		s.turn.Wait()
	}
	s.turnMu.Unlock()

	defer func() {
		s.turnMu.Lock()
		s.delivered++
		s.turn.Broadcast()
		s.turnMu.Unlock()
	}()

	s.persist(op, persist, snap)

	for _, o := range observers {
		o(snap)
	}
}

func (s *Store) persist(op string, persist persistOp, snap State) {
	if persist == persistNone {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	var err error
	switch persist {
	case persistSave:
		err = s.repo.Save(ctx, snap.persisted())
	case persistClear:
		err = s.repo.Clear(ctx)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("Failed to persist session")
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/labportal/labportal/internal/apierr"
	"github.com/labportal/labportal/internal/cli/client"
	"github.com/labportal/labportal/internal/session"
)

// Navigation targets.
const (
	RouteLogin     = "/login"
	RouteTwoFactor = "/verify"
	RouteLanding   = "/results"
)

const defaultLogoutTimeout = 5 * time.Second

// ErrSuperseded is returned when a login finished after a newer logout. The
// late response is discarded.
var ErrSuperseded = errors.New("login superseded by logout")

// State is the orchestrator's view of where the user is in the login flow.
type State int

const (
	Anonymous State = iota
	AwaitingTwoFactor
	Authenticated
	LoggingOut
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case AwaitingTwoFactor:
		return "awaiting_two_factor"
	case Authenticated:
		return "authenticated"
	case LoggingOut:
		return "logging_out"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// AuthService is the remote Authentication Service. *client.Client
// implements it.
type AuthService interface {
	Authorize(ctx context.Context, req client.AuthorizeRequest) (*client.AuthorizeResponse, error)
	VerifyTwoFactor(ctx context.Context, req client.VerifyTwoFactorRequest) (*client.VerifyTwoFactorResponse, error)
	Logout(ctx context.Context) error
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
}

// Navigator moves the UI to a route.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }

// QueryCache is cached query data that must not leak between users.
type QueryCache interface {
	Clear()
}

// PreconditionError reports an operation called in the wrong state.
type PreconditionError struct {
	Op      string
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: missing %s", e.Op, e.Missing)
}

// LoginResult describes a successful Login or VerifyTwoFactor call.
type LoginResult struct {
	RequiresTwoFactor bool
	PasswordExpired   bool
	User              *session.User
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNavigator sets the navigation sink.
func WithNavigator(nav Navigator) Option {
	return func(o *Orchestrator) { o.nav = nav }
}

// WithQueryCache sets the cache cleared on every change of user.
func WithQueryCache(cache QueryCache) Option {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithReporter sets the error-tracking collaborator.
func WithReporter(r apierr.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithDevice sets the device info sent on login.
func WithDevice(device client.DeviceInfo) Option {
	return func(o *Orchestrator) { o.device = device }
}

// WithLogoutTimeout bounds the best-effort remote logout call.
func WithLogoutTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.logoutTimeout = d }
}

// Orchestrator drives login, 2FA verification, logout and password change,
// and keeps the session store and navigation in step with the results.
type Orchestrator struct {
	service       AuthService
	store         *session.Store
	nav           Navigator
	cache         QueryCache
	reporter      apierr.Reporter
	logger        zerolog.Logger
	device        client.DeviceInfo
	logoutTimeout time.Duration

	// mu guards epoch and loggingOut. It is held across committing a login
	// so a concurrent Logout either precedes the commit or clears after it.
	mu         sync.Mutex
	epoch      uint64
	loggingOut bool
}

// New creates an Orchestrator.
func New(service AuthService, store *session.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		service:       service,
		store:         store,
		nav:           NavigatorFunc(func(string) {}),
		cache:         nopCache{},
		logger:        zerolog.Nop(),
		logoutTimeout: defaultLogoutTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "auth").Logger()
	return o
}

// State derives the current flow state from the session store.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	loggingOut := o.loggingOut
	o.mu.Unlock()
	if loggingOut {
		return LoggingOut
	}

	snap := o.store.Snapshot()
	switch {
	case snap.IsAuthenticated:
		return Authenticated
	case snap.RequiresTwoFactor && snap.TempToken != "":
		return AwaitingTwoFactor
	}
	return Anonymous
}

// Login checks the credentials. When the server asks for a second factor
// only the temp token is stored and the caller must VerifyTwoFactor next.
func (o *Orchestrator) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	epoch := o.currentEpoch()

	resp, err := o.service.Authorize(ctx, client.AuthorizeRequest{
		Username:   username,
		Password:   password,
		DeviceInfo: o.device,
	})
	if err != nil {
		o.logger.Debug().Err(err).Str("username", username).Msg("Login failed")
		apierr.ReportIfNeeded(ctx, o.reporter, "login", err)
		return nil, err
	}

	if resp.RequiresSecondFactor {
		if resp.TempToken == "" {
			return nil, &apierr.Error{Category: apierr.Unknown, Message: "second factor required but no temp token issued"}
		}
		if err := o.commit(epoch, func() {
			o.store.SetTempToken(resp.TempToken, username)
			o.cache.Clear()
		}); err != nil {
			return nil, err
		}
		o.logger.Debug().Str("username", username).Msg("Second factor required")
		o.nav.Navigate(RouteTwoFactor)
		return &LoginResult{RequiresTwoFactor: true}, nil
	}

	if resp.Token == "" {
		return nil, &apierr.Error{Category: apierr.Unknown, Message: "login succeeded but no token issued"}
	}

	user := resolveUser(resp.User, username, resp.Fullname, resp.Email)
	if err := o.commit(epoch, func() {
		o.establish(user, resp.Token, resp.RefreshToken, resp.PasswordExpired)
	}); err != nil {
		return nil, err
	}

	o.logger.Info().Str("username", username).Msg("Logged in")
	o.nav.Navigate(RouteLanding)
	return &LoginResult{PasswordExpired: resp.PasswordExpired, User: user}, nil
}

// VerifyTwoFactor completes a login that required a second factor. On
// failure the flow stays in AwaitingTwoFactor.
func (o *Orchestrator) VerifyTwoFactor(ctx context.Context, code string) (*LoginResult, error) {
	epoch := o.currentEpoch()
	snap := o.store.Snapshot()
	if snap.TempToken == "" {
		return nil, &PreconditionError{Op: "verify_two_factor", Missing: "temp token"}
	}
	if snap.PendingUsername == "" {
		return nil, &PreconditionError{Op: "verify_two_factor", Missing: "username"}
	}

	resp, err := o.service.VerifyTwoFactor(ctx, client.VerifyTwoFactorRequest{
		Username:  snap.PendingUsername,
		TempToken: snap.TempToken,
		Code:      code,
	})
	if err != nil {
		o.logger.Debug().Err(err).Str("username", snap.PendingUsername).Msg("Second factor rejected")
		apierr.ReportIfNeeded(ctx, o.reporter, "verify_two_factor", err)
		return nil, err
	}
	if resp.Token == "" {
		return nil, &apierr.Error{Category: apierr.Unknown, Message: "verification succeeded but no token issued"}
	}

	user := resolveUser(resp.User, snap.PendingUsername, resp.Fullname, resp.Email)
	if err := o.commit(epoch, func() {
		o.establish(user, resp.Token, resp.RefreshToken, false)
	}); err != nil {
		return nil, err
	}

	o.logger.Info().Str("username", snap.PendingUsername).Msg("Logged in with second factor")
	o.nav.Navigate(RouteLanding)
	return &LoginResult{User: user}, nil
}

// Logout tells the server on a best-effort basis, then always clears the
// local session and cached data. Remote failures are logged, never
// returned.
func (o *Orchestrator) Logout(ctx context.Context) {
	o.mu.Lock()
	o.epoch++
	o.loggingOut = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.loggingOut = false
		o.mu.Unlock()
	}()

	if o.store.Token() != "" {
		callCtx, cancel := context.WithTimeout(ctx, o.logoutTimeout)
		if err := o.service.Logout(callCtx); err != nil {
			o.logger.Debug().Err(err).Msg("Remote logout failed, clearing local session anyway")
		}
		cancel()
	}

	o.store.Logout()
	o.cache.Clear()
	o.logger.Info().Msg("Logged out")
	o.nav.Navigate(RouteLogin)
}

// ChangePassword delegates to the server. The session is left untouched.
func (o *Orchestrator) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if err := o.service.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		apierr.ReportIfNeeded(ctx, o.reporter, "change_password", err)
		return err
	}
	o.logger.Info().Msg("Password changed")
	return nil
}

// Message returns the text to show the user for err.
func Message(err error) string {
	var pre *PreconditionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pre):
		return "Your verification step has expired. Please sign in again."
	case errors.Is(err, ErrSuperseded):
		return "Sign-in was cancelled because you logged out."
	}
	return apierr.UserMessage(err)
}

func (o *Orchestrator) currentEpoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

// commit runs fn unless a Logout started after epoch was read.
func (o *Orchestrator) commit(epoch uint64, fn func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch != epoch {
		o.logger.Debug().Msg("Discarding login response that arrived after logout")
		return ErrSuperseded
	}
	fn()
	return nil
}

// establish installs a new identity. The cache is cleared first so data
// from a previous user is never shown under the new one.
func (o *Orchestrator) establish(user *session.User, token, refresh string, passwordExpired bool) {
	o.cache.Clear()
	o.store.SetUser(user)
	o.store.SetToken(token, refresh)
	o.store.SetPasswordExpired(passwordExpired)
}

func resolveUser(u *session.User, username, fullname, email string) *session.User {
	if u != nil {
		if u.Username == "" {
			u.Username = username
		}
		return u
	}
	first, last, _ := strings.Cut(strings.TrimSpace(fullname), " ")
	return &session.User{
		Username:  username,
		Email:     email,
		FirstName: first,
		LastName:  strings.TrimSpace(last),
	}
}

type nopCache struct{}

func (nopCache) Clear() {}

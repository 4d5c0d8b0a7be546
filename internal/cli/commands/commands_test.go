package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labportal/labportal/internal/apierr"
	"github.com/labportal/labportal/internal/auth"
	"github.com/labportal/labportal/internal/cli/client"
	"github.com/labportal/labportal/internal/cli/config"
	"github.com/labportal/labportal/internal/cli/userconfig"
	appconfig "github.com/labportal/labportal/internal/config"
	"github.com/labportal/labportal/internal/fixtures"
	"github.com/labportal/labportal/internal/server"
	"github.com/labportal/labportal/internal/session"
)

const drsmithSecret = "JBSWY3DPEHPK3PXP"

// fakePrompter answers prompts from a queue
type fakePrompter struct {
	answers []string
	asked   []string
}

func (f *fakePrompter) next(label string) (string, error) {
	f.asked = append(f.asked, label)
	if len(f.answers) == 0 {
		return "", errors.New("no input available")
	}
	a := f.answers[0]
	f.answers = f.answers[1:]
	return a, nil
}

func (f *fakePrompter) Password(label string) (string, error) { return f.next(label) }
func (f *fakePrompter) Line(label string) (string, error)     { return f.next(label) }

// testEnv is a dev server plus the client configuration pointing at it.
// Sessions persist in a JSON file, so consecutive commands share them the
// way separate CLI invocations do.
type testEnv struct {
	url    string
	cfg    *appconfig.ClientConfig
	prompt *fakePrompter
	format string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("LABPORTAL_USERNAME", "")
	t.Setenv("LABPORTAL_PASSWORD", "")

	dir := t.TempDir()
	db, err := server.OpenDatabase(filepath.Join(dir, "dev.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	srv, err := server.New(&appconfig.DevServerConfig{
		JWTSecret:       "commands-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		TempTokenTTL:    5 * time.Minute,
		PasswordMaxAge:  90 * 24 * time.Hour,
		CORSOrigins:     []string{"http://localhost:3000"},
	}, db, zerolog.Nop(), "test")
	require.NoError(t, err)

	seed, err := fixtures.Default()
	require.NoError(t, err)
	require.NoError(t, fixtures.Apply(db, seed, time.Now(), zerolog.Nop()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		url: ts.URL,
		cfg: &appconfig.ClientConfig{
			Session: appconfig.SessionConfig{
				Backend: session.BackendFile,
				Path:    filepath.Join(dir, "session.json"),
			},
			IdleTimeout: 5 * time.Minute,
			HTTPTimeout: 10 * time.Second,
		},
		prompt: &fakePrompter{},
	}
}

func (e *testEnv) open(cmd *cobra.Command) (*Portal, error) {
	ctx := context.Background()
	if cmd != nil && cmd.Context() != nil {
		ctx = cmd.Context()
	}
	return NewPortal(ctx, config.Server{URL: e.url, Alias: "test"}, PortalConfig{
		Client:   e.cfg,
		DeviceID: "device-1",
		Version:  "test",
		Format:   e.format,
		Prompt:   e.prompt,
		Logger:   zerolog.Nop(),
	})
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "portal", SilenceUsage: true, SilenceErrors: true}
	Register(root, e.open)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLogin_SessionSurvivesAcrossCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "login", "-u", "jane", "--password", "patient-pass-1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Signed in")
	assert.Contains(t, out, "User: Jane Doe (jane)")
	assert.Contains(t, out, "Role: patient")

	out, err = env.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "jane.doe@example.com")
	assert.Contains(t, out, "results:read")

	out, err = env.run(t, "results")
	require.NoError(t, err)
	assert.Contains(t, out, "HbA1c")
	assert.Contains(t, out, "Vitamin D")
	assert.NotContains(t, out, "Rivera")

	out, err = env.run(t, "results", "--status", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "Vitamin D")
	assert.NotContains(t, out, "HbA1c")

	out, err = env.run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out of test")

	_, err = env.run(t, "results")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")

	// Nothing but an empty session is left on disk
	data, err := os.ReadFile(env.cfg.Session.Path)
	if err == nil {
		assert.NotContains(t, string(data), "jane")
	}
}

func TestLogin_PromptsForMissingCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.prompt.answers = []string{"jane", "patient-pass-1"}

	out, err := env.run(t, "login")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Signed in")
	assert.Equal(t, []string{"Username", "Password"}, env.prompt.asked)
}

func TestLogin_CredentialsFromEnvironment(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("LABPORTAL_USERNAME", "jane")
	t.Setenv("LABPORTAL_PASSWORD", "patient-pass-1")

	_, err := env.run(t, "login")
	require.NoError(t, err)
	assert.Empty(t, env.prompt.asked)
}

func TestLogin_WrongPasswordShowsCategoryMessage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "login", "-u", "jane", "--password", "nope")
	require.Error(t, err)
	assert.Equal(t, apierr.UserMessage(&apierr.Error{Category: apierr.Auth}), err.Error())

	_, err = env.run(t, "whoami")
	assert.ErrorContains(t, err, "not signed in")
}

func TestLogin_TwoFactorWithCodeFlag(t *testing.T) {
	env := newTestEnv(t)
	code, err := auth.TOTPCode(drsmithSecret, time.Now())
	require.NoError(t, err)

	out, err := env.run(t, "login", "-u", "drsmith", "--password", "physician-pass-1", "--code", code)
	require.NoError(t, err)
	assert.Contains(t, out, "User: Alex Smith (drsmith)")

	out, err = env.run(t, "patients", "-q", "Rivera")
	require.NoError(t, err)
	assert.Contains(t, out, "MRN-0003")
	assert.NotContains(t, out, "MRN-0001")
}

func TestLogin_TwoFactorPromptsForCode(t *testing.T) {
	env := newTestEnv(t)
	code, err := auth.TOTPCode(drsmithSecret, time.Now())
	require.NoError(t, err)
	env.prompt.answers = []string{code}

	out, err := env.run(t, "login", "-u", "drsmith", "--password", "physician-pass-1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Signed in")
	assert.Equal(t, []string{"Verification code"}, env.prompt.asked)
}

func TestLogin_TwoFactorWrongCode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "login", "-u", "drsmith", "--password", "physician-pass-1", "--code", "000000")
	require.Error(t, err)

	_, err = env.run(t, "whoami")
	assert.ErrorContains(t, err, "not signed in")
}

func TestLogin_ExpiredPasswordWarning(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "login", "-u", "oldtimer", "--password", "patient-pass-2")
	require.NoError(t, err)
	assert.Contains(t, out, "Your password has expired")
}

func TestVerify_WithoutPendingLogin(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "verify", "123456")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification step has expired")
}

func TestNews_IsPublic(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "news")
	require.NoError(t, err)
	assert.Contains(t, out, "Extended weekend hours")
}

func TestLabs_JSONOutput(t *testing.T) {
	env := newTestEnv(t)
	env.format = userconfig.OutputJSON

	_, err := env.run(t, "login", "-u", "admin", "--password", "admin-pass-1")
	require.NoError(t, err)

	out, err := env.run(t, "labs")
	require.NoError(t, err)

	var labs []client.Laboratory
	require.NoError(t, json.Unmarshal([]byte(out), &labs))
	require.Len(t, labs, 2)
}

func TestLabs_ForbiddenForPatients(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "login", "-u", "jane", "--password", "patient-pass-1")
	require.NoError(t, err)

	_, err = env.run(t, "labs")
	require.Error(t, err)

	// A 403 is not a dead session
	_, err = env.run(t, "whoami")
	assert.NoError(t, err)
}

func TestResults_ShowSingleResult(t *testing.T) {
	env := newTestEnv(t)
	env.format = userconfig.OutputJSON

	_, err := env.run(t, "login", "-u", "jane", "--password", "patient-pass-1")
	require.NoError(t, err)

	out, err := env.run(t, "results")
	require.NoError(t, err)
	var results []client.LabResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)

	env.format = userconfig.OutputTable
	out, err = env.run(t, "results", "show", results[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, results[0].TestName)
	assert.Contains(t, out, "Laboratory:")

	_, err = env.run(t, "results", "show", "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, apierr.UserMessage(&apierr.Error{Category: apierr.NotFound}), err.Error())
}

func TestPasswd(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "login", "-u", "jane", "--password", "patient-pass-1")
	require.NoError(t, err)

	env.prompt.answers = []string{"patient-pass-1", "brand-new-pass", "different-pass"}
	_, err = env.run(t, "passwd")
	assert.ErrorContains(t, err, "do not match")

	env.prompt.answers = []string{"wrong-old-pass", "brand-new-pass", "brand-new-pass"}
	_, err = env.run(t, "passwd")
	require.Error(t, err)
	assert.Equal(t, apierr.UserMessage(&apierr.Error{Category: apierr.Validation}), err.Error())

	env.prompt.answers = []string{"patient-pass-1", "brand-new-pass", "brand-new-pass"}
	out, err := env.run(t, "passwd")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Password changed")

	_, err = env.run(t, "logout")
	require.NoError(t, err)
	_, err = env.run(t, "login", "-u", "jane", "--password", "brand-new-pass")
	assert.NoError(t, err)
}

func TestPasswd_RequiresLogin(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "passwd")
	assert.ErrorContains(t, err, "not signed in")
	assert.Empty(t, env.prompt.asked)
}

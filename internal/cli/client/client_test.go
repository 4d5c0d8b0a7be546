package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labportal/labportal/internal/apierr"
	"github.com/labportal/labportal/internal/session"
)

// mockAuthServer creates a mock Authentication Service for testing
func mockAuthServer(t *testing.T, username, password string, secondFactor bool) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch r.URL.Path {
		case PathAuthorize:
			var req AuthorizeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode request: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if req.DeviceInfo.DeviceID == "" {
				t.Errorf("expected device info to be sent")
			}
			if req.Username != username || req.Password != password {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "invalid credentials"}`))
				return
			}
			if secondFactor {
				json.NewEncoder(w).Encode(AuthorizeResponse{TempToken: "temp-1", RequiresSecondFactor: true})
				return
			}
			json.NewEncoder(w).Encode(AuthorizeResponse{
				Token:           "access-1",
				RefreshToken:    "refresh-1",
				PasswordExpired: true,
				Fullname:        "Test User",
				Email:           "test@example.com",
				User:            &session.User{ID: "user-123", Username: username},
			})
		case PathVerify2FA:
			var req VerifyTwoFactorRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.TempToken != "temp-1" || req.Code != "123456" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "invalid code"}`))
				return
			}
			json.NewEncoder(w).Encode(VerifyTwoFactorResponse{Token: "access-1", RefreshToken: "refresh-1"})
		case PathChangePassword:
			var req ChangePasswordRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.OldPassword != password {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.Write([]byte(`{"error": "old password does not match"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
		case PathLogout:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestClient_Authorize(t *testing.T) {
	server := mockAuthServer(t, "jane", "password123", false)
	defer server.Close()

	c := New(server.URL)
	resp, err := c.Authorize(context.Background(), AuthorizeRequest{
		Username:   "jane",
		Password:   "password123",
		DeviceInfo: CurrentDevice("device-1", "test"),
	})

	require.NoError(t, err)
	assert.Equal(t, "access-1", resp.Token)
	assert.Equal(t, "refresh-1", resp.RefreshToken)
	assert.True(t, resp.PasswordExpired)
	require.NotNil(t, resp.User)
	assert.Equal(t, "user-123", resp.User.ID)
}

func TestClient_AuthorizeWrongPassword(t *testing.T) {
	server := mockAuthServer(t, "jane", "password123", false)
	defer server.Close()

	c := New(server.URL)
	_, err := c.Authorize(context.Background(), AuthorizeRequest{
		Username:   "jane",
		Password:   "wrong",
		DeviceInfo: CurrentDevice("device-1", "test"),
	})

	require.Error(t, err)
	assert.Equal(t, apierr.Auth, apierr.CategoryOf(err))
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestClient_TwoFactorFlow(t *testing.T) {
	server := mockAuthServer(t, "jane", "password123", true)
	defer server.Close()

	c := New(server.URL)
	resp, err := c.Authorize(context.Background(), AuthorizeRequest{
		Username:   "jane",
		Password:   "password123",
		DeviceInfo: CurrentDevice("device-1", "test"),
	})
	require.NoError(t, err)
	assert.True(t, resp.RequiresSecondFactor)
	assert.Empty(t, resp.Token)

	verified, err := c.VerifyTwoFactor(context.Background(), VerifyTwoFactorRequest{
		Username:  "jane",
		TempToken: resp.TempToken,
		Code:      "123456",
	})
	require.NoError(t, err)
	assert.Equal(t, "access-1", verified.Token)
}

func TestClient_ChangePassword(t *testing.T) {
	server := mockAuthServer(t, "jane", "password123", false)
	defer server.Close()

	c := New(server.URL)
	require.NoError(t, c.ChangePassword(context.Background(), "password123", "new-password-456"))

	err := c.ChangePassword(context.Background(), "nope", "new-password-456")
	require.Error(t, err)
	assert.Equal(t, apierr.Validation, apierr.CategoryOf(err))
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := New(url).Logout(context.Background())
	require.Error(t, err)
	assert.Equal(t, apierr.Network, apierr.CategoryOf(err))
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	err := New(server.URL, WithTimeout(20*time.Millisecond)).Logout(context.Background())
	require.Error(t, err)
	assert.Equal(t, apierr.Timeout, apierr.CategoryOf(err))
}

func TestClient_CachesGetResponses(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/laboratories", r.URL.Path)
		json.NewEncoder(w).Encode([]Laboratory{{ID: "lab-1", Name: "Central Lab"}})
	}))
	defer server.Close()

	cache := NewCache(time.Minute)
	c := New(server.URL, WithCache(cache))

	for i := 0; i < 3; i++ {
		labs, err := c.ListLaboratories(context.Background())
		require.NoError(t, err)
		require.Len(t, labs, 1)
		assert.Equal(t, "Central Lab", labs[0].Name)
	}
	assert.Equal(t, int32(1), calls.Load())

	cache.Clear()
	_, err := c.ListLaboratories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ResultFilterQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "p-1", r.URL.Query().Get("patientId"))
		assert.Equal(t, "final", r.URL.Query().Get("status"))
		json.NewEncoder(w).Encode([]LabResult{})
	}))
	defer server.Close()

	_, err := New(server.URL).ListResults(context.Background(), ResultFilter{PatientID: "p-1", Status: "final"})
	require.NoError(t, err)
}

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.Set("/api/news", []byte("[]"))
	_, ok := cache.Get("/api/news")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("/api/news")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

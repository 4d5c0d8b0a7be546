package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/labportal/labportal/internal/apierr"
	"github.com/labportal/labportal/internal/session"
)

// Endpoints of the Authentication Service.
const (
	PathAuthorize      = "/authorize"
	PathVerify2FA      = "/verify2FA"
	PathLogout         = "/logout"
	PathChangePassword = "/changePassword"
	PathRefresh        = "/refresh"
)

const defaultTimeout = 30 * time.Second

// Client represents an HTTP client for the portal API
type Client struct {
	baseURL    string
	basePath   string
	httpClient *http.Client
	cache      *Cache
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithInsecureSkipVerify accepts self-signed certificates (dev servers only).
func WithInsecureSkipVerify() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}
}

// WithCache caches GET responses in cache.
func WithCache(cache *Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a new API client without any credential handling.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zerolog.Nop(),
	}
	if u, err := url.Parse(c.baseURL); err == nil {
		c.basePath = u.Path
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ TokenStore = (*session.Store)(nil)

// NewAuthenticated creates a client whose requests carry the bearer token
// from tokens and transparently refresh it once on a 401.
func NewAuthenticated(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := New(baseURL, opts...)

	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	skip := func(req *http.Request) bool {
		return SkipAuthEndpoints(req) || authEndpoint(c.basePath, req.URL.Path)
	}

	hc := *c.httpClient
	hc.Transport = &RefreshTransport{
		Base:      &BearerTransport{Base: base, Tokens: tokens},
		Tokens:    tokens,
		Refresher: c,
		Skip:      skip,
		Logger:    c.logger,
	}
	c.httpClient = &hc
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Cache returns the response cache, or nil.
func (c *Client) Cache() *Cache {
	return c.cache
}

// DeviceInfo describes the device a login comes from.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	Platform   string `json:"platform"`
	Model      string `json:"model"`
	AppVersion string `json:"appVersion"`
}

// CurrentDevice describes this machine.
func CurrentDevice(deviceID, appVersion string) DeviceInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return DeviceInfo{
		DeviceID:   deviceID,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		Model:      host,
		AppVersion: appVersion,
	}
}

// AuthorizeRequest represents the login request body
type AuthorizeRequest struct {
	Username   string     `json:"username"`
	Password   string     `json:"password"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

// AuthorizeResponse represents the login response. Either Token or, when
// RequiresSecondFactor is set, TempToken is present.
type AuthorizeResponse struct {
	Token                string        `json:"token,omitempty"`
	TempToken            string        `json:"tempToken,omitempty"`
	RefreshToken         string        `json:"refreshToken,omitempty"`
	RequiresSecondFactor bool          `json:"requiresSecondFactor"`
	PasswordExpired      bool          `json:"passwordExpired"`
	Fullname             string        `json:"fullname"`
	Email                string        `json:"email"`
	User                 *session.User `json:"user,omitempty"`
}

// VerifyTwoFactorRequest represents the 2FA verification request
type VerifyTwoFactorRequest struct {
	Username  string `json:"username"`
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

// VerifyTwoFactorResponse represents the 2FA verification response
type VerifyTwoFactorResponse struct {
	Token        string        `json:"token"`
	RefreshToken string        `json:"refreshToken,omitempty"`
	Fullname     string        `json:"fullname"`
	Email        string        `json:"email"`
	User         *session.User `json:"user,omitempty"`
}

// ChangePasswordRequest represents the password change request
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// RefreshRequest represents the token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse represents a rotated credential pair
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Authorize checks the username and password
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	var resp AuthorizeResponse
	if err := c.do(AuthCall(ctx), http.MethodPost, PathAuthorize, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyTwoFactor exchanges a temp token and one-time code for a session
func (c *Client) VerifyTwoFactor(ctx context.Context, req VerifyTwoFactorRequest) (*VerifyTwoFactorResponse, error) {
	var resp VerifyTwoFactorResponse
	if err := c.do(AuthCall(ctx), http.MethodPost, PathVerify2FA, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout ends the server-side session
func (c *Client) Logout(ctx context.Context) error {
	return c.do(AuthCall(ctx), http.MethodPost, PathLogout, struct{}{}, nil)
}

// ChangePassword changes the current user's password
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	req := ChangePasswordRequest{OldPassword: oldPassword, NewPassword: newPassword}
	return c.do(ctx, http.MethodPost, PathChangePassword, req, nil)
}

// Refresh rotates the credential pair
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.do(AuthCall(ctx), http.MethodPost, PathRefresh, RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// Non-2xx responses become *apierr.Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.FromTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := apierr.FromResponse(resp)
		c.logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("category", string(apiErr.Category)).
			Msg("API request failed")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// get performs a cached GET. The cache key is the path with its query.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	if c.cache != nil {
		if data, ok := c.cache.Get(path); ok {
			return json.Unmarshal(data, out)
		}
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return err
	}

	if c.cache != nil {
		c.cache.Set(path, raw)
	}
	return json.Unmarshal(raw, out)
}

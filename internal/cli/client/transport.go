package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// RequestIDHeader carries the ID that identifies an original request and
// all of its retries.
const RequestIDHeader = "X-Request-ID"

// TokenSource provides the current bearer token.
type TokenSource interface {
	Token() string
}

// TokenStore defines the credential operations the transports need.
// *session.Store implements it.
type TokenStore interface {
	TokenSource
	RefreshToken() string
	SetToken(access, refresh string)
	Logout()
}

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
}

// BearerTransport attaches the current token to every outgoing request.
type BearerTransport struct {
	Base   http.RoundTripper
	Tokens TokenSource
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.Tokens.Token()
	if token == "" {
		return t.Base.RoundTrip(req)
	}

	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return t.Base.RoundTrip(r)
}

type authCallKey struct{}

// AuthCall marks ctx as belonging to an Authentication Service call. Such
// requests are never refreshed: a 401 from them is the answer itself, and
// refreshing from inside a refresh would wait on its own flight.
func AuthCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, authCallKey{}, true)
}

// SkipAuthEndpoints reports requests whose context was marked by AuthCall.
func SkipAuthEndpoints(req *http.Request) bool {
	marked, _ := req.Context().Value(authCallKey{}).(bool)
	return marked
}

// authEndpoint reports whether path, relative to basePath, is one of the
// Authentication Service endpoints that bypass refresh handling.
func authEndpoint(basePath, path string) bool {
	rel, ok := strings.CutPrefix(path, basePath)
	if !ok {
		return false
	}
	switch rel {
	case PathAuthorize, PathVerify2FA, PathRefresh, PathLogout:
		return true
	}
	return false
}

// RefreshTransport retries a request once after refreshing the credential
// pair when the server answers 401.
//
// Each original request is tagged with a request ID. An ID enters the
// visited set on its first 401, so a request is refreshed at most once no
// matter how the retry is routed. Concurrent refreshes of the same refresh
// token share a single call.
type RefreshTransport struct {
	Base      http.RoundTripper
	Tokens    TokenStore
	Refresher Refresher
	// Skip reports requests that are passed through untouched.
	Skip   func(*http.Request) bool
	Logger zerolog.Logger

	mu      sync.Mutex
	visited map[string]struct{}
	flight  singleflight.Group
}

func (t *RefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Skip != nil && t.Skip(req) {
		return t.Base.RoundTrip(req)
	}

	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, ulid.Make().String())
	}
	id := req.Header.Get(RequestIDHeader)

	sent := t.Tokens.Token()
	resp, err := t.Base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if !t.markVisited(id) {
		return resp, nil
	}
	defer t.forget(id)

	replay, err := rewind(req)
	if err != nil {
		return resp, nil
	}

	refresh := t.Tokens.RefreshToken()

	// Another request may already have rotated the token.
	if current := t.Tokens.Token(); current != "" && current != sent {
		drain(resp)
		return t.RoundTrip(replay)
	}

	if refresh == "" {
		t.Logger.Debug().Str("request_id", id).Msg("401 without refresh token, logging out")
		t.Tokens.Logout()
		return resp, nil
	}
	drain(resp)

	_, err, shared := t.flight.Do(refresh, func() (any, error) {
		if t.Tokens.RefreshToken() != refresh {
			return nil, nil // rotated by a flight that just finished
		}
		pair, err := t.Refresher.Refresh(req.Context(), refresh)
		if err != nil {
			return nil, err
		}
		t.Tokens.SetToken(pair.AccessToken, pair.RefreshToken)
		return pair, nil
	})
	if err != nil {
		t.Logger.Warn().Err(err).Str("request_id", id).Msg("Token refresh failed, logging out")
		t.Tokens.Logout()
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	t.Logger.Debug().Str("request_id", id).Bool("shared", shared).Msg("Token refreshed, replaying request")
	return t.RoundTrip(replay)
}

// markVisited adds id to the visited set. It returns false when id was
// already there.
func (t *RefreshTransport) markVisited(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.visited == nil {
		t.visited = make(map[string]struct{})
	}
	if _, ok := t.visited[id]; ok {
		return false
	}
	t.visited[id] = struct{}{}
	return true
}

func (t *RefreshTransport) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.visited, id)
}

// rewind returns a copy of req with a fresh body.
func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r.Body = body
	return r, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

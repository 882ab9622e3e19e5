package dropbox

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mtuomi/dropbox-go/internal/config"
	"github.com/mtuomi/dropbox-go/internal/tokenfile"
)

// newTestManager creates a Manager on a throwaway token path whose
// interactive authorization fails the test if reached. Tests that
// expect a full authorization replace m.authorize.
func newTestManager(t *testing.T) *Manager {
	t.Helper()

	path := filepath.Join(t.TempDir(), "token.json")
	m := NewManager(path, "test-app-key", "test-app-secret", http.DefaultClient, slog.Default())
	m.authorize = func(_ context.Context, _ *oauth2.Config) (*oauth2.Token, error) {
		t.Fatal("unexpected interactive authorization")
		return nil, nil
	}

	return m
}

// saveRecord persists a record at the manager's token path.
func saveRecord(t *testing.T, m *Manager, tok *oauth2.Token) *tokenfile.Record {
	t.Helper()

	rec := &tokenfile.Record{
		Token:         tok,
		AppKey:        "test-app-key",
		AppSecret:     "test-app-secret",
		TokenEndpoint: TokenURL,
	}
	require.NoError(t, tokenfile.Save(m.tokenPath, rec))

	return rec
}

// newRefreshServer serves a token endpoint returning the given access
// token and counts requests.
func newRefreshServer(t *testing.T, accessToken string, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "` + accessToken + `",
			"token_type": "bearer",
			"expires_in": 14400
		}`))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestAuthorize_CachedValid(t *testing.T) {
	m := newTestManager(t)

	// Expires well outside the 60 s leeway; no network call may happen.
	transport := &countingTransport{}
	m.httpClient = &http.Client{Transport: transport}

	saveRecord(t, m, &oauth2.Token{
		AccessToken:  "cached-access",
		RefreshToken: "cached-refresh",
		Expiry:       time.Now().Add(120 * time.Second),
	})

	rec, err := m.Authorize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "cached-access", rec.Token.AccessToken)
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestAuthorize_NoExpiryNeverExpires(t *testing.T) {
	m := newTestManager(t)

	// Zero expiry means a non-expiring token, regardless of age.
	m.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }

	saveRecord(t, m, &oauth2.Token{AccessToken: "eternal-access"})

	rec, err := m.Authorize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "eternal-access", rec.Token.AccessToken)
}

func TestAuthorize_ExpiredRefreshable(t *testing.T) {
	m := newTestManager(t)

	var calls atomic.Int32
	srv := newRefreshServer(t, "new-access", &calls)

	rec := &tokenfile.Record{
		Token: &oauth2.Token{
			AccessToken:  "stale-access",
			RefreshToken: "refresh-456",
			Expiry:       time.Now().Add(-30 * time.Second),
		},
		AppKey:        "test-app-key",
		AppSecret:     "test-app-secret",
		TokenEndpoint: srv.URL,
	}
	require.NoError(t, tokenfile.Save(m.tokenPath, rec))

	got, err := m.Authorize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "new-access", got.Token.AccessToken)
	assert.NotEqual(t, "stale-access", got.Token.AccessToken)

	// The refresh token and app credentials survive the refresh.
	assert.Equal(t, "refresh-456", got.Token.RefreshToken)
	assert.Equal(t, "test-app-key", got.AppKey)
	assert.Equal(t, srv.URL, got.TokenEndpoint)

	// The refreshed record was persisted.
	loaded, err := tokenfile.Load(m.tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "new-access", loaded.Token.AccessToken)
}

func TestAuthorize_LeewayTriggersEarlyRefresh(t *testing.T) {
	m := newTestManager(t)

	var calls atomic.Int32
	srv := newRefreshServer(t, "new-access", &calls)

	// Expires in 30 s: inside the 60 s leeway, so treated as expired.
	require.NoError(t, tokenfile.Save(m.tokenPath, &tokenfile.Record{
		Token: &oauth2.Token{
			AccessToken:  "stale-access",
			RefreshToken: "refresh-456",
			Expiry:       time.Now().Add(30 * time.Second),
		},
		AppKey:        "test-app-key",
		AppSecret:     "test-app-secret",
		TokenEndpoint: srv.URL,
	}))

	got, err := m.Authorize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.Token.AccessToken)
}

func TestAuthorize_RefreshFailed(t *testing.T) {
	m := newTestManager(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, tokenfile.Save(m.tokenPath, &tokenfile.Record{
		Token: &oauth2.Token{
			AccessToken:  "stale-access",
			RefreshToken: "revoked-refresh",
			Expiry:       time.Now().Add(-30 * time.Second),
		},
		AppKey:        "test-app-key",
		AppSecret:     "test-app-secret",
		TokenEndpoint: srv.URL,
	}))

	_, err := m.Authorize(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)

	// No silent fallback to interactive auth, and the stale record is
	// left in place for the caller to inspect or force past.
	loaded, loadErr := tokenfile.Load(m.tokenPath)
	require.NoError(t, loadErr)
	assert.Equal(t, "stale-access", loaded.Token.AccessToken)
}

func TestAuthorize_ExpiredNoRefreshToken(t *testing.T) {
	m := newTestManager(t)

	var authorized atomic.Int32
	m.authorize = func(_ context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
		authorized.Add(1)
		assert.Equal(t, "test-app-key", cfg.ClientID)

		return &oauth2.Token{AccessToken: "fresh-access", RefreshToken: "fresh-refresh"}, nil
	}

	saveRecord(t, m, &oauth2.Token{
		AccessToken: "stale-access",
		Expiry:      time.Now().Add(-30 * time.Second),
	})

	rec, err := m.Authorize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), authorized.Load())
	assert.Equal(t, "fresh-access", rec.Token.AccessToken)
}

func TestAuthorize_NoCache(t *testing.T) {
	m := newTestManager(t)

	m.authorize = func(_ context.Context, _ *oauth2.Config) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "fresh-access", RefreshToken: "fresh-refresh"}, nil
	}

	rec, err := m.Authorize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", rec.Token.AccessToken)

	// The new record was persisted with refresh material.
	loaded, err := tokenfile.Load(m.tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", loaded.Token.AccessToken)
	assert.Equal(t, "fresh-refresh", loaded.Token.RefreshToken)
	assert.Equal(t, "test-app-key", loaded.AppKey)
	assert.Equal(t, TokenURL, loaded.TokenEndpoint)
}

func TestAuthorize_CorruptCache(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, tokenfile.Save(m.tokenPath, &tokenfile.Record{
		Token: &oauth2.Token{AccessToken: "x"},
	}))
	// Truncate the file into garbage.
	require.NoError(t, os.WriteFile(m.tokenPath, []byte(`{"token": {`), 0o600))

	m.authorize = func(_ context.Context, _ *oauth2.Config) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "fresh-access"}, nil
	}

	rec, err := m.Authorize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", rec.Token.AccessToken)
}

func TestAuthorize_ForceSkipsValidCache(t *testing.T) {
	m := newTestManager(t)

	saveRecord(t, m, &oauth2.Token{
		AccessToken: "cached-access",
		Expiry:      time.Now().Add(time.Hour),
	})

	var authorized atomic.Int32
	m.authorize = func(_ context.Context, _ *oauth2.Config) (*oauth2.Token, error) {
		authorized.Add(1)
		return &oauth2.Token{AccessToken: "forced-access"}, nil
	}

	rec, err := m.Authorize(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), authorized.Load())
	assert.Equal(t, "forced-access", rec.Token.AccessToken)
}

func TestAuthorize_MissingCredentials(t *testing.T) {
	t.Setenv(config.EnvAppKey, "")
	t.Setenv(config.EnvAppSecret, "")

	path := filepath.Join(t.TempDir(), "token.json")
	m := NewManager(path, "", "", http.DefaultClient, slog.Default())

	_, err := m.Authorize(context.Background(), false)
	assert.ErrorIs(t, err, config.ErrMissingCredentials)
}

func TestSource_Token(t *testing.T) {
	m := newTestManager(t)

	saveRecord(t, m, &oauth2.Token{
		AccessToken: "cached-access",
		Expiry:      time.Now().Add(time.Hour),
	})

	tok, err := m.Source(context.Background()).Token()
	require.NoError(t, err)
	assert.Equal(t, "cached-access", tok)
}

func TestLogout(t *testing.T) {
	m := newTestManager(t)

	// Nothing cached yet.
	removed, err := m.Logout()
	require.NoError(t, err)
	assert.False(t, removed)

	saveRecord(t, m, &oauth2.Token{AccessToken: "cached-access"})

	removed, err = m.Logout()
	require.NoError(t, err)
	assert.True(t, removed)

	rec, err := tokenfile.Load(m.tokenPath)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAuthCodeFlow_Success(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-code", r.Form.Get("code"))
		assert.NotEmpty(t, r.Form.Get("code_verifier"), "exchange must use PKCE")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "flow-access",
			"token_type": "bearer",
			"refresh_token": "flow-refresh",
			"expires_in": 14400
		}`))
	}))
	t.Cleanup(tokenSrv.Close)

	path := filepath.Join(t.TempDir(), "token.json")
	m := NewManager(path, "test-app-key", "test-app-secret", http.DefaultClient, slog.Default())
	m.endpoint = oauth2.Endpoint{AuthURL: tokenSrv.URL + "/authorize", TokenURL: tokenSrv.URL}

	// Stand in for the browser: extract the state from the auth URL and
	// hit the local callback with it.
	m.SetOpenURL(func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}

		q := u.Query()
		assert.Equal(t, "offline", q.Get("token_access_type"))

		go func() {
			resp, getErr := http.Get("http://" + redirectAddr + "/?state=" +
				url.QueryEscape(q.Get("state")) + "&code=test-code")
			if getErr == nil {
				resp.Body.Close()
			}
		}()

		return nil
	})

	rec, err := m.Authorize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "flow-access", rec.Token.AccessToken)
	assert.Equal(t, "flow-refresh", rec.Token.RefreshToken)

	loaded, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "flow-access", loaded.Token.AccessToken)
}

func TestAuthCodeFlow_StateMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	m := NewManager(path, "test-app-key", "test-app-secret", http.DefaultClient, slog.Default())

	m.SetOpenURL(func(_ string) error {
		go func() {
			resp, getErr := http.Get("http://" + redirectAddr + "/?state=wrong&code=test-code")
			if getErr == nil {
				resp.Body.Close()
			}
		}()

		return nil
	})

	_, err := m.Authorize(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")
}

func TestExpired(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	m.now = func() time.Time { return now }

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"zero expiry never expires", time.Time{}, false},
		{"well in the future", now.Add(2 * time.Minute), false},
		{"inside leeway window", now.Add(30 * time.Second), true},
		{"in the past", now.Add(-30 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.expired(&oauth2.Token{Expiry: tt.expiry}))
		})
	}
}

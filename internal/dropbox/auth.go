package dropbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/mtuomi/dropbox-go/internal/config"
	"github.com/mtuomi/dropbox-go/internal/tokenfile"
)

// Fixed OAuth2 endpoints for the Dropbox API.
const (
	AuthURL  = "https://www.dropbox.com/oauth2/authorize"
	TokenURL = "https://api.dropboxapi.com/oauth2/token"
)

// redirectAddr is the fixed local redirect target for the interactive
// flow. Dropbox requires the redirect URI to match the app registration
// exactly, so the port cannot be random.
const redirectAddr = "127.0.0.1:53682"

// redirectURL must be registered on the Dropbox app console.
const redirectURL = "http://localhost:53682/"

// expiryLeeway is subtracted from the token expiry so a token about to
// expire mid-request is refreshed proactively.
const expiryLeeway = 60 * time.Second

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// Manager owns the token cache at a single path and decides, on every
// token request, whether the cached record is reusable, silently
// refreshable, or requires a full interactive authorization:
//
//   - no cache (or corrupt cache)          -> full authorization
//   - cached, not expired (60 s leeway)    -> reuse as-is
//   - cached, expired, has refresh token   -> refresh, persist, return
//   - cached, expired, no refresh token    -> full authorization
//
// A record with no expiry never expires. Refresh failure surfaces as
// ErrRefreshFailed rather than silently falling back to interactive
// authorization, so unattended callers fail fast instead of blocking
// on a browser prompt.
type Manager struct {
	tokenPath  string
	appKey     string
	appSecret  string
	httpClient *http.Client
	logger     *slog.Logger

	// openURL launches the browser for interactive authorization. When
	// it fails or is unset, the URL is printed to stderr instead.
	openURL func(string) error

	// now and authorize are test seams: now drives expiry decisions,
	// authorize replaces the interactive browser flow.
	now       func() time.Time
	authorize func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)

	// endpoint overrides the fixed Dropbox endpoints in tests.
	endpoint oauth2.Endpoint
}

// NewManager creates a token lifecycle manager for the cache at
// tokenPath. appKey/appSecret may be empty; they are resolved (falling
// back to DROPBOX_KEY/DROPBOX_SECRET) only when a full authorization is
// actually needed.
func NewManager(tokenPath, appKey, appSecret string, httpClient *http.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	m := &Manager{
		tokenPath:  tokenPath,
		appKey:     appKey,
		appSecret:  appSecret,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		endpoint:   oauth2.Endpoint{AuthURL: AuthURL, TokenURL: TokenURL},
	}
	m.authorize = m.authCodeFlow

	return m
}

// SetOpenURL installs the browser launcher used by interactive
// authorization.
func (m *Manager) SetOpenURL(openURL func(string) error) {
	m.openURL = openURL
}

// Authorize runs the lifecycle state machine and returns a usable token
// record. force skips the cache entirely and runs a full interactive
// authorization.
func (m *Manager) Authorize(ctx context.Context, force bool) (*tokenfile.Record, error) {
	if force {
		m.logger.Info("forced re-authorization requested", slog.String("path", m.tokenPath))
		return m.fullAuth(ctx)
	}

	rec, err := tokenfile.Load(m.tokenPath)
	if errors.Is(err, tokenfile.ErrCorrupt) {
		// A corrupt cache is treated like no cache at all.
		m.logger.Warn("token cache is corrupt, re-authorizing",
			slog.String("path", m.tokenPath),
			slog.String("error", err.Error()),
		)

		rec = nil
	} else if err != nil {
		return nil, err
	}

	if rec == nil {
		m.logger.Info("no cached token, starting authorization",
			slog.String("path", m.tokenPath),
		)

		return m.fullAuth(ctx)
	}

	if !m.expired(rec.Token) {
		m.logger.Info("using cached token",
			slog.String("path", m.tokenPath),
			slog.Time("expiry", rec.Token.Expiry),
		)

		return rec, nil
	}

	if rec.Token.RefreshToken != "" {
		return m.refresh(ctx, rec)
	}

	m.logger.Info("cached token expired with no refresh token, re-authorizing",
		slog.String("path", m.tokenPath),
	)

	return m.fullAuth(ctx)
}

// Source binds ctx to the manager so it can serve as the client's
// TokenSource. ctx must outlive the returned source.
func (m *Manager) Source(ctx context.Context) TokenSource {
	return &managerSource{ctx: ctx, m: m}
}

type managerSource struct {
	ctx context.Context
	m   *Manager
}

func (s *managerSource) Token() (string, error) {
	rec, err := s.m.Authorize(s.ctx, false)
	if err != nil {
		return "", err
	}

	return rec.Token.AccessToken, nil
}

// Logout removes the token cache. Reports whether a cached token existed.
func (m *Manager) Logout() (bool, error) {
	removed, err := tokenfile.Clear(m.tokenPath)
	if err != nil {
		return false, err
	}

	if removed {
		m.logger.Info("token cache cleared", slog.String("path", m.tokenPath))
	} else {
		m.logger.Info("no token cache to clear", slog.String("path", m.tokenPath))
	}

	return removed, nil
}

// expired reports whether the token is within the leeway window of its
// expiry. A zero expiry means the token never expires.
func (m *Manager) expired(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}

	return m.now().Add(expiryLeeway).After(tok.Expiry)
}

// refresh exchanges the stored refresh token for a new access token
// using the client credentials captured in the record, then persists
// the refreshed record. Failure surfaces as ErrRefreshFailed; the
// caller decides whether to force a fresh interactive login.
func (m *Manager) refresh(ctx context.Context, rec *tokenfile.Record) (*tokenfile.Record, error) {
	m.logger.Info("refreshing expired token",
		slog.String("path", m.tokenPath),
		slog.Time("expiry", rec.Token.Expiry),
	)

	cfg := &oauth2.Config{
		ClientID:     rec.AppKey,
		ClientSecret: rec.AppSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: rec.TokenEndpoint},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	// A token with no access token forces TokenSource to hit the token
	// endpoint immediately.
	stale := &oauth2.Token{RefreshToken: rec.Token.RefreshToken}

	newTok, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	// Dropbox does not rotate refresh tokens; keep the stored one when
	// the response omits it.
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = rec.Token.RefreshToken
	}

	refreshed := &tokenfile.Record{
		Token:         newTok,
		AppKey:        rec.AppKey,
		AppSecret:     rec.AppSecret,
		TokenEndpoint: rec.TokenEndpoint,
	}

	if err := tokenfile.Save(m.tokenPath, refreshed); err != nil {
		return nil, fmt.Errorf("dropbox: persisting refreshed token: %w", err)
	}

	m.logger.Info("token refreshed and cached",
		slog.String("path", m.tokenPath),
		slog.Time("expiry", newTok.Expiry),
	)

	return refreshed, nil
}

// fullAuth resolves app credentials, runs the interactive authorization
// flow, and persists the resulting record.
func (m *Manager) fullAuth(ctx context.Context) (*tokenfile.Record, error) {
	creds, err := config.ResolveCredentials(m.appKey, m.appSecret)
	if err != nil {
		return nil, err
	}

	cfg := &oauth2.Config{
		ClientID:     creds.AppKey,
		ClientSecret: creds.AppSecret,
		Endpoint:     m.endpoint,
		RedirectURL:  redirectURL,
	}

	tok, err := m.authorize(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rec := &tokenfile.Record{
		Token:         tok,
		AppKey:        creds.AppKey,
		AppSecret:     creds.AppSecret,
		TokenEndpoint: cfg.Endpoint.TokenURL,
	}

	if saveErr := tokenfile.Save(m.tokenPath, rec); saveErr != nil {
		return nil, fmt.Errorf("dropbox: saving token: %w", saveErr)
	}

	m.logger.Info("authorization successful, token cached",
		slog.String("path", m.tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return rec, nil
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// authCodeFlow performs the authorization code + PKCE flow:
//  1. Binds the fixed localhost callback address
//  2. Opens the browser to Dropbox's authorization endpoint, requesting
//     offline access so a refresh token is issued
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens using PKCE
//
// This step is interactive and blocks until the user authorizes or ctx
// is canceled.
func (m *Manager) authCodeFlow(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	m.logger.Info("starting browser auth flow (authorization code + PKCE)")

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, err := startCallbackServer(ctx, mux, resultCh, m.logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, m.logger)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("dropbox: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	// token_access_type=offline is Dropbox's spelling of "issue a
	// refresh token".
	authURL := cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"),
	)

	m.launchBrowser(authURL)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	m.logger.Info("received authorization code, exchanging for token")

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("dropbox: token exchange failed: %w", err)
	}

	return tok, nil
}

// startCallbackServer binds the fixed redirect address and starts an
// HTTP server with the given mux.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", redirectAddr)
	if err != nil {
		return nil, fmt.Errorf("dropbox: binding %s for OAuth callback: %w", redirectAddr, err)
	}

	logger.Info("callback server listening", slog.String("addr", redirectAddr))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("dropbox: callback server error: %w", serveErr)}
		}
	}()

	return srv, nil
}

// registerCallbackHandler adds the callback route to the mux.
// Must be called before the browser redirects back.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	// Validate state to prevent CSRF.
	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("dropbox: OAuth2 state mismatch (possible CSRF)")}

		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("dropbox: authorization failed: %s: %s", errParam, desc)}

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("dropbox: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL. If it fails, prints the
// URL to stderr so the user can copy-paste it.
func (m *Manager) launchBrowser(authURL string) {
	if m.openURL != nil {
		m.logger.Info("opening browser for authorization")

		if openErr := m.openURL(authURL); openErr == nil {
			return
		}

		m.logger.Warn("failed to open browser, printing URL")
	}

	fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("dropbox: browser auth canceled: %w", ctx.Err())
	}
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

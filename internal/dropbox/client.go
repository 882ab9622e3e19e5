package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf16"
)

// The two fixed API bases. Control (RPC) endpoints take JSON bodies;
// content endpoints move file bytes and carry their arguments in the
// Dropbox-API-Arg header.
const (
	ControlBaseURL = "https://api.dropboxapi.com/2"
	ContentBaseURL = "https://content.dropboxapi.com/2"
)

const userAgent = "dropbox-go/0.1"

// API selects which base URL a request goes to.
type API string

// Valid API categories.
const (
	APIControl API = "api"
	APIContent API = "content"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// per Go convention "accept interfaces, return structs". The lifecycle
// Manager is the usual implementation; StaticTokenSource adapts a
// caller-supplied bearer string.
type TokenSource interface {
	Token() (string, error)
}

// StaticTokenSource returns a TokenSource that always yields the given
// bearer token, bypassing the cache and refresh machinery.
func StaticTokenSource(bearer string) TokenSource {
	return staticToken(bearer)
}

type staticToken string

func (t staticToken) Token() (string, error) {
	return string(t), nil
}

// Client is an HTTP client for the Dropbox API v2. It handles request
// construction, bearer authentication, and error classification.
// Requests are single-shot: no retries, no backoff.
type Client struct {
	controlURL string
	contentURL string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a Dropbox API client bound to the fixed API bases.
// token is typically a *Manager; pass StaticTokenSource for a raw
// bearer string. A nil token is allowed at construction; requests then
// fail with ErrNoToken.
func NewClient(token TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		controlURL: ControlBaseURL,
		contentURL: ContentBaseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// baseURL maps an API category to its base address.
func (c *Client) baseURL(api API) (string, error) {
	switch api {
	case APIControl:
		return c.controlURL, nil
	case APIContent:
		return c.contentURL, nil
	default:
		return "", fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidAPI, api, APIControl, APIContent)
	}
}

// newRequest builds an authenticated request against the given API
// category. arg, when non-nil, is serialized into the Dropbox-API-Arg
// header (content endpoints only).
func (c *Client) newRequest(
	ctx context.Context, api API, path string, body io.Reader, arg any,
) (*http.Request, error) {
	base, err := c.baseURL(api)
	if err != nil {
		return nil, err
	}

	if c.token == nil {
		return nil, fmt.Errorf("%w: client has no token source", ErrNoToken)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("dropbox: obtaining token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, body)
	if err != nil {
		return nil, fmt.Errorf("dropbox: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if arg != nil {
		hdr, argErr := apiArg(arg)
		if argErr != nil {
			return nil, argErr
		}

		req.Header.Set("Dropbox-API-Arg", hdr)
	}

	return req, nil
}

// do executes a single request. Non-2xx responses are read, closed, and
// classified into an *APIError; the caller owns the body on success.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dropbox: %s %s: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Warn("request failed",
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
	)

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		Summary:    errorSummary(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// call performs a control (RPC) request: JSON in, JSON out. A nil
// reqBody sends an empty body; a nil respBody discards the response.
func (c *Client) call(ctx context.Context, path string, reqBody, respBody any) error {
	var body io.Reader

	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("dropbox: encoding %s request: %w", path, err)
		}

		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, APIControl, path, body, nil)
	if err != nil {
		return err
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if respBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("dropbox: decoding %s response: %w", path, err)
	}

	return nil
}

// errorSummary extracts Dropbox's error_summary from a JSON error body,
// falling back to the raw body text.
func errorSummary(body []byte) string {
	var parsed struct {
		ErrorSummary string `json:"error_summary"`
	}

	if err := json.Unmarshal(body, &parsed); err == nil && parsed.ErrorSummary != "" {
		return parsed.ErrorSummary
	}

	return strings.TrimSpace(string(body))
}

// apiArg serializes v as compact JSON safe for an HTTP header. Dropbox
// requires every non-ASCII character in Dropbox-API-Arg to be escaped
// as \uXXXX (surrogate pairs above the BMP).
func apiArg(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("dropbox: encoding API arg: %w", err)
	}

	var b strings.Builder
	b.Grow(len(data))

	for _, r := range string(data) {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
			continue
		}

		for _, u := range utf16.Encode([]rune{r}) {
			fmt.Fprintf(&b, `\u%04x`, u)
		}
	}

	return b.String(), nil
}

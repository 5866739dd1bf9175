// Package mediaapi calls the serverless function that mints short-lived
// signed URLs for audiobook content.
package mediaapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/audiocast/internal/config"
	"github.com/jmylchreest/audiocast/internal/version"
	"github.com/jmylchreest/audiocast/pkg/httpclient"
)

// Sentinel errors.
var (
	ErrNoToken         = errors.New("no session token")
	ErrInvalidResponse = errors.New("invalid signed url response")
	ErrNotConfigured   = errors.New("media api base url is not configured")
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 * 1024

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("media api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("media api returned status %d: %s", e.StatusCode, e.Message)
}

// SignedURL is a minted URL and its lifetime.
type SignedURL struct {
	URL       string
	ExpiresIn time.Duration
}

// TokenSource supplies the bearer token of the signed-in session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed TokenSource. An empty token yields ErrNoToken.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// URLSource mints signed URLs for content.
type URLSource interface {
	GetSignedURL(ctx context.Context, contentID string) (SignedURL, error)
}

type signRequest struct {
	ContentID string `json:"contentId"`
}

type signResponse struct {
	URL       string  `json:"url"`
	ExpiresIn float64 `json:"expiresIn"`
	Error     string  `json:"error,omitempty"`
}

// Client is the signed media URL API client.
type Client struct {
	endpoint string
	anonKey  string
	tokens   TokenSource
	http     *httpclient.Client
	logger   *slog.Logger
}

// New creates a client for cfg.
func New(cfg config.MediaAPIConfig, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if tokens == nil {
		tokens = StaticToken(cfg.AccessToken)
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.RetryAttempts = cfg.RetryAttempts
	hc.RetryDelay = cfg.RetryDelay
	hc.CircuitThreshold = cfg.CircuitThreshold
	hc.CircuitTimeout = cfg.CircuitTimeout
	hc.UserAgent = version.UserAgent()
	hc.Logger = logger

	endpoint := ""
	if cfg.BaseURL != "" {
		endpoint = cfg.SignedURLEndpoint()
	}

	return &Client{
		endpoint: endpoint,
		anonKey:  cfg.AnonKey,
		tokens:   tokens,
		http:     httpclient.New(hc),
		logger:   logger,
	}
}

// GetSignedURL requests a signed URL for contentID.
func (c *Client) GetSignedURL(ctx context.Context, contentID string) (SignedURL, error) {
	if c.endpoint == "" {
		return SignedURL{}, ErrNotConfigured
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return SignedURL{}, fmt.Errorf("getting session token: %w", err)
	}

	body, err := json.Marshal(signRequest{ContentID: contentID})
	if err != nil {
		return SignedURL{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return SignedURL{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return SignedURL{}, fmt.Errorf("requesting signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SignedURL{}, readAPIError(resp)
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SignedURL{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if out.URL == "" || out.ExpiresIn <= 0 {
		return SignedURL{}, fmt.Errorf("%w: missing url or expiry", ErrInvalidResponse)
	}

	c.logger.DebugContext(ctx, "signed url minted",
		slog.String("content_id", contentID),
		slog.Float64("expires_in_s", out.ExpiresIn),
	)

	return SignedURL{
		URL:       out.URL,
		ExpiresIn: time.Duration(out.ExpiresIn * float64(time.Second)),
	}, nil
}

// CircuitState exposes the transport breaker state for health reporting.
func (c *Client) CircuitState() httpclient.CircuitState {
	return c.http.CircuitState()
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body signResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else if s := strings.TrimSpace(string(data)); s != "" && !strings.HasPrefix(s, "{") {
		apiErr.Message = s
	}
	return apiErr
}

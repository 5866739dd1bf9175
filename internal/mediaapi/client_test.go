package mediaapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmylchreest/audiocast/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.MediaAPIConfig {
	return config.MediaAPIConfig{
		BaseURL:       baseURL,
		FunctionPath:  "/functions/v1/get-audio-url",
		AnonKey:       "anon-key",
		AccessToken:   "session-token",
		Timeout:       5 * time.Second,
		RetryAttempts: 0,
	}
}

func TestGetSignedURL_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/functions/v1/get-audio-url", r.URL.Path)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "book-42", req["contentId"])

		_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://cdn.example.test/book-42.mp3?sig=1", "expiresIn": 3600})
	}))
	defer server.Close()

	c := New(testConfig(server.URL), nil, nil)
	got, err := c.GetSignedURL(context.Background(), "book-42")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.test/book-42.mp3?sig=1", got.URL)
	assert.Equal(t, time.Hour, got.ExpiresIn)
}

func TestGetSignedURL_APIError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json error", http.StatusForbidden, `{"error":"not purchased"}`, "not purchased"},
		{"plain text", http.StatusNotFound, "no such book", "no such book"},
		{"empty", http.StatusUnauthorized, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(testConfig(server.URL), nil, nil).GetSignedURL(context.Background(), "book-1")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestGetSignedURL_InvalidResponse(t *testing.T) {
	for _, body := range []string{`not json`, `{"url":""}`, `{"url":"https://x","expiresIn":0}`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		_, err := New(testConfig(server.URL), nil, nil).GetSignedURL(context.Background(), "book-1")
		assert.ErrorIs(t, err, ErrInvalidResponse, body)
		server.Close()
	}
}

func TestGetSignedURL_NoToken(t *testing.T) {
	cfg := testConfig("https://api.example.test")
	cfg.AccessToken = ""

	_, err := New(cfg, nil, nil).GetSignedURL(context.Background(), "book-1")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestGetSignedURL_NotConfigured(t *testing.T) {
	_, err := New(testConfig(""), nil, nil).GetSignedURL(context.Background(), "book-1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAPIError_Error(t *testing.T) {
	assert.Equal(t, "media api returned status 500", (&APIError{StatusCode: 500}).Error())
	assert.Equal(t, "media api returned status 403: nope", (&APIError{StatusCode: 403, Message: "nope"}).Error())
}

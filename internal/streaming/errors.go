package streaming

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmylchreest/audiocast/internal/mediaapi"
	"github.com/jmylchreest/audiocast/pkg/httpclient"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("streaming controller is closed")

// UserMessage converts err into a short message suitable for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *mediaapi.APIError
	switch {
	case errors.Is(err, ErrClosed):
		return "Playback has been stopped."
	case errors.Is(err, mediaapi.ErrNoToken):
		return "Please sign in to listen."
	case errors.Is(err, mediaapi.ErrNotConfigured):
		return "Audio streaming is not configured."
	case errors.Is(err, httpclient.ErrCircuitOpen):
		return "The audio service is temporarily unavailable. Please try again shortly."
	case errors.Is(err, context.DeadlineExceeded):
		return "Loading the audio timed out. Please try again."
	case errors.Is(err, context.Canceled):
		return "Loading the audio was cancelled."
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "You do not have access to this audiobook."
		case http.StatusNotFound:
			return "This audiobook could not be found."
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "The audio service returned an error. Please try again."
	default:
		return "Failed to load audio. Please try again."
	}
}

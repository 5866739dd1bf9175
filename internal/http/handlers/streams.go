package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/audiocast/internal/observability"
	"github.com/jmylchreest/audiocast/internal/session"
	"github.com/jmylchreest/audiocast/internal/streaming"
)

// StreamHandler manages streaming controllers of the session.
type StreamHandler struct {
	sessions *session.Service
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(sessions *session.Service) *StreamHandler {
	return &StreamHandler{sessions: sessions}
}

// StreamPathInput identifies a stream.
type StreamPathInput struct {
	ContentID string `path:"contentId" minLength:"1" maxLength:"128" doc:"Content id"`
}

// StreamResponse is a controller state.
type StreamResponse struct {
	streaming.State
	ControllerID string `json:"controller_id"`
	Created      bool   `json:"created,omitempty"`
}

// StreamOutput wraps a stream response.
type StreamOutput struct {
	Body StreamResponse
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct{}

// ListStreamsOutput lists open streams.
type ListStreamsOutput struct {
	Body struct {
		Streams []streaming.State `json:"streams"`
	}
}

// SignOutInput is the input for sign-out.
type SignOutInput struct{}

// SignOutOutput reports how many streams were closed.
type SignOutOutput struct {
	Body struct {
		StreamsClosed int `json:"streams_closed"`
	}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      http.MethodGet,
		Path:        "/api/v1/streams",
		Summary:     "List open streams",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "openStream",
		Method:      http.MethodPost,
		Path:        "/api/v1/streams/{contentId}",
		Summary:     "Open a stream",
		Description: "Opens or reuses the controller for a content id and fetches its signed URL. Fetch failures are reported in the state error field.",
		Tags:        []string{"Streams"},
	}, h.Open)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      http.MethodGet,
		Path:        "/api/v1/streams/{contentId}",
		Summary:     "Get stream state",
		Tags:        []string{"Streams"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "refreshStream",
		Method:      http.MethodPost,
		Path:        "/api/v1/streams/{contentId}/refresh",
		Summary:     "Force a new signed URL",
		Tags:        []string{"Streams"},
	}, h.Refresh)

	huma.Register(api, huma.Operation{
		OperationID:   "closeStream",
		Method:        http.MethodDelete,
		Path:          "/api/v1/streams/{contentId}",
		Summary:       "Close a stream",
		Tags:          []string{"Streams"},
		DefaultStatus: http.StatusNoContent,
	}, h.Close)

	huma.Register(api, huma.Operation{
		OperationID: "signOut",
		Method:      http.MethodDelete,
		Path:        "/api/v1/session",
		Summary:     "Sign out",
		Description: "Closes every stream and clears the signed URL cache",
		Tags:        []string{"Session"},
	}, h.SignOut)
}

// List returns all open streams.
func (h *StreamHandler) List(_ context.Context, _ *ListStreamsInput) (*ListStreamsOutput, error) {
	out := &ListStreamsOutput{}
	out.Body.Streams = h.sessions.States()
	return out, nil
}

// Open opens a stream and fetches its URL.
func (h *StreamHandler) Open(ctx context.Context, input *StreamPathInput) (*StreamOutput, error) {
	ctrl, created, err := h.sessions.Open(input.ContentID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid content id", err)
	}

	if err := ctrl.FetchStreamingURL(ctx, false); err != nil {
		observability.WithError(observability.LoggerFromContext(ctx), err).
			WarnContext(ctx, "signed url fetch failed", slog.String("content_id", input.ContentID))
	}
	return streamOutput(ctrl, created), nil
}

// Get returns the state of an open stream.
func (h *StreamHandler) Get(_ context.Context, input *StreamPathInput) (*StreamOutput, error) {
	ctrl, ok := h.sessions.Get(input.ContentID)
	if !ok {
		return nil, huma.Error404NotFound("stream not open")
	}
	return streamOutput(ctrl, false), nil
}

// Refresh forces a signed URL refresh.
func (h *StreamHandler) Refresh(ctx context.Context, input *StreamPathInput) (*StreamOutput, error) {
	ctrl, ok := h.sessions.Get(input.ContentID)
	if !ok {
		return nil, huma.Error404NotFound("stream not open")
	}
	_ = ctrl.Refresh(ctx)
	return streamOutput(ctrl, false), nil
}

// Close tears down a stream.
func (h *StreamHandler) Close(_ context.Context, input *StreamPathInput) (*struct{}, error) {
	if !h.sessions.CloseStream(input.ContentID) {
		return nil, huma.Error404NotFound("stream not open")
	}
	return nil, nil
}

// SignOut closes all streams and clears the URL cache.
func (h *StreamHandler) SignOut(ctx context.Context, _ *SignOutInput) (*SignOutOutput, error) {
	out := &SignOutOutput{}
	out.Body.StreamsClosed = h.sessions.SignOut(ctx)
	return out, nil
}

func streamOutput(ctrl *streaming.Controller, created bool) *StreamOutput {
	return &StreamOutput{Body: StreamResponse{
		State:        ctrl.State(),
		ControllerID: ctrl.ID(),
		Created:      created,
	}}
}

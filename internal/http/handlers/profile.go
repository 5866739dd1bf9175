package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/internal/policy"
)

// ProfileHandler exposes the network and device profile and, when signals
// are manually controlled, lets clients report connection changes.
type ProfileHandler struct {
	profiler *netprofile.Profiler
	conn     *netprofile.ManualConnection
	policy   *policy.Policy
}

// NewProfileHandler creates a profile handler. conn may be nil, in which case
// network updates are rejected.
func NewProfileHandler(profiler *netprofile.Profiler, conn *netprofile.ManualConnection) *ProfileHandler {
	return &ProfileHandler{
		profiler: profiler,
		conn:     conn,
		policy:   policy.New(profiler, nil),
	}
}

// ProfileResponse is the current classification and derived policy.
type ProfileResponse struct {
	Network            netprofile.NetworkInfo `json:"network"`
	Device             netprofile.DeviceInfo  `json:"device"`
	Config             policy.StreamingConfig `json:"config"`
	OptimalBufferBytes int64                  `json:"optimal_buffer_bytes"`
	PrefetchEligible   bool                   `json:"prefetch_eligible"`
	IdlePreload        policy.PreloadMode     `json:"idle_preload"`
}

// GetProfileInput is the input for the profile endpoint.
type GetProfileInput struct{}

// GetProfileOutput is the output for the profile endpoint.
type GetProfileOutput struct {
	Body ProfileResponse
}

// NetworkUpdate reports new connection signals. Setting available to false
// simulates a platform without a connection API.
type NetworkUpdate struct {
	Available     *bool   `json:"available,omitempty" doc:"False disables connection signals"`
	EffectiveType string  `json:"effective_type,omitempty" enum:"slow-2g,2g,3g,4g,5g,wifi,ethernet,unknown" doc:"Effective connection type"`
	DownlinkMbps  float64 `json:"downlink_mbps,omitempty" minimum:"0" doc:"Downlink estimate in Mbps"`
	RTTMillis     int     `json:"rtt_ms,omitempty" minimum:"0" doc:"Round trip estimate in milliseconds"`
	SaveData      bool    `json:"save_data,omitempty" doc:"Data saver preference"`
}

// UpdateNetworkInput is the input for the network update endpoint.
type UpdateNetworkInput struct {
	Body NetworkUpdate
}

// UpdateNetworkOutput is the output for the network update endpoint.
type UpdateNetworkOutput struct {
	Body netprofile.NetworkInfo
}

// Register registers the profile routes with the API.
func (h *ProfileHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getProfile",
		Method:      http.MethodGet,
		Path:        "/api/v1/profile",
		Summary:     "Get network and device profile",
		Description: "Returns network info, device info, the optimal streaming config and buffer size",
		Tags:        []string{"Profile"},
	}, h.GetProfile)

	huma.Register(api, huma.Operation{
		OperationID: "updateNetwork",
		Method:      http.MethodPut,
		Path:        "/api/v1/network",
		Summary:     "Report connection signals",
		Description: "Replaces the manual connection signals and notifies open streams",
		Tags:        []string{"Profile"},
	}, h.UpdateNetwork)
}

// GetProfile returns the current profile.
func (h *ProfileHandler) GetProfile(_ context.Context, _ *GetProfileInput) (*GetProfileOutput, error) {
	return &GetProfileOutput{Body: ProfileResponse{
		Network:            h.profiler.GetNetworkInfo(),
		Device:             h.profiler.GetDeviceInfo(),
		Config:             h.policy.OptimalStreamingConfig(),
		OptimalBufferBytes: h.policy.OptimalBufferSize(),
		PrefetchEligible:   h.policy.ShouldEnablePrefetch(),
		IdlePreload:        h.policy.RecommendedPreload(false),
	}}, nil
}

// UpdateNetwork applies new connection signals.
func (h *ProfileHandler) UpdateNetwork(_ context.Context, input *UpdateNetworkInput) (*UpdateNetworkOutput, error) {
	if h.conn == nil {
		return nil, huma.Error409Conflict("connection signals are not manually controlled")
	}

	if input.Body.Available != nil && !*input.Body.Available {
		h.conn.Disable()
	} else {
		h.conn.Set(netprofile.Connection{
			EffectiveType: input.Body.EffectiveType,
			DownlinkMbps:  input.Body.DownlinkMbps,
			RTTMillis:     input.Body.RTTMillis,
			SaveData:      input.Body.SaveData,
		})
	}

	return &UpdateNetworkOutput{Body: h.profiler.GetNetworkInfo()}, nil
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmylchreest/audiocast/internal/netprofile"
	"github.com/jmylchreest/audiocast/internal/observability"
	"github.com/jmylchreest/audiocast/internal/policy"
	"github.com/jmylchreest/audiocast/pkg/format"
	"github.com/spf13/cobra"
)

var profileJSON bool

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the network and device profile and derived streaming config",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := slog.Default()

		profiler := netprofile.NewProfiler(newConnection(cfg.Network), newDeviceSource(cfg.Device, logger),
			netprofile.WithLogger(observability.WithComponent(logger, "netprofile")))
		return printProfile(cmd.OutOrStdout(), profiler, profileJSON)
	},
}

func init() {
	profileCmd.Flags().BoolVar(&profileJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(profileCmd)
}

type profileReport struct {
	Network     netprofile.NetworkInfo `json:"network"`
	Device      netprofile.DeviceInfo  `json:"device"`
	Config      policy.StreamingConfig `json:"config"`
	BufferBytes int64                  `json:"optimal_buffer_bytes"`
	Prefetch    bool                   `json:"prefetch_eligible"`
}

func printProfile(w io.Writer, profiler *netprofile.Profiler, asJSON bool) error {
	p := policy.New(profiler, nil)
	r := profileReport{
		Network:     profiler.GetNetworkInfo(),
		Device:      profiler.GetDeviceInfo(),
		Config:      p.OptimalStreamingConfig(),
		BufferBytes: p.OptimalBufferSize(),
		Prefetch:    p.ShouldEnablePrefetch(),
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	memory := "unknown"
	if r.Device.MemoryGiB != nil {
		memory = fmt.Sprintf("%.1f GiB", *r.Device.MemoryGiB)
	}

	fmt.Fprintf(w, "Network:   %s (%s, %s down, %s rtt, save-data %t)\n",
		r.Network.Quality, r.Network.EffectiveType, format.Mbps(r.Network.DownlinkMbps),
		format.Millis(r.Network.RTTMillis), r.Network.SaveData)
	fmt.Fprintf(w, "Device:    %s (%s screen, touch %t, %d cores, %s memory, good performance %t)\n",
		r.Device.Type, r.Device.ScreenSize, r.Device.IsTouch, r.Device.CoreCount, memory, r.Device.HasGoodPerformance)
	fmt.Fprintf(w, "Preload:   %s\n", r.Config.PreloadMode)
	fmt.Fprintf(w, "Chunk:     %s (%s bytes)\n", format.Bytes(r.Config.ChunkSizeBytes), format.Number(r.Config.ChunkSizeBytes))
	fmt.Fprintf(w, "Buffer:    %s (optimal %s)\n", format.Bytes(r.Config.BufferSizeBytes), format.Bytes(r.BufferBytes))
	fmt.Fprintf(w, "Downloads: %d concurrent\n", r.Config.MaxConcurrentDownloads)
	fmt.Fprintf(w, "Prefetch:  %t\n", r.Prefetch)
	fmt.Fprintf(w, "Cache:     %t\n", r.Config.CacheEnabled)
	return nil
}

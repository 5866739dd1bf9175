package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jmylchreest/audiocast/internal/observability"
	"github.com/jmylchreest/audiocast/internal/playback"
	"github.com/jmylchreest/audiocast/internal/streaming"
	"github.com/jmylchreest/audiocast/pkg/format"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <content-id>",
	Short: "Stream an audiobook to a file or stdout",
	Long: `Fetch a signed URL for the content and stream the audio in ranged
chunks, adapting chunk size and preload to the current network profile.

State transitions (buffering, renewals, degradation) are printed to stderr.

  audiocast play book-42 --out book-42.mp3
  audiocast play book-42 | mpv -`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().StringP("out", "o", "-", "output file, - for stdout")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()
	contentID := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl, _, err := a.sessions.Open(contentID)
	if err != nil {
		return err
	}

	reporter := &stateReporter{w: cmd.ErrOrStderr()}
	unsubscribe := ctrl.Subscribe(reporter.report)
	defer unsubscribe()

	if err := ctrl.FetchStreamingURL(ctx, false); err != nil {
		return errors.New(streaming.UserMessage(err))
	}

	outPath, _ := cmd.Flags().GetString("out")
	var out io.Writer = cmd.OutOrStdout()
	if outPath != "-" {
		f, err := os.Create(outPath) //nolint:gosec // user supplied output path
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}

	el := playback.NewHTTPElement(a.cdn, out,
		playback.WithElementLogger(observability.WithContentID(observability.WithComponent(logger, "playback"), contentID)))
	detach := ctrl.AttachAudioElement(el)
	defer detach()

	started := time.Now()
	if err := el.Load(ctx); err != nil {
		return errors.New(streaming.UserMessage(err))
	}
	if err := el.Play(ctx); err != nil {
		return errors.New(streaming.UserMessage(err))
	}
	if err := el.Wait(ctx); err != nil {
		return errors.New(streaming.UserMessage(err))
	}

	elapsed := time.Since(started)
	mbps := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		mbps = float64(el.Position()) * 8 / secs / 1e6
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "done: %s in %s (%s)\n",
		format.Bytes(el.Position()), elapsed.Round(time.Millisecond), format.Mbps(mbps))
	return nil
}

// stateReporter prints a line whenever a user-visible part of the stream
// state changes.
type stateReporter struct {
	w io.Writer

	mu   sync.Mutex
	last *streaming.State
}

func (r *stateReporter) report(s streaming.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.last
	r.last = &s

	switch {
	case prev == nil || prev.Status != s.Status:
		line := fmt.Sprintf("status: %s", s.Status)
		if s.Status == streaming.StatusReady {
			line += ", url expires " + format.Until(s.ExpiresAt, time.Now())
		}
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Fprintln(r.w, line)
	case prev.Buffering != s.Buffering:
		if s.Buffering {
			fmt.Fprintln(r.w, "buffering...")
		} else {
			fmt.Fprintln(r.w, "playing")
		}
	case prev.Degraded != s.Degraded || prev.NetworkQuality != s.NetworkQuality:
		fmt.Fprintf(r.w, "network: %s, chunk %s, preload %s\n",
			s.NetworkQuality, format.Bytes(s.Config.ChunkSizeBytes), s.Config.PreloadMode)
	case prev.Error != s.Error && s.Error != "":
		fmt.Fprintf(r.w, "error: %s\n", s.Error)
	}
}

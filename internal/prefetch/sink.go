package prefetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jmylchreest/audiocast/pkg/httpclient"
)

// Recorder is a HintSink that records the live hint set.
type Recorder struct {
	mu      sync.Mutex
	live    map[string]Hint
	order   []string
	inserts int
	removes int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{live: make(map[string]Hint)}
}

func (r *Recorder) Insert(h Hint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[h.ID] = h
	r.order = append(r.order, h.ID)
	r.inserts++
}

func (r *Recorder) Remove(h Hint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h.ID]; ok {
		delete(r.live, h.ID)
		r.removes++
	}
}

// Live returns outstanding hints in insertion order.
func (r *Recorder) Live() []Hint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Hint, 0, len(r.live))
	for _, id := range r.order {
		if h, ok := r.live[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Counts returns the number of inserts and effective removes seen.
func (r *Recorder) Counts() (inserts, removes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserts, r.removes
}

// Warmer is a HintSink that issues a ranged GET for the first bytes of each
// hinted URL. Removing a hint cancels its warm-up.
type Warmer struct {
	client    *httpclient.Client
	warmBytes int64
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewWarmer creates a warmer that fetches warmBytes per hint.
func NewWarmer(client *httpclient.Client, warmBytes int64, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		client:    client,
		warmBytes: warmBytes,
		logger:    logger,
		inflight:  make(map[string]context.CancelFunc),
	}
}

// Insert starts the warm-up for h in the background.
func (w *Warmer) Insert(h Hint) {
	n := w.warmBytes
	if h.Priority == PriorityHigh {
		n *= 2
	}
	if n <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.inflight[h.ID] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.done(h.ID)

		read, err := w.warm(ctx, h.URL, n)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("prefetch warm-up failed", slog.String("hint_id", h.ID), slog.String("error", err.Error()))
			}
			return
		}
		w.logger.Debug("prefetch warm-up complete", slog.String("hint_id", h.ID), slog.Int64("bytes", read))
	}()
}

// Remove cancels the warm-up for h if it is still running.
func (w *Warmer) Remove(h Hint) {
	w.mu.Lock()
	cancel, ok := w.inflight[h.ID]
	delete(w.inflight, h.ID)
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

// Wait blocks until all warm-ups have finished.
func (w *Warmer) Wait() {
	w.wg.Wait()
}

func (w *Warmer) done(id string) {
	w.mu.Lock()
	cancel, ok := w.inflight[id]
	delete(w.inflight, id)
	w.mu.Unlock()
	if ok {
		cancel()
	}
}

func (w *Warmer) warm(ctx context.Context, url string, n int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", n-1))

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.Copy(io.Discard, io.LimitReader(resp.Body, n))
}

// Fanout forwards hints to every sink in order.
type Fanout []HintSink

func (f Fanout) Insert(h Hint) {
	for _, s := range f {
		s.Insert(h)
	}
}

func (f Fanout) Remove(h Hint) {
	for _, s := range f {
		s.Remove(h)
	}
}

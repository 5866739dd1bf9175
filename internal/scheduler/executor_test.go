package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	fn   func(ctx context.Context) (string, error)
}

func (j funcJob) Name() string { return j.name }
func (j funcJob) Execute(ctx context.Context) (string, error) { return j.fn(ctx) }

type countingPruner struct {
	calls atomic.Int32
	n     int
}

func (p *countingPruner) PruneCache(context.Context) int {
	p.calls.Add(1)
	return p.n
}

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name       string
		fn         func(ctx context.Context) (string, error)
		wantOutput string
		wantError  string
	}{
		{"success", func(context.Context) (string, error) { return "ok", nil }, "ok", ""},
		{"failure", func(context.Context) (string, error) { return "", errors.New("boom") }, "", "boom"},
		{"panic", func(context.Context) (string, error) { panic("kaboom") }, "", "panic: kaboom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor()
			result := e.Execute(context.Background(), funcJob{name: tt.name, fn: tt.fn})

			assert.Equal(t, tt.name, result.Job)
			assert.Equal(t, tt.wantOutput, result.Output)
			assert.Equal(t, tt.wantError, result.Error)
			assert.False(t, result.Started.IsZero())

			last, ok := e.LastResult(tt.name)
			require.True(t, ok)
			assert.Equal(t, result.Error, last.Error)
		})
	}
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor().WithTimeout(20 * time.Millisecond)
	result := e.Execute(context.Background(), funcJob{name: "slow", fn: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})
	assert.Contains(t, result.Error, "deadline exceeded")
}

func TestCachePruneHandler(t *testing.T) {
	p := &countingPruner{n: 3}
	h := NewCachePruneHandler(p)

	assert.Equal(t, "cache_prune", h.Name())
	out, err := h.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pruned 3 expired entries", out)
	assert.Equal(t, int32(1), p.calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), p.calls.Load())
}

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternhq/lantern/internal/ratelimit"
)

func TestGateSpacesCalls(t *testing.T) {
	gate := ratelimit.NewGate(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Wait(ctx))
	}

	// First call is immediate, the next two each wait one interval
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestGateWaitHonorsContextCancellation(t *testing.T) {
	gate := ratelimit.NewGate(time.Hour)
	ctx := context.Background()

	require.NoError(t, gate.Wait(ctx))

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, gate.Wait(cancelCtx))
}

func TestRegistrySharesGatePerHost(t *testing.T) {
	registry := ratelimit.NewRegistry()

	a := registry.Gate("api.example.com", 50*time.Millisecond)
	b := registry.Gate("api.example.com", 10*time.Millisecond)
	c := registry.Gate("other.example.com", 50*time.Millisecond)

	assert.Same(t, a, b, "same host must share one gate")
	assert.NotSame(t, a, c)
}

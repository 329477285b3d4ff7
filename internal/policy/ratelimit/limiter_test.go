package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	var delayed []string
	l.OnDelay(func(host string, _ time.Duration) { delayed = append(delayed, host) })

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://i.4cdn.org/g/1.jpg"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://i.4cdn.org/g/2.jpg"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Contains(t, delayed, "i.4cdn.org")
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.com/x"))
	}
}

func TestLimiterCancelled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.com/1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Wait(ctx, "https://a.com/2"), context.Canceled)
}

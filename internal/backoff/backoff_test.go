package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffMonotonicThenCapped(t *testing.T) {
	b := Exponential(time.Second, 30*time.Second).New()

	var prev time.Duration
	got := make([]time.Duration, 0, 8)
	for i := 0; i < 8; i++ {
		d := b.Next()
		require.GreaterOrEqual(t, d, prev, "delay must not decrease")
		require.LessOrEqual(t, d, 30*time.Second)
		prev = d
		got = append(got, d)
	}

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
}

func TestBackoffResetReturnsToFloor(t *testing.T) {
	b := Exponential(time.Second, 30*time.Second).New()
	for i := 0; i < 5; i++ {
		b.Next()
	}
	require.Equal(t, 30*time.Second, b.Peek())

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
}

func TestFixedPolicyNeverGrows(t *testing.T) {
	b := Fixed(time.Second).New()
	for i := 0; i < 4; i++ {
		assert.Equal(t, time.Second, b.Next())
	}
}

func TestPolicyNormalize(t *testing.T) {
	b := Policy{Floor: 0, Ceiling: 0, Factor: 0.5}.New()
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}

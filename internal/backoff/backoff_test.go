package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepReturnsAfterDuration(t *testing.T) {
	start := time.Now()
	err := Sleep(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSleepCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepZeroDuration(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestDelayGrowsExponentially(t *testing.T) {
	for i, expected := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	} {
		got := Delay(i, 100*time.Millisecond, 2, time.Minute, 0)
		assert.Equal(t, expected, got, "attempt %d", i)
	}
}

func TestDelayCapped(t *testing.T) {
	got := Delay(20, time.Second, 2, time.Minute, 0)
	assert.Equal(t, time.Minute, got)
}

func TestDelayJitterWithinBand(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		got := Delay(0, base, 2, time.Minute, 0.2)
		assert.GreaterOrEqual(t, got, 800*time.Millisecond)
		assert.LessOrEqual(t, got, 1200*time.Millisecond)
	}
}

func TestDelayZeroInitial(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(3, 0, 2, time.Minute, 0.2))
}

package stagger

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mention-scanner/internal/monitor"
)

func TestDelayMonotonicAndBelowWindow(t *testing.T) {
	t.Parallel()

	windows := []time.Duration{time.Second, 5 * time.Minute, 15 * time.Minute, 7919 * time.Millisecond}
	for _, window := range windows {
		for total := 2; total <= 64; total++ {
			prev := time.Duration(-1)
			for i := 0; i < total; i++ {
				d := Delay(i, total, window)
				require.GreaterOrEqual(t, d, prev, "window=%s total=%d index=%d", window, total, i)
				prev = d
			}
			require.Less(t, Delay(total-1, total, window), window)
		}
	}
}

func TestDelaySmallBatches(t *testing.T) {
	t.Parallel()

	require.Zero(t, Delay(0, 1, time.Minute))
	require.Zero(t, Delay(0, 0, time.Minute))
	require.Zero(t, Delay(0, 4, time.Minute))
}

func TestDelayFourMonitorsFiveMinuteWindow(t *testing.T) {
	t.Parallel()

	require.Equal(t, 150*time.Second, Delay(2, 4, 5*time.Minute))
}

func TestAddJitterBounds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		got := AddJitter(150*time.Second, 10, rng)
		require.GreaterOrEqual(t, got, 150*time.Second)
		require.Less(t, got, 165*time.Second)
	}
	require.Equal(t, time.Duration(0), AddJitter(0, 10, rng))
	require.Equal(t, time.Second, AddJitter(time.Second, 0, rng))
}

func TestWindowsFor(t *testing.T) {
	t.Parallel()

	w := DefaultWindows()
	require.Equal(t, 10*time.Minute, w.For(monitor.SourceReddit))
	require.Equal(t, DefaultWindow, w.For("some-new-source"))
	require.Equal(t, DefaultWindow, Windows{}.For(monitor.SourceReddit))
}

func TestJittererConcurrentUse(t *testing.T) {
	t.Parallel()

	j := NewJitterer(10, nil)
	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				d := j.Apply(time.Minute)
				if d < time.Minute || d >= 66*time.Second {
					t.Errorf("jitter out of range: %s", d)
				}
			}
		}()
	}
	for g := 0; g < 4; g++ {
		<-done
	}
}

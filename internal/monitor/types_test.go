package monitor

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
)

func TestActiveWindowContains(t *testing.T) {
	t.Parallel()

	// 2024-01-03 is a Wednesday.
	wed10 := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	wed23 := time.Date(2024, 1, 3, 23, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		window ActiveWindow
		at     time.Time
		want   bool
	}{
		{"whole day", ActiveWindow{}, wed23, true},
		{"inside hours", ActiveWindow{StartHour: 9, EndHour: 17}, wed10, true},
		{"end exclusive", ActiveWindow{StartHour: 9, EndHour: 10}, wed10, false},
		{"wraps midnight", ActiveWindow{StartHour: 22, EndHour: 6}, wed23, true},
		{"outside wrap", ActiveWindow{StartHour: 22, EndHour: 6}, wed10, false},
		{"day excluded", ActiveWindow{Days: []time.Weekday{time.Monday}}, wed10, false},
		{"day included", ActiveWindow{Days: []time.Weekday{time.Wednesday}}, wed10, true},
		{"location shifts hour", ActiveWindow{StartHour: 9, EndHour: 12, Location: "America/New_York"}, wed10, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, tc.window.Contains(tc.at))
		})
	}
}

func TestMonitorEnabled(t *testing.T) {
	t.Parallel()

	m := Monitor{Sources: []Source{SourceReddit, SourceG2}}
	require.True(t, m.Enabled(SourceG2))
	require.False(t, m.Enabled(SourceHackerNews))
}

func TestSyntheticURLScopedByMonitor(t *testing.T) {
	t.Parallel()

	a := SyntheticURL(SourceG2, "mon-a", "review 1")
	b := SyntheticURL(SourceG2, "mon-b", "review 1")
	require.NotEqual(t, a, b)
	require.Equal(t, "synthetic://g2/mon-a/review%201", a)
}

package safety

import (
	"testing"
	"time"
)

func TestBreakerScheduleMatchesFixedTable(t *testing.T) {
	cases := []struct {
		failCount int64
		want      time.Duration
	}{
		{0, 0},
		{1, 60 * time.Second},
		{2, 300 * time.Second},
		{3, 1800 * time.Second},
		{4, 21600 * time.Second},
		{5, 86400 * time.Second},
		{100, 86400 * time.Second},
	}
	for _, c := range cases {
		got := BreakerSchedule(c.failCount)
		if got != c.want {
			t.Errorf("BreakerSchedule(%d) = %v, want %v", c.failCount, got, c.want)
		}
	}
}

func TestBreakerScheduleNonDecreasing(t *testing.T) {
	var prev time.Duration
	for i := int64(0); i <= 10; i++ {
		cur := BreakerSchedule(i)
		if cur < prev {
			t.Fatalf("schedule decreased at failCount=%d: %v -> %v", i, prev, cur)
		}
		prev = cur
	}
}

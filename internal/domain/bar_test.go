package domain

import (
	"testing"
	"time"
)

func bar(min int) Bar {
	return Bar{OpenTime: time.Date(2025, 6, 1, 10, min, 0, 0, time.UTC), Close: float64(100 + min)}
}

func TestAppendBarDropsDuplicates(t *testing.T) {
	series := []Bar{bar(0), bar(1)}

	series, appended := AppendBar(series, bar(1), 10)
	if appended {
		t.Fatal("duplicate open time must not append")
	}
	if len(series) != 2 {
		t.Fatalf("len = %d, want 2", len(series))
	}
}

func TestAppendBarTrimsToKeep(t *testing.T) {
	var series []Bar
	for i := 0; i < 5; i++ {
		var appended bool
		series, appended = AppendBar(series, bar(i), 3)
		if !appended {
			t.Fatalf("bar %d not appended", i)
		}
	}
	if len(series) != 3 {
		t.Fatalf("len = %d, want 3", len(series))
	}
	if !series[0].OpenTime.Equal(bar(2).OpenTime) {
		t.Errorf("oldest retained = %v, want %v", series[0].OpenTime, bar(2).OpenTime)
	}
}

func TestTimeframeFloor(t *testing.T) {
	ts := time.Date(2025, 6, 1, 10, 37, 42, 0, time.UTC)

	cases := []struct {
		tf   Timeframe
		want time.Time
	}{
		{Timeframe1m, time.Date(2025, 6, 1, 10, 37, 0, 0, time.UTC)},
		{Timeframe15m, time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)},
		{Timeframe1h, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := c.tf.Floor(ts); !got.Equal(c.want) {
			t.Errorf("%s.Floor = %v, want %v", c.tf, got, c.want)
		}
	}
}

package pipeline

import (
	"testing"

	"github.com/danmuck/telemlink/internal/testutil/testlog"
)

func TestDownsamplingBound(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		length int
		period int
	}{
		{length: 40, period: 1},
		{length: 99, period: 1},
		{length: 100, period: 1},
		{length: 250, period: 2},
		{length: 1024, period: 10},
	}
	for _, tc := range cases {
		d := NewDownsampler(PathNetwork, 0)
		var forwarded []int
		for i := 1; i <= tc.period*5; i++ {
			if d.Allow(tc.length) {
				forwarded = append(forwarded, i)
				if d.Count(tc.length) != 0 {
					t.Fatalf("length=%d: counter not reset after forward", tc.length)
				}
			}
		}
		if len(forwarded) != 5 {
			t.Fatalf("length=%d: expected 5 forwards, got %d (%v)", tc.length, len(forwarded), forwarded)
		}
		for i, n := range forwarded {
			if n != (i+1)*tc.period {
				t.Fatalf("length=%d: forward %d at frame %d, want %d", tc.length, i, n, (i+1)*tc.period)
			}
		}
	}
}

func TestDownsamplerBucketsIndependent(t *testing.T) {
	testlog.Start(t)
	d := NewDownsampler(PathNetwork, 0)
	for range 3 {
		if d.Allow(500) {
			t.Fatalf("500-byte frame forwarded before its period")
		}
	}
	if !d.Allow(50) {
		t.Fatalf("small frames must always forward")
	}
	if d.Count(500) != 3 || d.Buckets() != 2 {
		t.Fatalf("unexpected bucket state: count=%d buckets=%d", d.Count(500), d.Buckets())
	}
}

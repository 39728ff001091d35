package pipeline

import (
	"sync"

	"github.com/danmuck/telemlink/internal/observability"
)

// DefaultBucketDivisor sets the sampling period: a frame of length L is
// forwarded once every max(1, L/DefaultBucketDivisor) frames of that length.
const DefaultBucketDivisor = 100

// Downsampler rate-limits frames by size bucket.
type Downsampler struct {
	mu       sync.Mutex
	path     string
	divisor  int
	counters map[int]int
}

func NewDownsampler(path string, divisor int) *Downsampler {
	if divisor <= 0 {
		divisor = DefaultBucketDivisor
	}
	return &Downsampler{
		path:     path,
		divisor:  divisor,
		counters: make(map[int]int),
	}
}

// Allow counts a frame of length n and reports whether it is forwarded.
func (d *Downsampler) Allow(n int) bool {
	d.mu.Lock()
	d.counters[n]++
	forward := d.counters[n] >= n/d.divisor
	if forward {
		d.counters[n] = 0
	}
	d.mu.Unlock()

	observability.RecordDownsample(d.path, forward)
	return forward
}

// Count returns the running counter for length n.
func (d *Downsampler) Count(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters[n]
}

// Buckets returns the number of distinct lengths seen.
func (d *Downsampler) Buckets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.counters)
}

package logging

import (
	"time"

	"github.com/rs/zerolog"
)

// Sampled wraps l so bursts of per-message warnings (bad crc, short
// messages) are capped at burst events per period.
func Sampled(l zerolog.Logger, burst uint32, period time.Duration) zerolog.Logger {
	if burst == 0 {
		burst = 10
	}
	if period <= 0 {
		period = time.Second
	}
	return l.Sample(&zerolog.BurstSampler{Burst: burst, Period: period})
}

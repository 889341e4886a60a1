package collection

import (
	"go.uber.org/atomic"
)

// SamplerConfig controls load shedding ahead of the ring.
type SamplerConfig struct {
	// HighWatermark is the ring occupancy fraction at which sampling starts.
	// Zero disables sampling.
	HighWatermark float64
	// Interval keeps one of every Interval calls while sampling.
	Interval uint64
}

// Sampler decimates calls while the ring is over its high watermark.
type Sampler struct {
	threshold int
	interval  uint64
	counter   atomic.Uint64
	skipped   atomic.Uint64
}

// NewSampler creates a sampler for a ring of the given capacity. A nil
// sampler admits everything.
func NewSampler(cfg SamplerConfig, capacity int) *Sampler {
	if cfg.HighWatermark <= 0 || cfg.Interval <= 1 {
		return nil
	}
	if cfg.HighWatermark > 1 {
		cfg.HighWatermark = 1
	}
	threshold := int(cfg.HighWatermark * float64(capacity))
	if threshold < 1 {
		threshold = 1
	}
	return &Sampler{threshold: threshold, interval: cfg.Interval}
}

// Admit reports whether a call should be recorded given the current ring
// occupancy. Non-samplable calls are always admitted.
func (s *Sampler) Admit(occupancy int, nonSamplable bool) bool {
	if s == nil || nonSamplable || occupancy < s.threshold {
		return true
	}
	if s.counter.Inc()%s.interval == 0 {
		return true
	}
	s.skipped.Inc()
	return false
}

// Skipped returns the number of calls decimated so far.
func (s *Sampler) Skipped() uint64 {
	if s == nil {
		return 0
	}
	return s.skipped.Load()
}

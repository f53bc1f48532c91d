package bandwidth

import (
	"sync"
	"time"
)

// Sample is one per-second throughput bucket.
type Sample struct {
	Timestamp time.Time
	Bytes     int64
}

// Monitor keeps a sliding window of download throughput samples. Writers are
// the per-chunk progress callbacks of active downloads; readers are polling
// UIs. Both sides go through a single mutex; samples older than the window
// are evicted lazily on read.
type Monitor struct {
	mu            sync.Mutex
	windowSeconds int
	sampleRate    int
	samples       []Sample
	totalBytes    int64
	startedAt     time.Time
	now           func() time.Time
}

// NewMonitor creates a Monitor with the given window (seconds) and sample
// rate hint. Non-positive values fall back to 60s / 1.
func NewMonitor(windowSeconds, sampleRate int) *Monitor {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	if sampleRate <= 0 {
		sampleRate = 1
	}
	return &Monitor{
		windowSeconds: windowSeconds,
		sampleRate:    sampleRate,
		startedAt:     time.Now(),
		now:           time.Now,
	}
}

// AddDataPoint records a byte delta at the current time. Deltas landing in
// the same second bucket are summed.
func (m *Monitor) AddDataPoint(bytesDelta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.totalBytes += bytesDelta

	bucket := now.Truncate(time.Second)
	if n := len(m.samples); n > 0 && m.samples[n-1].Timestamp.Equal(bucket) {
		m.samples[n-1].Bytes += bytesDelta
		return
	}
	m.samples = append(m.samples, Sample{Timestamp: bucket, Bytes: bytesDelta})
}

// History returns the per-second samples inside the window, oldest first.
// Expired samples are dropped as a side effect.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// CurrentBandwidth is the mean throughput (bytes/sec) across the window.
func (m *Monitor) CurrentBandwidth() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked()
	if len(m.samples) < 2 {
		return 0
	}
	span := m.samples[len(m.samples)-1].Timestamp.Sub(m.samples[0].Timestamp).Seconds()
	if span <= 0 {
		return 0
	}
	var sum int64
	for _, s := range m.samples {
		sum += s.Bytes
	}
	return float64(sum) / span
}

// AverageBandwidth is the mean throughput since the monitor started.
func (m *Monitor) AverageBandwidth() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := m.now().Sub(m.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.totalBytes) / elapsed
}

// TotalBytes is the lifetime byte count.
func (m *Monitor) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes
}

// Reset empties the window and restarts the lifetime counters.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = nil
	m.totalBytes = 0
	m.startedAt = m.now()
}

func (m *Monitor) evictLocked() {
	cutoff := m.now().Add(-time.Duration(m.windowSeconds) * time.Second)
	i := 0
	for i < len(m.samples) && m.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}

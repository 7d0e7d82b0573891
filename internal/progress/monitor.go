package progress

import (
	"sync"
	"time"
)

// Monitor is the 1-second rate sampler driven by internal/ftp's download
// and upload loops: each read or write adds its count, a 1-second timer
// copies the interval's count into bytesPerSecond and resets it, and
// Percent reports −1 while the total is unknown.
type Monitor struct {
	mu sync.Mutex

	totalLength    int64
	currentCount   int64
	windowCount    int64
	bytesPerSecond int64

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	// OnRateUpdated fires on every tick with the bytes seen since the
	// previous tick, even when that count is zero.
	OnRateUpdated func(bytesPerSecond int64)
	// OnProgressed fires after every Add with the running totals.
	OnProgressed func(currentCount, totalLength int64, percent int)
}

// NewMonitor creates a Monitor for a transfer of totalLength bytes, or an
// unknown-length transfer if totalLength is negative.
func NewMonitor(totalLength int64) *Monitor {
	return &Monitor{totalLength: totalLength, stop: make(chan struct{})}
}

// Start arms the 1-second sampling timer. Must be called before the first
// read of the streaming-transfer loop it's measuring.
func (m *Monitor) Start() {
	m.ticker = time.NewTicker(time.Second)
	go m.loop()
}

// Stop disarms the timer. Idempotent.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		if m.ticker != nil {
			m.ticker.Stop()
		}
		close(m.stop)
	})
}

func (m *Monitor) loop() {
	for {
		select {
		case <-m.ticker.C:
			m.mu.Lock()
			bps := m.windowCount
			m.windowCount = 0
			m.bytesPerSecond = bps
			m.mu.Unlock()
			if m.OnRateUpdated != nil {
				m.OnRateUpdated(bps)
			}
		case <-m.stop:
			return
		}
	}
}

// Add records n additional bytes transferred.
func (m *Monitor) Add(n int64) {
	m.mu.Lock()
	m.currentCount += n
	m.windowCount += n
	cur := m.currentCount
	total := m.totalLength
	m.mu.Unlock()

	if m.OnProgressed != nil {
		m.OnProgressed(cur, total, m.Percent())
	}
}

// Percent returns −1 if the total length is unknown, else the truncated
// integer percentage complete.
func (m *Monitor) Percent() int {
	m.mu.Lock()
	total := m.totalLength
	cur := m.currentCount
	m.mu.Unlock()

	if total < 0 {
		return -1
	}
	if total == 0 {
		return 100
	}
	return int(float64(cur) / float64(total) * 100)
}

// Completed reports whether the transfer has reached its declared total:
// completed ⇔ totalLength ≥ 0 ∧ currentCount == totalLength.
func (m *Monitor) Completed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLength >= 0 && m.currentCount == m.totalLength
}

// BytesPerSecond returns the most recently sampled rate.
func (m *Monitor) BytesPerSecond() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesPerSecond
}

// CurrentCount returns the running total of bytes transferred.
func (m *Monitor) CurrentCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCount
}

// SetTotalLength sets the total once it becomes known (e.g. after a
// deferred getSize call on an FTP download).
func (m *Monitor) SetTotalLength(totalLength int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalLength = totalLength
}

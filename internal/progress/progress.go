package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"netkit/internal/logging"
)

// Stats holds transfer statistics for one Reporter-driven transfer. Label
// distinguishes which caller owns the transfer (e.g. "tcp-upload" vs
// "ftp-download") in both the console bar and the periodic log line,
// since a single process can run several Reporters concurrently.
type Stats struct {
	TotalBytes       int64
	TransferredBytes atomic.Int64
	StartTime        time.Time
	FileSize         int64
	Filename         string
	Label            string
}

// percent returns the completion percentage, or 0 if TotalBytes is unknown
// (<= 0) rather than dividing by it.
func (s *Stats) percent(transferred int64) float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	return float64(transferred) / float64(s.TotalBytes) * 100
}

// Reporter drives a ticker-sampled console progress bar and periodic
// structured log line off a Stats the caller updates via UpdateTransferred.
// Unlike Monitor, which calls back into its owner on every Add, Reporter
// samples on its own 1-second cadence — the shape the TCP file-send path
// in main.go uses.
type Reporter struct {
	stats       *Stats
	ticker      *time.Ticker
	done        chan struct{}
	showConsole bool
}

// NewReporter creates a Reporter for stats. showConsole controls whether a
// "\r"-redrawn progress bar is written to stdout on top of the periodic
// slog line, which is always emitted regardless.
func NewReporter(stats *Stats, showConsole bool) *Reporter {
	return &Reporter{
		stats:       stats,
		ticker:      time.NewTicker(1 * time.Second),
		done:        make(chan struct{}),
		showConsole: showConsole,
	}
}

// Start begins progress reporting on its own goroutine.
func (r *Reporter) Start() {
	go r.reportLoop()
}

// Stop disarms the ticker and, if a console bar was being drawn, finishes
// it with a trailing newline.
func (r *Reporter) Stop() {
	r.ticker.Stop()
	close(r.done)
	if r.showConsole {
		fmt.Println()
	}
}

func (r *Reporter) reportLoop() {
	var lastTransferred int64
	lastUpdateTime := time.Now()

	const speedWindowSize = 5
	speedHistory := make([]float64, 0, speedWindowSize)

	for {
		select {
		case <-r.ticker.C:
			r.updateProgress(&lastTransferred, &lastUpdateTime, &speedHistory)
		case <-r.done:
			return
		}
	}
}

// updateProgress samples the transferred count, derives a moving-average
// speed and ETA, and emits the periodic log line plus (if enabled) the
// console bar.
func (r *Reporter) updateProgress(lastTransferred *int64, lastUpdateTime *time.Time, speedHistory *[]float64) {
	now := time.Now()
	transferred := r.stats.TransferredBytes.Load()
	percent := r.stats.percent(transferred)

	timeDiff := now.Sub(*lastUpdateTime).Seconds()
	byteDiff := transferred - *lastTransferred
	currentSpeed := float64(byteDiff) / 1024 / 1024 / timeDiff

	*speedHistory = append(*speedHistory, currentSpeed)
	const speedWindowSize = 5
	if len(*speedHistory) > speedWindowSize {
		*speedHistory = (*speedHistory)[1:]
	}

	var avgSpeed float64
	for _, s := range *speedHistory {
		avgSpeed += s
	}
	if len(*speedHistory) > 0 {
		avgSpeed /= float64(len(*speedHistory))
	}

	var eta string
	if avgSpeed > 0.1 && r.stats.TotalBytes > 0 {
		remainingBytes := r.stats.TotalBytes - transferred
		remainingTime := float64(remainingBytes) / (avgSpeed * 1024 * 1024)

		switch {
		case remainingTime < 60:
			eta = fmt.Sprintf("%.0f sec", remainingTime)
		case remainingTime < 3600:
			eta = fmt.Sprintf("%.1f min", remainingTime/60)
		default:
			eta = fmt.Sprintf("%.1f hr", remainingTime/3600)
		}
	} else {
		eta = "calculating..."
	}

	if int(now.Sub(r.stats.StartTime).Seconds())%10 == 0 {
		label := r.stats.Filename
		if r.stats.Label != "" {
			label = r.stats.Label + ": " + label
		}
		logging.LogTransferProgress(label, transferred, r.stats.TotalBytes, avgSpeed)
	}

	if r.showConsole {
		r.showConsoleProgress(percent, transferred, avgSpeed, eta)
	}

	*lastTransferred = transferred
	*lastUpdateTime = now
}

// showConsoleProgress redraws the "\r"-anchored progress bar in place.
func (r *Reporter) showConsoleProgress(percent float64, transferred int64, avgSpeed float64, eta string) {
	const barWidth = 30
	completedWidth := int(float64(barWidth) * percent / 100)
	progressBar := strings.Repeat("█", completedWidth) + strings.Repeat("░", barWidth-completedWidth)

	prefix := r.stats.Label
	if prefix != "" {
		prefix += " "
	}
	fmt.Printf("\r%s[%s] %.1f%% (%.2f/%.2f MB) at %.2f MB/s ETA: %s",
		prefix,
		progressBar,
		percent,
		float64(transferred)/1024/1024,
		float64(r.stats.TotalBytes)/1024/1024,
		avgSpeed,
		eta)
}

// GetCurrentStats returns the running transferred count, completion
// percentage, and elapsed time since the transfer started.
func (r *Reporter) GetCurrentStats() (transferred int64, percent float64, elapsed time.Duration) {
	transferred = r.stats.TransferredBytes.Load()
	percent = r.stats.percent(transferred)
	elapsed = time.Since(r.stats.StartTime)
	return
}

// UpdateTransferred atomically adds bytes to the transferred count.
func (s *Stats) UpdateTransferred(bytes int64) {
	s.TransferredBytes.Add(bytes)
}

// GetTransferred atomically reads the transferred count.
func (s *Stats) GetTransferred() int64 {
	return s.TransferredBytes.Load()
}

// SetTransferred atomically overwrites the transferred count.
func (s *Stats) SetTransferred(bytes int64) {
	s.TransferredBytes.Store(bytes)
}

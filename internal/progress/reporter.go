package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalRequests is the number of items the run will transfer.
	TotalRequests int

	// TotalSize is the number of bytes to upload, if known.
	TotalSize int64

	// Limit is the round 0 concurrency (for display).
	Limit int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information. It implements
// transfer.Reporter; all counters are atomics so pools can report from any
// goroutine while a single loop renders.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int32
	bytes     atomic.Int64
	startTime time.Time
	lastTick  time.Time
	lastBytes int64
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.stopped {
		return
	}
	r.running = true
	r.startTime = time.Now()
	r.lastTick = r.startTime

	fmt.Fprintf(r.opts.Output, "[fetchpush] Requests: %d | Upload size: %s | Limit: %d\n",
		r.opts.TotalRequests,
		formatBytes(r.opts.TotalSize),
		r.opts.Limit,
	)

	go r.updateLoop()
}

// Stop prints the final status and waits for the update loop to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	running := r.running
	r.mu.Unlock()

	close(r.stopCh)
	if running {
		<-r.doneCh
	}
}

// RequestStarted marks a request as in flight.
func (r *Reporter) RequestStarted() {
	r.started.Add(1)
	r.inFlight.Add(1)
}

// RequestCompleted marks a request as done and counts its bytes.
func (r *Reporter) RequestCompleted(bytes int64) {
	r.completed.Add(1)
	r.bytes.Add(bytes)
	r.inFlight.Add(-1)
}

// RequestFailed marks an attempt as failed. It may be retried later.
func (r *Reporter) RequestFailed() {
	r.failed.Add(1)
	r.inFlight.Add(-1)
}

// Completed returns the number of successful requests so far.
func (r *Reporter) Completed() int64 {
	return r.completed.Load()
}

// Failed returns the number of failed attempts so far.
func (r *Reporter) Failed() int64 {
	return r.failed.Load()
}

// Bytes returns the number of bytes transferred by successful requests.
func (r *Reporter) Bytes() int64 {
	return r.bytes.Load()
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	done := r.completed.Load()
	transferred := r.bytes.Load()

	elapsed := now.Sub(r.lastTick).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(transferred-r.lastBytes) / elapsed
	r.lastTick = now
	r.lastBytes = transferred

	var percent float64
	if r.opts.TotalRequests > 0 {
		percent = float64(done) / float64(r.opts.TotalRequests) * 100
	}

	fmt.Fprintf(r.opts.Output, "\r[fetchpush] Progress: %.1f%% | %d/%d done | %d failed | %d in-flight | %s | %s/s    ",
		percent,
		done,
		r.opts.TotalRequests,
		r.failed.Load(),
		r.inFlight.Load(),
		formatBytes(transferred),
		formatBytes(int64(speed)),
	)
}

func (r *Reporter) printFinalStatus() {
	duration := time.Since(r.startTime)
	transferred := r.bytes.Load()
	avgSpeed := float64(transferred) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "\r[fetchpush] Done: %d succeeded | %d failed attempts | %d issued    \n",
		r.completed.Load(),
		r.failed.Load(),
		r.started.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[fetchpush] Total time: %s | Transferred: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(transferred),
		formatBytes(int64(avgSpeed)),
	)
}

func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm %ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// FormatBytes formats a byte count for the run summary.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

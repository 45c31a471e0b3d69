package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/archive"
	"github.com/cuemby/burrow/pkg/deadlock"
	"github.com/cuemby/burrow/pkg/metrics"
)

// Options tunes the periodic sweeps
type Options struct {
	// Interval between ticks
	Interval time.Duration

	// ArchiveAfter is the completed-task age threshold for archival
	ArchiveAfter time.Duration

	// CompressAfter is the completed-task age threshold for compaction
	CompressAfter time.Duration
}

// DefaultOptions returns the standard sweep cadence
func DefaultOptions() Options {
	return Options{
		Interval:      time.Hour,
		ArchiveAfter:  7 * 24 * time.Hour,
		CompressAfter: 90 * 24 * time.Hour,
	}
}

// TickReport summarizes one monitor tick
type TickReport struct {
	Archived   int
	Compressed int
	Deadlock   *deadlock.Report
}

// Monitor is the cooperative periodic driver: each tick runs the archival
// sweep, the compaction sweep, and the deadlock sweep. The sub-steps are
// independent; one failing is logged and the others still run.
type Monitor struct {
	archiver *archive.Archiver
	sweeper  *deadlock.Sweeper
	opts     Options
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewMonitor creates a lifecycle monitor
func NewMonitor(archiver *archive.Archiver, sweeper *deadlock.Sweeper, opts Options, logger zerolog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	return &Monitor{
		archiver: archiver,
		sweeper:  sweeper,
		opts:     opts,
		logger:   logger.With().Str("component", "monitor").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the loop
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.opts.Interval)
			if _, err := m.RunOnce(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Monitor tick failed")
			}
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// RunOnce executes one tick immediately. Returns the last sub-step error,
// if any; the report is valid either way.
func (m *Monitor) RunOnce(ctx context.Context) (*TickReport, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MonitorTickDuration)

	report := &TickReport{}
	var lastErr error

	archived, err := m.archiver.ArchiveOld(ctx, m.opts.ArchiveAfter)
	report.Archived = archived
	if err != nil {
		m.logger.Error().Err(err).Msg("Archival sweep failed")
		lastErr = err
	}
	metrics.TasksArchivedTotal.Add(float64(archived))

	compressed, err := m.archiver.CompressOld(ctx, m.opts.CompressAfter)
	report.Compressed = compressed
	if err != nil {
		m.logger.Error().Err(err).Msg("Compaction sweep failed")
		lastErr = err
	}
	metrics.TasksCompressedTotal.Add(float64(compressed))

	sweepTimer := metrics.NewTimer()
	dl, err := m.sweeper.Sweep(ctx)
	sweepTimer.ObserveDuration(metrics.DeadlockSweepDuration)
	if err != nil {
		m.logger.Error().Err(err).Msg("Deadlock sweep failed")
		lastErr = err
	} else {
		report.Deadlock = dl
		metrics.DeadlocksDetected.Set(float64(dl.DeadlocksDetected))
	}

	m.logger.Info().
		Int("archived", report.Archived).
		Int("compressed", report.Compressed).
		Int("deadlocks", deadlockCount(report)).
		Msg("Monitor tick complete")
	return report, lastErr
}

func deadlockCount(r *TickReport) int {
	if r.Deadlock == nil {
		return 0
	}
	return r.Deadlock.DeadlocksDetected
}

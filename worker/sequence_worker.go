package worker

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"cadencer/engine"
	"cadencer/utils"
)

// SequenceWorker drives the execution engine: it runs a scan cycle on a fixed
// interval and resets sender daily counters at midnight.
type SequenceWorker struct {
	scanner  *engine.Scanner
	pool     *utils.SenderPool
	logger   *logrus.Logger
	interval time.Duration

	mu   sync.Mutex
	subs map[chan engine.CycleSummary]struct{}
}

func NewSequenceWorker(scanner *engine.Scanner, pool *utils.SenderPool, logger *logrus.Logger, interval time.Duration) *SequenceWorker {
	return &SequenceWorker{
		scanner:  scanner,
		pool:     pool,
		logger:   logger,
		interval: interval,
		subs:     make(map[chan engine.CycleSummary]struct{}),
	}
}

func (w *SequenceWorker) Start(ctx context.Context) {
	w.logger.Info("Sequence worker started")

	resetCron := cron.New()
	if _, err := resetCron.AddFunc("0 0 * * *", w.pool.ResetDailyCounters); err != nil {
		w.logger.WithError(err).Error("Failed to schedule daily counter reset")
	}
	resetCron.Start()
	defer resetCron.Stop()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sequence worker shutting down...")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single cycle; the HTTP trigger endpoint calls this too.
func (w *SequenceWorker) RunOnce(ctx context.Context) engine.CycleSummary {
	started := time.Now()

	summary, err := w.scanner.RunCycle(ctx)
	if err != nil {
		w.logger.WithError(err).Error("Cycle aborted")
		sentry.CaptureException(err)
		return summary
	}

	w.logger.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"errors":    len(summary.Errors),
		"duration":  time.Since(started).String(),
	}).Info("Cycle finished")

	w.broadcast(summary)
	return summary
}

// Subscribe registers a listener for cycle summaries; the returned func
// unsubscribes it. Used by the progress websocket.
func (w *SequenceWorker) Subscribe() (<-chan engine.CycleSummary, func()) {
	ch := make(chan engine.CycleSummary, 8)

	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		delete(w.subs, ch)
		w.mu.Unlock()
		close(ch)
	}
}

func (w *SequenceWorker) broadcast(summary engine.CycleSummary) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- summary:
		default:
			// Slow listener; drop rather than stall the worker.
		}
	}
}

package tick

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/limbopet/worldcore/pkg/logger"
)

// Runner is what the worker drives. Satisfied by *Orchestrator.
type Runner interface {
	RunOnce(ctx context.Context) (Result, error)
}

// Worker polls the orchestrator on a fixed interval. A busy flag skips the
// next poll while a tick is still in flight, so slow ticks never stack; the
// advisory lock remains the cross-process guard.
type Worker struct {
	runner   Runner
	log      *logger.Logger
	interval time.Duration
	cron     *cron.Cron
	busy     atomic.Bool
}

// NewWorker creates a polling worker. A non-positive interval defaults to one
// minute.
func NewWorker(runner Runner, log *logger.Logger, interval time.Duration) *Worker {
	if log == nil {
		log = logger.NewDefault("tick-worker")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		runner:   runner,
		log:      log,
		interval: interval,
	}
}

// Start begins polling. The context bounds each individual run, not the
// schedule; call Stop to end the schedule.
func (w *Worker) Start(ctx context.Context) error {
	if w.cron != nil {
		return fmt.Errorf("worker already started")
	}
	w.cron = cron.New()
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.cron.AddFunc(spec, func() { w.poll(ctx) }); err != nil {
		return fmt.Errorf("schedule tick poll: %w", err)
	}
	w.cron.Start()
	w.log.WithField("interval", w.interval.String()).Info("tick worker started")
	return nil
}

// Stop halts the schedule and waits for an in-flight tick to finish.
func (w *Worker) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.log.Info("tick worker stopped")
}

func (w *Worker) poll(ctx context.Context) {
	if !w.busy.CompareAndSwap(false, true) {
		w.log.Debug("previous tick still running, skipping poll")
		return
	}
	defer w.busy.Store(false)

	result, err := w.runner.RunOnce(ctx)
	if err != nil {
		w.log.WithError(err).Error("tick run failed")
		return
	}
	if !result.Ran {
		return
	}
	if !result.OK {
		w.log.WithField("day", result.Day).Warnf("tick completed with %d failed sub-ticks", len(result.Errors))
	}
}

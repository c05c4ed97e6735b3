package fabric

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// EvaluateDAG recomputes the ready set for one DAG and enqueues every
// newly-ready task that isn't already pending or in flight (spec §4.4).
// This is the single re-evaluation entry point, called from task_result,
// submit_dag, and the Scheduler Loop alike.
func EvaluateDAG(d *DAG, sched *Scheduler) {
	for _, t := range d.readyTasks() {
		sched.Enqueue(t)
	}
}

// Loops owns the two cron-driven background loops described in spec §4.6:
// the Scheduler Loop (re-evaluate every DAG for newly-ready tasks) and the
// Reaper Loop (evict dead workers and reclaim their in-flight tasks).
type Loops struct {
	cron    *cron.Cron
	workers *WorkersTable
	dags    *DAGsTable
	sched   *Scheduler
	onEvict func(nodeID string, reclaimed []string)
}

// NewLoops wires the background loops against the State Store tables.
// onEvict, if non-nil, is invoked (outside any table lock) after each
// worker eviction — used by the Controller to emit a metric/journal entry.
func NewLoops(workers *WorkersTable, dags *DAGsTable, sched *Scheduler, onEvict func(nodeID string, reclaimed []string)) *Loops {
	return &Loops{
		cron:    cron.New(),
		workers: workers,
		dags:    dags,
		sched:   sched,
		onEvict: onEvict,
	}
}

// Start registers both loops at their spec-mandated periods and starts the
// cron scheduler. Period ≈1s for the Scheduler Loop, ≈30s for the Reaper.
func (l *Loops) Start() error {
	if _, err := l.cron.AddFunc("@every 1s", l.schedulerTick); err != nil {
		return err
	}
	if _, err := l.cron.AddFunc("@every 30s", l.reaperTick); err != nil {
		return err
	}
	l.cron.Start()
	slog.Info("background loops started", "scheduler_period", "1s", "reaper_period", "30s")
	return nil
}

// Stop blocks until both loops' in-flight ticks drain, bounded by ctx.
func (l *Loops) Stop(ctx context.Context) {
	stopCtx := l.cron.Stop()
	select {
	case <-stopCtx.Done():
		slog.Info("background loops stopped")
	case <-ctx.Done():
		slog.Warn("background loop stop timed out")
	}
}

// schedulerTick is the defence-in-depth re-scan: the primary trigger for
// enqueueing successors is task_result, but this guarantees progress even
// if an event was missed (e.g. after a worker eviction).
func (l *Loops) schedulerTick() {
	for _, dagID := range l.dags.IDs() {
		d, ok := l.dags.Get(dagID)
		if !ok {
			continue
		}
		EvaluateDAG(d, l.sched)
	}
}

// reaperTick evicts workers whose heartbeat has aged past the liveness
// threshold and reclaims whatever they had in flight back onto the ready
// queue (spec §4.6).
func (l *Loops) reaperTick() {
	now := time.Now()
	for _, nodeID := range l.workers.DeadWorkers(now) {
		reclaimed := l.sched.ReclaimWorker(nodeID)
		l.workers.Evict(nodeID)
		slog.Warn("reaped dead worker", "node_id", nodeID, "reclaimed_tasks", len(reclaimed))
		if l.onEvict != nil {
			l.onEvict(nodeID, reclaimed)
		}
	}
}

package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chainflow-io/chainflow/internal/bus"
	"github.com/chainflow-io/chainflow/internal/domain"
	"github.com/chainflow-io/chainflow/internal/engine"
)

// redeliveryDelay applies when routing itself fails (persistence outage,
// handler panic); the broker redelivers after this pause.
const redeliveryDelay = 30 * time.Second

const heartbeatInterval = 30 * time.Second

// staleProcessAfter is how long a registered process may miss heartbeats
// before another worker releases its row, freeing the partition for a
// replacement to register.
const staleProcessAfter = 5 * time.Minute

// ProcessRegistry is the supervisory surface, matching
// repository.WorkerProcessRepository.
type ProcessRegistry interface {
	Register(wp *domain.WorkerProcess) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	MarkStopped(id int64) error
	ReleaseStale(cutoff time.Time) (int64, error)
}

// StaleStepFinder surfaces stuck inProgress records for operators, matching
// repository.WorkflowStepRepository.
type StaleStepFinder interface {
	FindStale(cutoff time.Time, limit int) ([]*domain.WorkflowStep, error)
}

// Subscription is the stoppable intake handle returned by Subscribe.
type Subscription interface {
	Stop()
}

type Subscriber interface {
	Subscribe(ctx context.Context, family string, scope string, durable string, prefetch int, ackWait time.Duration, handler bus.Handler) (Subscription, error)
}

// StepRouter matches engine.Router.
type StepRouter interface {
	Route(ctx context.Context, msg bus.Message, attempt uint64) (engine.RouteResult, error)
}

type Config struct {
	Kind           string
	Family         string
	ChainID        string
	Group          string
	SequenceNumber int
	Prefetch       int
	AckWait        time.Duration
	// Lifetime bounds the process wall clock; expiry drains exactly like a
	// shutdown signal and relies on the supervisor to restart the process.
	Lifetime        time.Duration
	StuckAfter      time.Duration
	StuckScanPeriod time.Duration
}

// Worker is one long-lived consumer bound to a family/chain topic. It owns a
// bounded in-flight budget, acknowledges only after the router returns, and
// drains in-flight messages before exiting.
type Worker struct {
	cfg    Config
	bus    Subscriber
	router StepRouter
	procs  ProcessRegistry
	steps  StaleStepFinder

	inFlight  sync.WaitGroup
	processID int64
}

func New(cfg Config, b Subscriber, router StepRouter, procs ProcessRegistry, steps StaleStepFinder) *Worker {
	return &Worker{cfg: cfg, bus: b, router: router, procs: procs, steps: steps}
}

// Run blocks until ctx is cancelled or the lifetime expires, then performs a
// cooperative drain: stop intake, wait for in-flight routes, mark the
// supervisory entry stopped.
func (w *Worker) Run(ctx context.Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "chainflow-worker"
	}
	w.processID, err = w.procs.Register(&domain.WorkerProcess{
		Kind:           w.cfg.Kind,
		ChainID:        w.cfg.ChainID,
		SequenceNumber: w.cfg.SequenceNumber,
		Hostname:       hostname,
	})
	if err != nil {
		return err
	}
	slog.Info("Registered worker process",
		"process_id", w.processID, "kind", w.cfg.Kind, "chain_id", w.cfg.ChainID,
		"sequence", w.cfg.SequenceNumber, "prefetch", w.cfg.Prefetch)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.heartbeat(loopCtx)
	go w.scanStuckSteps(loopCtx)

	durable := w.cfg.Group + "_" + w.cfg.Family + "_" + w.cfg.ChainID
	sub, err := w.bus.Subscribe(loopCtx, w.cfg.Family, w.cfg.ChainID, durable, w.cfg.Prefetch, w.cfg.AckWait, w.handle)
	if err != nil {
		_ = w.procs.MarkStopped(w.processID)
		return err
	}

	lifetime := time.NewTimer(w.cfg.Lifetime)
	defer lifetime.Stop()
	select {
	case <-ctx.Done():
		slog.Info("Worker stopping on shutdown signal", "process_id", w.processID)
	case <-lifetime.C:
		slog.Info("Worker lifetime reached, restarting via supervisor",
			"process_id", w.processID, "lifetime", w.cfg.Lifetime.String())
	}

	sub.Stop()
	w.inFlight.Wait()
	cancel()
	if err := w.procs.MarkStopped(w.processID); err != nil {
		slog.Error("Failed to mark worker process stopped", "process_id", w.processID, "error", err)
	}
	slog.Info("Worker drained and stopped", "process_id", w.processID)
	return nil
}

// handle runs per delivery; the broker's MaxAckPending bounds how many of
// these are outstanding at once.
func (w *Worker) handle(d *bus.Delivery) {
	w.inFlight.Add(1)
	go func() {
		defer w.inFlight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Panic while routing message, negatively acknowledging",
					"step_id", d.Message.StepID, "workflow_id", d.Message.WorkflowID,
					"step_kind", d.Message.StepKind, "panic", rec)
				_ = d.NakAfter(redeliveryDelay)
			}
		}()

		ctx := context.Background()
		res, err := w.router.Route(ctx, d.Message, d.Attempt)
		if err != nil {
			if errors.Is(err, engine.ErrUnroutable) {
				slog.Error("Terminating unroutable message",
					"step_id", d.Message.StepID, "workflow_id", d.Message.WorkflowID, "error", err)
				_ = d.Term()
				return
			}
			slog.Error("Routing failed, negatively acknowledging",
				"step_id", d.Message.StepID, "workflow_id", d.Message.WorkflowID,
				"attempt", d.Attempt, "error", err)
			_ = d.NakAfter(redeliveryDelay)
			return
		}
		if res.Redeliver {
			_ = d.NakAfter(res.Delay)
			return
		}
		_ = d.Ack()
	}()
}

func (w *Worker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.procs.UpdateLastActive(w.processID, time.Now()); err != nil {
				slog.Error("Failed to update worker last_active", "process_id", w.processID, "error", err)
			}
			released, err := w.procs.ReleaseStale(time.Now().Add(-staleProcessAfter))
			if err != nil {
				slog.Error("Failed to release stale worker processes", "error", err)
			} else if released > 0 {
				slog.Warn("Released stale worker processes", "count", released)
			}
		}
	}
}

// scanStuckSteps periodically logs inProgress records older than the
// configured age. Repeated unrecoverable failure on a step must be visible
// to operators; it is never auto-compensated.
func (w *Worker) scanStuckSteps(ctx context.Context) {
	if w.cfg.StuckScanPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.StuckScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-w.cfg.StuckAfter)
			stale, err := w.steps.FindStale(cutoff, 100)
			if err != nil {
				slog.Error("Stuck step scan failed", "error", err)
				continue
			}
			for _, step := range stale {
				slog.Warn("Stuck step detected",
					"workflow_id", step.WorkflowID, "step_id", step.ID, "step_kind", step.Kind,
					"retry_count", step.RetryCount, "modified", step.Modified)
			}
		}
	}
}

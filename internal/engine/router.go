package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chainflow-io/chainflow/internal/bus"
	"github.com/chainflow-io/chainflow/internal/domain"
	"github.com/chainflow-io/chainflow/internal/repository"
)

// raceBackoff is the short redelivery delay used when a message loses the
// claim race or arrives before its record is visible.
const raceBackoff = 5 * time.Second

// RouteResult tells the worker how to acknowledge the message: ack it, or
// request redelivery after Delay.
type RouteResult struct {
	Redeliver bool
	Delay     time.Duration
}

var ackMessage = RouteResult{}

// Router is the state machine driver. On each message it loads the step
// record, claims it, executes the registered handler and advances the
// workflow's frontier according to the step graph. There is no in-process
// continuation between steps; durable records plus new messages are the only
// control flow.
type Router struct {
	registry  *Registry
	steps     StepRepo
	workflows WorkflowRepo
	publisher Publisher
	chainID   string
}

func NewRouter(registry *Registry, steps StepRepo, workflows WorkflowRepo, publisher Publisher, chainID string) *Router {
	return &Router{
		registry:  registry,
		steps:     steps,
		workflows: workflows,
		publisher: publisher,
		chainID:   chainID,
	}
}

// Route processes one delivery. attempt is the broker's delivery count for
// this message, starting at 1. A non-nil error wrapping ErrUnroutable means
// the message is poison and must not redeliver; any other error asks the
// worker for a broker-level negative acknowledgement.
func (r *Router) Route(ctx context.Context, msg bus.Message, attempt uint64) (RouteResult, error) {
	graph, ok := r.registry.Graph(msg.WorkflowKind)
	if !ok {
		return ackMessage, fmt.Errorf("workflow kind %q: %w", msg.WorkflowKind, ErrUnroutable)
	}

	rec, err := r.steps.FindByID(msg.StepID)
	if errors.Is(err, sql.ErrNoRows) {
		return ackMessage, fmt.Errorf("step %d not found: %w", msg.StepID, ErrUnroutable)
	}
	if err != nil {
		return ackMessage, err
	}

	// Idempotent re-delivery: a settled record means the message's work is done.
	if rec.Status == domain.StepStatusCompleted || rec.Status == domain.StepStatusFailed {
		slog.InfoContext(ctx, "Discarding message for settled step",
			"workflow_id", rec.WorkflowID, "step_id", rec.ID, "step_kind", rec.Kind, "status", rec.Status)
		return ackMessage, nil
	}

	cfg, ok := graph.Steps[rec.Kind]
	if !ok {
		return ackMessage, fmt.Errorf("workflow %q step kind %q: %w", msg.WorkflowKind, rec.Kind, ErrUnroutable)
	}

	claimed, err := r.claim(ctx, rec, attempt)
	if err != nil {
		return ackMessage, err
	}
	if !claimed {
		return RouteResult{Redeliver: true, Delay: raceBackoff}, nil
	}

	input, res, err := r.buildInput(ctx, graph, rec, cfg, msg)
	if err != nil || res.Redeliver {
		return res, err
	}

	handler, ok := r.registry.Handler(msg.WorkflowKind, rec.Kind)
	if !ok {
		// Registry validation makes this unreachable for registered kinds.
		return ackMessage, fmt.Errorf("workflow %q step %q has no handler: %w", msg.WorkflowKind, rec.Kind, ErrUnroutable)
	}

	slog.InfoContext(ctx, "Executing step",
		"workflow_kind", msg.WorkflowKind, "workflow_id", rec.WorkflowID,
		"step_id", rec.ID, "step_kind", rec.Kind, "attempt", attempt)

	outcome, err := handler.Handle(ctx, input)
	if err != nil {
		var herr *HandlerError
		if !errors.As(err, &herr) {
			// Unexpected failure: leave the record inProgress and let the
			// worker boundary negatively acknowledge for redelivery.
			return ackMessage, fmt.Errorf("step %d handler: %w", rec.ID, err)
		}
		if herr.Class == ClassTransient {
			return r.scheduleRetry(ctx, graph, rec, cfg, herr.Error())
		}
		slog.WarnContext(ctx, "Step failed",
			"workflow_id", rec.WorkflowID, "step_id", rec.ID, "step_kind", rec.Kind,
			"class", herr.Class.String(), "error", herr.Err)
		return r.failStep(ctx, graph, rec, cfg, handlerDebug(herr))
	}

	if outcome.Status == OutcomePending {
		return r.scheduleRetry(ctx, graph, rec, cfg, "step pending")
	}

	return r.completeStep(ctx, graph, rec, cfg, outcome)
}

// claim moves the record to inProgress. A stale transition is either a racing
// sibling worker (back off briefly, claimed=false) or a legitimate redelivery
// of an already claimed record (proceed).
func (r *Router) claim(ctx context.Context, rec *domain.WorkflowStep, attempt uint64) (bool, error) {
	err := r.steps.MarkInProgress(rec.ID)
	if err == nil {
		rec.Status = domain.StepStatusInProgress
		return true, nil
	}
	if !errors.Is(err, repository.ErrStaleTransition) {
		return false, err
	}
	if rec.Status == domain.StepStatusInProgress && attempt > 1 {
		// Redelivery of a claimed record: pending loop or crash recovery.
		return true, nil
	}
	slog.InfoContext(ctx, "Lost claim race, backing off",
		"workflow_id", rec.WorkflowID, "step_id", rec.ID, "step_kind", rec.Kind)
	return false, nil
}

// buildInput merges the accumulated requestParams, ancestor responseData and
// the message payload. A missing ancestor is a bounded wait, not a failure,
// unless the retry budget runs out.
func (r *Router) buildInput(ctx context.Context, graph *Graph, rec *domain.WorkflowStep, cfg StepConfig, msg bus.Message) (StepInput, RouteResult, error) {
	params := decodeParams(rec.RequestParams)

	if len(cfg.ReadDataFrom) > 0 {
		ancestors, err := r.steps.FetchAncestorData(rec.WorkflowID, cfg.ReadDataFrom)
		if errors.Is(err, repository.ErrMissingAncestor) {
			slog.InfoContext(ctx, "Ancestor not completed yet, backing off",
				"workflow_id", rec.WorkflowID, "step_id", rec.ID, "step_kind", rec.Kind, "error", err)
			res, ferr := r.scheduleRetry(ctx, graph, rec, cfg, err.Error())
			return StepInput{}, res, ferr
		}
		if err != nil {
			return StepInput{}, ackMessage, err
		}
		for _, kind := range cfg.ReadDataFrom {
			for k, v := range decodeParams(ancestors[kind]) {
				params[k] = v
			}
		}
	}

	for k, v := range msg.Payload {
		params[k] = v
	}

	return StepInput{
		WorkflowID:   rec.WorkflowID,
		StepID:       rec.ID,
		WorkflowKind: graph.WorkflowKind,
		StepKind:     rec.Kind,
		ChainID:      r.chainID,
		Params:       params,
	}, ackMessage, nil
}

// scheduleRetry leaves the record inProgress and asks for delayed
// redelivery; an exhausted retry budget converts into the failed transition.
func (r *Router) scheduleRetry(ctx context.Context, graph *Graph, rec *domain.WorkflowStep, cfg StepConfig, reason string) (RouteResult, error) {
	count, err := r.steps.IncrementRetryCount(rec.ID)
	if err != nil {
		return ackMessage, err
	}
	rc := graph.RetryFor(rec.Kind)
	if count > rc.MaxRetryCount {
		slog.WarnContext(ctx, "Retry budget exhausted",
			"workflow_id", rec.WorkflowID, "step_id", rec.ID, "step_kind", rec.Kind,
			"retries", count, "reason", reason)
		return r.failStep(ctx, graph, rec, cfg, map[string]any{
			"reason":  "retry budget exhausted",
			"retries": count,
			"cause":   reason,
		})
	}
	delay := rc.SlidingInterval(count)
	slog.InfoContext(ctx, "Scheduling step retry",
		"workflow_id", rec.WorkflowID, "step_id", rec.ID, "step_kind", rec.Kind,
		"retry", count, "delay", delay.String(), "reason", reason)
	return RouteResult{Redeliver: true, Delay: delay}, nil
}

func (r *Router) completeStep(ctx context.Context, graph *Graph, rec *domain.WorkflowStep, cfg StepConfig, outcome StepOutcome) (RouteResult, error) {
	if err := r.steps.MarkCompleted(rec.ID, encodeParams(outcome.Data)); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			// Another worker settled the record; its router advanced the frontier.
			return ackMessage, nil
		}
		return ackMessage, err
	}

	if graph.IsTerminal(rec.Kind) {
		status := domain.WorkflowStatusCompleted
		if rec.Kind == KindMarkFailure {
			status = domain.WorkflowStatusFailed
		}
		if err := r.workflows.UpdateStatus(rec.WorkflowID, status); err != nil {
			return ackMessage, err
		}
		slog.InfoContext(ctx, "Workflow finished",
			"workflow_kind", graph.WorkflowKind, "workflow_id", rec.WorkflowID, "status", status)
		return ackMessage, nil
	}

	for _, next := range cfg.OnSuccess {
		if err := r.createAndPublish(ctx, graph, rec, next); err != nil {
			return ackMessage, err
		}
	}
	return ackMessage, nil
}

func (r *Router) failStep(ctx context.Context, graph *Graph, rec *domain.WorkflowStep, cfg StepConfig, debug map[string]any) (RouteResult, error) {
	if err := r.steps.MarkFailed(rec.ID, encodeParams(debug)); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return ackMessage, nil
		}
		return ackMessage, err
	}

	if cfg.OnFailure != "" {
		if err := r.createAndPublish(ctx, graph, rec, cfg.OnFailure); err != nil {
			return ackMessage, err
		}
		return ackMessage, nil
	}

	if err := r.workflows.UpdateStatus(rec.WorkflowID, domain.WorkflowStatusFailed); err != nil {
		return ackMessage, err
	}
	slog.WarnContext(ctx, "Workflow failed with no compensating step",
		"workflow_kind", graph.WorkflowKind, "workflow_id", rec.WorkflowID, "step_kind", rec.Kind)
	return ackMessage, nil
}

// createAndPublish advances the frontier with one child record. Each kind
// occurs at most once per workflow, so a child that already exists (fan-in
// join created by a sibling, or a racing redelivery) is skipped.
func (r *Router) createAndPublish(ctx context.Context, graph *Graph, parent *domain.WorkflowStep, kind string) error {
	exists, err := r.steps.ExistsByKind(parent.WorkflowID, kind)
	if err != nil {
		return err
	}
	if exists {
		slog.InfoContext(ctx, "Skipping child creation, kind already present",
			"workflow_id", parent.WorkflowID, "step_kind", kind)
		return nil
	}

	child := &domain.WorkflowStep{
		WorkflowID:    parent.WorkflowID,
		Kind:          kind,
		ParentID:      sql.NullInt64{Int64: parent.ID, Valid: true},
		Status:        domain.StepStatusQueued,
		RequestParams: parent.RequestParams,
	}
	if _, err := r.steps.Save(child); err != nil {
		return err
	}

	msg := bus.Message{
		ID:           uuid.NewString(),
		WorkflowKind: graph.WorkflowKind,
		StepKind:     kind,
		StepID:       child.ID,
		WorkflowID:   parent.WorkflowID,
	}
	if err := r.publisher.Publish(ctx, bus.Topic(graph.Family, r.chainID), msg); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Queued next step",
		"workflow_id", parent.WorkflowID, "step_id", child.ID, "step_kind", kind, "parent_id", parent.ID)
	return nil
}

func handlerDebug(herr *HandlerError) map[string]any {
	debug := map[string]any{
		"class": herr.Class.String(),
		"error": herr.Err.Error(),
	}
	for k, v := range herr.Debug {
		debug[k] = v
	}
	return debug
}

func decodeParams(s sql.NullString) map[string]any {
	out := map[string]any{}
	if !s.Valid || s.String == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		slog.Warn("Ignoring undecodable params", "error", err)
	}
	return out
}

func encodeParams(m map[string]any) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		slog.Warn("Dropping unencodable params", "error", err)
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/cascade/internal/log"
	cascadeerrors "github.com/tombee/cascade/pkg/errors"
)

// Orchestrator launches and drives workflow executions. Start returns
// as soon as the execution record is persisted; the run itself happens
// on a background goroutine and is observed by polling the store.
type Orchestrator struct {
	store   Store
	runner  *Runner
	metrics Metrics
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewOrchestrator builds an Orchestrator on the given store and runner.
func NewOrchestrator(store Store, runner *Runner) *Orchestrator {
	return &Orchestrator{
		store:   store,
		runner:  runner,
		metrics: NopMetrics{},
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// WithMetrics sets the metrics sink.
func (o *Orchestrator) WithMetrics(m Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// Start creates a pending execution for the workflow and launches it.
// The returned execution is the initial pending snapshot; callers poll
// the store for progress. The workflow's steps are copied into the
// execution at this moment, so concurrent edits to the workflow do not
// touch a run already in flight.
func (o *Orchestrator) Start(ctx context.Context, workflowID string) (*Execution, error) {
	workflow, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(workflow.Steps) == 0 {
		return nil, &cascadeerrors.ValidationError{
			Field:   "steps",
			Message: "workflow has no steps to execute",
		}
	}

	steps := make([]Step, len(workflow.Steps))
	copy(steps, workflow.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	execution := &Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflow.ID,
		Steps:      steps,
		Status:     ExecutionPending,
		StartedAt:  time.Now().UTC(),
	}
	if err := o.store.CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go o.run(copyExecution(execution))

	return execution, nil
}

// Wait blocks until every in-flight execution has finished. Used at
// shutdown so terminal states get persisted.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run drives an execution to a terminal status. It is the only writer
// of the execution record, which keeps the status transitions and
// current_step_order monotonic without locking.
func (o *Orchestrator) run(execution *Execution) {
	defer o.wg.Done()

	// Detached from the request that started it: closing the HTTP
	// connection must not kill the run.
	ctx := context.Background()
	logger := log.WithExecutionContext(o.logger, execution.ID, execution.WorkflowID)
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("execution panicked", slog.Any("panic", rec))
			o.finish(ctx, execution, ExecutionFailed, fmt.Sprintf("internal error: %v", rec), started)
		}
	}()

	execution.Status = ExecutionRunning
	if err := o.store.UpdateExecution(ctx, execution); err != nil {
		logger.Error("failed to persist execution", log.Error(err))
		return
	}
	logger.Info("execution started", slog.Int("steps", len(execution.Steps)))

	stepContext := ""
	for _, step := range execution.Steps {
		execution.CurrentStepOrder = step.Order
		if err := o.store.UpdateExecution(ctx, execution); err != nil {
			logger.Error("failed to persist execution", log.Error(err))
			return
		}

		se, err := o.runner.RunStep(ctx, execution, step, stepContext)
		execution.TotalTokens += se.TotalTokens
		execution.TotalCostUSD += se.CostUSD

		if err != nil {
			o.finish(ctx, execution, ExecutionFailed,
				fmt.Sprintf("step %d (%s) failed: %v", step.Order, step.Name, err), started)
			return
		}

		if err := o.store.UpdateExecution(ctx, execution); err != nil {
			logger.Error("failed to persist execution", log.Error(err))
			return
		}
		stepContext = se.OutputContext
	}

	o.finish(ctx, execution, ExecutionCompleted, "", started)
}

func (o *Orchestrator) finish(ctx context.Context, execution *Execution, status ExecutionStatus, message string, started time.Time) {
	logger := log.WithExecutionContext(o.logger, execution.ID, execution.WorkflowID)

	execution.Status = status
	execution.ErrorMessage = message
	now := time.Now().UTC()
	execution.CompletedAt = &now
	if err := o.store.UpdateExecution(ctx, execution); err != nil {
		logger.Error("failed to persist terminal execution state", log.Error(err))
		return
	}
	o.metrics.ObserveExecution(status, time.Since(started))

	if status == ExecutionFailed {
		logger.Warn("execution failed",
			slog.String("reason", message),
			slog.Float64("total_cost_usd", execution.TotalCostUSD))
		return
	}
	logger.Info("execution completed",
		slog.Int("total_tokens", execution.TotalTokens),
		slog.Float64("total_cost_usd", execution.TotalCostUSD),
		log.Duration("duration", time.Since(started).Milliseconds()))
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/cascade/internal/log"
	cascadeerrors "github.com/tombee/cascade/pkg/errors"
	"github.com/tombee/cascade/pkg/llm"
	"github.com/tombee/cascade/pkg/llm/pricing"
)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

const contextPromptFormat = `Context from previous step:

%s

---

Your task:
%s`

const summaryPromptFormat = `Summarize the following text concisely, preserving key technical details:

%s`

// Metrics receives engine events. The prometheus implementation lives
// in internal/metrics; tests use NopMetrics.
type Metrics interface {
	ObserveAttempt(model string, success bool, duration time.Duration)
	ObserveUsage(model string, usage llm.TokenUsage, costUSD float64)
	ObserveExecution(status ExecutionStatus, duration time.Duration)
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) ObserveAttempt(string, bool, time.Duration)      {}
func (NopMetrics) ObserveUsage(string, llm.TokenUsage, float64)    {}
func (NopMetrics) ObserveExecution(ExecutionStatus, time.Duration) {}

// Runner executes a single step to success or exhaustion. A step gets
// one attempt budget of MaxRetries+1 attempts shared by every failure
// mode that is worth retrying: criteria failures retry immediately,
// transport failures retry after an exponential backoff. Configuration
// problems fail the step on the spot.
type Runner struct {
	invoker   llm.Invoker
	models    *llm.Registry
	pricing   *pricing.Table
	evaluator *Evaluator
	store     ExecutionStore
	metrics   Metrics
	logger    *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a Runner with default backoff settings.
func NewRunner(invoker llm.Invoker, models *llm.Registry, table *pricing.Table, evaluator *Evaluator, store ExecutionStore) *Runner {
	return &Runner{
		invoker:        invoker,
		models:         models,
		pricing:        table,
		evaluator:      evaluator,
		store:          store,
		metrics:        NopMetrics{},
		logger:         slog.Default(),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		sleep:          sleepContext,
	}
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithMetrics sets the metrics sink.
func (r *Runner) WithMetrics(m Metrics) *Runner {
	r.metrics = m
	return r
}

// WithBackoff overrides the retry backoff bounds. Tests use this with
// a stub sleep to keep retry scenarios fast.
func (r *Runner) WithBackoff(initial, max time.Duration) *Runner {
	r.initialBackoff = initial
	r.maxBackoff = max
	return r
}

// WithSleep overrides the backoff sleep function.
func (r *Runner) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Runner {
	r.sleep = fn
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunStep drives one step through its attempt budget. The returned
// StepExecution is the persisted record; a non-nil error means the
// step ended in failure and carries the reason. Token and cost
// counters on the record accumulate across every attempt, including
// failed ones, so execution totals reflect what was actually spent.
func (r *Runner) RunStep(ctx context.Context, execution *Execution, step Step, inputContext string) (*StepExecution, error) {
	logger := log.WithStepContext(r.logger, execution.ID, step.Order)

	se := &StepExecution{
		ID:            uuid.NewString(),
		ExecutionID:   execution.ID,
		StepID:        step.ID,
		StepOrder:     step.Order,
		Status:        StepRunning,
		AttemptNumber: 1,
		InputContext:  inputContext,
		StartedAt:     time.Now().UTC(),
	}
	if err := r.store.CreateStepExecution(ctx, se); err != nil {
		return se, cascadeerrors.Wrap(err, "persisting step execution")
	}

	prompt := assemblePrompt(step.Prompt, inputContext)
	model := r.models.SelectModel(step.Model, step.Prompt, string(step.CriteriaType))
	maxAttempts := step.MaxRetries + 1
	backoff := r.initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		se.AttemptNumber = attempt
		se.Status = StepRunning
		se.PromptSent = prompt
		if err := r.store.UpdateStepExecution(ctx, se); err != nil {
			return se, cascadeerrors.Wrap(err, "persisting step execution")
		}

		start := time.Now()
		result, err := r.invoker.Invoke(ctx, model, prompt)
		r.metrics.ObserveAttempt(model, err == nil, time.Since(start))

		if err != nil {
			if cascadeerrors.IsRetryable(err) && attempt < maxAttempts {
				logger.Warn("model call failed, backing off",
					slog.Int(log.AttemptKey, attempt),
					slog.Duration("backoff", backoff),
					log.Error(err))
				se.Status = StepRetrying
				se.ErrorMessage = err.Error()
				if uerr := r.store.UpdateStepExecution(ctx, se); uerr != nil {
					return se, cascadeerrors.Wrap(uerr, "persisting step execution")
				}
				if serr := r.sleep(ctx, backoff); serr != nil {
					return r.failStep(ctx, se, serr)
				}
				backoff = min(backoff*2, r.maxBackoff)
				continue
			}
			return r.failStep(ctx, se, err)
		}

		se.LLMResponse = result.Text
		if err := r.bill(se, model, result.Usage); err != nil {
			return r.failStep(ctx, se, err)
		}

		verdict, err := r.evaluator.Evaluate(ctx, step, result.Text)
		if err != nil {
			return r.failStep(ctx, se, err)
		}
		if verdict.JudgeModel != "" {
			if err := r.bill(se, verdict.JudgeModel, verdict.Usage); err != nil {
				return r.failStep(ctx, se, err)
			}
		}
		se.CriteriaPassed = verdict.Passed
		se.CriteriaDetails = verdict.Details

		if verdict.Passed {
			output, err := r.buildOutputContext(ctx, step, se, result.Text, logger)
			if err != nil {
				return r.failStep(ctx, se, err)
			}
			se.OutputContext = output
			se.Status = StepCompleted
			se.ErrorMessage = ""
			now := time.Now().UTC()
			se.CompletedAt = &now
			if uerr := r.store.UpdateStepExecution(ctx, se); uerr != nil {
				return se, cascadeerrors.Wrap(uerr, "persisting step execution")
			}
			logger.Info("step completed",
				slog.Int(log.AttemptKey, attempt),
				slog.String(log.ModelKey, model),
				slog.Int("total_tokens", se.TotalTokens))
			return se, nil
		}

		logger.Info("criteria not met",
			slog.Int(log.AttemptKey, attempt),
			slog.String("details", verdict.Details))
		if attempt < maxAttempts {
			// Criteria failures retry immediately: the provider is
			// healthy, we just want a different answer.
			se.Status = StepRetrying
			if uerr := r.store.UpdateStepExecution(ctx, se); uerr != nil {
				return se, cascadeerrors.Wrap(uerr, "persisting step execution")
			}
		}
	}

	return r.failStep(ctx, se, fmt.Errorf("criteria not met after %d attempts: %s", maxAttempts, se.CriteriaDetails))
}

// bill prices a model call and folds the usage into the step record.
// An unknown model is a configuration problem.
func (r *Runner) bill(se *StepExecution, model string, usage llm.TokenUsage) error {
	cost, err := r.pricing.Cost(model, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		return err
	}
	se.PromptTokens += usage.PromptTokens
	se.CompletionTokens += usage.CompletionTokens
	se.TotalTokens += usage.TotalTokens
	se.CostUSD += cost
	r.metrics.ObserveUsage(model, usage, cost)
	return nil
}

// buildOutputContext resolves the step's context mode. Summary mode
// makes an extra model call; a transport failure there degrades to the
// full output rather than failing a step whose work already passed.
func (r *Runner) buildOutputContext(ctx context.Context, step Step, se *StepExecution, output string, logger *slog.Logger) (string, error) {
	if step.ContextMode != ContextSummary {
		return BuildContext(step, output), nil
	}

	model := r.models.SelectModel(llm.ModelAuto, output, string(step.CriteriaType))
	result, err := r.invoker.Invoke(ctx, model, fmt.Sprintf(summaryPromptFormat, output))
	if err != nil {
		if cascadeerrors.IsConfig(err) {
			return "", err
		}
		logger.Warn("summary generation failed, passing full output", log.Error(err))
		return output, nil
	}
	if err := r.bill(se, model, result.Usage); err != nil {
		return "", err
	}
	return result.Text, nil
}

func (r *Runner) failStep(ctx context.Context, se *StepExecution, cause error) (*StepExecution, error) {
	se.Status = StepFailed
	se.ErrorMessage = cause.Error()
	now := time.Now().UTC()
	se.CompletedAt = &now
	if err := r.store.UpdateStepExecution(ctx, se); err != nil {
		return se, cascadeerrors.Wrap(err, "persisting step execution")
	}
	return se, cause
}

// assemblePrompt joins the previous step's context with the step
// prompt. Step 1 has no context and sends its prompt untouched.
func assemblePrompt(prompt, inputContext string) string {
	if inputContext == "" {
		return prompt
	}
	return fmt.Sprintf(contextPromptFormat, inputContext, prompt)
}

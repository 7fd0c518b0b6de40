// Package pipeline implements the cascade workflow execution engine:
// an ordered sequence of model-backed steps driven to completion with
// per-step success criteria, bounded retries, context threading, and
// cost accounting. Observers poll execution state through the store;
// they never talk to the engine directly.
package pipeline

import "time"

// CriteriaType identifies how a step's output is judged.
type CriteriaType string

const (
	// CriteriaAlwaysPass accepts any output.
	CriteriaAlwaysPass CriteriaType = "always_pass"
	// CriteriaContains requires the output to contain a substring
	// (case-sensitive).
	CriteriaContains CriteriaType = "contains"
	// CriteriaRegex requires the output to match a pattern.
	CriteriaRegex CriteriaType = "regex"
	// CriteriaJSONValid requires the output to be, or contain, valid JSON.
	CriteriaJSONValid CriteriaType = "json_valid"
	// CriteriaCodeBlock requires a fenced code block, optionally with a
	// specific language tag.
	CriteriaCodeBlock CriteriaType = "code_block"
	// CriteriaLLMJudge asks a judge model whether the output satisfies
	// a rubric.
	CriteriaLLMJudge CriteriaType = "llm_judge"
)

// RequiresValue reports whether this criteria type needs a criteria value.
func (c CriteriaType) RequiresValue() bool {
	switch c {
	case CriteriaContains, CriteriaRegex, CriteriaLLMJudge:
		return true
	default:
		return false
	}
}

// Valid reports whether c is a known criteria type.
func (c CriteriaType) Valid() bool {
	switch c {
	case CriteriaAlwaysPass, CriteriaContains, CriteriaRegex,
		CriteriaJSONValid, CriteriaCodeBlock, CriteriaLLMJudge:
		return true
	}
	return false
}

// ContextMode identifies how a step's output becomes the next step's
// input context.
type ContextMode string

const (
	// ContextFull passes the entire output verbatim.
	ContextFull ContextMode = "full"
	// ContextCodeOnly passes only the fenced code blocks.
	ContextCodeOnly ContextMode = "code_only"
	// ContextSummary passes a model-generated summary of the output.
	ContextSummary ContextMode = "summary"
	// ContextCustom passes the output through a user template with
	// {{output}} and {{code}} placeholders.
	ContextCustom ContextMode = "custom"
)

// Valid reports whether m is a known context mode.
func (m ContextMode) Valid() bool {
	switch m {
	case ContextFull, ContextCodeOnly, ContextSummary, ContextCustom:
		return true
	}
	return false
}

// Workflow is a user-defined ordered pipeline of steps.
type Workflow struct {
	// ID is the immutable workflow identifier.
	ID string `json:"id"`

	// Name is the human-readable workflow name.
	Name string `json:"name"`

	// Description provides context about what the workflow does.
	Description string `json:"description,omitempty"`

	// Steps is the ordered sequence of steps. Order values are unique
	// and dense, starting at 1.
	Steps []Step `json:"steps"`

	// CreatedAt is when the workflow was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the workflow was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Step is one model invocation stage within a workflow.
type Step struct {
	// ID is the step identifier.
	ID string `json:"id"`

	// Order is the step's position within the workflow (1-based).
	Order int `json:"order"`

	// Name is a human-readable step name.
	Name string `json:"name"`

	// Model is the model identifier, or "auto" for automatic selection.
	Model string `json:"model"`

	// Prompt is the prompt template text sent to the model.
	Prompt string `json:"prompt"`

	// CriteriaType selects how the output is judged.
	CriteriaType CriteriaType `json:"criteria_type"`

	// CriteriaValue parameterizes the criteria; required for contains,
	// regex, and llm_judge, optional for code_block (language tag).
	CriteriaValue string `json:"criteria_value,omitempty"`

	// MaxRetries is the number of retries after the first attempt.
	// Zero means exactly one attempt.
	MaxRetries int `json:"max_retries"`

	// ContextMode selects how output becomes the next step's context.
	ContextMode ContextMode `json:"context_mode"`

	// ContextTemplate is the custom context template; required if and
	// only if ContextMode is custom.
	ContextTemplate string `json:"context_template,omitempty"`
}

// ExecutionStatus is the lifecycle state of an execution.
// Transitions are monotonic: pending -> running -> completed|failed.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// StepExecutionStatus is the lifecycle state of one step within an
// execution.
type StepExecutionStatus string

const (
	StepPending   StepExecutionStatus = "pending"
	StepRunning   StepExecutionStatus = "running"
	StepRetrying  StepExecutionStatus = "retrying"
	StepCompleted StepExecutionStatus = "completed"
	StepFailed    StepExecutionStatus = "failed"
)

// Execution represents one run of a workflow snapshot.
type Execution struct {
	// ID is the execution identifier.
	ID string `json:"id"`

	// WorkflowID is the owning workflow.
	WorkflowID string `json:"workflow_id"`

	// Steps is the snapshot of the workflow's steps taken at launch.
	// Later workflow edits never affect this execution.
	Steps []Step `json:"steps"`

	// Status is the execution lifecycle state.
	Status ExecutionStatus `json:"status"`

	// CurrentStepOrder is the step currently or last attempted.
	// Never decreases within an execution.
	CurrentStepOrder int `json:"current_step_order"`

	// StartedAt is when the execution was created.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the execution reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorMessage explains a failed status.
	ErrorMessage string `json:"error_message,omitempty"`

	// TotalTokens is the sum of tokens across all step executions,
	// including failed and retried attempts.
	TotalTokens int `json:"total_tokens"`

	// TotalCostUSD is the sum of cost across all step executions,
	// including failed and retried attempts.
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// StepExecution is the attempt-bearing record of one step within an
// execution. A retry supersedes the transient fields of the previous
// attempt; the token and cost counters accumulate across attempts so
// that execution totals account for every model call made.
type StepExecution struct {
	// ID is the step execution identifier.
	ID string `json:"id"`

	// ExecutionID is the owning execution.
	ExecutionID string `json:"execution_id"`

	// StepID references the originating step definition.
	StepID string `json:"step_id"`

	// StepOrder is the step's position, for ordering reads.
	StepOrder int `json:"step_order"`

	// Status is the step lifecycle state.
	Status StepExecutionStatus `json:"status"`

	// AttemptNumber starts at 1 and increments per retry. It is
	// monotonically increasing and never reset.
	AttemptNumber int `json:"attempt_number"`

	// InputContext is the context received from the previous step.
	// Empty for step 1.
	InputContext string `json:"input_context,omitempty"`

	// PromptSent is the fully assembled prompt sent to the model on
	// the latest attempt.
	PromptSent string `json:"prompt_sent,omitempty"`

	// LLMResponse is the raw model output of the latest attempt.
	LLMResponse string `json:"llm_response,omitempty"`

	// CriteriaPassed records the latest criteria evaluation outcome.
	CriteriaPassed bool `json:"criteria_passed"`

	// CriteriaDetails explains the latest criteria evaluation.
	CriteriaDetails string `json:"criteria_details,omitempty"`

	// OutputContext is the context computed for the next step.
	OutputContext string `json:"output_context,omitempty"`

	// PromptTokens accumulates prompt tokens across all attempts.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens accumulates completion tokens across all attempts.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens accumulates total tokens across all attempts.
	TotalTokens int `json:"total_tokens"`

	// CostUSD accumulates cost across all attempts. Cost is incurred
	// even on a failed attempt: the model call still happened.
	CostUSD float64 `json:"cost_usd"`

	// StartedAt is when the first attempt began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the step reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorMessage explains the latest failure, if any.
	ErrorMessage string `json:"error_message,omitempty"`
}

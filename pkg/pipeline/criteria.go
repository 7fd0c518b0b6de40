package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tombee/cascade/pkg/errors"
	"github.com/tombee/cascade/pkg/llm"
)

const judgePromptTemplate = `You are evaluating whether an AI response meets specific criteria.

Criteria: %s

Response to evaluate:
%s

Answer with PASSED: YES or PASSED: NO, followed by a brief explanation.
Format:
PASSED: [YES or NO]
EXPLANATION: [your reasoning]`

// CriteriaResult is the outcome of evaluating a step's criteria
// against model output. Usage is non-zero only when the evaluation
// itself invoked a model (llm_judge); it is billed like any other
// call.
type CriteriaResult struct {
	Passed  bool
	Details string
	Usage   llm.TokenUsage
	// JudgeModel is the model that produced Usage, when any.
	JudgeModel string
}

// Evaluator checks step output against the step's success criteria.
// The judge invoker is only exercised for llm_judge criteria.
type Evaluator struct {
	judge      llm.Invoker
	judgeModel string
	logger     *slog.Logger
}

// NewEvaluator returns an evaluator that uses judgeModel on the given
// invoker for llm_judge criteria.
func NewEvaluator(judge llm.Invoker, judgeModel string) *Evaluator {
	return &Evaluator{
		judge:      judge,
		judgeModel: judgeModel,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for evaluation events.
func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger
	return e
}

// Evaluate applies the step's criteria to output. A non-nil error
// means the criteria itself is unusable (a configuration problem) and
// the step must fail without retrying. Everything else, including a
// judge call that errors out, is reported as Passed=false with
// details, because a transient judge failure is worth another attempt.
func (e *Evaluator) Evaluate(ctx context.Context, step Step, output string) (*CriteriaResult, error) {
	switch step.CriteriaType {
	case CriteriaAlwaysPass:
		return &CriteriaResult{Passed: true, Details: "no criteria, output accepted"}, nil

	case CriteriaContains:
		if strings.Contains(output, step.CriteriaValue) {
			return &CriteriaResult{Passed: true, Details: fmt.Sprintf("output contains %q", step.CriteriaValue)}, nil
		}
		return &CriteriaResult{Passed: false, Details: fmt.Sprintf("output does not contain %q", step.CriteriaValue)}, nil

	case CriteriaRegex:
		re, err := regexp.Compile(step.CriteriaValue)
		if err != nil {
			return nil, &errors.ConfigError{
				Key:    "criteria_value",
				Reason: fmt.Sprintf("invalid regex pattern %q", step.CriteriaValue),
				Cause:  err,
			}
		}
		if re.MatchString(output) {
			return &CriteriaResult{Passed: true, Details: fmt.Sprintf("output matches pattern %q", step.CriteriaValue)}, nil
		}
		return &CriteriaResult{Passed: false, Details: fmt.Sprintf("output does not match pattern %q", step.CriteriaValue)}, nil

	case CriteriaJSONValid:
		return evaluateJSONValid(output), nil

	case CriteriaCodeBlock:
		return evaluateCodeBlock(output, step.CriteriaValue), nil

	case CriteriaLLMJudge:
		return e.evaluateJudge(ctx, step, output), nil

	default:
		return nil, &errors.ConfigError{
			Key:    "criteria_type",
			Reason: fmt.Sprintf("unknown criteria type %q", step.CriteriaType),
		}
	}
}

func evaluateJSONValid(output string) *CriteriaResult {
	trimmed := strings.TrimSpace(output)
	if json.Valid([]byte(trimmed)) && trimmed != "" {
		return &CriteriaResult{Passed: true, Details: "output is valid JSON"}
	}
	// Models often wrap JSON in prose or fences; accept a fenced block
	// that parses on its own.
	for _, block := range ExtractCodeBlocks(output) {
		body := strings.TrimSpace(block.Body)
		if body != "" && json.Valid([]byte(body)) {
			return &CriteriaResult{Passed: true, Details: "fenced block contains valid JSON"}
		}
	}
	return &CriteriaResult{Passed: false, Details: "output is not valid JSON"}
}

func evaluateCodeBlock(output, language string) *CriteriaResult {
	blocks := ExtractCodeBlocks(output)
	if len(blocks) == 0 {
		return &CriteriaResult{Passed: false, Details: "output contains no fenced code block"}
	}
	if language == "" {
		return &CriteriaResult{Passed: true, Details: "output contains a fenced code block"}
	}
	want := strings.ToLower(strings.TrimSpace(language))
	for _, block := range blocks {
		if block.Language == want {
			return &CriteriaResult{Passed: true, Details: fmt.Sprintf("output contains a %s code block", want)}
		}
	}
	return &CriteriaResult{Passed: false, Details: fmt.Sprintf("no code block with language %q found", want)}
}

func (e *Evaluator) evaluateJudge(ctx context.Context, step Step, output string) *CriteriaResult {
	prompt := fmt.Sprintf(judgePromptTemplate, step.CriteriaValue, output)

	result, err := e.judge.Invoke(ctx, e.judgeModel, prompt)
	if err != nil {
		e.logger.Warn("judge invocation failed",
			slog.String("model", e.judgeModel),
			slog.String("error", err.Error()))
		return &CriteriaResult{
			Passed:  false,
			Details: fmt.Sprintf("judge could not evaluate: %v", err),
		}
	}

	passed, explanation, ok := parseVerdict(result.Text)
	cr := &CriteriaResult{
		Usage:      result.Usage,
		JudgeModel: e.judgeModel,
	}
	if !ok {
		cr.Details = "judge verdict not found in response"
		return cr
	}
	cr.Passed = passed
	if explanation != "" {
		cr.Details = explanation
	} else if passed {
		cr.Details = "judge verdict: PASSED"
	} else {
		cr.Details = "judge verdict: FAILED"
	}
	return cr
}

// parseVerdict extracts the PASSED: YES/NO verdict and the explanation
// from a judge response. ok is false when no verdict line is present.
func parseVerdict(text string) (passed bool, explanation string, ok bool) {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "PASSED: YES"):
		passed, ok = true, true
	case strings.Contains(upper, "PASSED: NO"):
		passed, ok = false, true
	default:
		return false, "", false
	}
	if idx := strings.Index(upper, "EXPLANATION:"); idx >= 0 {
		explanation = strings.TrimSpace(text[idx+len("EXPLANATION:"):])
	}
	return passed, explanation, ok
}

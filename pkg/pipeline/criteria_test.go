package pipeline

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	cascadeerrors "github.com/tombee/cascade/pkg/errors"
)

func TestEvaluateAlwaysPass(t *testing.T) {
	e := NewEvaluator(nil, "")
	result, err := e.Evaluate(context.Background(), Step{CriteriaType: CriteriaAlwaysPass}, "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Error("always_pass must accept any output")
	}
}

func TestEvaluateContains(t *testing.T) {
	e := NewEvaluator(nil, "")
	step := Step{CriteriaType: CriteriaContains, CriteriaValue: "DONE"}

	result, err := e.Evaluate(context.Background(), step, "work complete. DONE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Error("expected pass when substring present")
	}

	// Matching is case-sensitive.
	result, err = e.Evaluate(context.Background(), step, "work complete. done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Error("expected failure for lowercase variant")
	}
}

func TestEvaluateRegex(t *testing.T) {
	e := NewEvaluator(nil, "")
	step := Step{CriteriaType: CriteriaRegex, CriteriaValue: `\bversion \d+\.\d+\b`}

	result, err := e.Evaluate(context.Background(), step, "released version 2.1 today")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Error("expected pattern to match")
	}

	result, err = e.Evaluate(context.Background(), step, "no version info")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Error("expected pattern not to match")
	}
}

func TestEvaluateRegexInvalidPattern(t *testing.T) {
	e := NewEvaluator(nil, "")
	step := Step{CriteriaType: CriteriaRegex, CriteriaValue: "[unclosed"}

	_, err := e.Evaluate(context.Background(), step, "anything")
	if err == nil {
		t.Fatal("expected config error for invalid pattern")
	}
	var cfgErr *cascadeerrors.ConfigError
	if !stderrors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestEvaluateJSONValid(t *testing.T) {
	e := NewEvaluator(nil, "")
	step := Step{CriteriaType: CriteriaJSONValid}

	tests := []struct {
		name   string
		output string
		passed bool
	}{
		{"bare object", `{"ok": true}`, true},
		{"array with whitespace", "  [1, 2, 3]\n", true},
		{"fenced json", "Here you go:\n```json\n{\"a\": 1}\n```\n", true},
		{"prose", "this is not json", false},
		{"truncated", `{"a": `, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Evaluate(context.Background(), step, tt.output)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Passed != tt.passed {
				t.Errorf("passed = %v, want %v (%s)", result.Passed, tt.passed, result.Details)
			}
		})
	}
}

func TestEvaluateCodeBlock(t *testing.T) {
	e := NewEvaluator(nil, "")

	tests := []struct {
		name   string
		value  string
		output string
		passed bool
	}{
		{"any block", "", "```\nx\n```", true},
		{"no block", "", "plain text", false},
		{"language match", "python", "```python\nprint(1)\n```", true},
		{"language mismatch", "python", "```go\nfmt.Println(1)\n```", false},
		{"case-insensitive tag", "Python", "```PYTHON\nprint(1)\n```", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := Step{CriteriaType: CriteriaCodeBlock, CriteriaValue: tt.value}
			result, err := e.Evaluate(context.Background(), step, tt.output)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Passed != tt.passed {
				t.Errorf("passed = %v, want %v (%s)", result.Passed, tt.passed, result.Details)
			}
		})
	}
}

func TestEvaluateJudgePassed(t *testing.T) {
	judge := newScriptedInvoker(reply("PASSED: YES\nEXPLANATION: covers all requirements"))
	e := NewEvaluator(judge, "kimi-k2p5")
	step := Step{CriteriaType: CriteriaLLMJudge, CriteriaValue: "explains recursion clearly"}

	result, err := e.Evaluate(context.Background(), step, "Recursion is when a function calls itself.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected pass, details: %s", result.Details)
	}
	if result.Details != "covers all requirements" {
		t.Errorf("expected explanation as details, got %q", result.Details)
	}
	if result.JudgeModel != "kimi-k2p5" {
		t.Errorf("judge model not recorded: %q", result.JudgeModel)
	}
	if result.Usage.TotalTokens == 0 {
		t.Error("judge usage must be recorded for billing")
	}

	sent := judge.call(0).prompt
	if !strings.Contains(sent, "explains recursion clearly") {
		t.Error("judge prompt must embed the criteria")
	}
	if !strings.Contains(sent, "Recursion is when a function calls itself.") {
		t.Error("judge prompt must embed the output under evaluation")
	}
}

func TestEvaluateJudgeFailed(t *testing.T) {
	judge := newScriptedInvoker(reply("PASSED: NO\nEXPLANATION: missing examples"))
	e := NewEvaluator(judge, "kimi-k2p5")
	step := Step{CriteriaType: CriteriaLLMJudge, CriteriaValue: "includes examples"}

	result, err := e.Evaluate(context.Background(), step, "some text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Error("expected failure")
	}
	if result.Details != "missing examples" {
		t.Errorf("got details %q", result.Details)
	}
}

func TestEvaluateJudgeNoVerdict(t *testing.T) {
	judge := newScriptedInvoker(reply("I think it looks fine overall."))
	e := NewEvaluator(judge, "kimi-k2p5")
	step := Step{CriteriaType: CriteriaLLMJudge, CriteriaValue: "anything"}

	result, err := e.Evaluate(context.Background(), step, "some text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Error("missing verdict must not pass")
	}
}

func TestEvaluateJudgeInvokerError(t *testing.T) {
	judge := newScriptedInvoker(replyErr(&cascadeerrors.ProviderError{
		Provider: "openai", StatusCode: 503, Message: "overloaded",
	}))
	e := NewEvaluator(judge, "kimi-k2p5")
	step := Step{CriteriaType: CriteriaLLMJudge, CriteriaValue: "anything"}

	// A judge outage is a criteria failure, not a step-level error:
	// the attempt budget decides whether to try again.
	result, err := e.Evaluate(context.Background(), step, "some text")
	if err != nil {
		t.Fatalf("judge failure must not surface as an error, got: %v", err)
	}
	if result.Passed {
		t.Error("expected failure when judge is unreachable")
	}
	if !strings.Contains(result.Details, "judge could not evaluate") {
		t.Errorf("details must explain the judge failure, got %q", result.Details)
	}
}

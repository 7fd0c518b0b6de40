package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tombee/cascade/pkg/errors"
	"github.com/tombee/cascade/pkg/llm"
)

// Validate checks the workflow definition against the structural rules
// enforced at creation time. The models registry is consulted so that a
// bad model identifier is rejected up front rather than at execution
// time.
func (w *Workflow) Validate(models *llm.Registry) error {
	if strings.TrimSpace(w.Name) == "" {
		return &errors.ValidationError{
			Field:   "name",
			Message: "workflow name is required",
		}
	}
	if len(w.Steps) == 0 {
		return &errors.ValidationError{
			Field:   "steps",
			Message: "workflow must have at least one step",
		}
	}

	ordered := make([]Step, len(w.Steps))
	copy(ordered, w.Steps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	for i, step := range ordered {
		field := fmt.Sprintf("steps[%d]", i)
		if step.Order != i+1 {
			return &errors.ValidationError{
				Field:      field + ".order",
				Message:    fmt.Sprintf("step orders must be unique and contiguous starting at 1, got %d at position %d", step.Order, i+1),
				Suggestion: "renumber steps 1..n with no gaps or duplicates",
			}
		}
		if err := step.validate(field, models); err != nil {
			return err
		}
	}
	return nil
}

func (s *Step) validate(field string, models *llm.Registry) error {
	if strings.TrimSpace(s.Prompt) == "" {
		return &errors.ValidationError{
			Field:   field + ".prompt",
			Message: "step prompt must not be empty",
		}
	}
	if s.MaxRetries < 0 {
		return &errors.ValidationError{
			Field:   field + ".max_retries",
			Message: "max_retries must not be negative",
		}
	}

	if !s.CriteriaType.Valid() {
		return &errors.ValidationError{
			Field:      field + ".criteria_type",
			Message:    fmt.Sprintf("unknown criteria type %q", s.CriteriaType),
			Suggestion: "use one of: always_pass, contains, regex, json_valid, code_block, llm_judge",
		}
	}
	if s.CriteriaType.RequiresValue() && strings.TrimSpace(s.CriteriaValue) == "" {
		return &errors.ValidationError{
			Field:   field + ".criteria_value",
			Message: fmt.Sprintf("criteria type %q requires a criteria value", s.CriteriaType),
		}
	}
	if s.CriteriaType == CriteriaRegex {
		if _, err := regexp.Compile(s.CriteriaValue); err != nil {
			return &errors.ValidationError{
				Field:   field + ".criteria_value",
				Message: fmt.Sprintf("invalid regex pattern: %v", err),
			}
		}
	}

	if !s.ContextMode.Valid() {
		return &errors.ValidationError{
			Field:      field + ".context_mode",
			Message:    fmt.Sprintf("unknown context mode %q", s.ContextMode),
			Suggestion: "use one of: full, code_only, summary, custom",
		}
	}
	if s.ContextMode == ContextCustom && strings.TrimSpace(s.ContextTemplate) == "" {
		return &errors.ValidationError{
			Field:   field + ".context_template",
			Message: "context mode custom requires a context template",
		}
	}
	if s.ContextMode != ContextCustom && s.ContextTemplate != "" {
		return &errors.ValidationError{
			Field:      field + ".context_template",
			Message:    fmt.Sprintf("context template is only valid with context mode custom, not %q", s.ContextMode),
			Suggestion: "remove the template or set context_mode to custom",
		}
	}

	if models != nil && !models.Has(s.Model) {
		return &errors.ValidationError{
			Field:   field + ".model",
			Message: fmt.Sprintf("unknown model %q", s.Model),
		}
	}
	return nil
}

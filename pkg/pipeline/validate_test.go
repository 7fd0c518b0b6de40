package pipeline

import (
	stderrors "errors"
	"strings"
	"testing"

	cascadeerrors "github.com/tombee/cascade/pkg/errors"
	"github.com/tombee/cascade/pkg/llm"
)

func validStep(order int) Step {
	return Step{
		ID:           "s",
		Order:        order,
		Name:         "step",
		Model:        "kimi-k2p5",
		Prompt:       "do something",
		CriteriaType: CriteriaAlwaysPass,
		ContextMode:  ContextFull,
	}
}

func TestValidateWorkflow(t *testing.T) {
	registry := llm.DefaultRegistry()

	tests := []struct {
		name    string
		mutate  func(w *Workflow)
		wantErr string
	}{
		{
			name:   "valid single step",
			mutate: func(w *Workflow) {},
		},
		{
			name:    "missing name",
			mutate:  func(w *Workflow) { w.Name = " " },
			wantErr: "name",
		},
		{
			name:    "no steps",
			mutate:  func(w *Workflow) { w.Steps = nil },
			wantErr: "steps",
		},
		{
			name: "orders not starting at 1",
			mutate: func(w *Workflow) {
				w.Steps = []Step{validStep(2)}
			},
			wantErr: "order",
		},
		{
			name: "duplicate orders",
			mutate: func(w *Workflow) {
				w.Steps = []Step{validStep(1), validStep(1)}
			},
			wantErr: "order",
		},
		{
			name: "gap in orders",
			mutate: func(w *Workflow) {
				w.Steps = []Step{validStep(1), validStep(3)}
			},
			wantErr: "order",
		},
		{
			name:    "empty prompt",
			mutate:  func(w *Workflow) { w.Steps[0].Prompt = "  " },
			wantErr: "prompt",
		},
		{
			name:    "negative retries",
			mutate:  func(w *Workflow) { w.Steps[0].MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "unknown criteria type",
			mutate:  func(w *Workflow) { w.Steps[0].CriteriaType = "vibes" },
			wantErr: "criteria_type",
		},
		{
			name: "contains without value",
			mutate: func(w *Workflow) {
				w.Steps[0].CriteriaType = CriteriaContains
			},
			wantErr: "criteria_value",
		},
		{
			name: "invalid regex value",
			mutate: func(w *Workflow) {
				w.Steps[0].CriteriaType = CriteriaRegex
				w.Steps[0].CriteriaValue = "[oops"
			},
			wantErr: "criteria_value",
		},
		{
			name:    "unknown context mode",
			mutate:  func(w *Workflow) { w.Steps[0].ContextMode = "telepathy" },
			wantErr: "context_mode",
		},
		{
			name: "custom without template",
			mutate: func(w *Workflow) {
				w.Steps[0].ContextMode = ContextCustom
			},
			wantErr: "context_template",
		},
		{
			name: "template without custom mode",
			mutate: func(w *Workflow) {
				w.Steps[0].ContextTemplate = "{{output}}"
			},
			wantErr: "context_template",
		},
		{
			name:    "unknown model",
			mutate:  func(w *Workflow) { w.Steps[0].Model = "gpt-99" },
			wantErr: "model",
		},
		{
			name:   "auto model accepted",
			mutate: func(w *Workflow) { w.Steps[0].Model = llm.ModelAuto },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Workflow{
				ID:    "wf",
				Name:  "demo",
				Steps: []Step{validStep(1)},
			}
			tt.mutate(w)

			err := w.Validate(registry)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			var vErr *cascadeerrors.ValidationError
			if !stderrors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(vErr.Field, tt.wantErr) {
				t.Errorf("error field %q does not mention %q", vErr.Field, tt.wantErr)
			}
		})
	}
}

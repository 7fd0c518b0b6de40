package store

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	cascadeerrors "github.com/tombee/cascade/pkg/errors"
	"github.com/tombee/cascade/pkg/pipeline"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "cascade.db"), WAL: true})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testWorkflow() *pipeline.Workflow {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &pipeline.Workflow{
		ID:          "wf-1",
		Name:        "review pipeline",
		Description: "generate then review",
		Steps: []pipeline.Step{
			{
				ID: "s1", Order: 1, Name: "generate", Model: "kimi-k2p5",
				Prompt: "write the function", CriteriaType: pipeline.CriteriaCodeBlock,
				CriteriaValue: "go", MaxRetries: 2, ContextMode: pipeline.ContextCodeOnly,
			},
			{
				ID: "s2", Order: 2, Name: "review", Model: "auto",
				Prompt: "review the code", CriteriaType: pipeline.CriteriaAlwaysPass,
				ContextMode: pipeline.ContextFull,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteWorkflowRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := testWorkflow()
	if err := s.CreateWorkflow(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != w.Name || got.Description != w.Description {
		t.Errorf("got %+v", got)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	if got.Steps[0].CriteriaType != pipeline.CriteriaCodeBlock || got.Steps[0].CriteriaValue != "go" {
		t.Errorf("step 1 criteria lost: %+v", got.Steps[0])
	}
	if !got.CreatedAt.Equal(w.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, w.CreatedAt)
	}

	got.Name = "renamed"
	got.UpdatedAt = time.Now().UTC()
	if err := s.UpdateWorkflow(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, _ := s.GetWorkflow(ctx, "wf-1")
	if updated.Name != "renamed" {
		t.Errorf("update not persisted: %+v", updated)
	}

	list, err := s.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("listed %d workflows, want 1", len(list))
	}

	if err := s.DeleteWorkflow(ctx, "wf-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetWorkflow(ctx, "wf-1"); err == nil {
		t.Error("expected not found after delete")
	}
}

func TestSQLiteNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetWorkflow(ctx, "ghost")
	var nfErr *cascadeerrors.NotFoundError
	if !stderrors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}

	if _, err := s.GetExecution(ctx, "ghost"); !stderrors.As(err, &nfErr) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if err := s.UpdateExecution(ctx, &pipeline.Execution{ID: "ghost"}); !stderrors.As(err, &nfErr) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if err := s.DeleteWorkflow(ctx, "ghost"); !stderrors.As(err, &nfErr) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestSQLiteExecutionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	e := &pipeline.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Steps:      testWorkflow().Steps,
		Status:     pipeline.ExecutionPending,
		StartedAt:  started,
	}
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	e.Status = pipeline.ExecutionRunning
	e.CurrentStepOrder = 1
	if err := s.UpdateExecution(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}

	completed := started.Add(3 * time.Second)
	e.Status = pipeline.ExecutionCompleted
	e.CurrentStepOrder = 2
	e.CompletedAt = &completed
	e.TotalTokens = 450
	e.TotalCostUSD = 0.000135
	if err := s.UpdateExecution(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != pipeline.ExecutionCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if got.CurrentStepOrder != 2 || got.TotalTokens != 450 {
		t.Errorf("got %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, completed)
	}
	if len(got.Steps) != 2 {
		t.Errorf("snapshot steps = %d, want 2", len(got.Steps))
	}
}

func TestSQLiteStepExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.CreateExecution(ctx, &pipeline.Execution{
		ID: "exec-1", WorkflowID: "wf-1", Status: pipeline.ExecutionRunning,
		Steps: testWorkflow().Steps, StartedAt: started,
	}); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	se := &pipeline.StepExecution{
		ID:            "se-1",
		ExecutionID:   "exec-1",
		StepID:        "s1",
		StepOrder:     1,
		Status:        pipeline.StepRunning,
		AttemptNumber: 1,
		InputContext:  "",
		StartedAt:     started,
	}
	if err := s.CreateStepExecution(ctx, se); err != nil {
		t.Fatalf("create: %v", err)
	}

	se.Status = pipeline.StepCompleted
	se.AttemptNumber = 2
	se.PromptSent = "write the function"
	se.LLMResponse = "```go\nfunc f() {}\n```"
	se.CriteriaPassed = true
	se.CriteriaDetails = "output contains a go code block"
	se.OutputContext = "func f() {}"
	se.PromptTokens = 200
	se.CompletionTokens = 100
	se.TotalTokens = 300
	se.CostUSD = 0.00009
	done := started.Add(time.Second)
	se.CompletedAt = &done
	if err := s.UpdateStepExecution(ctx, se); err != nil {
		t.Fatalf("update: %v", err)
	}

	steps, err := s.ListStepExecutions(ctx, "exec-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("listed %d records, want 1", len(steps))
	}
	got := steps[0]
	if got.Status != pipeline.StepCompleted || got.AttemptNumber != 2 {
		t.Errorf("got %+v", got)
	}
	if !got.CriteriaPassed || got.OutputContext != "func f() {}" {
		t.Errorf("criteria fields lost: %+v", got)
	}
	if got.TotalTokens != 300 || got.CostUSD != 0.00009 {
		t.Errorf("billing fields lost: %+v", got)
	}
}

func TestSQLiteListExecutionsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	steps := testWorkflow().Steps

	for i, wfID := range []string{"wf-1", "wf-2", "wf-1"} {
		e := &pipeline.Execution{
			ID:         []string{"e1", "e2", "e3"}[i],
			WorkflowID: wfID,
			Steps:      steps,
			Status:     pipeline.ExecutionPending,
			StartedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateExecution(ctx, e); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	filtered, err := s.ListExecutions(ctx, "wf-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(filtered) != 2 || filtered[0].ID != "e1" || filtered[1].ID != "e3" {
		t.Errorf("unexpected filtered listing: %+v", filtered)
	}

	all, _ := s.ListExecutions(ctx, "")
	if len(all) != 3 {
		t.Errorf("listed %d executions, want 3", len(all))
	}
}

package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/tombee/cascade/pkg/errors"
)

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, w *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, w *Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]*Workflow, error)
}

// ExecutionStore persists execution state. Reads are served from
// persisted state only; observers polling an execution never block on
// the engine.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, e *Execution) error
	ListExecutions(ctx context.Context, workflowID string) ([]*Execution, error)

	CreateStepExecution(ctx context.Context, se *StepExecution) error
	UpdateStepExecution(ctx context.Context, se *StepExecution) error
	ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error)
}

// Store combines workflow and execution persistence.
type Store interface {
	WorkflowStore
	ExecutionStore
}

// MemoryStore is an in-memory Store for tests and single-process use.
// All methods are safe for concurrent use and return deep copies, so
// callers can never see an in-flight mutation.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*Workflow
	executions map[string]*Execution
	steps      map[string]*StepExecution
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*Workflow),
		executions: make(map[string]*Execution),
		steps:      make(map[string]*StepExecution),
	}
}

func (s *MemoryStore) CreateWorkflow(_ context.Context, w *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[w.ID]; exists {
		return &errors.ValidationError{Field: "id", Message: "workflow already exists: " + w.ID}
	}
	s.workflows[w.ID] = copyWorkflow(w)
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	return copyWorkflow(w), nil
}

func (s *MemoryStore) UpdateWorkflow(_ context.Context, w *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[w.ID]; !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: w.ID}
	}
	s.workflows[w.ID] = copyWorkflow(w)
	return nil
}

func (s *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	delete(s.workflows, id)
	return nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, copyWorkflow(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateExecution(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[e.ID]; exists {
		return &errors.ValidationError{Field: "id", Message: "execution already exists: " + e.ID}
	}
	s.executions[e.ID] = copyExecution(e)
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "execution", ID: id}
	}
	return copyExecution(e), nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		return &errors.NotFoundError{Resource: "execution", ID: e.ID}
	}
	s.executions[e.ID] = copyExecution(e)
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, workflowID string) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Execution, 0)
	for _, e := range s.executions {
		if workflowID == "" || e.WorkflowID == workflowID {
			out = append(out, copyExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) CreateStepExecution(_ context.Context, se *StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.steps[se.ID]; exists {
		return &errors.ValidationError{Field: "id", Message: "step execution already exists: " + se.ID}
	}
	s.steps[se.ID] = copyStepExecution(se)
	return nil
}

func (s *MemoryStore) UpdateStepExecution(_ context.Context, se *StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[se.ID]; !ok {
		return &errors.NotFoundError{Resource: "step execution", ID: se.ID}
	}
	s.steps[se.ID] = copyStepExecution(se)
	return nil
}

func (s *MemoryStore) ListStepExecutions(_ context.Context, executionID string) ([]*StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*StepExecution, 0)
	for _, se := range s.steps {
		if se.ExecutionID == executionID {
			out = append(out, copyStepExecution(se))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func copyWorkflow(w *Workflow) *Workflow {
	cp := *w
	cp.Steps = make([]Step, len(w.Steps))
	copy(cp.Steps, w.Steps)
	return &cp
}

func copyExecution(e *Execution) *Execution {
	cp := *e
	cp.Steps = make([]Step, len(e.Steps))
	copy(cp.Steps, e.Steps)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyStepExecution(se *StepExecution) *StepExecution {
	cp := *se
	if se.CompletedAt != nil {
		t := *se.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

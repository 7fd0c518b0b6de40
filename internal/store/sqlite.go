// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides the SQLite persistence backend for
// single-node deployments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	cascadeerrors "github.com/tombee/cascade/pkg/errors"
	"github.com/tombee/cascade/pkg/pipeline"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertions.
var (
	_ pipeline.WorkflowStore  = (*SQLite)(nil)
	_ pipeline.ExecutionStore = (*SQLite)(nil)
	_ pipeline.Store          = (*SQLite)(nil)
)

// SQLite is a SQLite storage backend.
type SQLite struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New creates a new SQLite store.
func New(cfg Config) (*SQLite, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLite{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// configurePragmas sets SQLite configuration options.
func (s *SQLite) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations.
func (s *SQLite) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			steps TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_created_at ON workflows(created_at)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			steps TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step_order INTEGER DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			error_message TEXT,
			total_tokens INTEGER DEFAULT 0,
			total_cost_usd REAL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE TABLE IF NOT EXISTS step_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			step_order INTEGER NOT NULL,
			status TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			input_context TEXT,
			prompt_sent TEXT,
			llm_response TEXT,
			criteria_passed INTEGER DEFAULT 0,
			criteria_details TEXT,
			output_context TEXT,
			prompt_tokens INTEGER DEFAULT 0,
			completion_tokens INTEGER DEFAULT 0,
			total_tokens INTEGER DEFAULT 0,
			cost_usd REAL DEFAULT 0,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			error_message TEXT,
			FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_executions_execution_id ON step_executions(execution_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// CreateWorkflow inserts a new workflow.
func (s *SQLite) CreateWorkflow(ctx context.Context, w *pipeline.Workflow) error {
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		w.ID, w.Name, nullString(w.Description), string(stepsJSON),
		w.CreatedAt.Format(time.RFC3339Nano), w.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *SQLite) GetWorkflow(ctx context.Context, id string) (*pipeline.Workflow, error) {
	query := `
		SELECT id, name, description, steps, created_at, updated_at
		FROM workflows WHERE id = ?
	`

	var w pipeline.Workflow
	var description sql.NullString
	var stepsJSON, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.Name, &description, &stepsJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &cascadeerrors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if description.Valid {
		w.Description = description.String
	}
	if err := json.Unmarshal([]byte(stepsJSON), &w.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

// UpdateWorkflow replaces a stored workflow.
func (s *SQLite) UpdateWorkflow(ctx context.Context, w *pipeline.Workflow) error {
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		UPDATE workflows SET name = ?, description = ?, steps = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		w.Name, nullString(w.Description), string(stepsJSON),
		w.UpdatedAt.Format(time.RFC3339Nano), w.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return requireRow(result, "workflow", w.ID)
}

// DeleteWorkflow removes a workflow.
func (s *SQLite) DeleteWorkflow(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return requireRow(result, "workflow", id)
}

// ListWorkflows returns all workflows ordered by creation time.
func (s *SQLite) ListWorkflows(ctx context.Context) ([]*pipeline.Workflow, error) {
	query := `
		SELECT id, name, description, steps, created_at, updated_at
		FROM workflows ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	workflows := make([]*pipeline.Workflow, 0)
	for rows.Next() {
		var w pipeline.Workflow
		var description sql.NullString
		var stepsJSON, createdAt, updatedAt string
		if err := rows.Scan(&w.ID, &w.Name, &description, &stepsJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		if description.Valid {
			w.Description = description.String
		}
		if err := json.Unmarshal([]byte(stepsJSON), &w.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
		w.CreatedAt = parseTime(createdAt)
		w.UpdatedAt = parseTime(updatedAt)
		workflows = append(workflows, &w)
	}
	return workflows, rows.Err()
}

// CreateExecution inserts a new execution.
func (s *SQLite) CreateExecution(ctx context.Context, e *pipeline.Execution) error {
	stepsJSON, err := json.Marshal(e.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, steps, status, current_step_order,
			started_at, completed_at, error_message, total_tokens, total_cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.WorkflowID, string(stepsJSON), string(e.Status), e.CurrentStepOrder,
		e.StartedAt.Format(time.RFC3339Nano), formatTimePtr(e.CompletedAt),
		nullString(e.ErrorMessage), e.TotalTokens, e.TotalCostUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLite) GetExecution(ctx context.Context, id string) (*pipeline.Execution, error) {
	query := `
		SELECT id, workflow_id, steps, status, current_step_order,
			started_at, completed_at, error_message, total_tokens, total_cost_usd
		FROM executions WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, id)
	e, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &cascadeerrors.NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution replaces a stored execution.
func (s *SQLite) UpdateExecution(ctx context.Context, e *pipeline.Execution) error {
	query := `
		UPDATE executions SET status = ?, current_step_order = ?, completed_at = ?,
			error_message = ?, total_tokens = ?, total_cost_usd = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(e.Status), e.CurrentStepOrder, formatTimePtr(e.CompletedAt),
		nullString(e.ErrorMessage), e.TotalTokens, e.TotalCostUSD, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	return requireRow(result, "execution", e.ID)
}

// ListExecutions returns executions, optionally filtered by workflow,
// ordered by start time.
func (s *SQLite) ListExecutions(ctx context.Context, workflowID string) ([]*pipeline.Execution, error) {
	query := `
		SELECT id, workflow_id, steps, status, current_step_order,
			started_at, completed_at, error_message, total_tokens, total_cost_usd
		FROM executions
	`
	args := []any{}
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := make([]*pipeline.Execution, 0)
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// CreateStepExecution inserts a new step execution record.
func (s *SQLite) CreateStepExecution(ctx context.Context, se *pipeline.StepExecution) error {
	query := `
		INSERT INTO step_executions (id, execution_id, step_id, step_order, status,
			attempt_number, input_context, prompt_sent, llm_response, criteria_passed,
			criteria_details, output_context, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, started_at, completed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		se.ID, se.ExecutionID, se.StepID, se.StepOrder, string(se.Status),
		se.AttemptNumber, nullString(se.InputContext), nullString(se.PromptSent),
		nullString(se.LLMResponse), boolToInt(se.CriteriaPassed),
		nullString(se.CriteriaDetails), nullString(se.OutputContext),
		se.PromptTokens, se.CompletionTokens, se.TotalTokens, se.CostUSD,
		se.StartedAt.Format(time.RFC3339Nano), formatTimePtr(se.CompletedAt),
		nullString(se.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to create step execution: %w", err)
	}
	return nil
}

// UpdateStepExecution replaces a stored step execution record.
func (s *SQLite) UpdateStepExecution(ctx context.Context, se *pipeline.StepExecution) error {
	query := `
		UPDATE step_executions SET status = ?, attempt_number = ?, prompt_sent = ?,
			llm_response = ?, criteria_passed = ?, criteria_details = ?,
			output_context = ?, prompt_tokens = ?, completion_tokens = ?,
			total_tokens = ?, cost_usd = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(se.Status), se.AttemptNumber, nullString(se.PromptSent),
		nullString(se.LLMResponse), boolToInt(se.CriteriaPassed),
		nullString(se.CriteriaDetails), nullString(se.OutputContext),
		se.PromptTokens, se.CompletionTokens, se.TotalTokens, se.CostUSD,
		formatTimePtr(se.CompletedAt), nullString(se.ErrorMessage), se.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
	}
	return requireRow(result, "step execution", se.ID)
}

// ListStepExecutions returns an execution's step records ordered by
// step position.
func (s *SQLite) ListStepExecutions(ctx context.Context, executionID string) ([]*pipeline.StepExecution, error) {
	query := `
		SELECT id, execution_id, step_id, step_order, status, attempt_number,
			input_context, prompt_sent, llm_response, criteria_passed,
			criteria_details, output_context, prompt_tokens, completion_tokens,
			total_tokens, cost_usd, started_at, completed_at, error_message
		FROM step_executions WHERE execution_id = ? ORDER BY step_order
	`
	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}
	defer rows.Close()

	steps := make([]*pipeline.StepExecution, 0)
	for rows.Next() {
		var se pipeline.StepExecution
		var inputContext, promptSent, llmResponse, criteriaDetails sql.NullString
		var outputContext, completedAt, errorMessage sql.NullString
		var criteriaPassed int
		var startedAt string

		if err := rows.Scan(
			&se.ID, &se.ExecutionID, &se.StepID, &se.StepOrder, &se.Status,
			&se.AttemptNumber, &inputContext, &promptSent, &llmResponse,
			&criteriaPassed, &criteriaDetails, &outputContext,
			&se.PromptTokens, &se.CompletionTokens, &se.TotalTokens, &se.CostUSD,
			&startedAt, &completedAt, &errorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		se.InputContext = inputContext.String
		se.PromptSent = promptSent.String
		se.LLMResponse = llmResponse.String
		se.CriteriaDetails = criteriaDetails.String
		se.OutputContext = outputContext.String
		se.ErrorMessage = errorMessage.String
		se.CriteriaPassed = criteriaPassed != 0
		se.StartedAt = parseTime(startedAt)
		se.CompletedAt = parseTimePtr(completedAt)
		steps = append(steps, &se)
	}
	return steps, rows.Err()
}

func scanExecution(scan func(dest ...any) error) (*pipeline.Execution, error) {
	var e pipeline.Execution
	var stepsJSON, startedAt string
	var completedAt, errorMessage sql.NullString
	var status string

	err := scan(
		&e.ID, &e.WorkflowID, &stepsJSON, &status, &e.CurrentStepOrder,
		&startedAt, &completedAt, &errorMessage, &e.TotalTokens, &e.TotalCostUSD,
	)
	if err != nil {
		return nil, err
	}

	e.Status = pipeline.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(stepsJSON), &e.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	e.StartedAt = parseTime(startedAt)
	e.CompletedAt = parseTimePtr(completedAt)
	e.ErrorMessage = errorMessage.String
	return &e, nil
}

func requireRow(result sql.Result, resource, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return &cascadeerrors.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

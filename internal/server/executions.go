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

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tombee/cascade/pkg/pipeline"
)

// ExecutionDetail is an execution with its per-step records attached.
type ExecutionDetail struct {
	pipeline.Execution
	StepExecutions []*pipeline.StepExecution `json:"step_executions"`
}

// StartExecution launches a workflow run and returns the pending
// execution immediately. Progress is observed by polling GetExecution.
// (POST /api/v1/workflows/:id/executions)
func (s *Server) StartExecution(c echo.Context) error {
	execution, err := s.orchestrator.Start(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, execution)
}

// ListExecutions returns a workflow's executions in launch order.
// (GET /api/v1/workflows/:id/executions)
func (s *Server) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()

	// 404 for an unknown workflow, not an empty listing.
	if _, err := s.store.GetWorkflow(ctx, c.Param("id")); err != nil {
		return httpError(err)
	}
	executions, err := s.store.ListExecutions(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, executions)
}

// GetExecution returns the execution and its step records.
// (GET /api/v1/executions/:id)
func (s *Server) GetExecution(c echo.Context) error {
	ctx := c.Request().Context()

	execution, err := s.store.GetExecution(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	steps, err := s.store.ListStepExecutions(ctx, execution.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ExecutionDetail{
		Execution:      *execution,
		StepExecutions: steps,
	})
}

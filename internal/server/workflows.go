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
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	cascadeerrors "github.com/tombee/cascade/pkg/errors"
	"github.com/tombee/cascade/pkg/pipeline"
)

// CreateWorkflow creates a new workflow.
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var workflow pipeline.Workflow
	if err := c.Bind(&workflow); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	workflow.ID = uuid.NewString()
	for i := range workflow.Steps {
		if workflow.Steps[i].ID == "" {
			workflow.Steps[i].ID = uuid.NewString()
		}
	}
	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := workflow.Validate(s.models); err != nil {
		return httpError(err)
	}
	if err := s.store.CreateWorkflow(ctx, &workflow); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, workflow)
}

// ListWorkflows returns all workflows.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.store.ListWorkflows(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflow returns one workflow by ID.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	workflow, err := s.store.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflow)
}

// UpdateWorkflow replaces a workflow definition. Executions already in
// flight keep their launch-time snapshot.
// (PUT /api/v1/workflows/:id)
func (s *Server) UpdateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	existing, err := s.store.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	var workflow pipeline.Workflow
	if err := c.Bind(&workflow); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	workflow.ID = existing.ID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()
	for i := range workflow.Steps {
		if workflow.Steps[i].ID == "" {
			workflow.Steps[i].ID = uuid.NewString()
		}
	}

	if err := workflow.Validate(s.models); err != nil {
		return httpError(err)
	}
	if err := s.store.UpdateWorkflow(ctx, &workflow); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, workflow)
}

// DeleteWorkflow removes a workflow.
// (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.store.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	var validationErr *cascadeerrors.ValidationError
	if stderrors.As(err, &validationErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validationErr.Error())
	}
	var notFoundErr *cascadeerrors.NotFoundError
	if stderrors.As(err, &notFoundErr) {
		return echo.NewHTTPError(http.StatusNotFound, notFoundErr.Error())
	}
	var configErr *cascadeerrors.ConfigError
	if stderrors.As(err, &configErr) {
		return echo.NewHTTPError(http.StatusBadRequest, configErr.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

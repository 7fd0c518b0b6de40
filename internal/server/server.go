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

// Package server exposes the workflow and execution HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/cascade/pkg/llm"
	"github.com/tombee/cascade/pkg/pipeline"
)

// Server holds the dependencies for the API server.
type Server struct {
	echo         *echo.Echo
	store        pipeline.Store
	orchestrator *pipeline.Orchestrator
	models       *llm.Registry
	logger       *slog.Logger
}

// New creates the API server and registers its routes.
func New(store pipeline.Store, orchestrator *pipeline.Orchestrator, models *llm.Registry, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:         e,
		store:        store,
		orchestrator: orchestrator,
		models:       models,
		logger:       logger,
	}

	e.GET("/healthz", s.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1")
	v1.POST("/workflows", s.CreateWorkflow)
	v1.GET("/workflows", s.ListWorkflows)
	v1.GET("/workflows/:id", s.GetWorkflow)
	v1.PUT("/workflows/:id", s.UpdateWorkflow)
	v1.DELETE("/workflows/:id", s.DeleteWorkflow)
	v1.POST("/workflows/:id/executions", s.StartExecution)
	v1.GET("/workflows/:id/executions", s.ListExecutions)
	v1.GET("/executions/:id", s.GetExecution)
	v1.GET("/models", s.ListModels)

	return s
}

// Handler returns the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Health reports liveness.
// (GET /healthz)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels returns the known model catalog.
// (GET /api/v1/models)
func (s *Server) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, s.models.List())
}

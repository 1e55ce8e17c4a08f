// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/AleutianAI/simdeck/pkg/validation"
)

// =============================================================================
// Backend Interface
// =============================================================================

// Backend is every endpoint the pipeline uses.
//
// Orchestrator and lifecycle code depend on this interface rather than on
// *Client so tests can substitute a fake.
type Backend interface {
	GenerateOntology(ctx context.Context, req OntologyRequest) (*OntologyResult, error)
	BuildGraph(ctx context.Context, req BuildRequest) (*BuildResponse, error)
	GetTask(ctx context.Context, taskID string) (*TaskState, error)
	GetGraphData(ctx context.Context, graphID string) (*GraphSnapshot, error)
	GetProject(ctx context.Context, projectID string) (*Project, error)

	CreateSimulation(ctx context.Context, req CreateSimulationRequest) (*Simulation, error)
	PrepareSimulation(ctx context.Context, req PrepareRequest) (*PrepareResponse, error)
	PrepareStatus(ctx context.Context, req PrepareStatusRequest) (*TaskState, error)
	RealtimeProfiles(ctx context.Context, simulationID, platform string) (*ProfilesSnapshot, error)
	RealtimeConfig(ctx context.Context, simulationID string) (*ConfigSnapshot, error)

	StartSimulation(ctx context.Context, req StartRequest) (*StartResponse, error)
	GetRunStatus(ctx context.Context, simulationID string) (*RunStatus, error)
	GetRunDetail(ctx context.Context, simulationID string) (*RunDetail, error)
	StopSimulation(ctx context.Context, simulationID string) (*RunStatus, error)
	CloseEnv(ctx context.Context, req CloseEnvRequest) (*CloseEnvResponse, error)
	GetEnvStatus(ctx context.Context, simulationID string) (*EnvStatus, error)

	GenerateReport(ctx context.Context, req ReportRequest) (*ReportSubmission, error)
	ReportStatus(ctx context.Context, req ReportStatusRequest) (*TaskState, error)
	GetReport(ctx context.Context, reportID string) (*Report, error)
}

var _ Backend = (*Client)(nil)

// =============================================================================
// Graph Endpoints
// =============================================================================

// GenerateOntology uploads the source documents and generates the ontology.
//
// # Description
//
// Sends a multipart form with one "files" part per document plus the
// requirement text. The body is built once and replayed on retry.
//
// # Inputs
//
//   - req.Files: Local paths of the documents (at least one)
//   - req.SimulationRequirement: What the simulation should explore
//
// # Outputs
//
//   - *OntologyResult: The new project id and its ontology
//   - error: Validation error, or *MutationFailure after retries
func (c *Client) GenerateOntology(ctx context.Context, req OntologyRequest) (*OntologyResult, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	body, contentType, err := buildOntologyForm(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var out OntologyResult
	err = c.mutate(ctx, "generate ontology", func(ctx context.Context) error {
		return c.do(ctx, call{
			Method:      http.MethodPost,
			Route:       "/graph/ontology/generate",
			Path:        "/graph/ontology/generate",
			Body:        body,
			ContentType: contentType,
		}, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func buildOntologyForm(req OntologyRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, path := range req.Files {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", path, err)
		}
		part, err := w.CreateFormFile("files", filepath.Base(path))
		if err != nil {
			f.Close()
			return nil, "", err
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", path, err)
		}
	}

	fields := map[string]string{
		"simulation_requirement": req.SimulationRequirement,
		"additional_context":     req.AdditionalContext,
		"project_name":           req.ProjectName,
	}
	for _, name := range []string{"simulation_requirement", "additional_context", "project_name"} {
		if fields[name] == "" {
			continue
		}
		if err := w.WriteField(name, fields[name]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// BuildGraph submits graph construction for a project.
func (c *Client) BuildGraph(ctx context.Context, req BuildRequest) (*BuildResponse, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	var out BuildResponse
	err := c.mutate(ctx, "build graph", func(ctx context.Context) error {
		return c.postJSON(ctx, "/graph/build", "/graph/build", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask returns the state of a graph task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskState, error) {
	var out TaskState
	path, err := idPath("task", taskID, "/graph/task/", "")
	if err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/graph/task/{id}", path, nil, &out); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		out.TaskID = taskID
	}
	return &out, nil
}

// GetGraphData returns the full graph snapshot.
func (c *Client) GetGraphData(ctx context.Context, graphID string) (*GraphSnapshot, error) {
	var out GraphSnapshot
	path, err := idPath("graph", graphID, "/graph/data/", "")
	if err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/graph/data/{id}", path, nil, &out); err != nil {
		return nil, err
	}
	if out.GraphID == "" {
		out.GraphID = graphID
	}
	return &out, nil
}

// GetProject returns a project.
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var out Project
	path, err := idPath("project", projectID, "/graph/project/", "")
	if err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/graph/project/{id}", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Simulation Endpoints
// =============================================================================

// CreateSimulation creates a simulation for a project graph.
func (c *Client) CreateSimulation(ctx context.Context, req CreateSimulationRequest) (*Simulation, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	var out Simulation
	err := c.mutate(ctx, "create simulation", func(ctx context.Context) error {
		return c.postJSON(ctx, "/simulation/create", "/simulation/create", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareSimulation starts environment preparation.
func (c *Client) PrepareSimulation(ctx context.Context, req PrepareRequest) (*PrepareResponse, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	var out PrepareResponse
	err := c.mutate(ctx, "prepare simulation", func(ctx context.Context) error {
		return c.postJSON(ctx, "/simulation/prepare", "/simulation/prepare", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareStatus queries a prepare task or a simulation's readiness.
func (c *Client) PrepareStatus(ctx context.Context, req PrepareStatusRequest) (*TaskState, error) {
	if req.TaskID == "" && req.SimulationID == "" {
		return nil, fmt.Errorf("%w: prepare status needs a task id or simulation id", ErrInvalidRequest)
	}
	var out TaskState
	if err := c.postJSON(ctx, "/simulation/prepare/status", "/simulation/prepare/status", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RealtimeProfiles lists the profiles generated so far for one platform.
// An empty platform means reddit, matching the server default.
func (c *Client) RealtimeProfiles(ctx context.Context, simulationID, platform string) (*ProfilesSnapshot, error) {
	if platform == "" {
		platform = PlatformReddit
	}
	var out ProfilesSnapshot
	q := url.Values{"platform": []string{platform}}
	path, err := idPath("simulation", simulationID, "/simulation/", "/profiles/realtime")
	if err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/simulation/{id}/profiles/realtime", path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RealtimeConfig returns the configuration generation state.
func (c *Client) RealtimeConfig(ctx context.Context, simulationID string) (*ConfigSnapshot, error) {
	var out ConfigSnapshot
	path, err := idPath("simulation", simulationID, "/simulation/", "/config/realtime")
	if err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/simulation/{id}/config/realtime", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSimulation starts a run. A nil MaxRounds lets the server apply its
// own default.
func (c *Client) StartSimulation(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	if req.Platform == "" {
		req.Platform = PlatformParallel
	}
	var out StartResponse
	err := c.mutate(ctx, "start simulation", func(ctx context.Context) error {
		return c.postJSON(ctx, "/simulation/start", "/simulation/start", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRunStatus returns the live run state.
func (c *Client) GetRunStatus(ctx context.Context, simulationID string) (*RunStatus, error) {
	var out RunStatus
	path, err := idPath("simulation", simulationID, "/simulation/", "/run-status")
	if err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/simulation/{id}/run-status", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRunDetail returns the run state plus every action so far.
func (c *Client) GetRunDetail(ctx context.Context, simulationID string) (*RunDetail, error) {
	var out RunDetail
	path, err := idPath("simulation", simulationID, "/simulation/", "/run-status/detail")
	if err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/simulation/{id}/run-status/detail", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopSimulation kills a run.
func (c *Client) StopSimulation(ctx context.Context, simulationID string) (*RunStatus, error) {
	req := StopRequest{SimulationID: simulationID}
	if err := c.check(req); err != nil {
		return nil, err
	}
	var out RunStatus
	err := c.mutate(ctx, "stop simulation", func(ctx context.Context) error {
		return c.postJSON(ctx, "/simulation/stop", "/simulation/stop", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseEnv asks the environment to exit gracefully. It is not retried; the
// lifecycle manager escalates to StopSimulation instead.
func (c *Client) CloseEnv(ctx context.Context, req CloseEnvRequest) (*CloseEnvResponse, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	var out CloseEnvResponse
	if err := c.postJSON(ctx, "/simulation/close-env", "/simulation/close-env", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEnvStatus reports whether the environment process is alive.
func (c *Client) GetEnvStatus(ctx context.Context, simulationID string) (*EnvStatus, error) {
	var out EnvStatus
	in := map[string]string{"simulation_id": simulationID}
	if err := c.postJSON(ctx, "/simulation/env-status", "/simulation/env-status", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Report Endpoints
// =============================================================================

// GenerateReport submits report generation.
func (c *Client) GenerateReport(ctx context.Context, req ReportRequest) (*ReportSubmission, error) {
	if err := c.check(req); err != nil {
		return nil, err
	}
	var out ReportSubmission
	err := c.mutate(ctx, "generate report", func(ctx context.Context) error {
		return c.postJSON(ctx, "/report/generate", "/report/generate", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportStatus queries report generation progress.
func (c *Client) ReportStatus(ctx context.Context, req ReportStatusRequest) (*TaskState, error) {
	if req.TaskID == "" && req.SimulationID == "" {
		return nil, fmt.Errorf("%w: report status needs a task id or simulation id", ErrInvalidRequest)
	}
	var out TaskState
	if err := c.postJSON(ctx, "/report/generate/status", "/report/generate/status", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetReport returns a report.
func (c *Client) GetReport(ctx context.Context, reportID string) (*Report, error) {
	var out Report
	path, err := idPath("report", reportID, "/report/", "")
	if err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/report/{id}", path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// idPath builds prefix + id + suffix after checking id is safe for a path.
func idPath(kind, id, prefix, suffix string) (string, error) {
	if err := validation.ValidateID(kind, id); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return prefix + url.PathEscape(id) + suffix, nil
}

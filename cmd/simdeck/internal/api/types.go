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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
)

// =============================================================================
// Envelope
// =============================================================================

// envelope is the wrapper every endpoint answers with.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// =============================================================================
// Tasks
// =============================================================================

// TaskKind names the kind of long-running server task.
type TaskKind string

const (
	TaskOntologyGeneration TaskKind = "ontology_generation"
	TaskGraphBuild         TaskKind = "graph_build"
	TaskPrepare            TaskKind = "prepare"
	TaskReportGeneration   TaskKind = "report_generation"

	// TaskSimulationRun is the run itself. The backend tracks it through
	// run-status rather than the task API.
	TaskSimulationRun TaskKind = "simulation_run"
)

// TaskStatus is the normalized lifecycle of a server task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// NormalizeTaskStatus maps the server's vocabulary onto TaskStatus.
//
// # Description
//
// The backend is not consistent: graph tasks say "processing", prepare
// status says "ready" or "not_started", report generation says
// "generating". Anything unrecognized is treated as still running so the
// poller keeps probing instead of stopping on a status it cannot judge.
func NormalizeTaskStatus(raw string) TaskStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "not_started", "created", "queued":
		return TaskPending
	case "completed", "complete", "ready", "done", "success":
		return TaskCompleted
	case "failed", "error":
		return TaskFailed
	default:
		return TaskRunning
	}
}

// Terminal reports whether the status ends polling.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ProgressDetail is the fine-grained stage metadata of a prepare task.
type ProgressDetail struct {
	CurrentStage     string  `json:"current_stage,omitempty"`
	CurrentStageName string  `json:"current_stage_name,omitempty"`
	StageIndex       int     `json:"stage_index,omitempty"`
	TotalStages      int     `json:"total_stages,omitempty"`
	StageProgress    float64 `json:"stage_progress,omitempty"`
	CurrentItem      int     `json:"current_item,omitempty"`
	TotalItems       int     `json:"total_items,omitempty"`
	ItemDescription  string  `json:"item_description,omitempty"`
}

// Stage names reported in ProgressDetail.CurrentStage.
const (
	StageReading            = "reading"
	StageGeneratingProfiles = "generating_profiles"
	StageGeneratingConfig   = "generating_config"
	StageCopyingScripts     = "copying_scripts"
)

// TaskState is the answer of every task status endpoint.
//
// Graph task, prepare status and report status all share this shape; the
// short-circuit flags are only set by the endpoints that know them.
type TaskState struct {
	TaskID         string          `json:"task_id,omitempty"`
	TaskType       string          `json:"task_type,omitempty"`
	RawStatus      string          `json:"status"`
	Progress       float64         `json:"progress"`
	Message        string          `json:"message,omitempty"`
	Error          string          `json:"error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ProgressDetail ProgressDetail  `json:"progress_detail,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`

	SimulationID     string `json:"simulation_id,omitempty"`
	ReportID         string `json:"report_id,omitempty"`
	AlreadyPrepared  bool   `json:"already_prepared,omitempty"`
	AlreadyCompleted bool   `json:"already_completed,omitempty"`
}

// Status returns the normalized status.
func (t TaskState) Status() TaskStatus {
	return NormalizeTaskStatus(t.RawStatus)
}

// ClampedProgress returns Progress limited to [0, 100].
func (t TaskState) ClampedProgress() float64 {
	switch {
	case t.Progress < 0:
		return 0
	case t.Progress > 100:
		return 100
	default:
		return t.Progress
	}
}

// FailureMessage returns the most useful description of a failed task.
func (t TaskState) FailureMessage() string {
	if t.Error != "" {
		return t.Error
	}
	if t.Message != "" {
		return t.Message
	}
	return "task failed without a message"
}

// ResultString extracts a string field from the task result, if present.
func (t TaskState) ResultString(field string) string {
	if len(t.Result) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(t.Result, &m); err != nil {
		return ""
	}
	if v, ok := m[field].(string); ok {
		return v
	}
	return ""
}

// =============================================================================
// Projects and Ontology
// =============================================================================

// ProjectStatus values reported by the backend.
const (
	ProjectCreated           = "created"
	ProjectOntologyGenerated = "ontology_generated"
	ProjectGraphBuilding     = "graph_building"
	ProjectGraphBuilt        = "graph_built"
	ProjectGraphCompleted    = "graph_completed"
	ProjectFailed            = "failed"
)

// OntologyAttribute is one typed attribute of an ontology type.
type OntologyAttribute struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// SourceTarget constrains which entity types an edge type connects.
type SourceTarget struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// OntologyType is an entity type or a relation type.
type OntologyType struct {
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Attributes    []OntologyAttribute `json:"attributes,omitempty"`
	Examples      []string            `json:"examples,omitempty"`
	SourceTargets []SourceTarget      `json:"source_targets,omitempty"`
}

// Ontology is the generated schema the graph is extracted against.
type Ontology struct {
	EntityTypes   []OntologyType `json:"entity_types"`
	RelationTypes []OntologyType `json:"edge_types"`
}

// UnmarshalJSON accepts both "edge_types" and "relation_types".
func (o *Ontology) UnmarshalJSON(b []byte) error {
	var raw struct {
		EntityTypes   []OntologyType `json:"entity_types"`
		EdgeTypes     []OntologyType `json:"edge_types"`
		RelationTypes []OntologyType `json:"relation_types"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	o.EntityTypes = raw.EntityTypes
	o.RelationTypes = raw.EdgeTypes
	if len(o.RelationTypes) == 0 {
		o.RelationTypes = raw.RelationTypes
	}
	return nil
}

// ProjectFile describes one uploaded source document.
type ProjectFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
}

// Project is the server-side container for one pipeline run.
type Project struct {
	ProjectID             string        `json:"project_id"`
	Name                  string        `json:"name"`
	Status                string        `json:"status"`
	Ontology              *Ontology     `json:"ontology,omitempty"`
	AnalysisSummary       string        `json:"analysis_summary,omitempty"`
	TotalTextLength       int           `json:"total_text_length,omitempty"`
	GraphID               string        `json:"graph_id,omitempty"`
	GraphBuildTaskID      string        `json:"graph_build_task_id,omitempty"`
	SimulationRequirement string        `json:"simulation_requirement,omitempty"`
	Files                 []ProjectFile `json:"files,omitempty"`
	Error                 string        `json:"error,omitempty"`
	CreatedAt             string        `json:"created_at,omitempty"`
	UpdatedAt             string        `json:"updated_at,omitempty"`
}

// OntologyResult is the answer of the ontology generation endpoint.
type OntologyResult struct {
	ProjectID       string   `json:"project_id"`
	ProjectName     string   `json:"project_name,omitempty"`
	Ontology        Ontology `json:"ontology"`
	AnalysisSummary string   `json:"analysis_summary,omitempty"`
	TotalTextLength int      `json:"total_text_length,omitempty"`
}

// OntologyRequest is the multipart upload for ontology generation.
type OntologyRequest struct {
	Files                 []string `validate:"required,min=1,dive,required"`
	SimulationRequirement string   `validate:"required"`
	AdditionalContext     string
	ProjectName           string
}

// BuildRequest submits graph construction for a project.
type BuildRequest struct {
	ProjectID    string `json:"project_id" validate:"required"`
	GraphName    string `json:"graph_name,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty" validate:"omitempty,gt=0"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty" validate:"omitempty,gte=0"`
}

// BuildResponse carries the task id of a submitted build.
type BuildResponse struct {
	TaskID string `json:"task_id"`
}

// =============================================================================
// Graph
// =============================================================================

// GraphNode is one entity in a graph snapshot.
type GraphNode struct {
	UUID       string         `json:"uuid"`
	Name       string         `json:"name"`
	Labels     []string       `json:"labels,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

// PrimaryLabel returns the first label that is not the generic "Entity".
func (n GraphNode) PrimaryLabel() string {
	for _, l := range n.Labels {
		if l != "Entity" && l != "Node" {
			return l
		}
	}
	if len(n.Labels) > 0 {
		return n.Labels[0]
	}
	return "Entity"
}

// GraphEdge is one relation in a graph snapshot.
type GraphEdge struct {
	UUID           string         `json:"uuid"`
	Name           string         `json:"name"`
	Fact           string         `json:"fact,omitempty"`
	FactType       string         `json:"fact_type,omitempty"`
	SourceNodeUUID string         `json:"source_node_uuid"`
	TargetNodeUUID string         `json:"target_node_uuid"`
	SourceNodeName string         `json:"source_node_name,omitempty"`
	TargetNodeName string         `json:"target_node_name,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	Episodes       []string       `json:"episodes,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
	ValidAt        *string        `json:"valid_at,omitempty"`
	InvalidAt      *string        `json:"invalid_at,omitempty"`
	ExpiredAt      *string        `json:"expired_at,omitempty"`
}

// GraphSnapshot is the full graph as of one fetch. It is replaced wholesale.
type GraphSnapshot struct {
	GraphID   string      `json:"graph_id"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
	NodeCount int         `json:"node_count"`
	EdgeCount int         `json:"edge_count"`
}

// =============================================================================
// Simulation
// =============================================================================

// Simulation is the server record created for one project graph.
type Simulation struct {
	SimulationID    string `json:"simulation_id"`
	ProjectID       string `json:"project_id"`
	GraphID         string `json:"graph_id"`
	Status          string `json:"status"`
	EnableTwitter   bool   `json:"enable_twitter"`
	EnableReddit    bool   `json:"enable_reddit"`
	EntitiesCount   int    `json:"entities_count,omitempty"`
	ProfilesCount   int    `json:"profiles_count,omitempty"`
	ConfigGenerated bool   `json:"config_generated,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// CreateSimulationRequest creates a simulation for a project graph.
type CreateSimulationRequest struct {
	ProjectID     string `json:"project_id" validate:"required"`
	GraphID       string `json:"graph_id,omitempty"`
	EnableTwitter bool   `json:"enable_twitter"`
	EnableReddit  bool   `json:"enable_reddit"`
}

// PrepareRequest starts environment preparation.
type PrepareRequest struct {
	SimulationID         string   `json:"simulation_id" validate:"required"`
	EntityTypes          []string `json:"entity_types,omitempty"`
	UseLLMForProfiles    bool     `json:"use_llm_for_profiles"`
	ParallelProfileCount int      `json:"parallel_profile_count,omitempty" validate:"omitempty,gt=0"`
	ForceRegenerate      bool     `json:"force_regenerate,omitempty"`
}

// PrepareResponse reports a submitted (or already finished) preparation.
type PrepareResponse struct {
	SimulationID    string `json:"simulation_id"`
	TaskID          string `json:"task_id,omitempty"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	AlreadyPrepared bool   `json:"already_prepared"`
}

// PrepareStatusRequest queries a prepare task, or a simulation's readiness.
type PrepareStatusRequest struct {
	TaskID       string `json:"task_id,omitempty"`
	SimulationID string `json:"simulation_id,omitempty"`
}

// Platforms the simulation runs on.
const (
	PlatformTwitter  = "twitter"
	PlatformReddit   = "reddit"
	PlatformParallel = "parallel"
)

// AgentProfile is one generated agent persona.
//
// Reddit profiles arrive as typed JSON. Twitter profiles are read from a CSV
// on the server, so every value arrives as a string; the Flex types absorb
// both.
type AgentProfile struct {
	UserID           FlexInt     `json:"user_id"`
	Username         string      `json:"username,omitempty"`
	Name             string      `json:"name"`
	Bio              string      `json:"bio,omitempty"`
	Persona          string      `json:"persona,omitempty"`
	Profession       string      `json:"profession,omitempty"`
	Age              FlexInt     `json:"age,omitempty"`
	Gender           string      `json:"gender,omitempty"`
	MBTI             string      `json:"mbti,omitempty"`
	Country          string      `json:"country,omitempty"`
	InterestedTopics FlexStrings `json:"interested_topics,omitempty"`
}

// DedupKey identifies a profile across repeated realtime polls.
func (p AgentProfile) DedupKey() string {
	if p.Username != "" {
		return "u:" + p.Username
	}
	return fmt.Sprintf("id:%d|%s", p.UserID, p.Name)
}

// ProfilesSnapshot is the realtime profile listing for one platform.
type ProfilesSnapshot struct {
	SimulationID   string         `json:"simulation_id"`
	Platform       string         `json:"platform"`
	Count          int            `json:"count"`
	TotalExpected  *int           `json:"total_expected,omitempty"`
	IsGenerating   bool           `json:"is_generating"`
	FileExists     bool           `json:"file_exists"`
	FileModifiedAt string         `json:"file_modified_at,omitempty"`
	Profiles       []AgentProfile `json:"profiles"`
}

// TimeConfig is the simulated clock of a run.
type TimeConfig struct {
	TotalSimulationHours int `json:"total_simulation_hours"`
	MinutesPerRound      int `json:"minutes_per_round"`
}

// Defaults the backend applies when time_config omits a field.
const (
	DefaultSimulationHours = 72
	DefaultMinutesPerRound = 60
)

// DefaultRounds returns the round count the server uses when no max_rounds
// override is sent.
func (t TimeConfig) DefaultRounds() int {
	hours := t.TotalSimulationHours
	if hours <= 0 {
		hours = DefaultSimulationHours
	}
	minutes := t.MinutesPerRound
	if minutes <= 0 {
		minutes = DefaultMinutesPerRound
	}
	return hours * 60 / minutes
}

// SimulationConfig is the generated run configuration.
type SimulationConfig struct {
	SimulationID  string            `json:"simulation_id,omitempty"`
	TimeConfig    TimeConfig        `json:"time_config"`
	AgentConfigs  []json.RawMessage `json:"agent_configs,omitempty"`
	EventConfig   json.RawMessage   `json:"event_config,omitempty"`
	TwitterConfig json.RawMessage   `json:"twitter_config,omitempty"`
	RedditConfig  json.RawMessage   `json:"reddit_config,omitempty"`
	GeneratedAt   string            `json:"generated_at,omitempty"`
	LLMModel      string            `json:"llm_model,omitempty"`
}

// ConfigSummary is the server's digest of a generated configuration.
type ConfigSummary struct {
	TotalAgents       int    `json:"total_agents"`
	SimulationHours   int    `json:"simulation_hours"`
	InitialPostsCount int    `json:"initial_posts_count"`
	HotTopicsCount    int    `json:"hot_topics_count"`
	HasTwitterConfig  bool   `json:"has_twitter_config"`
	HasRedditConfig   bool   `json:"has_reddit_config"`
	GeneratedAt       string `json:"generated_at,omitempty"`
	LLMModel          string `json:"llm_model,omitempty"`
}

// Generation stages reported by the realtime config endpoint.
const (
	GenerationProfiles  = "generating_profiles"
	GenerationConfig    = "generating_config"
	GenerationCompleted = "completed"
)

// ConfigSnapshot is the realtime configuration state.
type ConfigSnapshot struct {
	SimulationID    string            `json:"simulation_id"`
	FileExists      bool              `json:"file_exists"`
	FileModifiedAt  string            `json:"file_modified_at,omitempty"`
	IsGenerating    bool              `json:"is_generating"`
	GenerationStage string            `json:"generation_stage,omitempty"`
	ConfigGenerated bool              `json:"config_generated"`
	Config          *SimulationConfig `json:"config,omitempty"`
	Summary         *ConfigSummary    `json:"summary,omitempty"`
}

// Ready reports whether a usable configuration has arrived.
func (c ConfigSnapshot) Ready() bool {
	return c.Config != nil && (c.ConfigGenerated || c.GenerationStage == GenerationCompleted)
}

// =============================================================================
// Run
// =============================================================================

// StartRequest starts (or force-restarts) a simulation run.
type StartRequest struct {
	SimulationID            string `json:"simulation_id" validate:"required"`
	Platform                string `json:"platform,omitempty" validate:"omitempty,oneof=twitter reddit parallel"`
	MaxRounds               *int   `json:"max_rounds,omitempty" validate:"omitempty,gt=0"`
	EnableGraphMemoryUpdate bool   `json:"enable_graph_memory_update"`
	Force                   bool   `json:"force"`
}

// Runner statuses.
const (
	RunnerIdle      = "idle"
	RunnerStarting  = "starting"
	RunnerRunning   = "running"
	RunnerPaused    = "paused"
	RunnerStopping  = "stopping"
	RunnerStopped   = "stopped"
	RunnerCompleted = "completed"
	RunnerFailed    = "failed"
)

// RunStatus is the live state of a simulation run.
type RunStatus struct {
	SimulationID         string  `json:"simulation_id"`
	RunnerStatus         string  `json:"runner_status"`
	CurrentRound         int     `json:"current_round"`
	TotalRounds          int     `json:"total_rounds"`
	SimulatedHours       int     `json:"simulated_hours"`
	TotalSimulationHours int     `json:"total_simulation_hours"`
	ProgressPercent      float64 `json:"progress_percent"`

	TwitterCurrentRound   int  `json:"twitter_current_round"`
	RedditCurrentRound    int  `json:"reddit_current_round"`
	TwitterSimulatedHours int  `json:"twitter_simulated_hours"`
	RedditSimulatedHours  int  `json:"reddit_simulated_hours"`
	TwitterRunning        bool `json:"twitter_running"`
	RedditRunning         bool `json:"reddit_running"`
	TwitterCompleted      bool `json:"twitter_completed"`
	RedditCompleted       bool `json:"reddit_completed"`
	TwitterActionsCount   int  `json:"twitter_actions_count"`
	RedditActionsCount    int  `json:"reddit_actions_count"`
	TotalActionsCount     int  `json:"total_actions_count"`

	StartedAt   string `json:"started_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
	ProcessPID  *int   `json:"process_pid,omitempty"`
}

// PlatformProgress is the per-platform slice of a RunStatus.
type PlatformProgress struct {
	Platform       string
	CurrentRound   int
	SimulatedHours int
	Running        bool
	Completed      bool
	ActionsCount   int
}

// Platform returns the progress of one platform. Unknown names yield a zero
// value with only Platform set.
func (r RunStatus) Platform(name string) PlatformProgress {
	switch name {
	case PlatformTwitter:
		return PlatformProgress{
			Platform:       PlatformTwitter,
			CurrentRound:   r.TwitterCurrentRound,
			SimulatedHours: r.TwitterSimulatedHours,
			Running:        r.TwitterRunning,
			Completed:      r.TwitterCompleted,
			ActionsCount:   r.TwitterActionsCount,
		}
	case PlatformReddit:
		return PlatformProgress{
			Platform:       PlatformReddit,
			CurrentRound:   r.RedditCurrentRound,
			SimulatedHours: r.RedditSimulatedHours,
			Running:        r.RedditRunning,
			Completed:      r.RedditCompleted,
			ActionsCount:   r.RedditActionsCount,
		}
	default:
		return PlatformProgress{Platform: name}
	}
}

// IsActive reports whether the runner still owns a live process.
func (r RunStatus) IsActive() bool {
	switch r.RunnerStatus {
	case RunnerStarting, RunnerRunning, RunnerPaused, RunnerStopping:
		return true
	default:
		return false
	}
}

// StartResponse is the run state right after a start.
type StartResponse struct {
	RunStatus
	MaxRoundsApplied         *int `json:"max_rounds_applied,omitempty"`
	ForceRestarted           bool `json:"force_restarted"`
	GraphMemoryUpdateEnabled bool `json:"graph_memory_update_enabled"`
}

// ActionRecord is one agent action observed during a run.
type ActionRecord struct {
	ID         string          `json:"id,omitempty"`
	RoundNum   int             `json:"round_num"`
	Timestamp  string          `json:"timestamp"`
	Platform   string          `json:"platform"`
	AgentID    int             `json:"agent_id"`
	AgentName  string          `json:"agent_name"`
	ActionType string          `json:"action_type"`
	ActionArgs map[string]any  `json:"action_args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Success    bool            `json:"success"`
}

// DedupKey is the record id when present, otherwise a composite of
// timestamp, platform, agent and action type.
func (a ActionRecord) DedupKey() string {
	if a.ID != "" {
		return a.ID
	}
	return fmt.Sprintf("%s|%s|%d|%s", a.Timestamp, a.Platform, a.AgentID, a.ActionType)
}

// Time parses Timestamp. Returns the zero time when it cannot be parsed.
func (a ActionRecord) Time() time.Time {
	t, err := ParseTimestamp(a.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RunDetail is the run state plus the full action history.
type RunDetail struct {
	RunStatus
	AllActions     []ActionRecord `json:"all_actions"`
	TwitterActions []ActionRecord `json:"twitter_actions,omitempty"`
	RedditActions  []ActionRecord `json:"reddit_actions,omitempty"`
}

// StopRequest asks the backend to kill a run.
type StopRequest struct {
	SimulationID string `json:"simulation_id" validate:"required"`
}

// EnvStatus reports whether the simulation environment process is alive.
type EnvStatus struct {
	SimulationID     string `json:"simulation_id"`
	EnvAlive         bool   `json:"env_alive"`
	TwitterAvailable bool   `json:"twitter_available"`
	RedditAvailable  bool   `json:"reddit_available"`
	Message          string `json:"message,omitempty"`
}

// CloseEnvRequest asks the environment to shut down gracefully.
type CloseEnvRequest struct {
	SimulationID string `json:"simulation_id" validate:"required"`
	Timeout      int    `json:"timeout,omitempty" validate:"omitempty,gt=0"`
}

// CloseEnvResponse acknowledges a close command.
type CloseEnvResponse struct {
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// =============================================================================
// Report
// =============================================================================

// ReportRequest submits report generation.
type ReportRequest struct {
	SimulationID    string `json:"simulation_id" validate:"required"`
	ForceRegenerate bool   `json:"force_regenerate,omitempty"`
}

// ReportSubmission is the answer to a report generation request.
type ReportSubmission struct {
	SimulationID     string `json:"simulation_id"`
	ReportID         string `json:"report_id,omitempty"`
	TaskID           string `json:"task_id,omitempty"`
	Status           string `json:"status"`
	Message          string `json:"message,omitempty"`
	AlreadyGenerated bool   `json:"already_generated"`
}

// ReportStatusRequest queries report progress.
type ReportStatusRequest struct {
	TaskID       string `json:"task_id,omitempty"`
	SimulationID string `json:"simulation_id,omitempty"`
}

// Report is a finished (or in-progress) analysis report.
type Report struct {
	ReportID        string          `json:"report_id"`
	SimulationID    string          `json:"simulation_id"`
	Status          string          `json:"status"`
	Outline         json.RawMessage `json:"outline,omitempty"`
	MarkdownContent string          `json:"markdown_content,omitempty"`
	CreatedAt       string          `json:"created_at,omitempty"`
	CompletedAt     string          `json:"completed_at,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// =============================================================================
// Flexible Scalars
// =============================================================================

// FlexInt decodes a JSON number, a numeric string, "" or null.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			*f = 0
			return nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = FlexInt(n)
		return nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flex int: %q: %w", s, err)
	}
	*f = FlexInt(int(fl))
	return nil
}

// FlexStrings decodes either a JSON string array or a single string holding
// a comma-separated (optionally bracketed) list.
type FlexStrings []string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexStrings) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*f = nil
		return nil
	}
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		*f = nil
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `'"`)
		if p != "" {
			out = append(out, p)
		}
	}
	*f = out
	return nil
}

// =============================================================================
// Timestamps
// =============================================================================

// ParseTimestamp parses a backend timestamp.
//
// The backend emits naive ISO-8601 ("2025-12-01T10:00:00.123456") as well as
// RFC 3339. strfmt.ParseDateTime accepts both; naive values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	dt, err := strfmt.ParseDateTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return time.Time(dt), nil
}

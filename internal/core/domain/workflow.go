package domain

import (
	"time"
)

type WorkflowID string
type WorkflowKind string
type WorkflowStatus string

const (
	WorkflowKindDistribution WorkflowKind = "distribution"
	WorkflowKindSync         WorkflowKind = "sync"
	WorkflowKindArtistSync   WorkflowKind = "artist_sync"

	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// Workflow is one orchestration run as tracked in memory by the orchestrator.
// It is never persisted.
type Workflow struct {
	ID          WorkflowID     `json:"id"`
	Kind        WorkflowKind   `json:"kind"`
	JobName     string         `json:"job_name"`
	Run         JobRun         `json:"run"`
	Status      WorkflowStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       *string        `json:"error,omitempty"`
}

// JobRequest asks a workflow to run one job over the given participants.
type JobRequest struct {
	Name         string
	Description  string
	Participants []Participant
	Options      JobOptions
}

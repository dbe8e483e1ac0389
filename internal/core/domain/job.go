package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

type JobID string

type RunID string

// JobType selects how the console moves data between participants.
type JobType string

const (
	JobTypeDistribution JobType = "distribution"
	JobTypeSync         JobType = "sync"
)

// Valid reports whether t is one of the supported job types.
func (t JobType) Valid() bool {
	return t == JobTypeDistribution || t == JobTypeSync
}

// AccessMode of a participant's folder.
type AccessMode string

const (
	AccessReadWrite AccessMode = "rw"
	AccessReadOnly  AccessMode = "ro"
)

// Participant binds an agent (optionally through a storage) to a path in a job.
type Participant struct {
	AgentID    AgentID    `json:"id"`
	Access     AccessMode `json:"permission"`
	Path       string     `json:"path"`
	StorageRef *StorageID `json:"storage_config_id,omitempty"`
}

// AppendParticipant returns list with p appended. The input slice is never
// mutated, so specs built from an earlier list keep their participants.
func AppendParticipant(list []Participant, p Participant) []Participant {
	out := make([]Participant, 0, len(list)+1)
	out = append(out, list...)
	return append(out, p)
}

// JobSpec is a job definition ready for submission.
type JobSpec struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Type         JobType       `json:"type"`
	Participants []Participant `json:"agents"`
	Options      JobOptions    `json:"-"`
}

// JobOptions are optional job attributes passed through to the console as-is.
type JobOptions struct {
	ProfileID      string
	Priority       string
	IgnorePatterns []string
	Metadata       map[string]string
}

// Clone returns a copy that shares no slice or map memory with s.
func (s JobSpec) Clone() JobSpec {
	s.Participants = slices.Clone(s.Participants)
	s.Options.IgnorePatterns = slices.Clone(s.Options.IgnorePatterns)
	s.Options.Metadata = maps.Clone(s.Options.Metadata)
	return s
}

// JobRef is a job already known to the console.
type JobRef struct {
	ID     JobID     `json:"id"`
	Name   string    `json:"name"`
	Type   JobType   `json:"type"`
	Agents []AgentID `json:"agents,omitempty"`
}

// RunStatus is the normalised state of a job run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusUnknown   RunStatus = "UNKNOWN"
)

// ParseRunStatus maps the console's run status string onto RunStatus.
// Unrecognised values are non-terminal.
func ParseRunStatus(raw string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "created", "queued":
		return RunStatusQueued
	case "running", "working":
		return RunStatusRunning
	case "completed", "finished":
		return RunStatusCompleted
	case "failed", "aborted":
		return RunStatusFailed
	default:
		return RunStatusUnknown
	}
}

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// JobPhase tracks a job through one workflow.
type JobPhase string

const (
	PhaseBuilt      JobPhase = "BUILT"
	PhaseSubmitted  JobPhase = "SUBMITTED"
	PhaseStarted    JobPhase = "STARTED"
	PhaseRegistered JobPhase = "REGISTERED"
	PhaseMonitoring JobPhase = "MONITORING"
	PhaseCompleted  JobPhase = "COMPLETED"
	PhaseFailed     JobPhase = "FAILED"
	PhaseCleaned    JobPhase = "CLEANED"
)

var phaseTransitions = map[JobPhase][]JobPhase{
	PhaseBuilt:      {PhaseSubmitted},
	PhaseSubmitted:  {PhaseStarted, PhaseRegistered},
	PhaseStarted:    {PhaseMonitoring},
	PhaseRegistered: {PhaseMonitoring},
	PhaseMonitoring: {PhaseCompleted, PhaseFailed},
	PhaseCompleted:  {PhaseCleaned},
	PhaseFailed:     {PhaseCleaned},
}

// JobRun is the workflow-local view of one job and its active run.
type JobRun struct {
	JobID     JobID     `json:"job_id"`
	RunID     RunID     `json:"run_id,omitempty"`
	Type      JobType   `json:"type"`
	Status    RunStatus `json:"status"`
	Phase     JobPhase  `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Advance moves the run to next if the phase machine allows it.
func (r *JobRun) Advance(next JobPhase) error {
	if !slices.Contains(phaseTransitions[r.Phase], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Phase, next)
	}
	r.Phase = next
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// PhaseForStatus returns the terminal phase matching a terminal run status.
func PhaseForStatus(s RunStatus) JobPhase {
	if s == RunStatusCompleted {
		return PhaseCompleted
	}
	return PhaseFailed
}

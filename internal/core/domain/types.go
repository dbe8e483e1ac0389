package domain

import (
	"slices"
	"strconv"
	"time"
)

// AgentID is the numeric identity the management console assigns to an agent.
type AgentID int64

func (id AgentID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// AgentStatus represents the connectivity reported by the console
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
)

// Agent is one fleet member as last seen by a registry refresh.
type Agent struct {
	ID         AgentID           `json:"id"`
	Name       string            `json:"name"`
	Status     AgentStatus       `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Property kinds used as the first key of the property store.
const (
	EntityKindAgent = "agent"
	EntityKindJob   = "job"
)

// AgentSnapshot is the ordered set of agent ids observed at one refresh.
type AgentSnapshot struct {
	IDs     []AgentID `json:"ids"`
	TakenAt time.Time `json:"taken_at"`
}

// Contains reports whether id was observed in the snapshot.
func (s AgentSnapshot) Contains(id AgentID) bool {
	return slices.Contains(s.IDs, id)
}

// AgentDelta is the membership change between two snapshots.
type AgentDelta struct {
	Added   []AgentID `json:"added"`
	Removed []AgentID `json:"removed"`
}

// Empty reports whether the delta carries no membership change.
func (d AgentDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Changed returns added ∪ removed, added ids first.
func (d AgentDelta) Changed() []AgentID {
	out := make([]AgentID, 0, len(d.Added)+len(d.Removed))
	out = append(out, d.Added...)
	return append(out, d.Removed...)
}

// ServiceInfo is the subset of /api/v2/info the orchestrator cares about.
type ServiceInfo struct {
	Version string `json:"version"`
	Raw     string `json:"-"`
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
)

const (
	agentsPath = "/api/v2/agents"
	jobsPath   = "/api/v2/jobs"
)

// WatchHandlers receive the outcome of every Watch tick. Nil handlers are
// skipped.
type WatchHandlers struct {
	OnChange   func(delta domain.AgentDelta)
	OnNoChange func()
	OnError    func(err error)
}

// AgentRegistry caches the fleet's agent records. Attributes live in the
// property store; the registry itself only keeps the latest id snapshot.
type AgentRegistry struct {
	logger *slog.Logger
	api    ports.ManagementAPI
	store  ports.PropertyStore

	// seq numbers refreshes as they start. accepted is the seq of the
	// refresh the cache holds; an older result is never swapped in.
	seq atomic.Uint64

	// commitMu orders the property writes and cache swap of fresh results.
	commitMu sync.Mutex

	mu       sync.RWMutex
	snapshot domain.AgentSnapshot
	agents   map[domain.AgentID]domain.Agent
	accepted uint64
}

func NewAgentRegistry(logger *slog.Logger, api ports.ManagementAPI, store ports.PropertyStore) *AgentRegistry {
	return &AgentRegistry{
		logger: logger,
		api:    api,
		store:  store,
		agents: make(map[domain.AgentID]domain.Agent),
	}
}

// Refresh fetches the full agent list, writes every top-level agent field to
// the property store and replaces the cached snapshot. Failures are returned
// as-is; nothing is retried.
//
// Concurrent refreshes are ordered by start: a result that finishes after a
// later-started refresh was accepted is dropped, and Refresh then returns the
// newer cached snapshot. If a property write fails, the values written before
// it stay in the store while the snapshot keeps its previous contents.
func (r *AgentRegistry) Refresh(ctx context.Context) (domain.AgentSnapshot, error) {
	snap, _, err := r.refresh(ctx)
	return snap, err
}

// refresh is Refresh that also reports the sequence number of the snapshot
// it returns.
func (r *AgentRegistry) refresh(ctx context.Context) (domain.AgentSnapshot, uint64, error) {
	const op = "refresh agents"
	seq := r.seq.Add(1)

	body, err := r.api.Get(ctx, agentsPath)
	if err != nil {
		return domain.AgentSnapshot{}, 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return domain.AgentSnapshot{}, 0, err
	}
	items, err := listItems(op, body)
	if err != nil {
		return domain.AgentSnapshot{}, 0, err
	}

	snap := domain.AgentSnapshot{IDs: make([]domain.AgentID, 0, len(items)), TakenAt: time.Now().UTC()}
	agents := make(map[domain.AgentID]domain.Agent, len(items))

	for _, item := range items {
		rawID := item.Get("id")
		if !rawID.Exists() {
			r.logger.Warn("agent entry without id, skipping", "raw", item.Raw)
			continue
		}
		agent := parseAgent(item)
		if _, dup := agents[agent.ID]; !dup {
			snap.IDs = append(snap.IDs, agent.ID)
		}
		agents[agent.ID] = agent
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	if current, currentSeq := r.snapshotWithSeq(); seq < currentSeq {
		r.logger.Debug("dropping stale agent refresh", "seq", seq, "accepted", currentSeq)
		return current, currentSeq, nil
	}

	for _, id := range snap.IDs {
		for key, value := range agents[id].Attributes {
			if err := r.store.Set(ctx, domain.EntityKindAgent, id.String(), key, value); err != nil {
				return domain.AgentSnapshot{}, 0, fmt.Errorf("%s: store agent %d %s: %w", op, id, key, err)
			}
		}
	}

	r.mu.Lock()
	r.snapshot = snap
	r.agents = agents
	r.accepted = seq
	r.mu.Unlock()

	r.logger.Debug("agent registry refreshed", "count", len(snap.IDs), "seq", seq)
	return cloneSnapshot(snap), seq, nil
}

func parseAgent(item gjson.Result) domain.Agent {
	agent := domain.Agent{
		ID:         domain.AgentID(item.Get("id").Int()),
		Name:       item.Get("name").String(),
		Attributes: make(map[string]string),
	}

	item.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			agent.Attributes[key.String()] = value.String()
		} else {
			agent.Attributes[key.String()] = value.Raw
		}
		return true
	})

	switch status := item.Get("status"); {
	case status.Type == gjson.String:
		agent.Status = normaliseAgentStatus(status.String())
	case item.Get("online").Exists():
		if item.Get("online").Bool() {
			agent.Status = domain.AgentStatusOnline
		} else {
			agent.Status = domain.AgentStatusOffline
		}
	default:
		agent.Status = domain.AgentStatusOffline
	}
	return agent
}

func normaliseAgentStatus(raw string) domain.AgentStatus {
	if strings.EqualFold(raw, string(domain.AgentStatusOnline)) {
		return domain.AgentStatusOnline
	}
	return domain.AgentStatusOffline
}

// Get returns a cached agent attribute. Agents absent from the current
// snapshot are ErrNotFound even if stale values remain in the store.
func (r *AgentRegistry) Get(ctx context.Context, id domain.AgentID, property string) (string, error) {
	r.mu.RLock()
	_, known := r.agents[id]
	r.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("agent %d: %w", id, domain.ErrNotFound)
	}
	return r.store.Get(ctx, domain.EntityKindAgent, id.String(), property)
}

// Agent returns the parsed record of an agent from the current snapshot.
func (r *AgentRegistry) Agent(id domain.AgentID) (domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return domain.Agent{}, fmt.Errorf("agent %d: %w", id, domain.ErrNotFound)
	}
	return agent, nil
}

// propertyLister is implemented by stores that can enumerate an entity.
type propertyLister interface {
	Properties(ctx context.Context, kind, id string) (map[string]string, error)
}

// CachedProperties returns every stored attribute of an agent, including one
// that has since left the fleet. ErrNotFound when nothing is stored or the
// store cannot enumerate.
func (r *AgentRegistry) CachedProperties(ctx context.Context, id domain.AgentID) (map[string]string, error) {
	lister, ok := r.store.(propertyLister)
	if !ok {
		return nil, fmt.Errorf("agent %d: property store cannot list: %w", id, domain.ErrNotFound)
	}
	props, err := lister.Properties(ctx, domain.EntityKindAgent, id.String())
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("agent %d: %w", id, domain.ErrNotFound)
	}
	return props, nil
}

// Snapshot returns a copy of the current snapshot.
func (r *AgentRegistry) Snapshot() domain.AgentSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

func (r *AgentRegistry) snapshotWithSeq() (domain.AgentSnapshot, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot), r.accepted
}

// Agents lists the ids of the current snapshot in the order the console
// returned them.
func (r *AgentRegistry) Agents() []domain.AgentID {
	return r.Snapshot().IDs
}

// List returns the parsed agents of the current snapshot.
func (r *AgentRegistry) List() []domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Agent, 0, len(r.snapshot.IDs))
	for _, id := range r.snapshot.IDs {
		out = append(out, r.agents[id])
	}
	return out
}

func cloneSnapshot(s domain.AgentSnapshot) domain.AgentSnapshot {
	s.IDs = slices.Clone(s.IDs)
	return s
}

// Diff computes the symmetric difference of two snapshots. Both result lists
// are sorted ascending.
func Diff(prev, cur domain.AgentSnapshot) domain.AgentDelta {
	before := make(map[domain.AgentID]struct{}, len(prev.IDs))
	for _, id := range prev.IDs {
		before[id] = struct{}{}
	}
	after := make(map[domain.AgentID]struct{}, len(cur.IDs))
	for _, id := range cur.IDs {
		after[id] = struct{}{}
	}

	delta := domain.AgentDelta{Added: []domain.AgentID{}, Removed: []domain.AgentID{}}
	for id := range after {
		if _, ok := before[id]; !ok {
			delta.Added = append(delta.Added, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			delta.Removed = append(delta.Removed, id)
		}
	}
	slices.Sort(delta.Added)
	slices.Sort(delta.Removed)
	return delta
}

// Watch refreshes the registry every interval and reports membership changes
// against the previous snapshot. The snapshot held when Watch is called is
// the first baseline. Ticks may overlap; the baseline only moves forward to
// snapshots of later-started refreshes, and a tick whose result is not newer
// than the baseline reports nothing. Tick errors go to OnError and polling
// continues. Watch returns ctx.Err() once ctx is cancelled.
func (r *AgentRegistry) Watch(ctx context.Context, interval time.Duration, h WatchHandlers) error {
	var mu sync.Mutex
	baseline, baselineSeq := r.snapshotWithSeq()

	poller := NewPollScheduler(r.logger, "agent-watch")
	return poller.Run(ctx, interval, func(ctx context.Context) (bool, error) {
		snap, seq, err := r.refresh(ctx)
		if err != nil {
			if h.OnError != nil && ctx.Err() == nil {
				h.OnError(err)
			}
			return false, nil
		}

		mu.Lock()
		if seq <= baselineSeq {
			mu.Unlock()
			return false, nil
		}
		delta := Diff(baseline, snap)
		baseline, baselineSeq = snap, seq
		mu.Unlock()

		if delta.Empty() {
			if h.OnNoChange != nil {
				h.OnNoChange()
			}
			return false, nil
		}
		r.logger.Info("agent membership changed", "added", delta.Added, "removed", delta.Removed)
		if h.OnChange != nil {
			h.OnChange(delta)
		}
		return false, nil
	})
}

// RefreshJobs fetches the job list and caches each job's name, type and
// participating agent ids (comma separated) under the "job" kind.
func (r *AgentRegistry) RefreshJobs(ctx context.Context) ([]domain.JobRef, error) {
	const op = "refresh jobs"

	body, err := r.api.Get(ctx, jobsPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return nil, err
	}
	items, err := listItems(op, body)
	if err != nil {
		return nil, err
	}

	refs := make([]domain.JobRef, 0, len(items))
	for _, item := range items {
		ref := parseJobRef(item)
		if ref.ID == "" {
			continue
		}
		ids := make([]string, 0, len(ref.Agents))
		for _, a := range ref.Agents {
			ids = append(ids, a.String())
		}
		props := map[string]string{
			"name":   ref.Name,
			"type":   string(ref.Type),
			"agents": strings.Join(ids, ","),
		}
		for key, value := range props {
			if err := r.store.Set(ctx, domain.EntityKindJob, string(ref.ID), key, value); err != nil {
				return nil, fmt.Errorf("%s: store job %s %s: %w", op, ref.ID, key, err)
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// JobProperty reads a job attribute cached by RefreshJobs.
func (r *AgentRegistry) JobProperty(ctx context.Context, id domain.JobID, property string) (string, error) {
	return r.store.Get(ctx, domain.EntityKindJob, string(id), property)
}

func parseJobRef(item gjson.Result) domain.JobRef {
	ref := domain.JobRef{
		ID:   domain.JobID(item.Get("id").String()),
		Name: item.Get("name").String(),
		Type: domain.JobType(item.Get("type").String()),
	}
	item.Get("agents").ForEach(func(_, a gjson.Result) bool {
		if id := a.Get("id"); id.Exists() {
			ref.Agents = append(ref.Agents, domain.AgentID(id.Int()))
		} else if a.Type == gjson.Number {
			ref.Agents = append(ref.Agents, domain.AgentID(a.Int()))
		}
		return true
	})
	return ref
}

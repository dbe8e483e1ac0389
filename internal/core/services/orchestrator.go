package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
	"github.com/camerontarget14/resilio-connect-scripts/internal/telemetry"
)

const infoPath = "/api/v2/info"

// StorageTarget is the storage the orchestrator provisions before running jobs.
type StorageTarget struct {
	Name   string
	Params domain.StorageParams
}

// OrchestratorConfig tunes the workflows.
type OrchestratorConfig struct {
	// PollInterval is the fixed run-status polling interval.
	PollInterval time.Duration
	// ResolveAttempts bounds how often a sync workflow looks up the run id
	// before giving up with ErrRunNotFound.
	ResolveAttempts uint
	ResolveDelay    time.Duration
	// NotifyTo receives an SMS when a run reaches a terminal status. Empty
	// disables notifications.
	NotifyTo string
	Storage  StorageTarget
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ResolveAttempts == 0 {
		c.ResolveAttempts = 5
	}
	if c.ResolveDelay <= 0 {
		c.ResolveDelay = 2 * time.Second
	}
	return c
}

// Orchestrator runs the distribution and sync workflows. Each workflow is
// strictly sequential: a step is issued only after the previous one returned.
// Independent workflows may run concurrently.
type Orchestrator struct {
	logger      *slog.Logger
	api         ports.ManagementAPI
	registry    *AgentRegistry
	provisioner *StorageProvisioner
	jobs        *JobController
	bus         *EventBus
	notifier    ports.Notifier
	metrics     *telemetry.Metrics
	cfg         OrchestratorConfig

	mu        sync.RWMutex
	workflows map[domain.WorkflowID]*domain.Workflow
}

func NewOrchestrator(
	logger *slog.Logger,
	api ports.ManagementAPI,
	registry *AgentRegistry,
	provisioner *StorageProvisioner,
	jobs *JobController,
	bus *EventBus,
	notifier ports.Notifier,
	metrics *telemetry.Metrics,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		logger:      logger,
		api:         api,
		registry:    registry,
		provisioner: provisioner,
		jobs:        jobs,
		bus:         bus,
		notifier:    notifier,
		metrics:     metrics,
		cfg:         cfg.withDefaults(),
		workflows:   make(map[domain.WorkflowID]*domain.Workflow),
	}
}

// Initialize checks connectivity and credentials against the info endpoint.
// A {"code":401} body fails with ErrAuthentication.
func (o *Orchestrator) Initialize(ctx context.Context) (domain.ServiceInfo, error) {
	const op = "initialize"

	body, err := o.api.Get(ctx, infoPath)
	if err != nil {
		o.metrics.RecordRemoteError(op)
		return domain.ServiceInfo{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		o.metrics.RecordRemoteError(op)
		return domain.ServiceInfo{}, err
	}

	info := domain.ServiceInfo{
		Version: gjson.GetBytes(body, "version").String(),
		Raw:     string(body),
	}
	o.logger.Info("management console reachable", "version", info.Version)
	return info, nil
}

// ProvisionStorage ensures the configured storage exists.
func (o *Orchestrator) ProvisionStorage(ctx context.Context) (domain.StorageID, error) {
	target := o.cfg.Storage
	if target.Name == "" {
		return "", errors.New("no storage configured")
	}
	id, err := o.provisioner.Ensure(ctx, target.Name, target.Params)
	if err != nil {
		o.metrics.RecordRemoteError("provision")
		return "", err
	}
	return id, nil
}

// RefreshAgents refreshes the registry and records the fleet size.
func (o *Orchestrator) RefreshAgents(ctx context.Context) (domain.AgentSnapshot, error) {
	prev := o.registry.Snapshot()
	snap, err := o.registry.Refresh(ctx)
	if err != nil {
		o.metrics.RecordRemoteError("refresh_agents")
		return snap, err
	}
	delta := Diff(prev, snap)
	o.metrics.RecordAgents(len(snap.IDs), len(delta.Added), len(delta.Removed))
	return snap, nil
}

// WatchAgents follows fleet membership until ctx ends, publishing every change
// on the "agents" topic.
func (o *Orchestrator) WatchAgents(ctx context.Context, interval time.Duration, h WatchHandlers) error {
	return o.registry.Watch(ctx, interval, WatchHandlers{
		OnChange: func(delta domain.AgentDelta) {
			o.metrics.RecordAgents(len(o.registry.Agents()), len(delta.Added), len(delta.Removed))
			o.publishJSON(AgentsTopic, EventTypeAgents, delta)
			if h.OnChange != nil {
				h.OnChange(delta)
			}
		},
		OnNoChange: h.OnNoChange,
		OnError: func(err error) {
			o.metrics.RecordRemoteError("refresh_agents")
			o.logger.Warn("agent watch tick failed", "error", err)
			if h.OnError != nil {
				h.OnError(err)
			}
		},
	})
}

// AgentsTopic is the event bus topic of fleet membership changes.
const AgentsTopic = "agents"

// RunDistribution builds, submits, starts, monitors and cleans up a
// distribution job. The returned workflow reflects the last phase reached.
func (o *Orchestrator) RunDistribution(ctx context.Context, req domain.JobRequest) (domain.Workflow, error) {
	return o.runJob(ctx, domain.WorkflowKindDistribution, domain.JobTypeDistribution, req)
}

// RunSync builds and submits a sync job, looks up the run the console
// generated for it, then monitors and cleans up.
func (o *Orchestrator) RunSync(ctx context.Context, req domain.JobRequest) (domain.Workflow, error) {
	return o.runJob(ctx, domain.WorkflowKindSync, domain.JobTypeSync, req)
}

func (o *Orchestrator) runJob(ctx context.Context, kind domain.WorkflowKind, jobType domain.JobType, req domain.JobRequest) (domain.Workflow, error) {
	started := time.Now()
	wf := o.begin(kind, req.Name, jobType)
	logger := o.logger.With("workflow_id", wf.ID, "job_name", req.Name, "type", jobType)

	spec, err := o.jobs.BuildSpec(jobType, req.Name, req.Description, req.Participants)
	if err != nil {
		return o.fail(wf, started, "build", err)
	}
	spec.Options = req.Options
	spec = spec.Clone()
	o.publishPhase(wf.ID)

	jobID, err := o.jobs.Submit(ctx, spec)
	if err != nil {
		return o.fail(wf, started, "submit", err)
	}
	o.update(wf.ID, func(w *domain.Workflow) { w.Run.JobID = jobID })
	if err := o.advance(wf.ID, domain.PhaseSubmitted); err != nil {
		return o.fail(wf, started, "submit", err)
	}

	var runID domain.RunID
	next := domain.PhaseStarted
	if jobType == domain.JobTypeDistribution {
		runID, err = o.jobs.Start(ctx, jobID)
		if err != nil {
			return o.fail(wf, started, "start", err)
		}
	} else {
		next = domain.PhaseRegistered
		runID, err = o.resolveRunID(ctx, logger, jobID)
		if err != nil {
			return o.fail(wf, started, "resolve_run", err)
		}
	}
	o.update(wf.ID, func(w *domain.Workflow) { w.Run.RunID = runID })
	if err := o.advance(wf.ID, next); err != nil {
		return o.fail(wf, started, "start", err)
	}
	if err := o.advance(wf.ID, domain.PhaseMonitoring); err != nil {
		return o.fail(wf, started, "monitor", err)
	}

	final, err := o.jobs.Monitor(ctx, o.snapshot(wf.ID).Run, o.cfg.PollInterval, func(run domain.JobRun) {
		o.update(wf.ID, func(w *domain.Workflow) { w.Run.Status = run.Status })
		if err := o.advance(wf.ID, domain.PhaseForStatus(run.Status)); err != nil {
			logger.Error("failed to record terminal phase", "error", err)
		}
		o.notify(ctx, req.Name, run)
	})
	if err != nil {
		return o.fail(wf, started, "monitor", err)
	}

	if err := o.jobs.Cleanup(ctx, jobID); err != nil {
		logger.Error("job cleanup failed, leaving remote state as-is", "job_id", jobID, "error", err)
		return o.fail(wf, started, "cleanup", err)
	}
	if err := o.advance(wf.ID, domain.PhaseCleaned); err != nil {
		return o.fail(wf, started, "cleanup", err)
	}

	success := final.Status == domain.RunStatusCompleted
	var runErr error
	if !success {
		runErr = fmt.Errorf("run %s finished with status %s", final.RunID, final.Status)
	}
	done := o.finish(wf.ID, started, runErr)
	logger.Info("workflow finished", "status", done.Status, "run_status", final.Status, "duration", time.Since(started))
	return done, nil
}

// resolveRunID retries the lookup while the console has not materialised
// the run yet. Other errors end the retry immediately.
func (o *Orchestrator) resolveRunID(ctx context.Context, logger *slog.Logger, jobID domain.JobID) (domain.RunID, error) {
	return backoff.Retry(ctx, func() (domain.RunID, error) {
		id, err := o.jobs.ResolveRunID(ctx, jobID)
		if err != nil && !errors.Is(err, domain.ErrRunNotFound) {
			return "", backoff.Permanent(err)
		}
		return id, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(o.cfg.ResolveDelay)),
		backoff.WithMaxTries(o.cfg.ResolveAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debug("run not materialised yet, retrying", "job_id", jobID, "wait", wait)
		}),
	)
}

// RunDemo reproduces the end-to-end flow: check credentials, load the
// fleet, provision storage, then run one distribution and one sync job over
// the first two agents concurrently.
func (o *Orchestrator) RunDemo(ctx context.Context, distPaths, syncPaths DemoPaths) error {
	if _, err := o.Initialize(ctx); err != nil {
		return err
	}
	snap, err := o.RefreshAgents(ctx)
	if err != nil {
		return err
	}
	if len(snap.IDs) < 2 {
		return fmt.Errorf("demo needs at least two agents, found %d", len(snap.IDs))
	}
	storageID, err := o.ProvisionStorage(ctx)
	if err != nil {
		return err
	}

	first, second := snap.IDs[0], snap.IDs[1]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := o.RunDistribution(gctx, distPaths.request(domain.JobTypeDistribution, first, second, storageID))
		return err
	})
	g.Go(func() error {
		_, err := o.RunSync(gctx, syncPaths.request(domain.JobTypeSync, first, second, storageID))
		return err
	})
	return g.Wait()
}

// DemoPaths names the job and folders used by RunDemo.
type DemoPaths struct {
	Name        string
	Description string
	SourcePath  string
	TargetPath  string
}

// request puts the storage-backed source on the first agent. Distribution
// targets are read-only; sync targets read-write.
func (p DemoPaths) request(jobType domain.JobType, source, target domain.AgentID, storage domain.StorageID) domain.JobRequest {
	targetAccess := domain.AccessReadOnly
	if jobType == domain.JobTypeSync {
		targetAccess = domain.AccessReadWrite
	}
	ref := storage
	var parts []domain.Participant
	parts = domain.AppendParticipant(parts, domain.Participant{AgentID: source, Access: domain.AccessReadWrite, Path: p.SourcePath, StorageRef: &ref})
	parts = domain.AppendParticipant(parts, domain.Participant{AgentID: target, Access: targetAccess, Path: p.TargetPath})
	return domain.JobRequest{Name: p.Name, Description: p.Description, Participants: parts}
}

// Workflows lists tracked workflows, newest first.
func (o *Orchestrator) Workflows() []domain.Workflow {
	o.mu.RLock()
	out := make([]domain.Workflow, 0, len(o.workflows))
	for _, wf := range o.workflows {
		out = append(out, *wf)
	}
	o.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Workflow) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Workflow returns one tracked workflow.
func (o *Orchestrator) Workflow(id domain.WorkflowID) (domain.Workflow, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	wf, ok := o.workflows[id]
	if !ok {
		return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	return *wf, nil
}

// Agents exposes the registry's current view.
func (o *Orchestrator) Agents() []domain.Agent {
	return o.registry.List()
}

// Bus returns the event bus workflows publish on.
func (o *Orchestrator) Bus() *EventBus {
	return o.bus
}

func (o *Orchestrator) begin(kind domain.WorkflowKind, jobName string, jobType domain.JobType) domain.Workflow {
	now := time.Now().UTC()
	wf := &domain.Workflow{
		ID:        domain.WorkflowID(uuid.NewString()),
		Kind:      kind,
		JobName:   jobName,
		Run:       domain.JobRun{Type: jobType, Phase: domain.PhaseBuilt, UpdatedAt: now},
		Status:    domain.WorkflowStatusRunning,
		CreatedAt: now,
	}
	o.mu.Lock()
	o.workflows[wf.ID] = wf
	o.mu.Unlock()
	return *wf
}

func (o *Orchestrator) update(id domain.WorkflowID, fn func(w *domain.Workflow)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if wf, ok := o.workflows[id]; ok {
		fn(wf)
	}
}

func (o *Orchestrator) snapshot(id domain.WorkflowID) domain.Workflow {
	wf, _ := o.Workflow(id)
	return wf
}

func (o *Orchestrator) advance(id domain.WorkflowID, next domain.JobPhase) error {
	var (
		err     error
		jobType domain.JobType
	)
	o.update(id, func(w *domain.Workflow) {
		err = w.Run.Advance(next)
		jobType = w.Run.Type
	})
	if err != nil {
		return err
	}
	o.metrics.RecordPhase(string(jobType), string(next))
	o.publishPhase(id)
	return nil
}

func (o *Orchestrator) publishPhase(id domain.WorkflowID) {
	wf := o.snapshot(id)
	o.publishJSON(string(id), EventTypePhase, wf.Run)
}

func (o *Orchestrator) publishJSON(topic string, typ EventType, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	o.bus.Publish(Event{Topic: topic, Type: typ, Data: string(payload)})
}

func (o *Orchestrator) fail(wf domain.Workflow, started time.Time, step string, err error) (domain.Workflow, error) {
	o.metrics.RecordRemoteError(step)
	o.logger.Error("workflow step failed", "workflow_id", wf.ID, "step", step, "error", err)
	return o.finish(wf.ID, started, err), err
}

func (o *Orchestrator) finish(id domain.WorkflowID, started time.Time, err error) domain.Workflow {
	now := time.Now().UTC()
	var kind domain.WorkflowKind
	o.update(id, func(w *domain.Workflow) {
		kind = w.Kind
		w.CompletedAt = &now
		w.Status = domain.WorkflowStatusCompleted
		if err != nil {
			msg := err.Error()
			w.Status = domain.WorkflowStatusFailed
			w.Error = &msg
		}
	})
	o.metrics.RecordWorkflow(string(kind), time.Since(started), err == nil)

	wf := o.snapshot(id)
	o.publishJSON(string(id), EventTypeStatus, map[string]any{"status": wf.Status, "error": wf.Error})
	return wf
}

func (o *Orchestrator) notify(ctx context.Context, jobName string, run domain.JobRun) {
	if o.notifier == nil || o.cfg.NotifyTo == "" {
		return
	}
	text := fmt.Sprintf("Job %s (run %s) finished: %s", jobName, run.RunID, run.Status)
	if err := o.notifier.Send(ctx, o.cfg.NotifyTo, text); err != nil {
		o.logger.Warn("notification failed", "error", err)
	}
}

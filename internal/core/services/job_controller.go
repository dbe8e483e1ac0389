package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/oapi-codegen/runtime"
	"github.com/tidwall/gjson"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
)

const runsPath = "/api/v2/runs"

// JobController drives a job from definition to cleanup. It never retries
// remote calls; workflows decide.
type JobController struct {
	logger    *slog.Logger
	api       ports.ManagementAPI
	validator *SpecValidator
}

func NewJobController(logger *slog.Logger, api ports.ManagementAPI, validator *SpecValidator) *JobController {
	return &JobController{
		logger:    logger,
		api:       api,
		validator: validator,
	}
}

// BuildSpec validates the job type and that at least one participant is
// given. Paths and access modes are left for the console to judge.
func (c *JobController) BuildSpec(jobType domain.JobType, name, description string, participants []domain.Participant) (domain.JobSpec, error) {
	if !jobType.Valid() {
		return domain.JobSpec{}, fmt.Errorf("%w: unsupported job type %q", domain.ErrInvalidJobSpec, jobType)
	}
	if len(participants) == 0 {
		return domain.JobSpec{}, fmt.Errorf("%w: job %q has no participants", domain.ErrInvalidJobSpec, name)
	}
	spec := domain.JobSpec{
		Name:         name,
		Description:  description,
		Type:         jobType,
		Participants: participants,
	}
	return spec.Clone(), nil
}

type osPath struct {
	Linux string `json:"linux"`
	Win   string `json:"win"`
	OSX   string `json:"osx"`
}

type jobAgentPayload struct {
	ID              int64  `json:"id"`
	Permission      string `json:"permission"`
	Path            osPath `json:"path"`
	StorageConfigID string `json:"storage_config_id,omitempty"`
}

type jobCreatePayload struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Type           string            `json:"type"`
	Agents         []jobAgentPayload `json:"agents"`
	ProfileID      string            `json:"profile_id,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	IgnorePatterns []string          `json:"ignore_patterns,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type runCreatePayload struct {
	JobID any `json:"job_id"`
}

func newJobCreatePayload(spec domain.JobSpec) jobCreatePayload {
	p := jobCreatePayload{
		Name:           spec.Name,
		Description:    spec.Description,
		Type:           string(spec.Type),
		Agents:         make([]jobAgentPayload, 0, len(spec.Participants)),
		ProfileID:      spec.Options.ProfileID,
		Priority:       spec.Options.Priority,
		IgnorePatterns: spec.Options.IgnorePatterns,
		Metadata:       spec.Options.Metadata,
	}
	for _, part := range spec.Participants {
		a := jobAgentPayload{
			ID:         int64(part.AgentID),
			Permission: string(part.Access),
			Path:       osPath{Linux: part.Path, Win: part.Path, OSX: part.Path},
		}
		if part.StorageRef != nil {
			a.StorageConfigID = string(*part.StorageRef)
		}
		p.Agents = append(p.Agents, a)
	}
	return p
}

// jobIDValue sends numeric ids as JSON numbers, anything else as a string.
func jobIDValue(id domain.JobID) any {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return n
	}
	return string(id)
}

// Submit creates the job on the console and returns its id.
func (c *JobController) Submit(ctx context.Context, spec domain.JobSpec) (domain.JobID, error) {
	const op = "submit job"

	payload := newJobCreatePayload(spec)
	if err := c.validator.Validate(SchemaJobCreate, payload); err != nil {
		return "", domain.NewOpError(op, domain.ErrSubmission, err)
	}

	body, err := c.api.Post(ctx, jobsPath, payload)
	if err != nil {
		return "", domain.NewOpError(op, domain.ErrSubmission, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return "", domain.NewOpError(op, domain.ErrSubmission, err)
	}
	id, err := idField(op, body, "id")
	if err != nil {
		return "", domain.NewOpError(op, domain.ErrSubmission, err)
	}

	c.logger.Info("job submitted", "job_id", id, "name", spec.Name, "type", spec.Type, "participants", len(spec.Participants))
	return domain.JobID(id), nil
}

// Start creates a run for a job. Distribution jobs need this explicitly;
// sync jobs get an implicit run on registration.
func (c *JobController) Start(ctx context.Context, jobID domain.JobID) (domain.RunID, error) {
	const op = "start job"

	payload := runCreatePayload{JobID: jobIDValue(jobID)}
	if err := c.validator.Validate(SchemaRunCreate, payload); err != nil {
		return "", domain.NewOpError(op, domain.ErrSubmission, err)
	}

	body, err := c.api.Post(ctx, runsPath, payload)
	if err != nil {
		return "", domain.NewOpError(op, domain.ErrSubmission, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return "", domain.NewOpError(op, domain.ErrSubmission, err)
	}
	id, err := idField(op, body, "id")
	if err != nil {
		return "", domain.NewOpError(op, domain.ErrSubmission, err)
	}

	c.logger.Info("job started", "job_id", jobID, "run_id", id)
	return domain.RunID(id), nil
}

// ResolveRunID looks up the run the console generated for a job. The first
// entry of the run list is taken as-is; an empty list is ErrRunNotFound.
func (c *JobController) ResolveRunID(ctx context.Context, jobID domain.JobID) (domain.RunID, error) {
	const op = "resolve run"

	query, err := runtime.StyleParamWithLocation("form", true, "job_id", runtime.ParamLocationQuery, string(jobID))
	if err != nil {
		return "", fmt.Errorf("%s: encode query: %w", op, err)
	}

	body, err := c.api.Get(ctx, runsPath+"?"+query)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return "", err
	}
	items, err := listItems(op, body)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("%s for job %s: %w", op, jobID, domain.ErrRunNotFound)
	}
	if len(items) > 1 {
		c.logger.Warn("several runs for job, using the first", "job_id", jobID, "count", len(items))
	}

	id := items[0].Get("id")
	if !id.Exists() || id.String() == "" {
		return "", domain.NewOpError(op, domain.ErrMalformedResponse, nil)
	}
	return domain.RunID(id.String()), nil
}

// RunStatus fetches the normalised status of a run and the job it belongs to.
func (c *JobController) RunStatus(ctx context.Context, runID domain.RunID) (domain.RunStatus, domain.JobID, error) {
	const op = "run status"

	body, err := c.api.Get(ctx, runsPath+"/"+string(runID))
	if err != nil {
		return "", "", fmt.Errorf("%s %s: %w", op, runID, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return "", "", err
	}
	status := gjson.GetBytes(body, "status")
	if !status.Exists() {
		return "", "", domain.NewOpError(op, domain.ErrMalformedResponse, nil)
	}
	return domain.ParseRunStatus(status.String()), domain.JobID(gjson.GetBytes(body, "job_id").String()), nil
}

// Monitor polls the run every interval until it reaches a terminal status.
// onTerminal, when non-nil, fires exactly once with the terminal run, after
// which polling stops and the terminal run is returned.
//
// Transport failures are logged and polling continues. Any other failure
// (rejected credentials, error envelopes, unreadable bodies) ends monitoring
// and is returned. There is no timeout other than ctx.
func (c *JobController) Monitor(ctx context.Context, run domain.JobRun, interval time.Duration, onTerminal func(domain.JobRun)) (domain.JobRun, error) {
	var (
		once    sync.Once
		final   domain.JobRun
		fatal   error
		fatalMu sync.Mutex
	)

	logger := c.logger.With("job_id", run.JobID, "run_id", run.RunID)
	poller := NewPollScheduler(c.logger, "run-monitor")

	err := poller.Run(ctx, interval, func(ctx context.Context) (bool, error) {
		status, _, err := c.RunStatus(ctx, run.RunID)
		if err != nil {
			if errors.Is(err, domain.ErrRemoteUnavailable) {
				return false, err
			}
			fatalMu.Lock()
			if fatal == nil {
				fatal = err
			}
			fatalMu.Unlock()
			return true, nil
		}
		if !status.Terminal() {
			logger.Debug("run still active", "status", status)
			return false, nil
		}

		once.Do(func() {
			final = run
			final.Status = status
			final.UpdatedAt = time.Now().UTC()
			logger.Info("run reached terminal status", "status", status)
			if onTerminal != nil {
				onTerminal(final)
			}
		})
		return true, nil
	})
	if err != nil {
		return run, err
	}

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if final.Status.Terminal() {
		return final, nil
	}
	return run, fatal
}

// Cleanup deletes the job definition. Results already produced remotely are
// left in place.
func (c *JobController) Cleanup(ctx context.Context, jobID domain.JobID) error {
	const op = "cleanup job"

	body, err := c.api.Delete(ctx, jobsPath+"/"+string(jobID))
	if err != nil {
		return domain.NewOpError(op, domain.ErrCleanup, err)
	}
	if err := checkEnvelope(op, body); err != nil {
		return domain.NewOpError(op, domain.ErrCleanup, err)
	}
	c.logger.Info("job cleaned up", "job_id", jobID)
	return nil
}

// FindByName returns the job with exactly this name, or nil when none exists.
func (c *JobController) FindByName(ctx context.Context, name string) (*domain.JobRef, error) {
	const op = "find job"

	body, err := c.api.Get(ctx, jobsPath)
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
	for _, item := range items {
		if item.Get("name").String() == name {
			ref := parseJobRef(item)
			return &ref, nil
		}
	}
	return nil, nil
}

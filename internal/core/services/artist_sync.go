package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/camerontarget14/resilio-connect-scripts/internal/config"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
)

var (
	showPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	shotPattern = regexp.MustCompile(`^[A-Za-z0-9]+_[0-9]{3}_[0-9]{4}$`)
)

// Outcomes reported by ArtistSync.Apply.
const (
	ArtistSyncRestarted = "restarted_existing"
	ArtistSyncCreated   = "created_and_started"
)

// ArtistPlan is a resolved artist sync job, ready to preview or apply.
type ArtistPlan struct {
	Show        string
	Shot        string
	Artist      string
	LocationKey string
	JobName     string
	Direction   string
	Source      config.Endpoint
	Destination config.Endpoint
	SourcePath  string
	DestPath    string
	RelPath     string
	Options     domain.JobOptions
}

// ArtistSyncResult is what Apply did.
type ArtistSyncResult struct {
	JobID   domain.JobID `json:"job_id"`
	RunID   domain.RunID `json:"job_run_id"`
	Name    string       `json:"name"`
	Outcome string       `json:"status"`
}

// ArtistSync creates (or restarts) the two-way sync job between the studio
// and an artist's location for one shot. Jobs are found by name, so applying
// the same plan twice starts a new run of the existing job.
type ArtistSync struct {
	logger *slog.Logger
	cfg    *config.ArtistConfig
	jobs   *JobController
}

func NewArtistSync(logger *slog.Logger, cfg *config.ArtistConfig, jobs *JobController) *ArtistSync {
	return &ArtistSync{logger: logger, cfg: cfg, jobs: jobs}
}

// Plan validates the inputs and resolves paths and the job name without
// calling the console.
func (a *ArtistSync) Plan(show, shot, artist string) (ArtistPlan, error) {
	if !showPattern.MatchString(show) {
		return ArtistPlan{}, fmt.Errorf("show must be alphanumeric, got: %q", show)
	}
	if !shotPattern.MatchString(shot) {
		return ArtistPlan{}, fmt.Errorf("shot must look like TST_010_0010, got: %q", shot)
	}

	locKey, remote, err := a.cfg.LocationFor(artist)
	if err != nil {
		return ArtistPlan{}, err
	}
	local, err := a.cfg.LocalEndpoint()
	if err != nil {
		return ArtistPlan{}, err
	}
	tmpl := a.cfg.Paths.RelativeVFX
	if tmpl == "" {
		return ArtistPlan{}, fmt.Errorf("'paths.relative_vfx' missing in configuration")
	}

	rel := strings.NewReplacer("${SHOW}", show, "${SHOT}", shot).Replace(tmpl)
	defaults := a.cfg.Defaults

	return ArtistPlan{
		Show:        show,
		Shot:        shot,
		Artist:      artist,
		LocationKey: locKey,
		JobName:     fmt.Sprintf("SYNC:%s:%s:%s", shot, artist, locKey),
		Direction:   defaults.SyncDirection,
		Source:      local,
		Destination: remote,
		SourcePath:  strings.TrimRight(local.Root, "/") + "/" + rel,
		DestPath:    strings.TrimRight(remote.Root, "/") + "/" + rel,
		RelPath:     rel,
		Options: domain.JobOptions{
			ProfileID:      defaults.ProfileID,
			Priority:       defaults.Priority,
			IgnorePatterns: defaults.IgnorePatterns,
			Metadata: map[string]string{
				"artist":       artist,
				"location_key": locKey,
				"show":         show,
				"shot":         shot,
				"rel":          rel,
			},
		},
	}, nil
}

// Apply starts a new run of the job named by the plan if it exists, otherwise
// creates the sync job with both sides read-write and starts it.
func (a *ArtistSync) Apply(ctx context.Context, plan ArtistPlan) (ArtistSyncResult, error) {
	logger := a.logger.With("job_name", plan.JobName)

	existing, err := a.jobs.FindByName(ctx, plan.JobName)
	if err != nil {
		return ArtistSyncResult{}, err
	}
	if existing != nil {
		logger.Info("job already exists, starting a new run", "job_id", existing.ID)
		runID, err := a.jobs.Start(ctx, existing.ID)
		if err != nil {
			return ArtistSyncResult{}, err
		}
		return ArtistSyncResult{JobID: existing.ID, RunID: runID, Name: plan.JobName, Outcome: ArtistSyncRestarted}, nil
	}

	var parts []domain.Participant
	parts = domain.AppendParticipant(parts, domain.Participant{
		AgentID: domain.AgentID(plan.Source.AgentID), Access: domain.AccessReadWrite, Path: plan.SourcePath,
	})
	parts = domain.AppendParticipant(parts, domain.Participant{
		AgentID: domain.AgentID(plan.Destination.AgentID), Access: domain.AccessReadWrite, Path: plan.DestPath,
	})

	desc := fmt.Sprintf("Sync job for %s/%s - %s", plan.Show, plan.Shot, plan.Artist)
	spec, err := a.jobs.BuildSpec(domain.JobTypeSync, plan.JobName, desc, parts)
	if err != nil {
		return ArtistSyncResult{}, err
	}
	spec.Options = plan.Options

	jobID, err := a.jobs.Submit(ctx, spec)
	if err != nil {
		return ArtistSyncResult{}, err
	}
	runID, err := a.jobs.Start(ctx, jobID)
	if err != nil {
		return ArtistSyncResult{JobID: jobID, Name: plan.JobName}, err
	}

	logger.Info("artist sync job created and started", "job_id", jobID, "run_id", runID)
	return ArtistSyncResult{JobID: jobID, RunID: runID, Name: plan.JobName, Outcome: ArtistSyncCreated}, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lucasepe/codename"
	"github.com/spf13/viper"

	"github.com/camerontarget14/resilio-connect-scripts/internal/adapters/duckdb"
	"github.com/camerontarget14/resilio-connect-scripts/internal/adapters/mc"
	"github.com/camerontarget14/resilio-connect-scripts/internal/adapters/memory"
	"github.com/camerontarget14/resilio-connect-scripts/internal/adapters/twilio"
	"github.com/camerontarget14/resilio-connect-scripts/internal/config"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/ports"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/services"
	"github.com/camerontarget14/resilio-connect-scripts/internal/telemetry"
)

// runtime is the wired object graph shared by the commands.
type runtime struct {
	logger   *slog.Logger
	store    *config.Store
	cfg      *config.Config
	instance string

	api         *mc.Client
	props       ports.PropertyStore
	metrics     *telemetry.Metrics
	bus         *services.EventBus
	registry    *services.AgentRegistry
	provisioner *services.StorageProvisioner
	jobs        *services.JobController
	orch        *services.Orchestrator

	closers []func() error
}

// loadConfigStore reads the config named by --config, asking for the secret
// key only when a secret is stored encrypted.
func loadConfigStore(logger *slog.Logger) (*config.Store, error) {
	v, err := config.NewViper(viper.GetString("config"))
	if err != nil {
		return nil, err
	}

	var key *config.SecretKey
	if config.HasEncryptedSecrets(v) {
		key, err = config.NewSecretKey(config.DefaultKeyPath())
		if err != nil {
			return nil, fmt.Errorf("failed to load secret key: %w", err)
		}
	}
	return config.NewStore(logger, v, key)
}

// instanceName returns the configured instance name or a generated codename.
func instanceName(cfg *config.Config) string {
	if cfg.Instance != "" {
		return cfg.Instance
	}
	rng, err := codename.DefaultRNG()
	if err != nil {
		return "resilioctl"
	}
	return codename.Generate(rng, 0)
}

func newPropertyStore(ctx context.Context, cfg config.StoreConfig) (ports.PropertyStore, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(), func() error { return nil }, nil
	case "duckdb":
		repo, err := duckdb.NewRepository(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open property store: %w", err)
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func storageTarget(cfg config.StorageConfig) services.StorageTarget {
	return services.StorageTarget{
		Name: cfg.Name,
		Params: domain.StorageParams{
			Kind:        domain.StorageKind(cfg.Kind),
			Description: cfg.Description,
			Credentials: domain.Credentials{AccessKey: cfg.AccessKey, SecretKey: cfg.SecretKey},
			Location:    domain.Location{Bucket: cfg.Bucket, Region: cfg.Region},
		},
	}
}

func orchestratorConfig(cfg *config.Config) services.OrchestratorConfig {
	oc := services.OrchestratorConfig{
		PollInterval:    cfg.Poll.RunInterval,
		ResolveAttempts: cfg.Poll.ResolveAttempts,
		ResolveDelay:    cfg.Poll.ResolveDelay,
		Storage:         storageTarget(cfg.Storage),
	}
	if cfg.Notify.Enabled() {
		oc.NotifyTo = cfg.Notify.To
	}
	return oc
}

// bootstrap loads the config and wires adapters and services. Callers must
// Close the runtime.
func bootstrap(ctx context.Context) (*runtime, error) {
	logger := newLogger()

	store, err := loadConfigStore(logger)
	if err != nil {
		return nil, err
	}
	cfg := store.Get()

	rt := &runtime{
		store:    store,
		cfg:      cfg,
		instance: instanceName(cfg),
	}
	rt.logger = logger.With("instance", rt.instance)

	props, closeProps, err := newPropertyStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.props = props
	rt.closers = append(rt.closers, closeProps)

	validator, err := services.NewSpecValidator()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to load job schema: %w", err)
	}

	rt.api = mc.NewClient(rt.logger, mc.Options{
		BaseURL:            cfg.Console.BaseURL(),
		Token:              cfg.Console.Token,
		Timeout:            cfg.Console.Timeout,
		InsecureSkipVerify: cfg.Console.InsecureSkipVerify,
	})

	var notifier ports.Notifier
	if cfg.Notify.Enabled() {
		n := twilio.NewNotifier(rt.logger, cfg.Notify.From, cfg.Notify.AccountSID, cfg.Notify.AuthToken, cfg.Notify.BaseURL)
		notifier = n
		rt.closers = append(rt.closers, func() error {
			n.Close()
			return nil
		})
	}

	rt.metrics = telemetry.NewMetrics()
	rt.bus = services.NewEventBus(rt.logger)
	rt.registry = services.NewAgentRegistry(rt.logger, rt.api, rt.props)
	rt.provisioner = services.NewStorageProvisioner(rt.logger, rt.api)
	rt.jobs = services.NewJobController(rt.logger, rt.api, validator)
	rt.orch = services.NewOrchestrator(
		rt.logger, rt.api, rt.registry, rt.provisioner, rt.jobs,
		rt.bus, notifier, rt.metrics, orchestratorConfig(cfg),
	)

	rt.logger.Debug("runtime ready",
		"console", cfg.Console.BaseURL(),
		"store", cfg.Store.Driver,
		"notify", cfg.Notify.Enabled(),
	)
	return rt, nil
}

// Close releases the property store and drains pending notifications, in
// reverse order of creation.
func (r *runtime) Close() {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("shutdown incomplete", "error", err)
	}
}

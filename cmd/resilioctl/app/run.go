package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/camerontarget14/resilio-connect-scripts/internal/config"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/services"
	"github.com/camerontarget14/resilio-connect-scripts/internal/lock"
	"github.com/camerontarget14/resilio-connect-scripts/pkg/statusapi"
)

const (
	defaultGracefulTimeout = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one distribution and one sync job across the first two agents",
		Long: `Run checks the console, refreshes the agent fleet, ensures the configured
storage exists and then runs a distribution job and a sync job concurrently,
each through submit, start, monitor and cleanup.

While the workflows run, a read-only status API serves their progress on
server.address.`,
		RunE: runDemo,
	}
	cmd.Flags().Bool("watch-agents", false, "Report fleet membership changes while the workflows run")
	cmd.Flags().Bool("wait", false, "Keep serving the status API after the workflows finish")
	cmd.Flags().Bool("no-server", false, "Do not start the status API")
	return cmd
}

// lockKey identifies the console an orchestrator instance works against.
func lockKey(c config.ConsoleConfig) string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func demoPaths(job config.DemoJob) services.DemoPaths {
	return services.DemoPaths{
		Name:        job.Name,
		Description: job.Description,
		SourcePath:  job.Source,
		TargetPath:  job.Target,
	}
}

func runDemo(cmd *cobra.Command, _ []string) error {
	watchAgents, _ := cmd.Flags().GetBool("watch-agents")
	wait, _ := cmd.Flags().GetBool("wait")
	noServer, _ := cmd.Flags().GetBool("no-server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger
	cfg := rt.cfg

	instanceLock, err := lock.New(cfg.Lock.Dir, lockKey(cfg.Console))
	if err != nil {
		return err
	}
	if err := instanceLock.TryLock(rt.instance); err != nil {
		return fmt.Errorf("console %s: %w", lockKey(cfg.Console), err)
	}
	defer func() {
		if err := instanceLock.Unlock(); err != nil {
			logger.Warn("failed to release instance lock", "path", instanceLock.Path(), "error", err)
		}
	}()
	logger.Info("instance lock acquired", "path", instanceLock.Path(), "id", instanceLock.ID())

	rt.store.OnChange(func(next *config.Config) {
		if next.Console != cfg.Console || next.Storage != cfg.Storage {
			logger.Warn("console or storage settings changed, restart to apply them")
		}
	})
	rt.store.Watch()

	g, gCtx := errgroup.WithContext(ctx)
	workCtx, cancelWork := context.WithCancel(gCtx)
	defer cancelWork()

	if !noServer {
		api := statusapi.NewServer(logger, rt.orch, rt.metrics, cfg.Server.AllowedOrigins)
		srv := &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           api.Handler(),
			ReadHeaderTimeout: serverReadTimeout,
			IdleTimeout:       serverIdleTimeout,
		}

		g.Go(func() error {
			logger.Info("status api listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-workCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultGracefulTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if watchAgents {
		g.Go(func() error {
			err := rt.orch.WatchAgents(workCtx, cfg.Poll.AgentInterval, services.WatchHandlers{
				OnChange: func(delta domain.AgentDelta) {
					fmt.Fprintf(cmd.OutOrStdout(), "agents added=%v removed=%v\n", delta.Added, delta.Removed)
				},
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		err := rt.orch.RunDemo(workCtx, demoPaths(cfg.Demo.Distribution), demoPaths(cfg.Demo.Sync))
		printWorkflows(cmd, rt.orch.Workflows())
		if err != nil {
			return err
		}
		if !wait {
			cancelWork()
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printWorkflows(cmd *cobra.Command, workflows []domain.Workflow) {
	for _, wf := range workflows {
		line := fmt.Sprintf("%s %s job=%s run=%s phase=%s status=%s",
			wf.Kind, wf.JobName, wf.Run.JobID, wf.Run.RunID, wf.Run.Phase, wf.Status)
		if wf.Error != nil {
			line += " error=" + *wf.Error
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/services"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect the agent fleet",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Refresh and list the agents known to the console",
		RunE:  runAgentsList,
	}
	addFormatFlag(listCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the fleet and print membership changes until interrupted",
		RunE:  runAgentsWatch,
	}
	watchCmd.Flags().Duration("interval", 0, "Polling interval (default poll.agent_interval)")

	showCmd := &cobra.Command{
		Use:   "show AGENT_ID",
		Short: "Show one agent, or the last cached properties of an agent that left the fleet",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentsShow,
	}

	cmd.AddCommand(listCmd, showCmd, watchCmd)
	return cmd
}

func runAgentsList(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.orch.RefreshAgents(cmd.Context()); err != nil {
		return err
	}
	agents := rt.orch.Agents()

	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), agents)
	}
	rows := make([][]string, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, []string{a.ID.String(), a.Name, string(a.Status), a.Attributes["os"]})
	}
	return renderTable(cmd.OutOrStdout(), []string{"ID", "NAME", "STATUS", "OS"}, rows)
}

func runAgentsShow(cmd *cobra.Command, args []string) error {
	raw, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || raw <= 0 {
		return fmt.Errorf("invalid agent id %q", args[0])
	}
	id := domain.AgentID(raw)

	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.orch.RefreshAgents(cmd.Context()); err != nil {
		return err
	}

	agent, err := rt.registry.Agent(id)
	if err == nil {
		return writeJSON(cmd.OutOrStdout(), agent)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	props, cacheErr := rt.registry.CachedProperties(cmd.Context(), id)
	if cacheErr != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "agent %d is not in the fleet; last cached properties:\n", id)
	return writeJSON(cmd.OutOrStdout(), props)
}

func runAgentsWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		interval = rt.cfg.Poll.AgentInterval
	}

	snap, err := rt.orch.RefreshAgents(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s watching %d agents every %s\n", time.Now().Format(time.TimeOnly), len(snap.IDs), interval)

	err = rt.orch.WatchAgents(ctx, interval, services.WatchHandlers{
		OnChange: func(delta domain.AgentDelta) {
			fmt.Fprintf(out, "%s added=[%s] removed=[%s]\n",
				time.Now().Format(time.TimeOnly), joinIDs(delta.Added), joinIDs(delta.Removed))
		},
		OnError: func(err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s refresh failed: %v\n", time.Now().Format(time.TimeOnly), err)
		},
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

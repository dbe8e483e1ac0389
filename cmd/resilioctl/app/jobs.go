package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and clean up console jobs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs and cache their properties",
		RunE:  runJobsList,
	}
	addFormatFlag(listCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete JOB_ID",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsDelete,
	}

	cmd.AddCommand(listCmd, deleteCmd)
	return cmd
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	jobs, err := rt.registry.RefreshJobs(cmd.Context())
	if err != nil {
		return err
	}

	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), jobs)
	}
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{string(j.ID), j.Name, string(j.Type), joinIDs(j.Agents)})
	}
	return renderTable(cmd.OutOrStdout(), []string{"ID", "NAME", "TYPE", "AGENTS"}, rows)
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	id := domain.JobID(args[0])
	if err := rt.jobs.Cleanup(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted job %s\n", id)
	return nil
}

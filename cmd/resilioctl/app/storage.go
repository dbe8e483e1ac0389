package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage cloud storage entries",
	}

	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the configured storage unless one with the same name exists",
		RunE:  runStorageEnsure,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List storage entries",
		RunE:  runStorageList,
	}
	addFormatFlag(listCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete STORAGE_ID",
		Short: "Delete a storage entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runStorageDelete,
	}

	cmd.AddCommand(ensureCmd, listCmd, deleteCmd)
	return cmd
}

func runStorageEnsure(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	id, err := rt.orch.ProvisionStorage(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runStorageList(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	storages, err := rt.provisioner.List(cmd.Context())
	if err != nil {
		return err
	}

	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), storages)
	}
	rows := make([][]string, 0, len(storages))
	for _, s := range storages {
		rows = append(rows, []string{string(s.ID), s.Name, string(s.Kind), s.Location.Bucket, s.Location.Region})
	}
	return renderTable(cmd.OutOrStdout(), []string{"ID", "NAME", "TYPE", "BUCKET", "REGION"}, rows)
}

func runStorageDelete(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	id := domain.StorageID(args[0])
	if err := rt.provisioner.Delete(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted storage %s\n", id)
	return nil
}

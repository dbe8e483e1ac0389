package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camerontarget14/resilio-connect-scripts/internal/versions"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Check connectivity and credentials against the console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			info, err := rt.orch.Initialize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "console %s version %s\n", rt.cfg.Console.BaseURL(), info.Version)
			if !versions.SupportedConsole(info.Version) {
				rt.logger.Warn("console is older than the oldest tested version",
					"version", info.Version, "minimum", versions.MinConsoleVersion)
			}
			return nil
		},
	}
}

package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/camerontarget14/resilio-connect-scripts/internal/config"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/services"
)

var errAborted = errors.New("aborted by user")

func newArtistSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artist-sync",
		Short: "Create or restart the sync job between the studio and an artist's location for one shot",
		Long: `artist-sync resolves the artist's location and the shot's vfx folder from the
artists config, then creates a two-way sync job named SYNC:<shot>:<artist>:<location>
and starts it. If a job with that name exists, a new run of it is started instead.`,
		RunE: runArtistSync,
	}
	cmd.Flags().String("show", "", "Show code, alphanumeric (required)")
	cmd.Flags().String("shot", "", "Shot code such as TST_010_0010 (required)")
	cmd.Flags().String("artist", "", "Artist name as listed in the artists config (required)")
	cmd.Flags().String("artists-config", "artists.yaml", "Path to the artists config")
	cmd.Flags().Bool("dry-run", false, "Print the plan without contacting the console")
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	for _, name := range []string{"show", "shot", "artist"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runArtistSync(cmd *cobra.Command, _ []string) error {
	show, _ := cmd.Flags().GetString("show")
	shot, _ := cmd.Flags().GetString("shot")
	artist, _ := cmd.Flags().GetString("artist")
	path, _ := cmd.Flags().GetString("artists-config")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	yes, _ := cmd.Flags().GetBool("yes")

	artists, err := config.LoadArtistConfig(path)
	if err != nil {
		return err
	}

	plan, err := services.NewArtistSync(newLogger(), artists, nil).Plan(show, shot, artist)
	if err != nil {
		return err
	}
	printArtistPlan(cmd.OutOrStdout(), plan)
	if dryRun {
		return nil
	}
	if !yes {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Create or start this sync job?")
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}

	rt, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := services.NewArtistSync(rt.logger, artists, rt.jobs).Apply(cmd.Context(), plan)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func printArtistPlan(w io.Writer, plan services.ArtistPlan) {
	fmt.Fprintf(w, "job:         %s\n", plan.JobName)
	fmt.Fprintf(w, "source:      agent %d %s\n", plan.Source.AgentID, plan.SourcePath)
	fmt.Fprintf(w, "destination: agent %d %s\n", plan.Destination.AgentID, plan.DestPath)
	if plan.Direction != "" {
		fmt.Fprintf(w, "direction:   %s\n", plan.Direction)
	}
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

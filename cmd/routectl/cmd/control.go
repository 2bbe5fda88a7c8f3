package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var resumeWatch bool

var resumeCmd = &cobra.Command{
	Use:   "resume <route-id>",
	Short: "Allow interaction again and re-queue a paused or failed route",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		rec, err := client.Resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(rec)
		}
		printSuccess(fmt.Sprintf("Route %s resumed from %s", rec.ID, rec.Status))
		if resumeWatch {
			return watchRoute(cmd.Context(), client, rec.ID, watchInterval)
		}
		return nil
	},
}

var interactionCmd = &cobra.Command{
	Use:   "interaction <route-id> <on|off>",
	Short: "Toggle whether a route may prompt the account holder",
	Long: `Turning interaction off pauses a running route at its next prompt or
submission. Turning it on does not restart a paused route; use resume for that.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var allowed bool
		switch strings.ToLower(args[1]) {
		case "on", "true", "allow":
			allowed = true
		case "off", "false", "disallow":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.SetInteraction(cmd.Context(), args[0], allowed); err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Interaction for %s set to %s", args[0], args[1]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd, interactionCmd)
	resumeCmd.Flags().BoolVarP(&resumeWatch, "watch", "w", false, "Follow the route after resuming it")
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"OpenRoute-Chain/sdk/go/openroute"
)

var (
	watchStatus   bool
	watchInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <route-id>",
	Short: "Show the execution status of a route",
	Long: `Show the execution ledger of a route: every step, its processes and their
transactions.

Examples:
  routectl status 6f1c...
  routectl status 6f1c... --watch
  routectl status 6f1c... --watch --interval 2s`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Follow the route until it settles or needs the account holder")
	statusCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Polling interval when watching")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if watchStatus {
		if jsonOutput(cmd) {
			return fmt.Errorf("watch mode is not supported with JSON output")
		}
		return watchRoute(cmd.Context(), client, args[0], watchInterval)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput(cmd) {
		s.Suffix = " Fetching route..."
		s.Start()
	}
	rec, err := client.GetRoute(cmd.Context(), args[0])
	s.Stop()
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(rec)
	}
	displayRecord(rec)
	return nil
}

func watchRoute(ctx context.Context, client *openroute.Client, id string, interval time.Duration) error {
	fmt.Printf("\nWatching route %s\n", color.CyanString(id))
	fmt.Printf("Checking every %s. Press Ctrl+C to stop.\n", interval)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for updates..."
	s.Start()
	rec, err := client.Watch(ctx, id, interval, func(rec openroute.Record) {
		s.Stop()
		displayRecord(rec)
		s.Start()
	})
	s.Stop()
	if err != nil {
		return err
	}

	switch {
	case rec.Status.IsTerminal():
		printSuccess(fmt.Sprintf("Route settled with status %s", rec.Status))
	default:
		color.Yellow("\nRoute is waiting for the account holder (%s). Run `routectl resume %s` to continue.\n", rec.Status, id)
	}
	return nil
}

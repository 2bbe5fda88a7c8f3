package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/sdk/go/openroute"
)

var (
	submitAccount        string
	submitWatch          bool
	submitNonInteractive bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <route.json>",
	Short: "Submit a quoted route for execution",
	Long: `Submit a route document, as returned by the quote backend, for execution by
the given account. Use "-" to read the route from stdin.

Examples:
  routectl submit route.json --account 0xabc...
  cat route.json | routectl submit - --account 0xabc... --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitAccount, "account", "a", "", "Address of the signing account (defaults to the route fromAddress)")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "Follow the route after submitting it")
	submitCmd.Flags().BoolVar(&submitNonInteractive, "no-interaction", false, "Pause at the first prompt instead of acting")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read route: %w", err)
	}
	r, err := route.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parse route: %w", err)
	}
	account := submitAccount
	if account == "" {
		account = r.FromAddress
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	submission := openroute.Submission{Route: r, Account: account}
	if submitNonInteractive {
		interactive := false
		submission.Interactive = &interactive
	}
	rec, err := client.SubmitRoute(cmd.Context(), submission)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(rec)
	}
	printSuccess(fmt.Sprintf("Route %s queued (%d steps)", rec.ID, len(rec.Route.Steps)))
	if submitWatch {
		return watchRoute(cmd.Context(), client, rec.ID, watchInterval)
	}
	return nil
}

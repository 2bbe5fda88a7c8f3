package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/sdk/go/openroute"
)

var listQuery struct {
	limit    int
	offset   int
	statuses []string
	account  string
	query    string
	since    time.Duration
	asc      bool
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List routes",
	Long: `List routes, most recently updated first.

Examples:
  routectl list --status FAILED --since 24h
  routectl list --account 0xabc... --query stargate`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count routes by status",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(listCmd, statsCmd)

	for _, c := range []*cobra.Command{listCmd, statsCmd} {
		c.Flags().StringSliceVar(&listQuery.statuses, "status", nil, "Filter by status (repeatable)")
		c.Flags().StringVar(&listQuery.account, "account", "", "Filter by account")
		c.Flags().StringVarP(&listQuery.query, "query", "q", "", "Search ids, tools and errors")
		c.Flags().DurationVar(&listQuery.since, "since", 0, "Only routes updated within this window")
	}
	listCmd.Flags().IntVar(&listQuery.limit, "limit", 20, "Maximum number of routes")
	listCmd.Flags().IntVar(&listQuery.offset, "offset", 0, "Number of routes to skip")
	listCmd.Flags().BoolVar(&listQuery.asc, "asc", false, "Oldest first")
}

func buildQuery() openroute.ListQuery {
	q := openroute.ListQuery{
		Limit:   listQuery.limit,
		Offset:  listQuery.offset,
		Account: listQuery.account,
		Query:   listQuery.query,
		Ascend:  listQuery.asc,
	}
	for _, s := range listQuery.statuses {
		q.Statuses = append(q.Statuses, route.Status(strings.ToUpper(strings.TrimSpace(s))))
	}
	if listQuery.since > 0 {
		q.Since = time.Now().Add(-listQuery.since)
	}
	return q
}

func runList(cmd *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	records, err := client.ListRoutes(cmd.Context(), buildQuery())
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(records)
	}
	displayList(records)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	stats, err := client.Stats(cmd.Context(), buildQuery())
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(stats)
	}
	cmd.Printf("total: %d\n", stats.Total)
	for _, s := range []route.Status{
		route.StatusPending, route.StatusStarted, route.StatusActionRequired, route.StatusChainSwitchRequired,
		route.StatusMultisigPending, route.StatusDone, route.StatusFailed, route.StatusCancelled,
	} {
		if n := stats.ByStatus[s]; n > 0 {
			cmd.Printf("  %-40s %d\n", coloredStatus(s), n)
		}
	}
	return nil
}

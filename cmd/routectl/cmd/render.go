package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/sdk/go/openroute"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func coloredStatus(s route.Status) string {
	switch s {
	case route.StatusDone:
		return color.GreenString(string(s))
	case route.StatusFailed, route.StatusCancelled:
		return color.RedString(string(s))
	case route.StatusActionRequired, route.StatusChainSwitchRequired, route.StatusMultisigPending:
		return color.YellowString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

func displayRecord(rec openroute.Record) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        ROUTE STATUS")
	fmt.Println(strings.Repeat("=", 70))

	r := rec.Route
	fmt.Printf("\n  Route:        %s\n", color.CyanString(rec.ID))
	fmt.Printf("  Status:       %s\n", coloredStatus(rec.Status))
	fmt.Printf("  Account:      %s\n", rec.Account)
	fmt.Printf("  Chains:       %d -> %d\n", r.FromChainID, r.ToChainID)
	fmt.Printf("  Amount:       %s %s -> %s %s\n", r.FromAmount, r.FromToken.Symbol, r.ToAmount, r.ToToken.Symbol)
	fmt.Printf("  Attempts:     %d\n", rec.Attempts)
	fmt.Printf("  Updated:      %s\n", formatUnix(rec.UpdatedAt))
	if rec.ErrorCode != "" {
		fmt.Printf("  Error:        %s %s\n", color.RedString(rec.ErrorCode), rec.LastError)
	}

	for i, step := range r.Steps {
		fmt.Printf("\n  Step %d  %s via %s (%d -> %d)\n", i+1, step.Type, color.CyanString(step.Tool),
			step.Action.FromChainID, step.Action.ToChainID)
		if step.Execution == nil {
			fmt.Printf("    %s\n", color.HiBlackString("not started"))
			continue
		}
		fmt.Printf("    Execution:  %s\n", coloredStatus(step.Execution.Status))
		for _, p := range step.Execution.Process {
			fmt.Printf("    - %-16s %s  %s\n", p.Type, coloredStatus(p.Status), p.Message)
			if p.Substatus != "" {
				fmt.Printf("      substatus: %s %s\n", p.Substatus, p.SubstatusMessage)
			}
			if p.TxLink != "" {
				fmt.Printf("      tx: %s\n", color.HiBlackString(p.TxLink))
			} else if p.TxHash != "" {
				fmt.Printf("      tx: %s\n", color.HiBlackString(p.TxHash))
			}
			if p.Error != nil {
				fmt.Printf("      %s %s\n", color.RedString(p.Error.Code), p.Error.Message)
			}
		}
		if step.Execution.ToAmount != "" {
			fmt.Printf("    Received:   %s\n", step.Execution.ToAmount)
		}
	}
	fmt.Println("\n" + strings.Repeat("=", 70))
}

func displayList(records []openroute.Record) {
	if len(records) == 0 {
		fmt.Println(color.HiBlackString("no routes"))
		return
	}
	fmt.Printf("%-38s %-24s %-8s %-44s %s\n", "ROUTE", "STATUS", "STEPS", "ACCOUNT", "UPDATED")
	for _, rec := range records {
		fmt.Printf("%-38s %-33s %-8d %-44s %s\n", rec.ID, coloredStatus(rec.Status), len(rec.Route.Steps),
			rec.Account, formatUnix(rec.UpdatedAt))
	}
}

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"OpenRoute-Chain/internal/route"
)

var balanceTokens []string

var balancesCmd = &cobra.Command{
	Use:   "balances <account>",
	Short: "Show token balances of an account",
	Long: `Read on-chain balances of an account. Tokens are given as
chain:address[:decimals[:symbol]]; use the zero address for native assets.

Examples:
  routectl balances 0xabc... --token 1:0x0000000000000000000000000000000000000000:18:ETH
  routectl balances 0xabc... -t 10:0x0b2c639c533813f4aa9d7837caf62653d097ff85:6:USDC -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runBalances,
}

func init() {
	rootCmd.AddCommand(balancesCmd)

	balancesCmd.Flags().StringArrayVarP(&balanceTokens, "token", "t", nil, "Token as chain:address[:decimals[:symbol]] (repeatable)")
	_ = balancesCmd.MarkFlagRequired("token")
}

func runBalances(cmd *cobra.Command, args []string) error {
	tokens := make([]route.Token, 0, len(balanceTokens))
	for _, raw := range balanceTokens {
		token, err := parseToken(raw)
		if err != nil {
			return err
		}
		tokens = append(tokens, token)
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	balances, err := client.Balances(cmd.Context(), args[0], tokens)
	if err != nil {
		return err
	}
	if jsonOutput(cmd) {
		return printJSON(balances)
	}
	for _, b := range balances {
		amount := b.Amount
		if b.Formatted != "" {
			amount = b.Formatted
		}
		symbol := b.Symbol
		if symbol == "" {
			symbol = b.Address
		}
		fmt.Printf("  %-8d %-44s %s\n", b.ChainID, color.CyanString(symbol), amount)
	}
	return nil
}

// parseToken reads chain:address[:decimals[:symbol]].
func parseToken(raw string) (route.Token, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 4 {
		return route.Token{}, fmt.Errorf("invalid token %q, expected chain:address[:decimals[:symbol]]", raw)
	}
	chainID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || chainID == 0 {
		return route.Token{}, fmt.Errorf("invalid chain id in token %q", raw)
	}
	token := route.Token{ChainID: chainID, Address: parts[1]}
	if len(parts) > 2 {
		decimals, err := strconv.Atoi(parts[2])
		if err != nil || decimals < 0 {
			return route.Token{}, fmt.Errorf("invalid decimals in token %q", raw)
		}
		token.Decimals = decimals
	}
	if len(parts) > 3 {
		token.Symbol = parts[3]
	}
	return token, nil
}

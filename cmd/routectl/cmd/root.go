package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"OpenRoute-Chain/sdk/go/openroute"
)

var rootCmd = &cobra.Command{
	Use:   "routectl",
	Short: "Submit and follow multi-step swap and bridge routes",
	Long: `routectl talks to an openrouted instance. It submits routes, follows their
execution step by step and resumes routes that paused for the account holder.

Examples:
  routectl submit route.json --account 0xabc... --watch
  routectl status <route-id> --watch
  routectl list --status FAILED
  routectl resume <route-id>
  routectl interaction <route-id> off`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "openrouted base URL")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for an authenticating proxy")
	rootCmd.PersistentFlags().Duration("timeout", 15*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")

	viper.SetEnvPrefix("OPENROUTE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func newClient() (*openroute.Client, error) {
	client, err := openroute.NewClient(viper.GetString("server"), &http.Client{Timeout: viper.GetDuration("timeout")})
	if err != nil {
		return nil, err
	}
	if token := viper.GetString("token"); token != "" {
		client.SetAccessToken(token)
	}
	return client, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printError(err error) {
	fmt.Printf("\n%s %v\n\n", color.RedString("Error:"), err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", color.GreenString(message))
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AsafMeizner/reels-battle/internal/ui"
	"github.com/AsafMeizner/reels-battle/internal/version"
)

var flagConfig string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reels-battle",
	Short: "Head-to-head reels battles over WebRTC",
	Long: `reels-battle runs a room where two randomly picked sharers stream their reels
to everyone else, who watch both sides and vote for A or B.

Use "serve" to run the signaling relay and "play" to join a room from the terminal.`,
	Version: version.String(),
}

// Execute runs the root command until it returns or the process is interrupted.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a TOML config file")
}

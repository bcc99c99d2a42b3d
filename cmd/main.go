package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwrk-planet/session-recorder/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "session-recorder",
	Short: "Joins a LiveKit room and signals when recording may begin",
	Long: `session-recorder joins a room as a hidden participant, tracks who is
present and who is speaking, derives the presentation layout and prints
START_RECORDING once the media pipeline is live.

Without a subcommand it behaves like 'session-recorder run'.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	return config.LoadConfig()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

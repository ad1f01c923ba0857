package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"aquaduct.dev/sluice/src/server"
)

var rootCmd = &cobra.Command{
	Use:   "sluice",
	Short: "Sluice is a tunnel control plane: contracts, access control, and a REST API.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if b, err := cmd.Flags().GetBool("verbose"); err == nil && b {
			level = zerolog.DebugLevel
		}
		server.Init(level)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Global verbose flag; --verbose enables debug-level logs.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

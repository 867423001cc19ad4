package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "osipd",
		Short: "OSIP telegram service",
		Long: `osipd receives fixed-width OSIP telegrams over TCP, RabbitMQ or Kafka,
dispatches them to handlers and writes the replies back.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")

	rootCmd.AddCommand(
		newServeCommand(&configPath),
		newDecodeCommand(&configPath),
		newVariantsCommand(&configPath),
	)
	return rootCmd
}

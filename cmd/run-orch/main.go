package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	rootCmd    = &cobra.Command{
		Use:   "run-orch",
		Short: "Run orchestrator - agent run and validation pipeline engine",
		Long: `Run orchestrator drives automated agent runs through their lifecycle and
validates produced pull requests through a fixed provisioning and evaluation
pipeline, broadcasting live progress to any number of observers.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8484", "orchestrator server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "scrape-scheduler",
	Short: "Cron-driven scrape job scheduler",
	Long: `scrape-scheduler loads scrape schedule definitions from a directory,
registers a cron trigger for each enabled schedule and submits scrape jobs to
the job-intake API when triggers fire.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config/config.yaml if present)")

	runCmd.Flags().BoolVar(&runOnStartup, "run-on-startup", false, "run every enabled schedule once after registration")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/t77yq/scrape-scheduler/internal/model"
	"github.com/t77yq/scrape-scheduler/internal/scheduler"
)

var executeCmd = &cobra.Command{
	Use:   "execute <schedule-id>",
	Short: "Run one schedule now and print its outcome",
	Long: `Run one schedule immediately, regardless of its enabled flag, and print
the execution outcome as JSON. Exits non-zero when the schedule does not
exist or the run failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Load and register schedules, then print registry stats",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runExecute(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.loadSchedules(); err != nil {
		return err
	}

	outcome, err := a.registry.ExecuteNow(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, scheduler.ErrScheduleNotFound) {
			return fmt.Errorf("schedule %q not found in %s", args[0], a.cfg.Scheduler.SchedulesDir)
		}
		return err
	}

	if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
		return err
	}
	if outcome.Status == model.StatusFailed {
		return fmt.Errorf("run %s failed", outcome.ExecutionID)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.loadSchedules()
	if err != nil {
		return err
	}
	if err := a.registry.RegisterAll(a.cfg.Scheduler.Timezone); err != nil {
		return err
	}
	defer a.registry.StopAll()

	out := struct {
		model.RegistryStats
		Invalid []string `json:"invalidDefinitions,omitempty"`
	}{RegistryStats: a.registry.Stats()}
	for _, failed := range report.Failed() {
		out.Invalid = append(out.Invalid, failed.Err.Error())
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

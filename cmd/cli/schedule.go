package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconradar/internal/config"
	"github.com/anstrom/reconradar/internal/display"
	"github.com/anstrom/reconradar/internal/recon"
	"github.com/anstrom/reconradar/internal/scheduler"
)

var (
	scheduleCron  string
	scheduleTypes []string
	scheduleNow   bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scans on a cron schedule until interrupted",
	Long: `Run the selected scans on a standard five-field cron schedule and
store each envelope. The schedule comes from --cron or schedule.cron in the
config file.`,
	Example: `  reconradar schedule --cron "*/15 * * * *"
  reconradar schedule --cron "@hourly" --types wifi,bluetooth --now`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression (default from config)")
	scheduleCmd.Flags().StringSliceVar(&scheduleTypes, "types", nil, "scan types to run (default from config)")
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "run once immediately before waiting for the schedule")
}

// scheduleConfig merges --cron and --types over the config file section.
func scheduleConfig(cfg config.ScheduleConfig) config.ScheduleConfig {
	if scheduleCron != "" {
		cfg.Cron = scheduleCron
	}
	if len(scheduleTypes) > 0 {
		cfg.ScanTypes = scheduleTypes
	}
	return cfg
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := scheduleConfig(a.cfg.Schedule)
	if cfg.Cron == "" {
		return fmt.Errorf("no schedule: pass --cron or set schedule.cron in the config file")
	}

	sched, err := scheduler.FromConfig(cfg, a.pipeline, a.scanOptions(), a.logger.WithComponent("scheduler").Logger)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	a.pipeline.OnSaved(func(res recon.Result) {
		if !quiet && !jsonOutput {
			_ = display.Summary(w, res.Envelope)
		}
	})

	return a.runScheduler(ctx, sched)
}

// runScheduler starts sched and blocks until ctx is done.
func (a *app) runScheduler(ctx context.Context, sched *scheduler.Scheduler) error {
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	for _, job := range sched.GetJobs() {
		a.logger.Info("Scheduled job registered",
			"name", job.Name,
			"cron", job.Cron,
			"scan_types", job.ScanTypes,
			"next_run", job.NextRun)
		if scheduleNow {
			if err := sched.RunNow(job.ID); err != nil {
				return err
			}
		}
	}

	<-ctx.Done()
	a.logger.Info("Shutting down scheduler")
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconradar/internal/api"
	"github.com/anstrom/reconradar/internal/daemon"
	"github.com/anstrom/reconradar/internal/recon"
	"github.com/anstrom/reconradar/internal/scheduler"
	"github.com/anstrom/reconradar/internal/store"
)

var (
	servePort           int
	serveSchedule       bool
	servePIDFile        string
	serveHealthInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored scans over HTTP and WebSocket",
	Long: `Start the dashboard API. Devices, per-type results, history, exports
and Prometheus metrics are served over HTTP, and connected WebSocket clients
receive a device snapshot whenever a new scan is stored. With --schedule (or
schedule.cron in the config file) scans also run on the configured cron
schedule.`,
	Example: `  reconradar serve
  reconradar serve --port 9090 --schedule --cron "*/10 * * * *"`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "also run scheduled scans")
	serveCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression for scheduled scans (implies --schedule)")
	serveCmd.Flags().StringSliceVar(&scheduleTypes, "types", nil, "scan types for scheduled scans")
	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "write the process ID to this file")
	bindFlags(serveCmd.Flags(), map[string]string{"api.port": "port"})
	serveCmd.Flags().DurationVar(&serveHealthInterval, "health-interval", daemon.DefaultHealthInterval,
		"interval between store health checks")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort != 0 {
		a.cfg.API.Port = servePort
	}

	server := api.New(a.cfg.API, a.store, a.metrics, a.logger.WithComponent("api").Logger, version)
	a.pipeline.OnSaved(func(res recon.Result) {
		server.Notify(string(res.Envelope.ScanType))
	})

	d := daemon.New(daemon.Options{
		PIDFile:        servePIDFile,
		HealthInterval: serveHealthInterval,
		HealthCheck: func(ctx context.Context) error {
			return store.Check(ctx, a.store)
		},
	}, a.fs, a.logger.Logger).WithServer(server)

	cfg := scheduleConfig(a.cfg.Schedule)
	if serveSchedule || scheduleCron != "" {
		if cfg.Cron == "" {
			return fmt.Errorf("no schedule: pass --cron or set schedule.cron in the config file")
		}
		sched, err := scheduler.FromConfig(cfg, a.pipeline, a.scanOptions(), a.logger.WithComponent("scheduler").Logger)
		if err != nil {
			return err
		}
		d.WithScheduler(sched)
		d.SetReload(a.reloadInto(sched))
	}

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (Ctrl+C to stop)\n", server.GetAddress())
	}
	return d.Run(ctx)
}

// reloadInto re-reads the config file and applies its scan options and
// schedule to sched. Listener and store changes need a restart.
func (a *app) reloadInto(sched *scheduler.Scheduler) func() error {
	return func() error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := sched.Apply(scheduleConfig(cfg.Schedule)); err != nil {
			return err
		}
		sched.SetOptions(recon.OptionsFromConfig(cfg))
		a.logger.Info("Configuration reloaded", "config", getConfigFilePath())
		return nil
	}
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/anstrom/reconradar/internal/config"
	"github.com/anstrom/reconradar/internal/db"
	"github.com/anstrom/reconradar/internal/display"
	"github.com/anstrom/reconradar/internal/logging"
	"github.com/anstrom/reconradar/internal/metrics"
	"github.com/anstrom/reconradar/internal/recon"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/runner"
	"github.com/anstrom/reconradar/internal/store"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	fs       afero.Fs
	metrics  *metrics.PrometheusMetrics
	store    store.Store
	pipeline *recon.Pipeline
	closers  []func() error
}

// newApp loads configuration, opens the configured store and builds the
// scan pipeline. Errors are configuration or persistence failures.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newAppWith(ctx, cfg, afero.NewOsFs(), nil)
}

// newAppWith builds an app over fs. A nil runner executes real commands.
func newAppWith(ctx context.Context, cfg *config.Config, fs afero.Fs, r runner.Runner) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  newLogger(cfg),
		fs:      fs,
		metrics: metrics.GetGlobalMetrics(),
	}
	if r == nil {
		r = runner.NewExec(a.logger.Logger)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.pipeline = recon.New(r, fs, a.logger).
		WithRegistry(metrics.Default()).
		WithMetrics(a.metrics).
		WithStore(a.store)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Output.Store {
	case "postgres":
		database, err := db.ConnectAndMigrate(ctx, &a.cfg.Database)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, database.Close)
		a.store = store.NewPostgresStore(database, a.logger.WithComponent("store").Logger).WithObserver(a.metrics)
	default:
		a.store = store.NewFileStore(a.fs, a.cfg.Output.Dir, a.logger.WithComponent("store").Logger).
			WithObserver(a.metrics)
	}
	return nil
}

// Close releases the store connection.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Failed to close resource", "error", err)
		}
	}
}

// scanOptions returns the pipeline options derived from configuration.
func (a *app) scanOptions() recon.Options {
	return recon.OptionsFromConfig(a.cfg)
}

// printEnvelope renders env according to --json and --quiet.
func printEnvelope(w io.Writer, env records.Envelope, location string) error {
	switch {
	case jsonOutput:
		return writeJSON(w, env)
	case quiet:
		return nil
	}

	if err := display.Summary(w, env); err != nil {
		return err
	}
	if location != "" {
		fmt.Fprintf(w, "Saved to %s\n", location)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconradar/internal/display"
	"github.com/anstrom/reconradar/internal/records"
	"github.com/anstrom/reconradar/internal/store"
)

var showHistory bool

var showCmd = &cobra.Command{
	Use:   "show [network|wifi|bluetooth]",
	Short: "Show stored scan results",
	Long: `Show the most recent stored scan of the given type, or the latest scan
of every type when no type is given. --history lists every stored scan.`,
	Example: `  reconradar show
  reconradar show wifi --json
  reconradar show --history`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"network", "wifi", "bluetooth"},
	RunE:      runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showHistory, "history", false, "list every stored scan")
}

func runShow(cmd *cobra.Command, args []string) error {
	var scanType records.ScanType
	if len(args) == 1 {
		st, ok := records.ParseScanType(args[0])
		if !ok {
			return fmt.Errorf("unknown scan type %q", args[0])
		}
		scanType = st
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	return a.show(cmd.Context(), cmd.OutOrStdout(), scanType)
}

func (a *app) show(ctx context.Context, w io.Writer, scanType records.ScanType) error {
	if showHistory {
		envs, err := a.store.All(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(w, envs)
		}
		return display.Scans(w, envs)
	}

	var envs []records.Envelope
	if scanType != "" {
		env, err := a.store.Latest(ctx, scanType)
		if err != nil {
			if store.IsNotFound(err) {
				fmt.Fprintf(w, "No %s scans found in %s\n", scanType, a.location())
				return nil
			}
			return err
		}
		envs = []records.Envelope{env}
	} else {
		latest, err := store.LatestEach(ctx, a.store)
		if err != nil {
			return err
		}
		envs = latest
	}

	if len(envs) == 0 {
		fmt.Fprintf(w, "No scans found in %s\n", a.location())
		return nil
	}
	if jsonOutput {
		if len(envs) == 1 {
			return writeJSON(w, envs[0])
		}
		return writeJSON(w, envs)
	}
	for _, env := range envs {
		if err := display.Summary(w, env); err != nil {
			return err
		}
	}
	return nil
}

// location describes where scans are stored for user messages.
func (a *app) location() string {
	if a.cfg.Output.Store == "postgres" {
		return "database " + a.cfg.Database.Database
	}
	return a.cfg.Output.Dir
}

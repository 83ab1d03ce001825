package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconradar/internal/export"
)

var (
	exportFormat string
	exportFile   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every stored scan as JSON or CSV",
	Example: `  reconradar export
  reconradar export --format csv
  reconradar export --format csv --file - | column -s, -t`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "export format: json or csv")
	exportCmd.Flags().StringVar(&exportFile, "file", "",
		"destination file, - for stdout (default: export_<timestamp>.<format> in the output directory)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	return a.export(cmd.Context(), cmd.OutOrStdout(), format, exportFile, time.Now())
}

func (a *app) export(ctx context.Context, w io.Writer, format export.Format, dest string, now time.Time) error {
	envs, err := a.store.All(ctx)
	if err != nil {
		return err
	}

	if dest == "-" {
		return export.Write(w, format, envs, now)
	}
	if dest == "" {
		dest = export.DefaultPath(a.cfg.Output.Dir, format, now)
	}
	if err := export.ToFile(a.fs, dest, format, envs, now); err != nil {
		return err
	}

	a.logger.Info("Export written", "path", dest, "format", format, "scans", len(envs))
	if !quiet {
		fmt.Fprintf(w, "Exported %d scan(s) to %s\n", len(envs), dest)
	}
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconradar/internal/recon"
	"github.com/anstrom/reconradar/internal/records"
)

var (
	networkPorts    bool
	networkPortList string
	networkTargets  []string
	networkMethod   string
	networkNoDNS    bool

	wifiInterface string
	wifiWPACli    bool

	btAdapter  string
	btDuration time.Duration
	btNoBLE    bool

	scanTypes []string
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Discover live hosts on the attached IPv4 networks",
	Long: `Sweep every active interface network (capped at /24) for live hosts,
enrich them from the neighbor table and reverse DNS, and optionally probe
each host for open TCP ports.`,
	Example: `  reconradar network
  reconradar network --ports
  reconradar network --ports --port-list 22,80,443,8000-8100
  reconradar network --targets 10.0.0.0/24 --method nmap`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runScans(cmd, []records.ScanType{records.ScanNetwork}, applyNetworkFlags)
	},
}

var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "List nearby wireless networks",
	Example: `  reconradar wifi
  reconradar wifi --interface wlan0 --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runScans(cmd, []records.ScanType{records.ScanWiFi}, applyWiFiFlags)
	},
}

var bluetoothCmd = &cobra.Command{
	Use:   "bluetooth",
	Short: "List nearby Bluetooth Classic and LE devices",
	Example: `  reconradar bluetooth
  reconradar bluetooth --duration 20s
  reconradar bluetooth --no-ble`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runScans(cmd, []records.ScanType{records.ScanBluetooth}, applyBluetoothFlags)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the network, WiFi and Bluetooth scans",
	Example: `  reconradar scan
  reconradar scan --types wifi,bluetooth --quiet`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		types, err := parseTypeList(scanTypes)
		if err != nil {
			return err
		}
		return runScans(cmd, types, func(cmd *cobra.Command, opts *recon.Options) error {
			if err := applyNetworkFlags(cmd, opts); err != nil {
				return err
			}
			if err := applyWiFiFlags(cmd, opts); err != nil {
				return err
			}
			return applyBluetoothFlags(cmd, opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(networkCmd, wifiCmd, bluetoothCmd, scanCmd)

	for _, cmd := range []*cobra.Command{networkCmd, scanCmd} {
		cmd.Flags().BoolVar(&networkPorts, "ports", false, "probe discovered hosts for open TCP ports")
		cmd.Flags().StringVar(&networkPortList, "port-list", "", "ports to probe, e.g. 22,80,8000-8100 (implies --ports)")
		cmd.Flags().StringSliceVar(&networkTargets, "targets", nil, "CIDR networks or addresses to sweep instead of interface networks")
		cmd.Flags().StringVar(&networkMethod, "method", "", "liveness sweep method: ping or nmap")
		cmd.Flags().BoolVar(&networkNoDNS, "no-dns", false, "skip reverse DNS lookups")
	}
	for _, cmd := range []*cobra.Command{wifiCmd, scanCmd} {
		cmd.Flags().StringVarP(&wifiInterface, "interface", "i", "", "wireless interface to scan (default: all)")
		cmd.Flags().BoolVar(&wifiWPACli, "wpa-cli", false, "also try wpa_cli scan results")
	}
	for _, cmd := range []*cobra.Command{bluetoothCmd, scanCmd} {
		cmd.Flags().StringVar(&btAdapter, "adapter", "", "Bluetooth adapter to scan (default: all)")
		cmd.Flags().DurationVar(&btDuration, "duration", 0, "LE scan duration (default from config)")
		cmd.Flags().BoolVar(&btNoBLE, "no-ble", false, "skip the Bluetooth LE scan")
	}
	scanCmd.Flags().StringSliceVar(&scanTypes, "types", nil, "scan types to run: network, wifi, bluetooth (default: all)")
}

func applyNetworkFlags(cmd *cobra.Command, opts *recon.Options) error {
	if networkPortList != "" {
		ports, err := parsePorts(networkPortList)
		if err != nil {
			return err
		}
		opts.Network.Ports = ports
		opts.Network.ScanPorts = true
	}
	if networkPorts {
		opts.Network.ScanPorts = true
	}
	if len(networkTargets) > 0 {
		opts.Network.Targets = networkTargets
	}
	if cmd.Flags().Changed("method") {
		if networkMethod != "ping" && networkMethod != "nmap" {
			return fmt.Errorf("invalid sweep method %q: expected ping or nmap", networkMethod)
		}
		opts.Network.Method = networkMethod
	}
	if networkNoDNS {
		opts.Network.ResolveHostnames = false
	}
	return nil
}

func applyWiFiFlags(_ *cobra.Command, opts *recon.Options) error {
	if wifiInterface != "" {
		opts.WiFi.Interface = wifiInterface
	}
	if wifiWPACli {
		opts.WiFi.UseWPACli = true
	}
	return nil
}

func applyBluetoothFlags(_ *cobra.Command, opts *recon.Options) error {
	if btAdapter != "" {
		opts.Bluetooth.Adapter = btAdapter
	}
	if btDuration < 0 {
		return fmt.Errorf("invalid duration %s", btDuration)
	}
	if btDuration > 0 {
		opts.Bluetooth.LEDuration = btDuration
	}
	if btNoBLE {
		opts.Bluetooth.LEScan = false
	}
	return nil
}

// parseTypeList converts --types values; empty means every type.
func parseTypeList(names []string) ([]records.ScanType, error) {
	if len(names) == 0 {
		return append([]records.ScanType(nil), records.ScanTypes...), nil
	}
	types := make([]records.ScanType, 0, len(names))
	for _, n := range names {
		st, ok := records.ParseScanType(n)
		if !ok {
			return nil, fmt.Errorf("unknown scan type %q", n)
		}
		types = append(types, st)
	}
	return types, nil
}

// runScans runs the given scans, printing each envelope as it completes.
// Only configuration and persistence failures are returned.
func runScans(cmd *cobra.Command, types []records.ScanType, apply func(*cobra.Command, *recon.Options) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.runScans(ctx, cmd, types, apply)
}

func (a *app) runScans(
	ctx context.Context, cmd *cobra.Command, types []records.ScanType,
	apply func(*cobra.Command, *recon.Options) error,
) error {
	opts := a.scanOptions()
	if err := apply(cmd, &opts); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, st := range types {
		if ctx.Err() != nil {
			a.logger.Warn("Interrupted, skipping remaining scans", "next", st)
			break
		}
		res, err := a.pipeline.Run(ctx, st, opts)
		if err != nil {
			return err
		}
		if err := printEnvelope(w, res.Envelope, res.Location); err != nil {
			return err
		}
	}
	return nil
}

// Package cli implements the reconradar command line: one-shot network,
// WiFi and Bluetooth scans, stored scan queries, export, the dashboard API
// server and the recurring scan scheduler.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/reconradar/internal/config"
	"github.com/anstrom/reconradar/internal/logging"
)

var (
	cfgFile    string
	verbose    bool
	quiet      bool
	jsonOutput bool
	outputDir  string
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reconradar",
	Short: "Local network, WiFi and Bluetooth reconnaissance",
	Long: `reconradar inventories the devices around this machine: hosts on the
attached IPv4 networks, nearby wireless access points and Bluetooth devices.
Each scan is written as a JSON envelope to the output directory (or
PostgreSQL) and can be queried, exported or served over HTTP.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "print nothing but errors")
	flags.BoolVar(&jsonOutput, "json", false, "print envelopes as JSON")
	flags.StringVarP(&outputDir, "output", "o", "", "directory for envelope files and exports")

	rootCmd.MarkFlagsMutuallyExclusive("quiet", "verbose")

	bindFlags(flags, map[string]string{
		"verbose":    "verbose",
		"output.dir": "output",
	})
}

// bindFlags binds config keys to the named flags of fs.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// RECONRADAR_OUTPUT_DIR, RECONRADAR_DATABASE_PASSWORD, ...
	viper.SetEnvPrefix("RECONRADAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// getConfigFilePath returns the config file viper resolved, or the --config
// value when none was read.
func getConfigFilePath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return cfgFile
}

// overrideKeys are the settings that may come from flags or the environment
// on top of the config file.
var overrideKeys = []string{
	"output.dir",
	"output.store",
	"database.host",
	"database.port",
	"database.database",
	"database.username",
	"database.password",
	"database.ssl_mode",
	"api.listen_addr",
	"api.port",
	"api.api_key_hash",
	"schedule.cron",
	"logging.level",
	"logging.format",
}

// loadConfig loads the config file and applies flag and environment
// overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg, viper.GetViper())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, v *viper.Viper) {
	for _, key := range overrideKeys {
		if !v.IsSet(key) {
			continue
		}
		switch key {
		case "output.dir":
			if s := v.GetString(key); s != "" {
				cfg.Output.Dir = s
			}
		case "output.store":
			cfg.Output.Store = v.GetString(key)
		case "database.host":
			cfg.Database.Host = v.GetString(key)
		case "database.port":
			cfg.Database.Port = v.GetInt(key)
		case "database.database":
			cfg.Database.Database = v.GetString(key)
		case "database.username":
			cfg.Database.Username = v.GetString(key)
		case "database.password":
			cfg.Database.Password = v.GetString(key)
		case "database.ssl_mode":
			cfg.Database.SSLMode = v.GetString(key)
		case "api.listen_addr":
			cfg.API.ListenAddr = v.GetString(key)
		case "api.port":
			cfg.API.Port = v.GetInt(key)
		case "api.api_key_hash":
			cfg.API.APIKeyHash = v.GetString(key)
		case "schedule.cron":
			cfg.Schedule.Cron = v.GetString(key)
		case "logging.level":
			cfg.Logging.Level = logging.LogLevel(v.GetString(key))
		case "logging.format":
			cfg.Logging.Format = logging.LogFormat(v.GetString(key))
		}
	}
}

// newLogger builds the process logger from the logging section, adjusted
// by --verbose and --quiet.
func newLogger(cfg *config.Config) *logging.Logger {
	logConfig := cfg.Logging
	switch {
	case verbose:
		logConfig.Level = logging.LevelDebug
		logConfig.AddSource = true
	case quiet:
		logConfig.Level = logging.LevelError
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
	return logger
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

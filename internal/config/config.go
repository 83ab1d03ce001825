// Package config loads, validates and saves the reconradar configuration file.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/reconradar/internal/db"
	"github.com/anstrom/reconradar/internal/errors"
	"github.com/anstrom/reconradar/internal/logging"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Store backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config represents the complete reconradar configuration
type Config struct {
	// Where envelopes are written
	Output OutputConfig `yaml:"output" json:"output"`

	// Database configuration, used when output.store is postgres
	Database db.Config `yaml:"database" json:"database"`

	// Network scan settings
	Network NetworkConfig `yaml:"network" json:"network"`

	// Wireless scan settings
	WiFi WiFiConfig `yaml:"wifi" json:"wifi"`

	// Bluetooth scan settings
	Bluetooth BluetoothConfig `yaml:"bluetooth" json:"bluetooth"`

	// Dashboard API settings
	API APIConfig `yaml:"api" json:"api"`

	// Recurring scan settings
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`
}

// OutputConfig holds persistence settings
type OutputConfig struct {
	// Directory for envelope files and exports
	Dir string `yaml:"dir" json:"dir" validate:"required"`

	// Store backend (file, postgres)
	Store string `yaml:"store" json:"store" validate:"oneof=file postgres"`
}

// NetworkConfig holds host discovery and port probe settings
type NetworkConfig struct {
	// Liveness sweep method (ping, nmap)
	DiscoveryMethod string `yaml:"discovery_method" json:"discovery_method" validate:"oneof=ping nmap"`

	// Per-host ping timeout
	PingTimeout time.Duration `yaml:"ping_timeout" json:"ping_timeout" validate:"gt=0"`

	// Grace added on top of each probe timeout before the probe is abandoned
	ProbeGrace time.Duration `yaml:"probe_grace" json:"probe_grace" validate:"gte=0"`

	// Concurrent host probes
	HostWorkers int `yaml:"host_workers" json:"host_workers" validate:"min=1,max=1024"`

	// Probe open TCP ports on live hosts
	ScanPorts bool `yaml:"scan_ports" json:"scan_ports"`

	// Ports to probe
	Ports []int `yaml:"ports" json:"ports" validate:"dive,min=1,max=65535"`

	// Per-port connect timeout
	PortTimeout time.Duration `yaml:"port_timeout" json:"port_timeout" validate:"gt=0"`

	// Concurrent port probes per host
	PortWorkers int `yaml:"port_workers" json:"port_workers" validate:"min=1,max=1024"`

	// Resolve hostnames of live hosts
	ResolveHostnames bool `yaml:"resolve_hostnames" json:"resolve_hostnames"`

	// Reverse DNS query timeout
	DNSTimeout time.Duration `yaml:"dns_timeout" json:"dns_timeout" validate:"gt=0"`

	// SNMP community for sysName lookups; empty disables SNMP
	SNMPCommunity string `yaml:"snmp_community" json:"snmp_community"`

	// SNMP request timeout
	SNMPTimeout time.Duration `yaml:"snmp_timeout" json:"snmp_timeout" validate:"gt=0"`

	// Timeout for listing commands (ip, ss)
	ToolTimeout time.Duration `yaml:"tool_timeout" json:"tool_timeout" validate:"gt=0"`
}

// WiFiConfig holds wireless scan settings
type WiFiConfig struct {
	// Restrict scanning to one interface
	Interface string `yaml:"interface" json:"interface"`

	// Timeout for "iw <if> scan trigger"
	TriggerTimeout time.Duration `yaml:"trigger_timeout" json:"trigger_timeout" validate:"gt=0"`

	// Wait between trigger and dump
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay" validate:"gte=0"`

	// Timeout for "iw <if> scan dump" and "iw <if> scan"
	DumpTimeout time.Duration `yaml:"dump_timeout" json:"dump_timeout" validate:"gt=0"`

	// Timeout for secondary and vendor tools
	ToolTimeout time.Duration `yaml:"tool_timeout" json:"tool_timeout" validate:"gt=0"`

	// Try "wpa_cli scan_results" after iwlist
	UseWPACli bool `yaml:"use_wpa_cli" json:"use_wpa_cli"`
}

// BluetoothConfig holds Bluetooth scan settings
type BluetoothConfig struct {
	// Restrict scanning to one adapter
	Adapter string `yaml:"adapter" json:"adapter"`

	// Inquiry length passed to "hcitool scan --length"
	InquiryLength int `yaml:"inquiry_length" json:"inquiry_length" validate:"min=1,max=48"`

	// Run a Low Energy scan after the classic inquiry
	LEScan bool `yaml:"le_scan" json:"le_scan"`

	// How long the LE scan runs
	LEDuration time.Duration `yaml:"le_duration" json:"le_duration" validate:"gt=0"`

	// Grace after interrupting lescan before it is killed
	LEGrace time.Duration `yaml:"le_grace" json:"le_grace" validate:"gte=0"`

	// Bring adapters up with hciconfig before scanning
	BringUp bool `yaml:"bring_up" json:"bring_up"`

	// Query the device class of classic devices
	QueryClass bool `yaml:"query_class" json:"query_class"`

	// Timeout for short commands (hciconfig, hcitool info)
	ToolTimeout time.Duration `yaml:"tool_timeout" json:"tool_timeout" validate:"gt=0"`
}

// APIConfig holds dashboard API settings
type APIConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// Bcrypt hash of the API key; empty disables authentication
	APIKeyHash string `yaml:"api_key_hash" json:"-"`

	// Allowed CORS origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Read/write timeouts
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gt=0"`

	// Interval between websocket device snapshots
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" validate:"gt=0"`

	// Requests per client per window; 0 disables rate limiting
	RateLimit       int           `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window" json:"rate_limit_window" validate:"gt=0"`
}

// ScheduleConfig holds recurring scan settings
type ScheduleConfig struct {
	// Cron expression; empty disables scheduling
	Cron string `yaml:"cron" json:"cron"`

	// Scan types to run on each tick
	ScanTypes []string `yaml:"scan_types" json:"scan_types" validate:"dive,oneof=network wifi bluetooth"`
}

// DefaultPorts is the port list probed when none is configured.
var DefaultPorts = []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 993, 995, 3306, 3389, 5432, 8080, 8443}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Dir:   "output",
			Store: StoreFile,
		},
		Database: db.DefaultConfig(),
		Network: NetworkConfig{
			DiscoveryMethod:  "ping",
			PingTimeout:      1 * time.Second,
			ProbeGrace:       2 * time.Second,
			HostWorkers:      50,
			ScanPorts:        false,
			Ports:            append([]int(nil), DefaultPorts...),
			PortTimeout:      1 * time.Second,
			PortWorkers:      20,
			ResolveHostnames: true,
			DNSTimeout:       2 * time.Second,
			SNMPTimeout:      1 * time.Second,
			ToolTimeout:      5 * time.Second,
		},
		WiFi: WiFiConfig{
			TriggerTimeout: 5 * time.Second,
			SettleDelay:    2 * time.Second,
			DumpTimeout:    30 * time.Second,
			ToolTimeout:    30 * time.Second,
		},
		Bluetooth: BluetoothConfig{
			InquiryLength: 8,
			LEScan:        true,
			LEDuration:    10 * time.Second,
			LEGrace:       2 * time.Second,
			BringUp:       true,
			QueryClass:    true,
			ToolTimeout:   10 * time.Second,
		},
		API: APIConfig{
			ListenAddr:      "127.0.0.1",
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			RefreshInterval: 5 * time.Second,
			RateLimit:       120,
			RateLimitWindow: time.Minute,
		},
		Schedule: ScheduleConfig{
			ScanTypes: []string{"network", "wifi", "bluetooth"},
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// yaml.v3 also accepts JSON documents
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return errors.WrapConfigError(errors.CodeDirectoryCreate, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return errors.WrapConfigError(errors.CodeFilePermission, "failed to write config file", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed %q validation", first.Tag()), fieldPath(first.Namespace()), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	if c.Output.Store == StorePostgres {
		if c.Database.Host == "" {
			return errors.ErrConfigMissing("database.host")
		}
		if c.Database.Database == "" {
			return errors.ErrConfigMissing("database.database")
		}
		if c.Database.Username == "" {
			return errors.ErrConfigMissing("database.username")
		}
	}

	if c.Network.ScanPorts && len(c.Network.Ports) == 0 {
		return errors.ErrConfigMissing("network.ports")
	}

	return nil
}

// fieldPath turns "Config.Network.PingTimeout" into "Network.PingTimeout".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// Address returns the host:port the API listens on.
func (c APIConfig) Address() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.Port))
}

// Package adapters enumerates the network, wireless and Bluetooth adapters
// present on the host. Each domain is listed with its usual command first,
// then from sysfs, then by probing a short list of conventional names.
package adapters

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/anstrom/reconradar/internal/runner"
)

// Domain selects which kind of adapter to enumerate.
type Domain string

const (
	DomainNetwork   Domain = "network"
	DomainWireless  Domain = "wireless"
	DomainBluetooth Domain = "bluetooth"
)

// State is the administrative state of an adapter.
type State string

const (
	StateUp      State = "UP"
	StateDown    State = "DOWN"
	StateUnknown State = "Unknown"
)

// ParseState normalizes the state words used by ip, sysfs and hciconfig.
func ParseState(s string) State {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return StateUp
	case "DOWN", "LOWERLAYERDOWN", "NOTPRESENT":
		return StateDown
	}
	return StateUnknown
}

// Info describes one adapter.
type Info struct {
	Name    string `json:"name"`
	State   State  `json:"state"`
	Address string `json:"address,omitempty"`
}

// Source names the enumeration path that produced a listing.
type Source string

const (
	SourceCommand      Source = "command"
	SourceSysfs        Source = "sysfs"
	SourceConventional Source = "conventional"
	SourceNone         Source = "none"
)

const (
	sysClassNet       = "/sys/class/net"
	sysClassBluetooth = "/sys/class/bluetooth"

	defaultTimeout = 5 * time.Second
)

var conventionalNames = map[Domain][]string{
	DomainNetwork:   {"eth0", "enp0s3", "wlan0"},
	DomainWireless:  {"wlan0", "wlan1", "wlp2s0", "wlp3s0", "wifi0"},
	DomainBluetooth: {"hci0", "hci1"},
}

// Enumerator lists adapters.
type Enumerator struct {
	runner  runner.Runner
	fs      afero.Fs
	logger  *slog.Logger
	timeout time.Duration
}

// NewEnumerator creates an enumerator. fs is the filesystem sysfs is read
// from; pass afero.NewOsFs() outside tests.
func NewEnumerator(r runner.Runner, fs afero.Fs, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{
		runner:  r,
		fs:      fs,
		logger:  logger.With("component", "adapters"),
		timeout: defaultTimeout,
	}
}

// WithTimeout sets the listing command timeout.
func (e *Enumerator) WithTimeout(timeout time.Duration) *Enumerator {
	e.timeout = timeout
	return e
}

// List returns the adapters of a domain. It never fails; an empty listing
// is for the caller to report.
func (e *Enumerator) List(ctx context.Context, domain Domain) []Info {
	infos, _ := e.ListWithSource(ctx, domain)
	return infos
}

// ListWithSource is List that also names the path the listing came from.
func (e *Enumerator) ListWithSource(ctx context.Context, domain Domain) ([]Info, Source) {
	if infos := e.fromCommand(ctx, domain); len(infos) > 0 {
		return infos, SourceCommand
	}
	if infos := e.fromSysfs(domain); len(infos) > 0 {
		return infos, SourceSysfs
	}
	if infos := e.fromConventionalNames(domain); len(infos) > 0 {
		return infos, SourceConventional
	}
	e.logger.Debug("No adapters found", "domain", domain)
	return []Info{}, SourceNone
}

func (e *Enumerator) fromCommand(ctx context.Context, domain Domain) []Info {
	var (
		name  string
		args  []string
		parse func(string) []Info
	)
	switch domain {
	case DomainNetwork:
		name, args, parse = "ip", []string{"-o", "link", "show"}, ParseIPLink
	case DomainWireless:
		name, args, parse = "iw", []string{"dev"}, ParseIWDev
	case DomainBluetooth:
		name, args, parse = "hciconfig", []string{"-a"}, ParseHciconfig
	default:
		return nil
	}

	res, err := e.runner.Run(ctx, e.timeout, name, args...)
	if err != nil {
		e.logger.Debug("Adapter listing command failed", "domain", domain, "tool", name, "error", err)
		return nil
	}
	return parse(res.Stdout)
}

func (e *Enumerator) fromSysfs(domain Domain) []Info {
	root := sysClassNet
	if domain == DomainBluetooth {
		root = sysClassBluetooth
	}

	entries, err := afero.ReadDir(e.fs, root)
	if err != nil {
		e.logger.Debug("Cannot read sysfs", "path", root, "error", err)
		return nil
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		dir := path.Join(root, name)
		switch domain {
		case DomainWireless:
			if !e.exists(path.Join(dir, "wireless")) && !e.exists(path.Join(dir, "phy80211")) {
				continue
			}
		case DomainBluetooth:
			// hci0:12 style entries are connections, not adapters
			if strings.Contains(name, ":") {
				continue
			}
		}
		infos = append(infos, e.sysfsInfo(dir, name))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (e *Enumerator) sysfsInfo(dir, name string) Info {
	info := Info{Name: name, State: StateUnknown}
	if state, ok := e.readFile(path.Join(dir, "operstate")); ok {
		info.State = ParseState(state)
	}
	if addr, ok := e.readFile(path.Join(dir, "address")); ok {
		info.Address = strings.ToUpper(addr)
	}
	return info
}

func (e *Enumerator) fromConventionalNames(domain Domain) []Info {
	root := sysClassNet
	if domain == DomainBluetooth {
		root = sysClassBluetooth
	}
	var infos []Info
	for _, name := range conventionalNames[domain] {
		if e.exists(path.Join(root, name)) {
			infos = append(infos, Info{Name: name, State: StateUnknown})
		}
	}
	return infos
}

func (e *Enumerator) exists(p string) bool {
	ok, err := afero.Exists(e.fs, p)
	return err == nil && ok
}

func (e *Enumerator) readFile(p string) (string, bool) {
	data, err := afero.ReadFile(e.fs, p)
	if err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(data))
	return s, s != ""
}

package adapters

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/logging"
	"github.com/anstrom/reconradar/internal/runner/runnertest"
)

const ipLinkOutput = `1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 qdisc noqueue state UNKNOWN mode DEFAULT group default qlen 1000\    link/loopback 00:00:00:00:00:00 brd 00:00:00:00:00:00
2: enp0s3: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc fq_codel state UP mode DEFAULT group default qlen 1000\    link/ether 08:00:27:aa:bb:cc brd ff:ff:ff:ff:ff:ff
3: wlan0: <BROADCAST,MULTICAST> mtu 1500 qdisc noop state DOWN mode DORMANT group default qlen 1000\    link/ether 3c:a9:f4:11:22:33 brd ff:ff:ff:ff:ff:ff
5: veth1@if4: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc noqueue state UP mode DEFAULT group default\    link/ether 5e:1f:00:00:00:01 brd ff:ff:ff:ff:ff:ff link-netnsid 0
`

const iwDevOutput = `phy#0
	Interface wlan0
		ifindex 3
		wdev 0x1
		addr 3c:a9:f4:11:22:33
		ssid HomeNet
		type managed
		channel 6 (2437 MHz), width: 20 MHz, center1: 2437 MHz
phy#1
	Interface wlan1
		ifindex 4
		wdev 0x100000001
		addr 00:c0:ca:98:76:54
		type monitor
`

const hciconfigOutput = `hci1:	Type: Primary  Bus: USB
	BD Address: 00:1A:7D:DA:71:14  ACL MTU: 310:10  SCO MTU: 64:8
	DOWN 
	RX bytes:0 acl:0 sco:0 events:0 errors:0

hci0:	Type: Primary  Bus: UART
	BD Address: b8:27:eb:12:34:56  ACL MTU: 1021:8  SCO MTU: 64:1
	UP RUNNING PSCAN 
	RX bytes:1500 acl:0 sco:0 events:86 errors:0
	Features: 0xbf 0xfe 0xcf 0xfe 0xdb 0xff 0x7b 0x87
`

func TestParseIPLink(t *testing.T) {
	infos := ParseIPLink(ipLinkOutput)
	require.Len(t, infos, 4)

	assert.Equal(t, Info{Name: "lo", State: StateUnknown, Address: "00:00:00:00:00:00"}, infos[0])
	assert.Equal(t, Info{Name: "enp0s3", State: StateUp, Address: "08:00:27:AA:BB:CC"}, infos[1])
	assert.Equal(t, StateDown, infos[2].State)
	assert.Equal(t, "veth1", infos[3].Name)
}

func TestParseIWDev(t *testing.T) {
	infos := ParseIWDev(iwDevOutput)
	assert.Equal(t, []Info{
		{Name: "wlan0", State: StateUnknown, Address: "3C:A9:F4:11:22:33"},
		{Name: "wlan1", State: StateUnknown, Address: "00:C0:CA:98:76:54"},
	}, infos)
}

func TestParseHciconfig(t *testing.T) {
	infos := ParseHciconfig(hciconfigOutput)
	assert.Equal(t, []Info{
		{Name: "hci1", State: StateDown, Address: "00:1A:7D:DA:71:14"},
		{Name: "hci0", State: StateUp, Address: "B8:27:EB:12:34:56"},
	}, infos)
}

func TestParseEmpty(t *testing.T) {
	assert.Empty(t, ParseIPLink(""))
	assert.Empty(t, ParseIWDev("phy#0\n"))
	assert.Empty(t, ParseHciconfig("Can't get device info: No such device\n"))
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
}

func TestEnumeratorList(t *testing.T) {
	tests := []struct {
		name       string
		domain     Domain
		script     func(f *runnertest.Fake)
		files      map[string]string
		wantNames  []string
		wantSource Source
	}{
		{
			name:   "network from ip link",
			domain: DomainNetwork,
			script: func(f *runnertest.Fake) {
				f.OnOutput("ip -o link show", ipLinkOutput)
			},
			wantNames:  []string{"lo", "enp0s3", "wlan0", "veth1"},
			wantSource: SourceCommand,
		},
		{
			name:   "wireless from iw dev",
			domain: DomainWireless,
			script: func(f *runnertest.Fake) {
				f.OnOutput("iw dev", iwDevOutput)
			},
			wantNames:  []string{"wlan0", "wlan1"},
			wantSource: SourceCommand,
		},
		{
			name:   "wireless falls back to sysfs when iw is missing",
			domain: DomainWireless,
			files: map[string]string{
				"/sys/class/net/eth0/operstate":        "up\n",
				"/sys/class/net/wlp3s0/operstate":      "up\n",
				"/sys/class/net/wlp3s0/address":        "aa:bb:cc:00:11:22\n",
				"/sys/class/net/wlp3s0/wireless/.keep": "",
			},
			wantNames:  []string{"wlp3s0"},
			wantSource: SourceSysfs,
		},
		{
			name:   "bluetooth falls back to sysfs when hciconfig fails",
			domain: DomainBluetooth,
			script: func(f *runnertest.Fake) {
				f.OnFailure("hciconfig -a", 1, "Can't open HCI socket.: Address family not supported by protocol")
			},
			files: map[string]string{
				"/sys/class/bluetooth/hci0/uevent":    "DEVTYPE=host\n",
				"/sys/class/bluetooth/hci0:11/uevent": "DEVTYPE=link\n",
			},
			wantNames:  []string{"hci0"},
			wantSource: SourceSysfs,
		},
		{
			name:   "empty command output falls through",
			domain: DomainNetwork,
			script: func(f *runnertest.Fake) {
				f.OnOutput("ip -o link show", "")
			},
			files: map[string]string{
				"/sys/class/net/eth0/operstate": "down\n",
			},
			wantNames:  []string{"eth0"},
			wantSource: SourceSysfs,
		},
		{
			name:       "nothing anywhere",
			domain:     DomainBluetooth,
			wantNames:  []string{},
			wantSource: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := runnertest.New()
			if tt.script != nil {
				tt.script(fake)
			}
			fs := afero.NewMemMapFs()
			for path, content := range tt.files {
				writeFile(t, fs, path, content)
			}

			e := NewEnumerator(fake, fs, logging.NewDiscard().Logger)
			infos, source := e.ListWithSource(context.Background(), tt.domain)

			names := []string{}
			for _, info := range infos {
				names = append(names, info.Name)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestEnumeratorSysfsDetails(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/sys/class/net/eth0/operstate", "up\n")
	writeFile(t, fs, "/sys/class/net/eth0/address", "08:00:27:aa:bb:cc\n")

	infos := NewEnumerator(runnertest.New(), fs, nil).List(context.Background(), DomainNetwork)
	assert.Equal(t, []Info{{Name: "eth0", State: StateUp, Address: "08:00:27:AA:BB:CC"}}, infos)
}

func TestEnumeratorConventionalNames(t *testing.T) {
	// A sysfs tree that cannot be listed but whose entries can be stat'ed.
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/sys/class/net/wlan1", "")
	ro := &unlistableFs{Fs: fs}

	infos, source := NewEnumerator(runnertest.New(), ro, nil).ListWithSource(context.Background(), DomainWireless)
	assert.Equal(t, SourceConventional, source)
	assert.Equal(t, []Info{{Name: "wlan1", State: StateUnknown}}, infos)
}

type unlistableFs struct {
	afero.Fs
}

func (u *unlistableFs) Open(name string) (afero.File, error) {
	if name == "/sys/class/net" {
		return nil, afero.ErrFileNotFound
	}
	return u.Fs.Open(name)
}

func TestParseState(t *testing.T) {
	assert.Equal(t, StateUp, ParseState("up"))
	assert.Equal(t, StateDown, ParseState("DOWN"))
	assert.Equal(t, StateDown, ParseState("lowerlayerdown"))
	assert.Equal(t, StateUnknown, ParseState("UNKNOWN"))
	assert.Equal(t, StateUnknown, ParseState("dormant"))
}

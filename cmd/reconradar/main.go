// Command reconradar inventories nearby network hosts, wireless networks
// and Bluetooth devices.
package main

import "github.com/anstrom/reconradar/cmd/cli"

// Set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}

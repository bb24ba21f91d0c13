// Radview CLI: headless loads and load history queries.
//
// Usage:
//
//	radview <command> [flags]
//
// Commands:
//
//	inspect   Load DICOM files headlessly and print the resulting session
//	history   List recorded loads
//	show      Show one load and its datasets
//	search    Search dataset metadata
//	stats     Analyze load history
//	prune     Delete old history
//	status    Show radview-engine status
//	config    Manage the config file
//	version   Print version information
package main

import (
	"fmt"
	"os"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

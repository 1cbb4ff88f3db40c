package main

import (
	"fmt"
	"os"

	"github.com/tphakala/notifyd/cmd"
	"github.com/tphakala/notifyd/internal/conf"
)

// buildDate and version are set at build time
var (
	buildDate string
	version   string
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version
	settings.BuildDate = buildDate

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set via -ldflags "-X main.version=..." at release build time;
// it defaults to "dev" for local builds.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show sensord version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sensord %s\n", version)
		fmt.Printf("Go: %s\n", runtime.Version())
	},
}

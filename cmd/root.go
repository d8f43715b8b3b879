package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

var rootCmd = &cobra.Command{
	Use:     "chatsync",
	Short:   "chatsync - realtime chat synchronization hub",
	Long:    `A single-binary WebSocket hub for chat messaging, presence, typing and call sessions.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate("chatsync version {{.Version}}\n")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

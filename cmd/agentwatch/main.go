// Command agentwatch runs the agent event collector (serve), forwards a
// single hook invocation to it (send) and charts its live stream in the
// terminal (watch).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "agentwatch",
	Short:         "Collect, stream and chart coding-agent lifecycle events",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentwatch:", err)
		os.Exit(1)
	}
}

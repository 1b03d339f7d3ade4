package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the ssoutil version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ssoutil %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
		},
	}
	RootCmd.AddCommand(versionCmd)
}

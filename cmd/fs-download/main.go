// Command fs-download downloads the records and attachments of a feature
// service layer or table.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// ErrExitCode is returned to the shell when a command fails.
const ErrExitCode = 1

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(ErrExitCode)
	}
}

// NewRootCmd assembles the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fs-download",
		Short:         "download feature service layers and tables",
		Version:       version,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newRunCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

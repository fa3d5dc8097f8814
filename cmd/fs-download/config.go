package main

import (
	"github.com/Sternrassler/featureservice-downloader/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "manage configuration files",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigInitCmd prints the default configuration, merged with any
// flags given, as a YAML file that `run --config` accepts.
func newConfigInitCmd() *cobra.Command {
	cfg := config.Default()
	cmd := &cobra.Command{
		Use:          "init",
		Short:        "print a default configuration file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Load(cmd.Flags(), ""); err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cfg.RegisterFlags(cmd.Flags())
	return cmd
}

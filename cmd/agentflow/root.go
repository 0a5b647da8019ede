package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentflow/config"
	"github.com/vinayprograms/agentflow/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentflow",
		Short: "Run self-scheduling relay tasks",
		Long: `agentflow builds a graph of adaptive relay tasks from a TOML file,
seeds it with values and runs it until a duration elapses or the process
receives SIGINT/SIGTERM.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is ./agentflow.toml, then $HOME/.config/agentflow/agentflow.toml)")

	root.AddCommand(newRunCmd(), newConfigCmd(), newVersionCmd())
	return root
}

// loadConfig reads the file named by --config, or searches the standard
// paths when the flag is empty.
func loadConfig(cmd *cobra.Command, log *logging.Logger) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.ConfigLoaded(path)
	}
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			return cfg.Encode(cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentflow %s\n", Version)
		},
	}
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/common/config"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the ecpctl configuration",
	}

	var path string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.DefaultFileName,
		Args:  cobra.NoArgs,
		// Runs without loading an existing config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			target := path
			if target == "" {
				dir, err := os.UserConfigDir()
				if err != nil {
					return tenant.Wrap(err, tenant.CodeUnavailable, "locate config directory")
				}
				target = filepath.Join(dir, config.AppName, config.DefaultFileName)
			}
			if err := config.WriteDefaultTOML(target, config.Default()); err != nil {
				return tenant.Wrap(err, tenant.CodeConflict, "write config")
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", "", "where to write the file (default: user config dir)")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := a.cfgPath
			if src == "" {
				src = "built-in defaults"
			}
			fmt.Fprintf(a.stdout, "# source: %s\n", src)
			return toml.NewEncoder(a.stdout).Encode(a.cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

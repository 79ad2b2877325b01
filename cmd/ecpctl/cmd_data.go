package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

func newResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard all user tenants and restore the built-in catalog (demo mode)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return tenant.NewError(tenant.CodeInvalidInput, "reset deletes every user tenant; pass --yes to confirm")
			}
			snap, err := a.snapshotter(cmd.Context())
			if err != nil {
				return err
			}
			if err := snap.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "store reset to built-in catalog")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup of the demo store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.snapshotter(cmd.Context())
			if err != nil {
				return err
			}
			data, err := snap.Export(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = a.stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return tenant.Wrap(err, tenant.CodeUnavailable, "write backup")
			}
			a.log.Info("Exported demo store", "path", out, "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the demo store with a backup",
		Long: "Replace the demo store with a backup written by export. The backup is\n" +
			"validated as a whole; on any error the store is left unchanged.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return tenant.Wrap(err, tenant.CodeInvalidInput, "read backup")
			}

			snap, err := a.snapshotter(cmd.Context())
			if err != nil {
				return err
			}
			if err := snap.Import(cmd.Context(), data); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "backup imported")
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway(cmd.Context())
			if err != nil {
				return err
			}
			records, err := gw.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(records)
			}
			return a.printTable(records)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func (a *app) printTable(records []tenant.Record) error {
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRESET\tSTATUS\tSERVICES\tORIGIN\tMODIFIED")
	for _, r := range records {
		origin := "user"
		if r.IsSeed() {
			origin = "seed"
		}
		updated := "-"
		if r.Metadata != nil && !r.Metadata.LastModified.IsZero() {
			updated = r.Metadata.LastModified.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.DisplayName(), r.Preset, r.Status, r.ServiceCount, origin, updated)
	}
	return tw.Flush()
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Show one tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := gw.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(rec)
		},
	}
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		req  tenant.CreateRequest
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "create <tenant-id>",
		Short: "Create a tenant sized from its service requirements",
		Long: "Create a tenant. The preset (micro, small, medium, large) is derived from\n" +
			"the service requirements. New tenants start pending and become running\n" +
			"once deployed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			gw, err := a.gateway(ctx)
			if err != nil {
				return err
			}
			req.TenantID = args[0]
			rec, err := gw.Create(ctx, req)
			if err != nil {
				return err
			}
			a.log.Info("Tenant created", "tenant", rec.ID, "preset", rec.Preset, "status", rec.Status)
			if wait {
				if rec, err = a.waitDeployed(ctx, rec.ID); err != nil {
					return err
				}
			}
			return a.printJSON(rec)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "display name")
	f.IntVar(&req.Services.Callbot, "callbot", 0, "callbot channels")
	f.IntVar(&req.Services.Chatbot, "chatbot", 0, "chatbot users")
	f.IntVar(&req.Services.Advisor, "advisor", 0, "advisor channels")
	f.IntVar(&req.Services.STT, "stt", 0, "speech-to-text channels")
	f.IntVar(&req.Services.TTS, "tts", 0, "text-to-speech channels")
	f.BoolVar(&wait, "wait", false, "wait until the tenant leaves the pending state")
	return cmd
}

// waitDeployed polls the tenant until it is no longer pending.
func (a *app) waitDeployed(ctx context.Context, id string) (tenant.Record, error) {
	gw, err := a.gateway(ctx)
	if err != nil {
		return tenant.Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.DeployDelay()+30*time.Second)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := gw.Get(ctx, id)
		if err != nil {
			return tenant.Record{}, err
		}
		if rec.Status != tenant.StatusPending {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, tenant.Wrap(ctx.Err(), tenant.CodeUnavailable, "tenant still pending")
		case <-ticker.C:
		}
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		name         string
		preset       string
		serviceCount int
	)
	cmd := &cobra.Command{
		Use:   "update <tenant-id>",
		Short: "Change a user tenant's name, preset or service count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd tenant.Update
			f := cmd.Flags()
			if f.Changed("name") {
				upd.Name = &name
			}
			if f.Changed("preset") {
				p := tenant.Preset(preset)
				upd.Preset = &p
			}
			if f.Changed("service-count") {
				upd.ServiceCount = &serviceCount
			}
			if upd.Empty() {
				return tenant.NewError(tenant.CodeInvalidInput, "nothing to update: pass --name, --preset or --service-count")
			}

			gw, err := a.gateway(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := gw.Update(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			return a.printJSON(rec)
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "display name")
	f.StringVar(&preset, "preset", "", "preset (micro, small, medium, large)")
	f.IntVar(&serviceCount, "service-count", 0, "number of services")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant-id> <status>",
		Short: "Set a tenant's status (pending, running, stopped, deploying, failed)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := gw.SetStatus(cmd.Context(), args[0], tenant.Status(args[1]))
			if err != nil {
				return err
			}
			return a.printJSON(rec)
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a user tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway(cmd.Context())
			if err != nil {
				return err
			}
			if err := gw.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "deleted %s\n", args[0])
			return nil
		},
	}
}

func newMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show fleet totals",
		Long: "Show fleet totals. Resource figures are estimates unless the source\n" +
			"is \"server\".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := a.gateway(cmd.Context())
			if err != nil {
				return err
			}
			agg, err := gw.AggregateMetrics(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(agg)
		},
	}
}

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/poller"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/stream"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

func newWatchCmd(a *app) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch <tenant-id>",
		Short: "Stream live metrics for one tenant",
		Long: "Stream live metrics for one tenant as JSON lines. Dropped connections are\n" +
			"retried with exponential backoff; the command fails once retries are\n" +
			"exhausted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Mode.Demo {
				return tenant.NewError(tenant.CodeInvalidInput, "live metrics need the ECP API; they are not available in demo mode")
			}
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return a.watch(ctx, args[0])
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func (a *app) watch(ctx context.Context, tenantID string) error {
	var (
		outMu sync.Mutex
		enc   = json.NewEncoder(a.stdout)
	)
	failed := make(chan error, 1)

	var tlsCfg *tls.Config
	if a.cfg.API.InsecureSkipVerify {
		tlsCfg = &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12} //nolint:gosec
	}

	client, err := stream.NewClient(stream.Config{
		BaseURL:      a.cfg.StreamURL(),
		BaseDelay:    a.cfg.StreamBaseDelay(),
		MaxDelay:     a.cfg.StreamMaxDelay(),
		MaxAttempts:  a.cfg.Stream.MaxAttempts,
		PingInterval: a.cfg.PingInterval(),
		ReadTimeout:  a.cfg.ReadTimeout(),
		TLSConfig:    tlsCfg,
		Cache:        stream.NewLatestSnapshots(),
		OnSnapshot: func(s tenant.MetricSnapshot) {
			outMu.Lock()
			defer outMu.Unlock()
			if err := enc.Encode(s); err != nil {
				a.log.Warn("Failed to write snapshot", "error", err)
			}
		},
		OnStateChange: func(st stream.State) {
			a.log.Info("Stream state changed", "tenant", tenantID, "state", st)
		},
		OnError: func(err error) {
			if tenant.HasCode(err, tenant.CodeConnectionFailed) {
				select {
				case failed <- err:
				default:
				}
			}
		},
		Logger:  a.log,
		Metrics: a.metrics,
	})
	if err != nil {
		return tenant.Wrap(err, tenant.CodeInvalidInput, "stream")
	}
	defer client.Close()

	if err := client.Connect(tenantID); err != nil {
		return err
	}
	a.log.Info("Watching tenant metrics", "tenant", tenantID, "url", client.URL(tenantID))

	select {
	case <-ctx.Done():
		client.Disconnect()
		return nil
	case err := <-failed:
		return err
	}
}

func newPollCmd(a *app) *cobra.Command {
	var (
		dashboard bool
		interval  time.Duration
		count     int
	)
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Refresh the tenant list and fleet totals on an interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			every := a.cfg.ListInterval()
			name := "list"
			if dashboard {
				every = a.cfg.DashboardInterval()
				name = "dashboard"
			}
			if interval > 0 {
				every = interval
			}
			return a.poll(cmd.Context(), name, every, count)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&dashboard, "dashboard", false, "use the slower dashboard interval")
	f.DurationVar(&interval, "interval", 0, "override the refresh interval")
	f.IntVar(&count, "count", 0, "stop after this many refreshes (default: until interrupted)")
	return cmd
}

func (a *app) poll(ctx context.Context, name string, every time.Duration, count int) error {
	gw, err := a.gateway(ctx)
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		seen int
		enc  = json.NewEncoder(a.stdout)
		done = make(chan struct{})
		once sync.Once
	)

	ctrl, err := poller.New(poller.Config[poller.TenantView]{
		Name:        name,
		Interval:    every,
		SettleDelay: a.cfg.SettleDelay(),
		Fetch:       poller.TenantViewFetcher(gw),
		OnResult: func(v poller.TenantView) {
			mu.Lock()
			defer mu.Unlock()
			if count > 0 && seen >= count {
				return
			}
			seen++
			line := struct {
				Seq       int                     `json:"seq"`
				FetchedAt time.Time               `json:"fetched_at"`
				Tenants   int                     `json:"tenants"`
				Aggregate tenant.AggregateMetrics `json:"aggregate"`
			}{seen, v.FetchedAt, len(v.Tenants), v.Aggregate}
			if err := enc.Encode(line); err != nil {
				a.log.Warn("Failed to write refresh", "error", err)
			}
			if count > 0 && seen >= count {
				once.Do(func() { close(done) })
			}
		},
		Logger:  a.log,
		Metrics: a.metrics,
	})
	if err != nil {
		return err
	}

	ctrl.Start()
	defer ctrl.Stop()

	select {
	case <-ctx.Done():
	case <-done:
	}
	if _, ok := ctrl.Last(); !ok {
		st := ctrl.Status()
		if st.LastError != "" {
			return tenant.NewError(tenant.CodeUnavailable, fmt.Sprintf("no successful refresh: %s", st.LastError))
		}
	}
	return nil
}

// Command ecpctl manages ECP tenants against the ECP API, or against a local
// demo store when no API is available.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/common/config"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/common/logger"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/gateway"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/metrics"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/storage"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one ecpctl invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		a.replayWarnings()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// replayWarnings prints buffered warnings and errors to stderr when they
// went only to the log file.
func (a *app) replayWarnings() {
	if a.log == nil || a.logDir == "" {
		return
	}
	if err := a.log.Copy(a.stderr, logger.WARN); err != nil {
		fmt.Fprintf(a.stderr, "warning: replay log: %v\n", err)
	}
}

// exitCode maps error codes to distinct exit statuses for scripting.
func exitCode(err error) int {
	switch tenant.CodeOf(err) {
	case tenant.CodeInvalidInput:
		return 2
	case tenant.CodeNotFound:
		return 3
	case tenant.CodeConflict, tenant.CodeForbidden:
		return 4
	case tenant.CodeUnavailable, tenant.CodeConnectionFailed:
		return 5
	}
	return 1
}

type globalFlags struct {
	configPath    string
	demo          bool
	logLevel      string
	logFile       bool
	metricsListen string
	storage       string
}

// app holds what every command shares. Heavy pieces are opened on first
// use so "config init" works without a store or API.
type app struct {
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags

	cfg     config.Config
	cfgPath string
	log     *logger.Logger
	logDir  string

	registry   *prometheus.Registry
	metrics    *metrics.Collectors
	metricsSrv *http.Server

	gw gateway.Gateway
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ecpctl",
		Short:         "Manage ECP AI tenants",
		Long:          "ecpctl lists, creates and monitors ECP AI tenants. In demo mode it works\nagainst a local store seeded with a built-in catalog.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default: search for "+config.DefaultFileName+")")
	pf.BoolVar(&a.flags.demo, "demo", false, "use the local demo store instead of the API")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (ERROR, WARN, INFO, DEBUG, TRACE)")
	pf.BoolVar(&a.flags.logFile, "log-file", false, "write logs to the log directory instead of stderr")
	pf.StringVar(&a.flags.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9464")
	pf.StringVar(&a.flags.storage, "storage", "", "demo store backend (sqlite, badger, memory)")

	root.AddCommand(
		newListCmd(a),
		newGetCmd(a),
		newCreateCmd(a),
		newUpdateCmd(a),
		newStatusCmd(a),
		newDeleteCmd(a),
		newMetricsCmd(a),
		newResetCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newWatchCmd(a),
		newPollCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the logger
// and metrics registry.
func (a *app) setup(cmd *cobra.Command) error {
	path := config.ResolveConfigPath("ECPCTL", a.flags.configPath)
	cfg, src, err := config.Load(path)
	if err != nil {
		return tenant.Wrap(err, tenant.CodeInvalidInput, "load config")
	}

	flags := cmd.Flags()
	if flags.Changed("demo") {
		cfg.Mode.Demo = a.flags.demo
	}
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.logFile {
		cfg.Logging.File = true
	}
	if a.flags.metricsListen != "" {
		cfg.Metrics.Listen = a.flags.metricsListen
	}
	if a.flags.storage != "" {
		cfg.Storage.Backend = a.flags.storage
	}
	if err := cfg.Validate(); err != nil {
		return tenant.Wrap(err, tenant.CodeInvalidInput, "config")
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return tenant.Wrap(err, tenant.CodeInvalidInput, "config")
	}
	logDir, err := cfg.LogDir()
	if err != nil {
		return tenant.Wrap(err, tenant.CodeUnavailable, "log directory")
	}
	// With a log file, stderr stays quiet until a command fails.
	var console io.Writer = a.stderr
	if logDir != "" {
		console = nil
	}
	rotation := logger.DefaultRotation()
	rotation.MaxSize = int64(cfg.Logging.MaxSizeMB) << 20
	rotation.MaxFiles = cfg.Logging.MaxFiles

	a.cfg = cfg
	a.cfgPath = src
	a.logDir = logDir
	a.log = logger.New(logger.Options{
		Level:    level,
		Dir:      logDir,
		Console:  console,
		Rotation: &rotation,
	})
	if src != "" {
		a.log.Debug("Loaded config", "path", src)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if cfg.Metrics.Listen != "" {
		a.serveMetrics(cfg.Metrics.Listen)
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	a.log.Info("Serving metrics", "addr", addr)
}

// gateway opens the configured backend on first use.
func (a *app) gateway(ctx context.Context) (gateway.Gateway, error) {
	if a.gw != nil {
		return a.gw, nil
	}

	opts := gateway.Options{
		DemoMode:           a.cfg.Mode.Demo,
		DeployDelay:        a.cfg.DeployDelay(),
		BaseURL:            a.cfg.API.URL,
		Timeout:            a.cfg.APITimeout(),
		InsecureSkipVerify: a.cfg.API.InsecureSkipVerify,
		Estimates:          &a.cfg.Estimates,
		Logger:             a.log,
		Metrics:            a.metrics,
	}

	if a.cfg.Mode.Demo {
		store, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		opts.Store = store
	}

	gw, err := gateway.New(opts)
	if err != nil {
		if opts.Store != nil {
			opts.Store.Close() //nolint:errcheck
		}
		return nil, tenant.Wrap(err, tenant.CodeInvalidInput, "gateway")
	}
	a.gw = gw
	if local, ok := gw.(*gateway.Local); ok {
		if _, err := local.ResumeDeploys(ctx); err != nil {
			return nil, err
		}
	}
	a.log.Debug("Gateway ready", "mode", gw.Mode())
	return gw, nil
}

func (a *app) openStore(ctx context.Context) (*storage.Store, error) {
	sc := a.cfg.Storage
	backend := strings.ToLower(sc.Backend)
	path := sc.Path
	if path == "" && backend != "memory" {
		dataDir, err := config.GetDataDirectory()
		if err != nil {
			return nil, tenant.Wrap(err, tenant.CodeUnavailable, "data directory")
		}
		if backend == "badger" {
			path = filepath.Join(dataDir, "badger")
		} else {
			path = filepath.Join(dataDir, "ecpctl.db")
		}
	}

	kv, err := storage.OpenKV(storage.KVConfig{
		Backend:       backend,
		Path:          path,
		MaxValueBytes: sc.MaxBytes,
		SyncWrites:    sc.SyncWrites,
		Logger:        a.log,
	})
	if err != nil {
		return nil, tenant.Wrap(err, tenant.CodeUnavailable, "open demo store")
	}

	store := storage.New(kv, storage.Options{
		Key:     sc.Key,
		Logger:  a.log,
		Metrics: a.metrics,
	})
	if err := store.Load(ctx); err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}
	a.log.Debug("Opened demo store", "backend", backend, "path", path)
	return store, nil
}

// snapshotter returns the local backend's backup interface.
func (a *app) snapshotter(ctx context.Context) (gateway.Snapshotter, error) {
	gw, err := a.gateway(ctx)
	if err != nil {
		return nil, err
	}
	snap, ok := gw.(gateway.Snapshotter)
	if !ok {
		return nil, tenant.NewError(tenant.CodeInvalidInput, "only available in demo mode (use --demo)")
	}
	return snap, nil
}

func (a *app) close() error {
	var errs []error
	if a.gw != nil {
		errs = append(errs, a.gw.Close())
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
		cancel()
	}
	if a.log != nil {
		if n := a.log.DroppedWrites(); n > 0 {
			fmt.Fprintf(a.stderr, "warning: %d log lines could not be written to %s\n", n, a.logDir)
		}
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package gateway exposes one tenant CRUD and query contract over two
// backends: a local one backed by the versioned store (demo mode) and a
// remote one backed by the ECP HTTP API (production mode). The backend is
// picked once, when the gateway is constructed.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/metrics"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/storage"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// Mode identifies the backend a gateway was built with.
type Mode string

const (
	ModeDemo       Mode = "demo"
	ModeProduction Mode = "production"
)

// DefaultDeployDelay is how long a locally created tenant stays pending
// before the simulated deployment marks it running.
const DefaultDeployDelay = 2 * time.Second

// Gateway is the contract every caller uses for tenant data.
type Gateway interface {
	List(ctx context.Context) ([]tenant.Record, error)
	Get(ctx context.Context, id string) (tenant.Record, error)
	Create(ctx context.Context, req tenant.CreateRequest) (tenant.Record, error)
	Update(ctx context.Context, id string, upd tenant.Update) (tenant.Record, error)
	Delete(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status tenant.Status) (tenant.Record, error)
	// AggregateMetrics returns fleet totals. Resource figures are estimates
	// unless the result's Source is tenant.SourceServer.
	AggregateMetrics(ctx context.Context) (tenant.AggregateMetrics, error)
	Mode() Mode
	Close() error
}

// Snapshotter is implemented by backends that own their data and can back
// it up or wipe it. Only the local backend does.
type Snapshotter interface {
	Reset(ctx context.Context) error
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte) error
}

// Logger interface for gateway operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

// Options configures New.
type Options struct {
	// DemoMode selects the local backend. It is read once.
	DemoMode bool

	// Store backs the local backend. Required in demo mode. The local
	// backend owns it from then on and closes it in Close.
	Store *storage.Store
	// DeployDelay is the simulated deployment time in demo mode.
	// Zero selects DefaultDeployDelay; negative disables the transition.
	DeployDelay time.Duration

	// BaseURL is the ECP API root, e.g. http://ecp.example:8000/api/v1.
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// InsecureSkipVerify disables TLS verification for self-signed API
	// certificates. Ignored when HTTPClient is set.
	InsecureSkipVerify bool

	Estimates *tenant.EstimateParams
	Logger    Logger
	Metrics   *metrics.Collectors
	Now       func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Estimates == nil {
		p := tenant.DefaultEstimateParams()
		o.Estimates = &p
	}
	if o.DeployDelay == 0 {
		o.DeployDelay = DefaultDeployDelay
	}
}

// New builds the gateway for the configured mode. Changing mode means
// building a new gateway.
func New(opts Options) (Gateway, error) {
	if opts.DemoMode {
		if opts.Store == nil {
			return nil, errors.New("gateway: demo mode requires a store")
		}
		return NewLocal(opts.Store, opts), nil
	}
	if opts.BaseURL == "" {
		return nil, errors.New("gateway: production mode requires an API base URL")
	}
	return NewRemote(opts.BaseURL, opts), nil
}

package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/metrics"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/storage"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

const backendLocal = "local"

// Local serves the gateway contract from a versioned store.
type Local struct {
	store       *storage.Store
	deployDelay time.Duration
	estimates   tenant.EstimateParams
	logger      Logger
	metrics     *metrics.Collectors
	now         func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewLocal wraps store. Only the deploy, estimate, logging and metrics
// fields of opts are used.
func NewLocal(store *storage.Store, opts Options) *Local {
	opts.applyDefaults()
	return &Local{
		store:       store,
		deployDelay: opts.DeployDelay,
		estimates:   *opts.Estimates,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
		timers:      make(map[string]*time.Timer),
	}
}

func (l *Local) Mode() Mode { return ModeDemo }

func (l *Local) observe(op string, err error) {
	l.metrics.GatewayRequest(backendLocal, op, err)
}

func (l *Local) List(ctx context.Context) ([]tenant.Record, error) {
	out, err := l.store.List(ctx)
	l.observe("list", err)
	return out, err
}

func (l *Local) Get(ctx context.Context, id string) (tenant.Record, error) {
	rec, err := l.store.Get(ctx, id)
	l.observe("get", err)
	return rec, err
}

// Create stores a pending tenant and schedules its simulated deployment.
// It returns as soon as the record is persisted.
func (l *Local) Create(ctx context.Context, req tenant.CreateRequest) (tenant.Record, error) {
	rec, err := l.store.Create(ctx, req)
	l.observe("create", err)
	if err != nil {
		return tenant.Record{}, err
	}
	l.scheduleDeploy(rec.ID)
	return rec, nil
}

func (l *Local) scheduleDeploy(id string) {
	l.scheduleDeployIn(id, l.deployDelay)
}

func (l *Local) scheduleDeployIn(id string, delay time.Duration) {
	if l.deployDelay < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if prev, ok := l.timers[id]; ok {
		prev.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		l.mu.Lock()
		if l.timers[id] == t {
			delete(l.timers, id)
		}
		closed := l.closed
		l.mu.Unlock()
		if !closed {
			l.finishDeploy(context.Background(), id)
		}
	})
	l.timers[id] = t
}

// finishDeploy marks a still-pending tenant running. A tenant that was
// deleted or moved to another status in the meantime is left alone.
func (l *Local) finishDeploy(ctx context.Context, id string) {
	_, err := l.store.TransitionStatus(ctx, id, tenant.StatusPending, tenant.StatusRunning)
	switch {
	case err == nil:
		l.logger.Info("Simulated deployment finished", "tenant", id)
	case tenant.HasCode(err, tenant.CodeNotFound), tenant.HasCode(err, tenant.CodeConflict):
		l.logger.Debug("Simulated deployment skipped", "tenant", id, "reason", err)
	default:
		l.logger.Warn("Simulated deployment could not mark tenant running", "tenant", id, "error", err)
	}
}

// ResumeDeploys picks up simulated deployments left pending by an earlier
// process. Tenants whose deployment is already due are marked running
// before it returns; the rest are rescheduled for the remaining time.
func (l *Local) ResumeDeploys(ctx context.Context) (int, error) {
	if l.deployDelay < 0 {
		return 0, nil
	}
	records, err := l.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := l.now()
	n := 0
	for _, r := range records {
		if r.IsSeed() || r.Status != tenant.StatusPending {
			continue
		}
		n++
		remaining := r.CreatedAt.Add(l.deployDelay).Sub(now)
		if remaining <= 0 {
			l.finishDeploy(ctx, r.ID)
			continue
		}
		l.scheduleDeployIn(r.ID, remaining)
	}
	if n > 0 {
		l.logger.Debug("Resumed simulated deployments", "count", n)
	}
	return n, nil
}

func (l *Local) Update(ctx context.Context, id string, upd tenant.Update) (tenant.Record, error) {
	rec, err := l.store.Update(ctx, id, upd)
	l.observe("update", err)
	return rec, err
}

func (l *Local) SetStatus(ctx context.Context, id string, status tenant.Status) (tenant.Record, error) {
	rec, err := l.store.UpdateStatus(ctx, id, status)
	l.observe("status", err)
	return rec, err
}

func (l *Local) Delete(ctx context.Context, id string) error {
	err := l.store.Delete(ctx, id)
	l.observe("delete", err)
	if err == nil {
		l.cancelDeploy(id)
	}
	return err
}

func (l *Local) cancelDeploy(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
}

// AggregateMetrics estimates resource totals from the running tenants.
func (l *Local) AggregateMetrics(ctx context.Context) (tenant.AggregateMetrics, error) {
	records, err := l.store.List(ctx)
	l.observe("aggregate", err)
	if err != nil {
		return tenant.AggregateMetrics{}, err
	}
	return tenant.Estimate(records, l.estimates, tenant.SourceLocalEstimate, l.now()), nil
}

func (l *Local) Reset(ctx context.Context) error {
	l.stopTimers()
	err := l.store.Reset(ctx)
	l.observe("reset", err)
	return err
}

func (l *Local) Export(ctx context.Context) ([]byte, error) {
	data, err := l.store.Export(ctx)
	l.observe("export", err)
	return data, err
}

func (l *Local) Import(ctx context.Context, data []byte) error {
	err := l.store.Import(ctx, data)
	l.observe("import", err)
	if err == nil {
		l.stopTimers()
	}
	return err
}

func (l *Local) stopTimers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
}

// PendingDeploys returns how many simulated deployments are scheduled.
func (l *Local) PendingDeploys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Close cancels pending deployments and closes the store, which the
// gateway owns once constructed. Deployments still pending are resumed by
// the next gateway opened on the same store.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	l.stopTimers()
	return l.store.Close()
}

var (
	_ Gateway     = (*Local)(nil)
	_ Snapshotter = (*Local)(nil)
)

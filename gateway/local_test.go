package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/storage"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

func newDemoGateway(t *testing.T, deployDelay time.Duration) *Local {
	t.Helper()
	store := storage.New(storage.NewMemoryKV(0), storage.Options{})
	gw, err := New(Options{DemoMode: true, Store: store, DeployDelay: deployDelay})
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })
	local, ok := gw.(*Local)
	require.True(t, ok, "demo mode must build the local backend")
	return local
}

func TestNewSelectsBackendOnce(t *testing.T) {
	t.Parallel()

	_, err := New(Options{DemoMode: true})
	require.Error(t, err, "demo mode without a store")

	_, err = New(Options{})
	require.Error(t, err, "production mode without a URL")

	gw, err := New(Options{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, ModeProduction, gw.Mode())
	_, isSnap := gw.(Snapshotter)
	assert.False(t, isSnap, "remote backend must not offer local snapshots")

	demo := newDemoGateway(t, -1)
	assert.Equal(t, ModeDemo, demo.Mode())
}

func TestLocalCreateSimulatesDeployment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := newDemoGateway(t, 20*time.Millisecond)

	rec, err := gw.Create(ctx, tenant.CreateRequest{
		TenantID: "scenario-a",
		Services: tenant.ServiceRequirements{Callbot: 5, STT: 5, TTS: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, tenant.PresetMicro, rec.Preset)
	assert.Equal(t, tenant.StatusPending, rec.Status)

	require.Eventually(t, func() bool {
		got, err := gw.Get(ctx, "scenario-a")
		return err == nil && got.Status == tenant.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	got, err := gw.Get(ctx, "scenario-a")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version())
	assert.Equal(t, 0, gw.PendingDeploys())
}

func TestLocalDeployDoesNotOverrideManualStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := newDemoGateway(t, 30*time.Millisecond)

	_, err := gw.Create(ctx, tenant.CreateRequest{TenantID: "manual"})
	require.NoError(t, err)
	_, err = gw.SetStatus(ctx, "manual", tenant.StatusStopped)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return gw.PendingDeploys() == 0 }, 2*time.Second, 5*time.Millisecond)
	got, err := gw.Get(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusStopped, got.Status)
}

func TestLocalDeleteCancelsDeployment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := newDemoGateway(t, time.Hour)

	_, err := gw.Create(ctx, tenant.CreateRequest{TenantID: "user-tenant-42"})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.PendingDeploys())

	require.NoError(t, gw.Delete(ctx, "user-tenant-42"))
	assert.Equal(t, 0, gw.PendingDeploys())

	list, err := gw.List(ctx)
	require.NoError(t, err)
	for _, r := range list {
		assert.NotEqual(t, "user-tenant-42", r.ID)
	}

	err = gw.Delete(ctx, "demo-tenant-1")
	assert.True(t, errors.Is(err, tenant.ErrForbidden), "got %v", err)
}

func TestLocalCloseStopsTimers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := newDemoGateway(t, 20*time.Millisecond)

	_, err := gw.Create(ctx, tenant.CreateRequest{TenantID: "orphan"})
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	assert.Equal(t, 0, gw.PendingDeploys())

	time.Sleep(60 * time.Millisecond)
	got, err := gw.Get(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusPending, got.Status)
}

func TestLocalAggregateIsEstimate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := newDemoGateway(t, -1)

	agg, err := gw.AggregateMetrics(ctx)
	require.NoError(t, err)
	assert.True(t, agg.Estimated)
	assert.Equal(t, tenant.SourceLocalEstimate, agg.Source)
	assert.Equal(t, len(storage.BuiltInCatalog()), agg.Total)

	running := 0
	services := 0
	for _, r := range storage.BuiltInCatalog() {
		services += r.ServiceCount
		if r.Status == tenant.StatusRunning {
			running++
		}
	}
	p := tenant.DefaultEstimateParams()
	assert.Equal(t, running, agg.Active)
	assert.Equal(t, services, agg.ServiceCount)
	assert.Equal(t, min(running*p.GPUPerRunning, p.GPUCeiling), agg.Resources.GPUs)
}

func TestLocalSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := newDemoGateway(t, -1)

	_, err := gw.Create(ctx, tenant.CreateRequest{TenantID: "backup-me", Name: "Backup"})
	require.NoError(t, err)
	data, err := gw.Export(ctx)
	require.NoError(t, err)

	require.NoError(t, gw.Reset(ctx))
	_, err = gw.Get(ctx, "backup-me")
	require.True(t, errors.Is(err, tenant.ErrNotFound))

	require.NoError(t, gw.Import(ctx, data))
	got, err := gw.Get(ctx, "backup-me")
	require.NoError(t, err)
	assert.Equal(t, "Backup", got.Name)

	err = gw.Import(ctx, []byte(`{"format":"1.0.0","store":{}}`))
	assert.True(t, errors.Is(err, tenant.ErrInvalidInput), "got %v", err)
	_, err = gw.Get(ctx, "backup-me")
	assert.NoError(t, err, "failed import must not drop data")
}

type trackedKV struct {
	*storage.MemoryKV
	closes atomic.Int32
}

func (k *trackedKV) Close() error {
	k.closes.Add(1)
	return nil
}

func TestLocalResumesPendingDeployAfterRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := &trackedKV{MemoryKV: storage.NewMemoryKV(0)}
	delay := 30 * time.Millisecond

	first := NewLocal(storage.New(kv, storage.Options{}), Options{DeployDelay: delay})
	_, err := first.Create(ctx, tenant.CreateRequest{TenantID: "survivor", Services: tenant.ServiceRequirements{Chatbot: 3}})
	require.NoError(t, err)
	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	assert.Equal(t, int32(1), kv.closes.Load(), "close releases the store once")

	second := NewLocal(storage.New(kv, storage.Options{}), Options{DeployDelay: delay})
	t.Cleanup(func() { second.Close() })
	n, err := second.ResumeDeploys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		got, err := second.Get(ctx, "survivor")
		return err == nil && got.Status == tenant.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLocalResumeFinishesOverdueDeploysImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := storage.NewMemoryKV(0)

	first := NewLocal(storage.New(kv, storage.Options{}), Options{DeployDelay: time.Hour})
	_, err := first.Create(ctx, tenant.CreateRequest{TenantID: "overdue"})
	require.NoError(t, err)
	_, err = first.Create(ctx, tenant.CreateRequest{TenantID: "halted"})
	require.NoError(t, err)
	_, err = first.SetStatus(ctx, "halted", tenant.StatusStopped)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	later := func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	second := NewLocal(storage.New(kv, storage.Options{}), Options{DeployDelay: time.Hour, Now: later})
	t.Cleanup(func() { second.Close() })
	n, err := second.ResumeDeploys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, second.PendingDeploys())

	got, err := second.Get(ctx, "overdue")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusRunning, got.Status)
	got, err = second.Get(ctx, "halted")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusStopped, got.Status)
	got, err = second.Get(ctx, "demo-tenant-3")
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusStopped, got.Status, "seed statuses are not touched")
}

package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/metrics"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

func counterFetch(calls *atomic.Int32) Fetcher[int] {
	return func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}
}

func refreshCount(m *metrics.Collectors, trigger string) float64 {
	return testutil.ToFloat64(m.PollRefreshes.WithLabelValues("list", trigger, "ok"))
}

func TestNewRequiresFetch(t *testing.T) {
	t.Parallel()
	_, err := New(Config[int]{})
	require.Error(t, err)
}

func TestStartRefreshesImmediatelyAndOnInterval(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var delivered atomic.Int32
	c, err := New(Config[int]{
		Interval: 20 * time.Millisecond,
		Fetch:    counterFetch(&calls),
		OnResult: func(int) { delivered.Add(1) },
	})
	require.NoError(t, err)

	c.Start()
	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool { return delivered.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	st := c.Status()
	assert.True(t, st.Running)
	assert.False(t, st.LastRefresh.IsZero())
	v, ok := c.Last()
	assert.True(t, ok)
	assert.Positive(t, v)
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var calls atomic.Int32
	var delivered atomic.Int32
	c, err := New(Config[int]{
		Interval: time.Hour,
		Fetch: func(context.Context) (int, error) {
			calls.Add(1)
			<-release
			return 42, nil
		},
		OnResult: func(int) { delivered.Add(1) },
	})
	require.NoError(t, err)

	c.Start()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Stop()
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, delivered.Load())
	_, ok := c.Last()
	assert.False(t, ok)
	assert.False(t, c.Status().Running)
}

func TestRestartDoesNotJoinFetchFromBeforeStop(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var calls atomic.Int32
	var delivered atomic.Int32
	c, err := New(Config[int]{
		Interval: time.Hour,
		Fetch: func(context.Context) (int, error) {
			if calls.Add(1) == 1 {
				<-release
				return 100, nil
			}
			return 200, nil
		},
		OnResult: func(v int) {
			if v == 200 {
				delivered.Add(1)
			}
		},
	})
	require.NoError(t, err)
	defer close(release)

	c.Start()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Stop()
	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool { return delivered.Load() == 1 }, time.Second, time.Millisecond)
	v, err := c.RefreshNow()
	require.NoError(t, err)
	assert.Equal(t, 200, v)
	last, ok := c.Last()
	assert.True(t, ok)
	assert.Equal(t, 200, last)
}

func TestRefreshNowDedupesConcurrentCalls(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var calls atomic.Int32
	c, err := New(Config[int]{
		Fetch: func(context.Context) (int, error) {
			calls.Add(1)
			<-release
			return 7, nil
		},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]int, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = c.RefreshNow()
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.RefreshNow()
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 7, r)
	}
}

func TestAfterMutationRefreshesTwice(t *testing.T) {
	t.Parallel()
	m := metrics.New(prometheus.NewRegistry())
	var calls atomic.Int32
	c, err := New(Config[int]{
		Name:        "list",
		Interval:    time.Hour,
		SettleDelay: 30 * time.Millisecond,
		Fetch:       counterFetch(&calls),
		Metrics:     m,
	})
	require.NoError(t, err)

	c.AfterMutation()
	c.AfterMutation()

	require.Eventually(t, func() bool { return refreshCount(m, TriggerSettle) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, float64(1), refreshCount(m, TriggerSettle), "second mutation replaces the pending settle refresh")
	assert.GreaterOrEqual(t, refreshCount(m, TriggerMutation), float64(1))
}

func TestStopCancelsSettleRefresh(t *testing.T) {
	t.Parallel()
	m := metrics.New(prometheus.NewRegistry())
	var calls atomic.Int32
	c, err := New(Config[int]{
		Name:        "list",
		Interval:    time.Hour,
		SettleDelay: 20 * time.Millisecond,
		Fetch:       counterFetch(&calls),
		Metrics:     m,
	})
	require.NoError(t, err)

	c.Start()
	c.AfterMutation()
	c.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, refreshCount(m, TriggerSettle))
}

func TestRefreshErrorsReachOnError(t *testing.T) {
	t.Parallel()
	boom := tenant.NewError(tenant.CodeUnavailable, "backend down")
	var got error
	c, err := New(Config[int]{
		Fetch:   func(context.Context) (int, error) { return 0, boom },
		OnError: func(err error) { got = err },
	})
	require.NoError(t, err)

	_, err = c.RefreshNow()
	require.ErrorIs(t, err, tenant.ErrUnavailable)
	assert.Equal(t, boom, got)
	assert.Contains(t, c.Status().LastError, "backend down")
}

type fakeSource struct {
	list    []tenant.Record
	agg     tenant.AggregateMetrics
	listErr error
}

func (f fakeSource) List(context.Context) ([]tenant.Record, error) { return f.list, f.listErr }
func (f fakeSource) AggregateMetrics(context.Context) (tenant.AggregateMetrics, error) {
	return f.agg, nil
}

func TestTenantViewFetcher(t *testing.T) {
	t.Parallel()
	src := fakeSource{
		list: []tenant.Record{{ID: "demo-tenant-1"}, {ID: "acme"}},
		agg:  tenant.AggregateMetrics{Total: 2, Source: tenant.SourceServer},
	}
	view, err := TenantViewFetcher(src)(context.Background())
	require.NoError(t, err)
	assert.Len(t, view.Tenants, 2)
	assert.Equal(t, 2, view.Aggregate.Total)
	assert.False(t, view.FetchedAt.IsZero())

	src.listErr = errors.New("list failed")
	_, err = TenantViewFetcher(src)(context.Background())
	require.EqualError(t, err, "list failed")
}

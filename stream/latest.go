package stream

import (
	"sort"
	"sync"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// LatestSnapshots keeps only the most recent snapshot per tenant.
type LatestSnapshots struct {
	mu   sync.RWMutex
	byID map[string]tenant.MetricSnapshot
}

func NewLatestSnapshots() *LatestSnapshots {
	return &LatestSnapshots{byID: make(map[string]tenant.MetricSnapshot)}
}

// Put stores s unless a newer snapshot for the same tenant is already held.
// It reports whether s was kept.
func (l *LatestSnapshots) Put(s tenant.MetricSnapshot) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.byID[s.TenantID]; ok && cur.Timestamp.After(s.Timestamp) {
		return false
	}
	l.byID[s.TenantID] = s
	return true
}

func (l *LatestSnapshots) Get(tenantID string) (tenant.MetricSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.byID[tenantID]
	return s, ok
}

// Forget drops the snapshot of a tenant, e.g. after it was deleted.
func (l *LatestSnapshots) Forget(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, tenantID)
}

// All returns every held snapshot ordered by tenant id.
func (l *LatestSnapshots) All() []tenant.MetricSnapshot {
	l.mu.RLock()
	out := make([]tenant.MetricSnapshot, 0, len(l.byID))
	for _, s := range l.byID {
		out = append(out, s)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

package tenant

import (
	"fmt"
	"time"
)

// MetricSnapshot is a point-in-time utilization reading for one tenant.
// Snapshots are never persisted.
type MetricSnapshot struct {
	TenantID          string    `json:"tenant_id"`
	Timestamp         time.Time `json:"timestamp"`
	CPUUsage          float64   `json:"cpu_usage"`
	MemoryUsage       float64   `json:"memory_usage"`
	GPUUsage          float64   `json:"gpu_usage"`
	NetworkIn         int64     `json:"network_in"`
	NetworkOut        int64     `json:"network_out"`
	ActiveConnections int       `json:"active_connections"`
}

// Check rejects snapshots that cannot be shown to a user.
func (s MetricSnapshot) Check() error {
	if s.TenantID == "" {
		return fmt.Errorf("snapshot missing tenant_id")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("snapshot missing timestamp")
	}
	if s.CPUUsage < 0 || s.MemoryUsage < 0 || s.GPUUsage < 0 {
		return fmt.Errorf("snapshot has negative utilization")
	}
	if s.NetworkIn < 0 || s.NetworkOut < 0 || s.ActiveConnections < 0 {
		return fmt.Errorf("snapshot has negative counters")
	}
	return nil
}

// Aggregate sources.
const (
	SourceServer           = "server"
	SourceLocalEstimate    = "local-estimate"
	SourceDegradedEstimate = "degraded-estimate"
)

// ResourceTotals are coarse allocation totals across all tenants.
type ResourceTotals struct {
	GPUs     int `json:"gpus"`
	CPUCores int `json:"cpu_cores"`
	MemoryGB int `json:"memory_gb"`
}

// AggregateMetrics summarizes the tenant fleet. When Estimated is true the
// resource totals are derived from a per-tenant multiplier, not measured.
type AggregateMetrics struct {
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	ServiceCount int            `json:"service_count"`
	Resources    ResourceTotals `json:"resources"`
	Estimated    bool           `json:"estimated"`
	Source       string         `json:"source"`
	ComputedAt   time.Time      `json:"computed_at"`
}

// EstimateParams control the local resource estimate. The numbers are
// placeholders for display and are not derived from real allocations.
type EstimateParams struct {
	GPUPerRunning   int `toml:"gpu_per_running"`
	CPUPerRunning   int `toml:"cpu_per_running"`
	MemoryGBPerRun  int `toml:"memory_gb_per_running"`
	GPUCeiling      int `toml:"gpu_ceiling"`
	CPUCeiling      int `toml:"cpu_ceiling"`
	MemoryGBCeiling int `toml:"memory_gb_ceiling"`
}

// DefaultEstimateParams returns the stock multipliers and ceilings.
func DefaultEstimateParams() EstimateParams {
	return EstimateParams{
		GPUPerRunning:   2,
		CPUPerRunning:   8,
		MemoryGBPerRun:  32,
		GPUCeiling:      64,
		CPUCeiling:      512,
		MemoryGBCeiling: 2048,
	}
}

// Estimate derives an aggregate from a tenant list.
func Estimate(records []Record, p EstimateParams, source string, now time.Time) AggregateMetrics {
	agg := AggregateMetrics{
		Total:      len(records),
		Estimated:  true,
		Source:     source,
		ComputedAt: now,
	}
	for _, r := range records {
		agg.ServiceCount += r.ServiceCount
		if r.Status == StatusRunning {
			agg.Active++
		}
	}
	agg.Resources = ResourceTotals{
		GPUs:     min(agg.Active*p.GPUPerRunning, p.GPUCeiling),
		CPUCores: min(agg.Active*p.CPUPerRunning, p.CPUCeiling),
		MemoryGB: min(agg.Active*p.MemoryGBPerRun, p.MemoryGBCeiling),
	}
	return agg
}

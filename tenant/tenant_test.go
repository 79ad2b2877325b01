package tenant

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPresetForScenarios(t *testing.T) {
	t.Parallel()

	th := DefaultPresetThresholds()
	cases := []struct {
		name string
		req  ServiceRequirements
		want Preset
	}{
		{"low totals", ServiceRequirements{Callbot: 5, STT: 5, TTS: 5}, PresetMicro},
		{"empty", ServiceRequirements{}, PresetMicro},
		{"channels small", ServiceRequirements{Callbot: 30, Advisor: 20}, PresetSmall},
		{"users medium", ServiceRequirements{Chatbot: 600}, PresetMedium},
		{"users dominate", ServiceRequirements{Callbot: 1, Chatbot: 2500}, PresetLarge},
		{"channels large", ServiceRequirements{STT: 300, TTS: 300}, PresetLarge},
	}
	for _, tc := range cases {
		if got := th.PresetFor(tc.req); got != tc.want {
			t.Errorf("%s: PresetFor(%+v) = %s, want %s", tc.name, tc.req, got, tc.want)
		}
	}
}

func TestPresetOrdering(t *testing.T) {
	t.Parallel()

	all := Presets()
	for i := 1; i < len(all); i++ {
		if !all[i-1].Less(all[i]) {
			t.Fatalf("expected %s < %s", all[i-1], all[i])
		}
		if all[i].Less(all[i-1]) {
			t.Fatalf("expected %s not < %s", all[i], all[i-1])
		}
	}
}

func TestErrorMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("delete: %w", NewError(CodeForbidden, "cannot delete predefined tenant"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("forbidden must not match not found")
	}
	if CodeOf(err) != CodeForbidden {
		t.Fatalf("CodeOf = %q", CodeOf(err))
	}

	wrapped := Wrap(err, CodeUnavailable, "gateway")
	if !HasCode(wrapped, CodeForbidden) {
		t.Fatalf("wrap must keep the original code, got %v", wrapped)
	}
	if Wrap(nil, CodeUnavailable, "x") != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestCreateRequestValidate(t *testing.T) {
	t.Parallel()

	ok := CreateRequest{TenantID: "user-tenant-42", Services: ServiceRequirements{Callbot: 1}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []CreateRequest{
		{TenantID: ""},
		{TenantID: "Upper-Case"},
		{TenantID: "-leading-dash"},
		{TenantID: "ok-id", Services: ServiceRequirements{STT: -1}},
	}
	for _, req := range bad {
		err := req.Validate()
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Validate(%+v) = %v, want invalid input", req, err)
		}
	}
}

func TestUpdateValidate(t *testing.T) {
	t.Parallel()

	if err := (Update{}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty update should be invalid, got %v", err)
	}
	bogus := Status("exploded")
	if err := (Update{Status: &bogus}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown status should be invalid, got %v", err)
	}
	name := "renamed"
	if err := (Update{Name: &name}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecordTouchAndClone(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r := Record{ID: "a", Preset: PresetMicro, Status: StatusPending, CreatedAt: now, Origin: OriginUser}
	r.Touch(now)
	if r.Version() != 1 {
		t.Fatalf("first touch should set version 1, got %d", r.Version())
	}

	c := r.Clone()
	c.Touch(now.Add(time.Second))
	if r.Version() != 1 || c.Version() != 2 {
		t.Fatalf("clone must not share metadata: orig=%d clone=%d", r.Version(), c.Version())
	}
	if r.DisplayName() != "a" {
		t.Fatalf("DisplayName fallback = %q", r.DisplayName())
	}
}

func TestEstimateCapsAtCeilings(t *testing.T) {
	t.Parallel()

	p := DefaultEstimateParams()
	p.GPUCeiling = 3
	records := []Record{
		{ID: "a", Status: StatusRunning, ServiceCount: 4},
		{ID: "b", Status: StatusRunning, ServiceCount: 1},
		{ID: "c", Status: StatusStopped, ServiceCount: 2},
	}
	agg := Estimate(records, p, SourceLocalEstimate, time.Now())
	if agg.Total != 3 || agg.Active != 2 || agg.ServiceCount != 7 {
		t.Fatalf("unexpected counts: %+v", agg)
	}
	if agg.Resources.GPUs != 3 {
		t.Fatalf("GPUs should be capped at 3, got %d", agg.Resources.GPUs)
	}
	if agg.Resources.CPUCores != 2*p.CPUPerRunning {
		t.Fatalf("CPU estimate = %d", agg.Resources.CPUCores)
	}
	if !agg.Estimated || agg.Source != SourceLocalEstimate {
		t.Fatalf("estimate must be flagged: %+v", agg)
	}
}

func TestSnapshotCheck(t *testing.T) {
	t.Parallel()

	good := MetricSnapshot{TenantID: "t", Timestamp: time.Now(), CPUUsage: 12.5}
	if err := good.Check(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (MetricSnapshot{Timestamp: time.Now()}).Check(); err == nil {
		t.Fatalf("missing tenant id must fail")
	}
	if err := (MetricSnapshot{TenantID: "t", Timestamp: time.Now(), NetworkIn: -1}).Check(); err == nil {
		t.Fatalf("negative counters must fail")
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src, _ := newTestStore(t)
	mustCreate(t, src, "exported-a")
	mustCreate(t, src, "exported-b")
	if _, err := src.UpdateStatus(ctx, "demo-tenant-4", tenant.StatusRunning); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	var env struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Format != ExportFormat {
		t.Fatalf("unexpected envelope %s", data)
	}

	dst, _ := newTestStore(t)
	mustCreate(t, dst, "replaced")
	if err := dst.Import(ctx, data); err != nil {
		t.Fatalf("Import: %v", err)
	}

	want, _ := src.List(ctx)
	got, _ := dst.List(ctx)
	if strings.Join(ids(got), ",") != strings.Join(ids(want), ",") {
		t.Fatalf("ids = %v, want %v", ids(got), ids(want))
	}
	seed, _ := dst.Get(ctx, "demo-tenant-4")
	if seed.Status != tenant.StatusRunning || seed.Version() != 2 {
		t.Fatalf("seed state not restored: %+v", seed)
	}
	if _, err := dst.Get(ctx, "replaced"); !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("import should replace existing records, got %v", err)
	}
}

func TestImportRejectsMalformedBackups(t *testing.T) {
	t.Parallel()

	valid := `{"schemaVersion":3,"seed":[],"user":[]}`
	tests := []struct {
		name string
		data string
	}{
		{name: "garbage", data: `not json`},
		{name: "bad format", data: `{"format":"one","store":` + valid + `}`},
		{name: "future format", data: `{"format":"2.0.0","store":` + valid + `}`},
		{name: "missing user", data: `{"format":"1.0.0","store":{"schemaVersion":3,"seed":[]}}`},
		{name: "null seed", data: `{"format":"1.0.0","store":{"schemaVersion":3,"seed":null,"user":[]}}`},
		{name: "schema too old", data: `{"format":"1.0.0","store":{"schemaVersion":1,"seed":[],"user":[]}}`},
		{name: "schema too new", data: `{"format":"1.0.0","store":{"schemaVersion":7,"seed":[],"user":[]}}`},
		{name: "wrong origin", data: `{"format":"1.0.0","store":{"schemaVersion":3,"seed":[],"user":[` +
			`{"tenantId":"x","preset":"micro","status":"pending","createdAt":"2024-01-01T00:00:00Z","origin":"seed","metadata":{"lastModified":"2024-01-01T00:00:00Z","version":1}}]}}`},
		{name: "duplicate", data: `{"format":"1.0.0","store":{"schemaVersion":3,"seed":[],"user":[` +
			`{"tenantId":"x","preset":"micro","status":"pending","createdAt":"2024-01-01T00:00:00Z","origin":"user-created","metadata":{"lastModified":"2024-01-01T00:00:00Z","version":1}},` +
			`{"tenantId":"x","preset":"micro","status":"pending","createdAt":"2024-01-01T00:00:00Z","origin":"user-created","metadata":{"lastModified":"2024-01-01T00:00:00Z","version":1}}]}}`},
		{name: "missing metadata", data: `{"format":"1.0.0","store":{"schemaVersion":3,"seed":[],"user":[` +
			`{"tenantId":"x","preset":"micro","status":"pending","createdAt":"2024-01-01T00:00:00Z","origin":"user-created"}]}}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s, kv := newTestStore(t)
			mustCreate(t, s, "survivor")
			before, _, _ := kv.Get(ctx, DefaultKey)

			err := s.Import(ctx, []byte(tt.data))
			if !errors.Is(err, tenant.ErrInvalidInput) {
				t.Fatalf("Import = %v, want invalid input", err)
			}

			after, _, _ := kv.Get(ctx, DefaultKey)
			if before != after {
				t.Fatalf("rejected import changed persisted state")
			}
			if _, err := s.Get(ctx, "survivor"); err != nil {
				t.Fatalf("rejected import changed in-memory state: %v", err)
			}
		})
	}
}

func TestImportUpgradesSchemaTwoBackup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	data := `{"format":"1.0.0","exportedAt":"2024-05-01T00:00:00Z","store":` + v2Blob("old-backup") + `}`
	if err := s.Import(ctx, []byte(data)); err != nil {
		t.Fatalf("Import: %v", err)
	}
	rec, err := s.Get(ctx, "old-backup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Metadata == nil || rec.Status != tenant.StatusRunning {
		t.Fatalf("unexpected upgraded record %+v", rec)
	}
	stats, _ := s.Stats(ctx)
	if stats.SeedCount != len(BuiltInCatalog()) {
		t.Fatalf("seed partition not rebuilt: %d", stats.SeedCount)
	}
}

package storage

import (
	"time"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// catalogEpoch is the creation time stamped on every built-in tenant so a
// regenerated catalog is byte-for-byte identical to the previous one.
var catalogEpoch = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

type catalogEntry struct {
	id       string
	name     string
	status   tenant.Status
	services tenant.ServiceRequirements
}

var builtInEntries = []catalogEntry{
	{"demo-tenant-1", "Contact Center (Seoul)", tenant.StatusRunning, tenant.ServiceRequirements{Callbot: 10, Chatbot: 50, Advisor: 5, STT: 15, TTS: 10}},
	{"demo-tenant-2", "Retail Chat Support", tenant.StatusRunning, tenant.ServiceRequirements{Chatbot: 300, Advisor: 20}},
	{"demo-tenant-3", "Insurance Voicebot", tenant.StatusStopped, tenant.ServiceRequirements{Callbot: 120, STT: 120, TTS: 120}},
	{"demo-tenant-4", "Public Sector Hotline", tenant.StatusDeploying, tenant.ServiceRequirements{Callbot: 200, Chatbot: 1500, Advisor: 50, STT: 200, TTS: 200}},
}

// Catalog returns the built-in seed tenants.
type Catalog func() []tenant.Record

// BuiltInCatalog materializes the predefined demo tenants. Each call returns
// fresh records.
func BuiltInCatalog() []tenant.Record {
	th := tenant.DefaultPresetThresholds()
	out := make([]tenant.Record, 0, len(builtInEntries))
	for _, e := range builtInEntries {
		out = append(out, tenant.Record{
			ID:           e.id,
			Name:         e.name,
			Preset:       th.PresetFor(e.services),
			Status:       e.status,
			ServiceCount: e.services.Total(),
			Services:     e.services,
			CreatedAt:    catalogEpoch,
			Origin:       tenant.OriginSeed,
			Metadata:     &tenant.Metadata{LastModified: catalogEpoch, Version: 1},
		})
	}
	return out
}

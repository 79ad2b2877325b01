package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// CurrentSchemaVersion is the blob layout this code reads and writes.
//
//	1: {"schemaVersion":1,"tenants":[...]} one flat list, no origin
//	2: {"schemaVersion":2,"seed":[...],"user":[...]} partitioned, no metadata
//	3: partitioned, every record carries metadata
const CurrentSchemaVersion = 3

// legacyBlob decodes any historical layout.
type legacyBlob struct {
	SchemaVersion int             `json:"schemaVersion"`
	Tenants       []tenant.Record `json:"tenants"`
	Seed          []tenant.Record `json:"seed"`
	User          []tenant.Record `json:"user"`
}

type migration struct {
	from  int
	apply func(b *legacyBlob, mc migrationContext) error
}

type migrationContext struct {
	seedIDs    map[string]bool
	thresholds tenant.PresetThresholds
	now        time.Time
}

var migrations = []migration{
	{from: 1, apply: splitPartitions},
	{from: 2, apply: fillMetadata},
}

// splitPartitions moves every non-catalog record of the flat v1 list into
// the user partition. Catalog ids are regenerated later, unless the record
// says it was user-created; that one is kept and fails the collision check.
func splitPartitions(b *legacyBlob, mc migrationContext) error {
	for _, r := range b.Tenants {
		if isCatalogCopy(r, mc) {
			continue
		}
		if r.Origin == "" {
			r.Origin = tenant.OriginUser
		}
		b.User = append(b.User, r)
	}
	b.Tenants = nil
	b.Seed = nil
	return nil
}

func isCatalogCopy(r tenant.Record, mc migrationContext) bool {
	return mc.seedIDs[r.ID] && r.Origin != tenant.OriginUser
}

// fillMetadata gives each user record explicit defaults for fields that
// older layouts allowed to be missing.
func fillMetadata(b *legacyBlob, mc migrationContext) error {
	for i := range b.User {
		r := &b.User[i]
		r.Origin = tenant.OriginUser
		if r.Status == "" {
			r.Status = tenant.StatusPending
		}
		if r.ServiceCount == 0 {
			r.ServiceCount = r.Services.Total()
		}
		if r.Preset == "" {
			r.Preset = mc.thresholds.PresetFor(r.Services)
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = mc.now
		}
		if r.Metadata == nil {
			r.Metadata = &tenant.Metadata{LastModified: r.CreatedAt, Version: 1}
		}
	}
	return nil
}

// migrate upgrades a historical blob to CurrentSchemaVersion. The user
// partition is carried over; the seed partition is rebuilt from catalog.
// Any user record that cannot be carried over fails the whole migration.
func migrate(raw []byte, catalog []tenant.Record, th tenant.PresetThresholds, now time.Time) (*blob, error) {
	var lb legacyBlob
	if err := json.Unmarshal(raw, &lb); err != nil {
		return nil, tenant.Wrap(err, tenant.CodeMigrationFailed, "decode legacy tenant store")
	}
	return migrateLegacy(&lb, catalog, th, now)
}

func migrateLegacy(lb *legacyBlob, catalog []tenant.Record, th tenant.PresetThresholds, now time.Time) (*blob, error) {
	if lb.SchemaVersion > CurrentSchemaVersion {
		return nil, tenant.NewError(tenant.CodeMigrationFailed,
			fmt.Sprintf("tenant store schema %d is newer than supported %d", lb.SchemaVersion, CurrentSchemaVersion))
	}
	if lb.SchemaVersion < 1 {
		// Blobs written before versioning have the v1 layout.
		lb.SchemaVersion = 1
	}

	mc := migrationContext{seedIDs: make(map[string]bool, len(catalog)), thresholds: th, now: now}
	for _, r := range catalog {
		mc.seedIDs[r.ID] = true
	}

	userBefore := len(lb.User)
	if lb.SchemaVersion == 1 {
		for _, r := range lb.Tenants {
			if !isCatalogCopy(r, mc) {
				userBefore++
			}
		}
	}

	for _, m := range migrations {
		if lb.SchemaVersion != m.from {
			continue
		}
		if err := m.apply(lb, mc); err != nil {
			return nil, tenant.Wrap(err, tenant.CodeMigrationFailed, fmt.Sprintf("migrate schema %d", m.from))
		}
		lb.SchemaVersion = m.from + 1
	}
	if lb.SchemaVersion != CurrentSchemaVersion {
		return nil, tenant.NewError(tenant.CodeMigrationFailed,
			fmt.Sprintf("no migration path from schema %d", lb.SchemaVersion))
	}

	seen := make(map[string]bool, len(lb.User))
	for _, r := range lb.User {
		if mc.seedIDs[r.ID] {
			return nil, tenant.NewError(tenant.CodeMigrationFailed,
				fmt.Sprintf("user tenant %q collides with a predefined tenant", r.ID))
		}
		if seen[r.ID] {
			return nil, tenant.NewError(tenant.CodeMigrationFailed,
				fmt.Sprintf("duplicate user tenant %q", r.ID))
		}
		seen[r.ID] = true
		if err := r.Validate(); err != nil {
			// Validation errors carry their own code; migration failure must win.
			return nil, &tenant.Error{
				Code:    tenant.CodeMigrationFailed,
				Message: fmt.Sprintf("user tenant %q cannot be migrated", r.ID),
				Err:     err,
			}
		}
	}
	if len(lb.User) < userBefore {
		return nil, tenant.NewError(tenant.CodeMigrationFailed,
			fmt.Sprintf("migration would drop user tenants: %d before, %d after", userBefore, len(lb.User)))
	}

	user := lb.User
	if user == nil {
		user = []tenant.Record{}
	}
	return &blob{
		SchemaVersion: CurrentSchemaVersion,
		Seed:          catalog,
		User:          user,
		UpdatedAt:     now,
	}, nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// ExportFormat is the version of the backup envelope written by Export.
const ExportFormat = "1.0.0"

// importConstraint accepts any backup written by a compatible exporter.
var importConstraint = func() *semver.Constraints {
	c, err := semver.NewConstraint("^1.0.0")
	if err != nil {
		panic(err)
	}
	return c
}()

type exportEnvelope struct {
	Format     string          `json:"format"`
	ExportedAt time.Time       `json:"exportedAt"`
	Store      json.RawMessage `json:"store"`
}

func invalidImport(msg string, err error) error {
	return &tenant.Error{Code: tenant.CodeInvalidInput, Message: "import rejected: " + msg, Err: err}
}

// Export serializes the whole store for backup.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	body, err := json.Marshal(s.state)
	s.mu.RUnlock()
	if err != nil {
		return nil, tenant.Wrap(err, tenant.CodeUnavailable, "encode export")
	}
	out, err := json.MarshalIndent(exportEnvelope{
		Format:     ExportFormat,
		ExportedAt: s.now(),
		Store:      body,
	}, "", "  ")
	if err != nil {
		return nil, tenant.Wrap(err, tenant.CodeUnavailable, "encode export")
	}
	return out, nil
}

// Import replaces the whole store with a backup produced by Export. The
// backup is fully validated first; on any failure the current state is
// left untouched.
func (s *Store) Import(ctx context.Context, data []byte) (err error) {
	defer func() { s.metrics.StoreWrite("import", err) }()

	next, err := s.decodeImport(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next.UpdatedAt = s.now()
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.state = next
	s.logger.Info("Imported tenant store", "seed", len(next.Seed), "user", len(next.User))
	return nil
}

func (s *Store) decodeImport(data []byte) (*blob, error) {
	var env exportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalidImport("not a backup file", err)
	}
	v, err := semver.NewVersion(env.Format)
	if err != nil {
		return nil, invalidImport(fmt.Sprintf("bad format version %q", env.Format), err)
	}
	if !importConstraint.Check(v) {
		return nil, invalidImport(fmt.Sprintf("unsupported format version %s", v), nil)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Store, &fields); err != nil {
		return nil, invalidImport("store section is not an object", err)
	}
	for _, key := range []string{"schemaVersion", "seed", "user"} {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			return nil, invalidImport(fmt.Sprintf("missing %q", key), nil)
		}
	}

	var lb legacyBlob
	if err := json.Unmarshal(env.Store, &lb); err != nil {
		return nil, invalidImport("malformed store section", err)
	}
	if lb.SchemaVersion > CurrentSchemaVersion || lb.SchemaVersion < 2 {
		return nil, invalidImport(fmt.Sprintf("unsupported schema version %d", lb.SchemaVersion), nil)
	}

	if lb.SchemaVersion < CurrentSchemaVersion {
		b, err := migrateLegacy(&lb, s.catalog(), s.thresholds, s.now())
		if err != nil {
			return nil, invalidImport("backup cannot be upgraded", err)
		}
		return b, nil
	}

	if err := checkPartitions(lb.Seed, lb.User); err != nil {
		return nil, err
	}
	return &blob{SchemaVersion: CurrentSchemaVersion, Seed: lb.Seed, User: lb.User}, nil
}

func checkPartitions(seed, user []tenant.Record) error {
	seen := make(map[string]bool, len(seed)+len(user))
	check := func(part string, records []tenant.Record, origin tenant.Origin) error {
		for _, r := range records {
			if seen[r.ID] {
				return invalidImport(fmt.Sprintf("duplicate tenant id %q", r.ID), nil)
			}
			seen[r.ID] = true
			if r.Origin != origin {
				return invalidImport(fmt.Sprintf("%s tenant %q has origin %q", part, r.ID, r.Origin), nil)
			}
			if r.Metadata == nil {
				return invalidImport(fmt.Sprintf("%s tenant %q has no metadata", part, r.ID), nil)
			}
			if err := r.Validate(); err != nil {
				return invalidImport(fmt.Sprintf("%s tenant %q", part, r.ID), err)
			}
		}
		return nil
	}
	if err := check("seed", seed, tenant.OriginSeed); err != nil {
		return err
	}
	return check("user", user, tenant.OriginUser)
}

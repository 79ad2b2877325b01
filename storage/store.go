// Package storage implements the demo-mode tenant database: a single
// serialized blob in a key-value backend holding an immutable seed partition
// and a mutable user partition, with schema migration on load.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/metrics"
	"github.com/RickySonYH/ecp-ai-k8s-orchestrator-sub001/tenant"
)

// DefaultKey is the storage key holding the serialized store.
const DefaultKey = "ecp-demo-tenants"

// blob is the persisted shape of the store at CurrentSchemaVersion.
type blob struct {
	SchemaVersion int             `json:"schemaVersion"`
	Seed          []tenant.Record `json:"seed"`
	User          []tenant.Record `json:"user"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (b *blob) clone() *blob {
	out := &blob{
		SchemaVersion: b.SchemaVersion,
		Seed:          make([]tenant.Record, len(b.Seed)),
		User:          make([]tenant.Record, len(b.User)),
		UpdatedAt:     b.UpdatedAt,
	}
	for i, r := range b.Seed {
		out.Seed[i] = r.Clone()
	}
	for i, r := range b.User {
		out.User[i] = r.Clone()
	}
	return out
}

func indexOf(records []tenant.Record, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

// Options configures a Store. Zero values select defaults.
type Options struct {
	Key        string
	Catalog    Catalog
	Now        func() time.Time
	Logger     Logger
	Metrics    *metrics.Collectors
	Thresholds *tenant.PresetThresholds
}

// Store is a single-writer versioned tenant database. Reads return copies;
// writes go to a copy of the state that replaces the live state only after
// it has been flushed to the backend.
type Store struct {
	kv         KeyValue
	key        string
	catalog    Catalog
	now        func() time.Time
	logger     Logger
	metrics    *metrics.Collectors
	thresholds tenant.PresetThresholds

	mu    sync.RWMutex
	state *blob
}

// New creates a store over kv. Nothing is read until the first operation or
// an explicit Load.
func New(kv KeyValue, opts Options) *Store {
	s := &Store{
		kv:         kv,
		key:        opts.Key,
		catalog:    opts.Catalog,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		thresholds: tenant.DefaultPresetThresholds(),
	}
	if s.key == "" {
		s.key = DefaultKey
	}
	if s.catalog == nil {
		s.catalog = BuiltInCatalog
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if opts.Thresholds != nil {
		s.thresholds = *opts.Thresholds
	}
	return s
}

// Load reads the persisted blob, creating or migrating it as needed. It is
// called implicitly by every other operation.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	if s.state != nil {
		return nil
	}

	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return tenant.Wrap(err, tenant.CodeUnavailable, "read tenant store")
	}

	if !ok {
		fresh := s.freshBlob()
		if err := s.persist(ctx, fresh); err != nil {
			return err
		}
		s.state = fresh
		s.logger.Info("Initialized tenant store", "seed", len(fresh.Seed), "schemaVersion", fresh.SchemaVersion)
		return nil
	}

	var head struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return tenant.Wrap(err, tenant.CodeMigrationFailed, "tenant store is not valid JSON")
	}

	if head.SchemaVersion == CurrentSchemaVersion {
		var b blob
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return tenant.Wrap(err, tenant.CodeMigrationFailed, "decode tenant store")
		}
		s.state = &b
		s.logger.Debug("Loaded tenant store", "seed", len(b.Seed), "user", len(b.User))
		return nil
	}

	s.logger.Info("Tenant store migration needed", "current", head.SchemaVersion, "target", CurrentSchemaVersion)
	migrated, err := migrate([]byte(raw), s.catalog(), s.thresholds, s.now())
	s.metrics.StoreMigration(err)
	if err != nil {
		s.logger.Error("Tenant store migration failed", "error", err)
		return err
	}
	if err := s.persist(ctx, migrated); err != nil {
		return err
	}
	s.state = migrated
	s.logger.Info("Tenant store migrated", "user", len(migrated.User), "schemaVersion", migrated.SchemaVersion)
	return nil
}

func (s *Store) freshBlob() *blob {
	return &blob{
		SchemaVersion: CurrentSchemaVersion,
		Seed:          s.catalog(),
		User:          []tenant.Record{},
		UpdatedAt:     s.now(),
	}
}

func (s *Store) persist(ctx context.Context, b *blob) error {
	data, err := json.Marshal(b)
	if err != nil {
		return tenant.Wrap(err, tenant.CodeUnavailable, "encode tenant store")
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.logger.Error("Tenant store exceeds storage quota", "bytes", len(data), "error", err)
		}
		return tenant.Wrap(err, tenant.CodeUnavailable, "write tenant store")
	}
	return nil
}

// mutate runs fn against a copy of the state and swaps it in only after the
// copy has been persisted.
func (s *Store) mutate(ctx context.Context, op string, fn func(next *blob) error) (err error) {
	defer func() { s.metrics.StoreWrite(op, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	next := s.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now()
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// List returns seed records followed by user records. The slice is a
// snapshot; later writes do not change it.
func (s *Store) List(ctx context.Context) ([]tenant.Record, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]tenant.Record, 0, len(s.state.Seed)+len(s.state.User))
	for _, r := range s.state.Seed {
		out = append(out, r.Clone())
	}
	for _, r := range s.state.User {
		out = append(out, r.Clone())
	}
	return out, nil
}

// Get returns the record with the given id from either partition.
func (s *Store) Get(ctx context.Context, id string) (tenant.Record, error) {
	if err := s.Load(ctx); err != nil {
		return tenant.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.state.Seed, id); i >= 0 {
		return s.state.Seed[i].Clone(), nil
	}
	if i := indexOf(s.state.User, id); i >= 0 {
		return s.state.User[i].Clone(), nil
	}
	return tenant.Record{}, notFound(id)
}

func notFound(id string) error {
	return tenant.NewError(tenant.CodeNotFound, fmt.Sprintf("tenant %q not found", id))
}

// Create appends a new user record in pending state.
func (s *Store) Create(ctx context.Context, req tenant.CreateRequest) (tenant.Record, error) {
	if err := req.Validate(); err != nil {
		s.metrics.StoreWrite("create", err)
		return tenant.Record{}, err
	}

	var created tenant.Record
	err := s.mutate(ctx, "create", func(next *blob) error {
		if indexOf(next.Seed, req.TenantID) >= 0 || indexOf(next.User, req.TenantID) >= 0 {
			return tenant.NewError(tenant.CodeConflict, fmt.Sprintf("tenant %q already exists", req.TenantID))
		}
		now := s.now()
		created = tenant.Record{
			ID:           req.TenantID,
			Name:         req.Name,
			Preset:       s.thresholds.PresetFor(req.Services),
			Status:       tenant.StatusPending,
			ServiceCount: req.Services.Total(),
			Services:     req.Services,
			CreatedAt:    now,
			Origin:       tenant.OriginUser,
			Metadata:     &tenant.Metadata{LastModified: now, Version: 1},
		}
		next.User = append(next.User, created)
		return nil
	})
	if err != nil {
		return tenant.Record{}, err
	}
	s.logger.Info("Created tenant", "tenant", created.ID, "preset", created.Preset)
	return created.Clone(), nil
}

// Update merges upd into a user record. Seed records reject structural
// edits; use UpdateStatus for them.
func (s *Store) Update(ctx context.Context, id string, upd tenant.Update) (tenant.Record, error) {
	if err := upd.Validate(); err != nil {
		s.metrics.StoreWrite("update", err)
		return tenant.Record{}, err
	}

	var updated tenant.Record
	err := s.mutate(ctx, "update", func(next *blob) error {
		if indexOf(next.Seed, id) >= 0 {
			return tenant.NewError(tenant.CodeForbidden, fmt.Sprintf("cannot modify predefined tenant %q", id))
		}
		i := indexOf(next.User, id)
		if i < 0 {
			return notFound(id)
		}
		upd.Apply(&next.User[i])
		next.User[i].Touch(s.now())
		updated = next.User[i]
		return nil
	})
	if err != nil {
		return tenant.Record{}, err
	}
	return updated.Clone(), nil
}

// UpdateStatus changes only the status of a record. It is the one mutation
// allowed on seed records.
func (s *Store) UpdateStatus(ctx context.Context, id string, status tenant.Status) (tenant.Record, error) {
	return s.setStatus(ctx, id, "", status)
}

// TransitionStatus moves a record from one status to another. If the record
// is not in status from, it returns a Conflict error and writes nothing.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to tenant.Status) (tenant.Record, error) {
	return s.setStatus(ctx, id, from, to)
}

func (s *Store) setStatus(ctx context.Context, id string, from, status tenant.Status) (tenant.Record, error) {
	if !status.Valid() {
		err := tenant.NewError(tenant.CodeInvalidInput, fmt.Sprintf("unknown status %q", status))
		s.metrics.StoreWrite("status", err)
		return tenant.Record{}, err
	}

	var updated tenant.Record
	err := s.mutate(ctx, "status", func(next *blob) error {
		part := next.User
		i := indexOf(part, id)
		if i < 0 {
			part = next.Seed
			i = indexOf(part, id)
		}
		if i < 0 {
			return notFound(id)
		}
		if from != "" && part[i].Status != from {
			return tenant.NewError(tenant.CodeConflict,
				fmt.Sprintf("tenant %s is %s, not %s", id, part[i].Status, from))
		}
		part[i].Status = status
		part[i].Touch(s.now())
		updated = part[i]
		return nil
	})
	if err != nil {
		return tenant.Record{}, err
	}
	return updated.Clone(), nil
}

// Delete permanently removes a user record.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.mutate(ctx, "delete", func(next *blob) error {
		if indexOf(next.Seed, id) >= 0 {
			return tenant.NewError(tenant.CodeForbidden, "cannot delete predefined tenant")
		}
		i := indexOf(next.User, id)
		if i < 0 {
			return notFound(id)
		}
		next.User = append(next.User[:i], next.User[i+1:]...)
		return nil
	})
	if err == nil {
		s.logger.Info("Deleted tenant", "tenant", id)
	}
	return err
}

// Reset drops every user record and regenerates the seed partition. It does
// not read the existing blob, so it also recovers a store whose migration
// failed.
func (s *Store) Reset(ctx context.Context) (err error) {
	defer func() { s.metrics.StoreWrite("reset", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := s.freshBlob()
	if err := s.persist(ctx, fresh); err != nil {
		return err
	}
	s.state = fresh
	s.logger.Warn("Tenant store reset to built-in catalog")
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

// Stats describes the store contents.
type Stats struct {
	SchemaVersion int       `json:"schema_version"`
	SeedCount     int       `json:"seed_count"`
	UserCount     int       `json:"user_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Stats returns partition sizes and the schema version.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := s.Load(ctx); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		SchemaVersion: s.state.SchemaVersion,
		SeedCount:     len(s.state.Seed),
		UserCount:     len(s.state.User),
		UpdatedAt:     s.state.UpdatedAt,
	}, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultMaxValueBytes mirrors the per-origin quota of browser storage.
const DefaultMaxValueBytes = 5 << 20

// ErrQuotaExceeded is returned when a value does not fit the backend quota.
// The previous value is left untouched.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KeyValue is the persistence surface the versioned store needs: a handful
// of string keys holding string values.
type KeyValue interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// Logger interface for storage operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nopLogger struct{}

func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

func checkQuota(limit int, value string) error {
	if limit > 0 && len(value) > limit {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrQuotaExceeded, len(value), limit)
	}
	return nil
}

// MemoryKV keeps values in process memory. Used by tests and throwaway demo
// sessions.
type MemoryKV struct {
	mu       sync.RWMutex
	values   map[string]string
	maxBytes int

	// FailWrites makes every Set fail, simulating a broken disk.
	FailWrites bool
}

// NewMemoryKV creates an empty in-memory backend. maxBytes <= 0 disables
// the quota.
func NewMemoryKV(maxBytes int) *MemoryKV {
	return &MemoryKV{values: make(map[string]string), maxBytes: maxBytes}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	if err := checkQuota(m.maxBytes, value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errors.New("memory kv: writes disabled")
	}
	m.values[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryKV) Close() error { return nil }

// KVConfig selects and configures a backend.
type KVConfig struct {
	// Backend is one of "sqlite", "badger" or "memory".
	Backend string
	// Path is the sqlite file or badger directory. Empty means in-memory.
	Path          string
	MaxValueBytes int
	// SyncWrites fsyncs badger writes. SQLite always syncs on commit.
	SyncWrites bool
	// Logger receives backend diagnostics. Only badger emits any.
	Logger Logger
}

// OpenKV opens the backend named in cfg.
func OpenKV(cfg KVConfig) (KeyValue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "sqlite":
		return NewSQLiteKV(cfg.Path, cfg.MaxValueBytes)
	case "badger":
		return NewBadgerKV(BadgerConfig{
			Path:          cfg.Path,
			InMemory:      cfg.Path == "",
			SyncWrites:    cfg.SyncWrites,
			MaxValueBytes: cfg.MaxValueBytes,
			Logger:        cfg.Logger,
		})
	case "memory":
		return NewMemoryKV(cfg.MaxValueBytes), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Package tenant defines the tenant records managed by the ECP console
// client, the metric snapshots streamed for them, and the error codes shared
// by every backend.
package tenant

import (
	"fmt"
	"time"
)

// Preset is the sizing tier of a tenant. Presets are ordered.
type Preset string

const (
	PresetMicro  Preset = "micro"
	PresetSmall  Preset = "small"
	PresetMedium Preset = "medium"
	PresetLarge  Preset = "large"
)

var presetRank = map[Preset]int{
	PresetMicro:  0,
	PresetSmall:  1,
	PresetMedium: 2,
	PresetLarge:  3,
}

// Presets lists every preset in ascending order.
func Presets() []Preset {
	return []Preset{PresetMicro, PresetSmall, PresetMedium, PresetLarge}
}

// Valid reports whether p is a known preset.
func (p Preset) Valid() bool {
	_, ok := presetRank[p]
	return ok
}

// Less reports whether p is a smaller tier than other.
func (p Preset) Less(other Preset) bool {
	return presetRank[p] < presetRank[other]
}

// Status is the lifecycle state of a tenant deployment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusDeploying Status = "deploying"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusStopped, StatusDeploying, StatusFailed:
		return true
	}
	return false
}

// ParseStatus converts user input into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", NewError(CodeInvalidInput, fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// Origin tells whether a record came from the built-in catalog or was
// created at runtime. Only user-created records are structurally mutable.
type Origin string

const (
	OriginSeed Origin = "seed"
	OriginUser Origin = "user-created"
)

// Metadata tracks mutation history of a record.
type Metadata struct {
	LastModified time.Time `json:"lastModified" validate:"required"`
	// Version starts at 1 and grows by exactly 1 per successful mutation.
	Version int `json:"version" validate:"gte=1"`
}

// ServiceRequirements are the requested instance counts per service kind.
type ServiceRequirements struct {
	Callbot int `json:"callbot" validate:"gte=0,lte=100000"`
	Chatbot int `json:"chatbot" validate:"gte=0,lte=100000"`
	Advisor int `json:"advisor" validate:"gte=0,lte=100000"`
	STT     int `json:"stt" validate:"gte=0,lte=100000"`
	TTS     int `json:"tts" validate:"gte=0,lte=100000"`
}

// Channels is the number of voice channels the requirements imply.
func (r ServiceRequirements) Channels() int {
	return r.Callbot + r.Advisor + r.STT + r.TTS
}

// Users is the number of concurrent chat users the requirements imply.
func (r ServiceRequirements) Users() int {
	return r.Chatbot
}

// Total is the summed instance count across all service kinds.
func (r ServiceRequirements) Total() int {
	return r.Callbot + r.Chatbot + r.Advisor + r.STT + r.TTS
}

// Record is the unit of tenant state.
//
// Name and Services are optional; a missing Name renders as the ID and
// missing Services mean zero requirements. Metadata is nil only for records
// read from a schema that predates it, and is filled in by migration.
type Record struct {
	ID           string              `json:"tenantId" validate:"required,tenantid"`
	Name         string              `json:"name,omitempty" validate:"max=128"`
	Preset       Preset              `json:"preset" validate:"required,oneof=micro small medium large"`
	Status       Status              `json:"status" validate:"required,oneof=pending running stopped deploying failed"`
	ServiceCount int                 `json:"serviceCount" validate:"gte=0"`
	Services     ServiceRequirements `json:"services"`
	CreatedAt    time.Time           `json:"createdAt" validate:"required"`
	Origin       Origin              `json:"origin" validate:"required,oneof=seed user-created"`
	Metadata     *Metadata           `json:"metadata,omitempty"`
}

// DisplayName returns Name, or the ID when no name was given.
func (r Record) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// IsSeed reports whether the record belongs to the built-in catalog.
func (r Record) IsSeed() bool {
	return r.Origin == OriginSeed
}

// Version returns the metadata version, treating missing metadata as 0.
func (r Record) Version() int {
	if r.Metadata == nil {
		return 0
	}
	return r.Metadata.Version
}

// Clone returns a deep copy so callers can never alias store internals.
func (r Record) Clone() Record {
	if r.Metadata != nil {
		md := *r.Metadata
		r.Metadata = &md
	}
	return r
}

// Touch bumps the version and modification time after a mutation.
func (r *Record) Touch(now time.Time) {
	if r.Metadata == nil {
		r.Metadata = &Metadata{LastModified: now, Version: 1}
		return
	}
	r.Metadata.Version++
	r.Metadata.LastModified = now
}

// CreateRequest is the payload for creating a user tenant.
type CreateRequest struct {
	TenantID string              `json:"tenant_id" validate:"required,tenantid"`
	Name     string              `json:"name,omitempty" validate:"max=128"`
	Services ServiceRequirements `json:"service_requirements"`
}

// Update holds the fields a caller wants to change. Nil fields are kept.
type Update struct {
	Name         *string `json:"name,omitempty" validate:"omitempty,max=128"`
	Preset       *Preset `json:"preset,omitempty" validate:"omitempty,oneof=micro small medium large"`
	Status       *Status `json:"status,omitempty" validate:"omitempty,oneof=pending running stopped deploying failed"`
	ServiceCount *int    `json:"service_count,omitempty" validate:"omitempty,gte=0"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Name == nil && u.Preset == nil && u.Status == nil && u.ServiceCount == nil
}

// Apply merges u into r. It does not touch metadata.
func (u Update) Apply(r *Record) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Preset != nil {
		r.Preset = *u.Preset
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.ServiceCount != nil {
		r.ServiceCount = *u.ServiceCount
	}
}

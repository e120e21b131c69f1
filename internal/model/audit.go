package model

import (
	"time"
)

// AuditKind discriminates the three audit event variants. Consumers switch on
// it exhaustively; there is no fourth kind.
type AuditKind string

const (
	KindHTTPRequest  AuditKind = "http_request"
	KindHandler      AuditKind = "handler"
	KindEntityChange AuditKind = "entity_change"
)

// EntityOperation is the mutation type recorded on an entity change.
type EntityOperation string

const (
	OpCreate EntityOperation = "create"
	OpUpdate EntityOperation = "update"
	OpDelete EntityOperation = "delete"
)

// AuditEvent is a tagged union over the three event kinds. All events sharing
// a CorrelationID belong to one logical operation; handler and entity events
// always hang off an http_request root (or a synthetic job root of the same
// shape). Events are append-only and never mutated after CompleteRequest has
// stamped the root.
type AuditEvent struct {
	ID            string    `json:"id" db:"id"`
	Kind          AuditKind `json:"kind" db:"kind"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	TenantID      string    `json:"tenant_id,omitempty" db:"tenant_id"`
	Actor         string    `json:"actor,omitempty" db:"actor"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`

	// http_request fields
	Method       string `json:"method,omitempty" db:"method"`
	Path         string `json:"path,omitempty" db:"path"`
	StatusCode   int    `json:"status_code,omitempty" db:"status_code"`
	DurationMs   int64  `json:"duration_ms,omitempty" db:"duration_ms"`
	HandlerCount int    `json:"handler_count,omitempty" db:"handler_count"`
	EntityCount  int    `json:"entity_count,omitempty" db:"entity_count"`

	// handler fields
	HandlerName string `json:"handler_name,omitempty" db:"handler_name"`
	Success     bool   `json:"success,omitempty" db:"success"`
	ErrorDetail string `json:"error_detail,omitempty" db:"error_detail"`

	// entity_change fields
	EntityType string          `json:"entity_type,omitempty" db:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty" db:"entity_id"`
	Operation  EntityOperation `json:"operation,omitempty" db:"operation"`
	Diff       string          `json:"diff,omitempty" db:"diff"` // JSON before/after payload
	Version    int             `json:"version,omitempty" db:"version"`
}

// AuditTrail is the reconstructed two-level tree for one correlation id.
type AuditTrail struct {
	CorrelationID string       `json:"correlation_id"`
	Request       *AuditEvent  `json:"request"`
	Handlers      []AuditEvent `json:"handlers"`
	EntityChanges []AuditEvent `json:"entity_changes"`
}

// RetentionPolicy governs purge eligibility of audit events for a tenant,
// optionally narrowed to one entity type. Enforcement is a scheduled caller of
// the recorder's deletion contract.
type RetentionPolicy struct {
	ID               string    `json:"id" db:"id"`
	TenantID         string    `json:"tenant_id" db:"tenant_id"`
	EntityType       string    `json:"entity_type,omitempty" db:"entity_type"` // empty = all
	RetentionDays    int       `json:"retention_days" db:"retention_days"`
	CompliancePreset string    `json:"compliance_preset,omitempty" db:"compliance_preset"`
	Active           bool      `json:"active" db:"active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// CompliancePreset is a named regulatory retention profile.
type CompliancePreset struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	RetentionDays int    `json:"retention_days"`
}

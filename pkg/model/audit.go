package model

import "time"

// AuditEventType identifies the type of auditable event.
type AuditEventType string

const (
	EventTypeCopy          AuditEventType = "copy"
	EventTypeLiveMigration AuditEventType = "live_migration"
)

// HashValue is a hex-encoded SHA-256 digest.
type HashValue string

// AuditRecord is a single line in the audit log (JSONL format).
type AuditRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	EventType  AuditEventType `json:"event_type"`
	Scenario   string         `json:"scenario"`
	SourceKey  string         `json:"source,omitempty"`
	DestKey    string         `json:"dest,omitempty"`
	Success    bool           `json:"success"`
	Message    string         `json:"message,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Details    map[string]any `json:"details,omitempty"`
	PrevHash   HashValue      `json:"prev_hash"`
	RecordHash HashValue      `json:"record_hash"`
}

package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role events
	EventTypeRoleCreate        EventType = "role.create"
	EventTypeRoleUpdate        EventType = "role.update"
	EventTypeRoleDelete        EventType = "role.delete"
	EventTypeRoleGrantsReplace EventType = "role.grants_replace"
	EventTypeRoleGrantsAdd     EventType = "role.grants_add"
	EventTypeRoleGrantDelete   EventType = "role.grant_delete"

	// Resource registry events
	EventTypeResourceCreate EventType = "resource.create"
	EventTypeResourceDelete EventType = "resource.delete"
	EventTypeResourceSeed   EventType = "resource.seed"

	// Authentication and authorization events
	EventTypeAuthTokenIssue    EventType = "auth.token_issue"
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of entity an event is about
type ResourceType string

const (
	ResourceTypeRole     ResourceType = "role"
	ResourceTypeResource ResourceType = "resource"
	ResourceTypeToken    ResourceType = "token"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID string `json:"user_id,omitempty"`
	RoleID string `json:"role_id,omitempty"`

	// Subject
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Before/after snapshots for mutations
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range; EndTime is exclusive
	StartTime *time.Time
	EndTime   *time.Time

	UserID     string
	EventTypes []EventType
	Status     EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int

	// Ascending returns the oldest events first
	Ascending bool
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// ParseExportFormat validates an export format name
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// RetentionPolicy defines how long audit logs are kept in the database
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep audit logs
	RetentionDays int

	// ArchiveEnabled uploads expired events to object storage before pruning
	ArchiveEnabled bool

	// ArchivePrefix is the object key prefix for archives
	ArchivePrefix string

	// CompressArchive gzips archive objects
	CompressArchive bool
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:   90,
		ArchiveEnabled:  true,
		ArchivePrefix:   "audit",
		CompressArchive: true,
	}
}

// Cutoff returns the instant before which events are expired
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}

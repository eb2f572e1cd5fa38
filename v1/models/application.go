package models

import (
	"time"
)

// Application represents one student submission of a given form type,
// together with its review state. Field values are an open JSONB map whose
// valid keys are determined by the form type; per-role remarks are kept
// alongside so a rejection reason can be shown verbatim to the student.
type Application struct {
	// ApplicationID is the unique identifier for the application
	ApplicationID string `gorm:"column:application_id;type:varchar(64);primaryKey" json:"application_id"`
	// FormType is the form this application was submitted against (immutable)
	FormType string `gorm:"column:form_type;type:varchar(16);not null;index:idx_applications_form_type" json:"form_type"`
	// OwnerID is the submitting student's identity (immutable)
	OwnerID string `gorm:"column:owner_id;type:varchar(255);not null;index:idx_applications_owner_id" json:"owner_id"`
	// Status is the review status: pending, under_review, approved, rejected.
	// Mutated only through the state machine.
	Status string `gorm:"column:status;type:varchar(32);not null;index:idx_applications_status" json:"status"`
	// Fields is the open mapping from field name to value (keys validated
	// against the form catalog)
	Fields map[string]any `gorm:"column:fields;type:jsonb;serializer:json" json:"fields"`
	// Remarks maps a reviewing role to its free-text remark
	Remarks map[string]string `gorm:"column:remarks;type:jsonb;serializer:json" json:"remarks"`
	// Version is the optimistic-concurrency counter; every successful save
	// increments it and a stale save is rejected as a conflict
	Version int64 `gorm:"column:version;not null;default:1" json:"version"`
	// CreatedAt is the timestamp when the application was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	// UpdatedAt is the timestamp when the application was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	// Attachments are the stored files across all slots, ordered within
	// each slot by Position
	Attachments []Attachment `gorm:"foreignKey:ApplicationID;references:ApplicationID;constraint:OnDelete:CASCADE" json:"attachments"`
}

// TableName specifies the table name for GORM
func (*Application) TableName() string {
	return "applications"
}

// AttachmentsBySlot groups the application's attachments by slot name,
// preserving per-slot order.
func (a *Application) AttachmentsBySlot() map[string][]Attachment {
	out := make(map[string][]Attachment)
	for _, att := range a.Attachments {
		out[att.Slot] = append(out[att.Slot], att)
	}
	return out
}

// Attachment represents one stored file in a named slot. Records are
// immutable after creation; removal happens only through reconciliation
// or a cascade delete of the owning application.
type Attachment struct {
	// AttachmentID is the unique identifier minted at store time
	AttachmentID string `gorm:"column:attachment_id;type:varchar(64);primaryKey" json:"attachment_id"`
	// ApplicationID is the owning application
	ApplicationID string `gorm:"column:application_id;type:varchar(64);not null;index:idx_attachments_application_id" json:"application_id"`
	// Slot is the named attachment slot this file belongs to
	Slot string `gorm:"column:slot;type:varchar(64);not null" json:"slot"`
	// OriginalName is the client-supplied file name
	OriginalName string `gorm:"column:original_name;type:varchar(512);not null" json:"original_name"`
	// MimeType is the declared content type
	MimeType string `gorm:"column:mime_type;type:varchar(128);not null" json:"mime_type"`
	// SizeBytes is the stored size
	SizeBytes int64 `gorm:"column:size_bytes;not null" json:"size_bytes"`
	// StorageRef is the opaque handle used by the attachment store; the
	// engine never inspects file bytes beyond size/mime metadata
	StorageRef string `gorm:"column:storage_ref;type:varchar(512);not null" json:"-"`
	// Position is the order of the file within its slot
	Position int `gorm:"column:position;not null" json:"position"`
	// CreatedAt is the timestamp when the file was stored
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName specifies the table name for GORM
func (*Attachment) TableName() string {
	return "attachments"
}

package models

// Actor identifies who is making a request. Identity and role are always
// passed explicitly into the engines; nothing is read from ambient state.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Upload is one byte-backed file submitted in a request.
type Upload struct {
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Content   []byte `json:"-"`
}

// AttachmentDelta is the client-declared change set for one slot:
// new files, an explicit keep-list and an explicit remove-list.
type AttachmentDelta struct {
	Uploads   []Upload `json:"uploads,omitempty"`
	KeepIDs   []string `json:"keep_ids,omitempty"`
	RemoveIDs []string `json:"remove_ids,omitempty"`
}

// StatusDelta requests a status transition as part of a submission.
type StatusDelta struct {
	Target Status `json:"target"`
	Remark string `json:"remark,omitempty"`
}

// SubmissionRequest is the single inbound payload for create and update.
// ApplicationID is empty on create.
type SubmissionRequest struct {
	ApplicationID string                     `json:"application_id,omitempty"`
	FormType      FormType                   `json:"form_type,omitempty"`
	FieldDelta    map[string]any             `json:"fields,omitempty"`
	Attachments   map[string]AttachmentDelta `json:"attachments,omitempty"`
	Status        *StatusDelta               `json:"status,omitempty"`
}

// FieldRejection reports one field of the delta that was not written.
type FieldRejection struct {
	Field  string     `json:"field"`
	Reason ReasonCode `json:"reason"`
}

// FileRejection reports one file (or a whole slot) that was not accepted.
type FileRejection struct {
	FileName string     `json:"file_name,omitempty"`
	Reason   ReasonCode `json:"reason"`
}

// SlotResult is the per-slot outcome of attachment reconciliation.
// Removed lists the attachments displaced from the committed set; their
// blobs are deleted only after the committed set is durably saved, so a
// failed save never leaves a committed row pointing at a missing blob.
type SlotResult struct {
	Accepted   []Attachment    `json:"accepted"`
	Rejections []FileRejection `json:"rejections,omitempty"`
	Removed    []Attachment    `json:"-"`
}

// StatusResult reports the outcome of a requested status transition.
type StatusResult struct {
	Accepted  bool       `json:"accepted"`
	NewStatus Status     `json:"new_status"`
	Reason    ReasonCode `json:"reason,omitempty"`
}

// SubmissionResult tells the caller exactly which parts of a submission
// were applied. A partially-successful submission is normal: rejected
// fields and files are itemized, never collapsed into a generic failure.
type SubmissionResult struct {
	ApplicationID     string                `json:"application_id"`
	PersistedFields   map[string]any        `json:"persisted_fields"`
	RejectedFields    []FieldRejection      `json:"rejected_fields,omitempty"`
	AttachmentResults map[string]SlotResult `json:"attachment_results,omitempty"`
	StatusResult      *StatusResult         `json:"status_result,omitempty"`
	Conflict          bool                  `json:"conflict,omitempty"`
}

// NotificationEvent is delivered to the application owner after an
// accepted status transition. Delivery is best-effort.
type NotificationEvent struct {
	ApplicationID string `json:"application_id"`
	NewStatus     Status `json:"new_status"`
	Remark        string `json:"remark,omitempty"`
	ByRole        Role   `json:"by_role"`
}

// ApplicationResponse is the API view of an application.
type ApplicationResponse struct {
	ApplicationID string                  `json:"application_id"`
	FormType      string                  `json:"form_type"`
	OwnerID       string                  `json:"owner_id"`
	Status        string                  `json:"status"`
	Fields        map[string]any          `json:"fields"`
	Remarks       map[string]string       `json:"remarks,omitempty"`
	Attachments   map[string][]Attachment `json:"attachments,omitempty"`
	Version       int64                   `json:"version"`
	CreatedAt     string                  `json:"created_at"`
	UpdatedAt     string                  `json:"updated_at"`
}

package services

import (
	"github.com/campus-dx/grant-engine/v1/forms"
	"github.com/campus-dx/grant-engine/v1/models"
)

// PermissionEngine decides whether a role may write a field while an
// application is in a given status. It is a pure lookup against the
// form's field-editability table with two universal rules layered on
// top: admin is authorized for every field, and the status field is
// never writable through this path (status changes go through the state
// machine, because they change the entitlement of every other field).
type PermissionEngine struct {
	form *forms.FormDefinition
}

// NewPermissionEngine creates a permission engine for one form type.
func NewPermissionEngine(form *forms.FormDefinition) *PermissionEngine {
	return &PermissionEngine{form: form}
}

// statusFieldName is reserved: writes to it never pass the field path.
const statusFieldName = "status"

// Authorize reports whether the role may write the named field while the
// application is in the given status. The status passed here must be the
// server-persisted status, never one taken from the request body.
func (p *PermissionEngine) Authorize(role models.Role, status models.Status, field string) bool {
	if field == statusFieldName {
		return false
	}
	if role == models.RoleAdmin {
		return true
	}
	for _, writable := range p.form.WritableFields(role, status) {
		if writable == field {
			return true
		}
	}
	return false
}

// FilterWritable splits a field delta into the writes the role is
// entitled to and the itemized rejections for everything else. Unknown
// field names are rejected even for admin: admin bypasses authorization,
// not the form's field catalog.
func (p *PermissionEngine) FilterWritable(role models.Role, status models.Status, delta map[string]any) (map[string]any, []models.FieldRejection) {
	accepted := make(map[string]any, len(delta))
	var rejected []models.FieldRejection

	for field, value := range delta {
		if field != statusFieldName && !p.form.HasField(field) {
			rejected = append(rejected, models.FieldRejection{Field: field, Reason: models.ReasonUnknownField})
			continue
		}
		if !p.Authorize(role, status, field) {
			rejected = append(rejected, models.FieldRejection{Field: field, Reason: models.ReasonNotAuthorized})
			continue
		}
		accepted[field] = value
	}
	return accepted, rejected
}

package models

// FormType identifies one of the closed set of application form types.
type FormType string

const (
	FormUG1  FormType = "UG1"
	FormUG2  FormType = "UG2"
	FormUG3A FormType = "UG3A"
	FormUG3B FormType = "UG3B"
	FormPG1  FormType = "PG1"
	FormPG2A FormType = "PG2A"
	FormPG2B FormType = "PG2B"
	FormR1   FormType = "R1"
)

// Status represents the review status of an application.
type Status string

const (
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s
// (except by an admin).
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Role identifies an actor in the review chain.
type Role string

const (
	RoleStudent     Role = "student"
	RoleGuide       Role = "guide"
	RoleHOD         Role = "hod"
	RoleCoordinator Role = "coordinator"
	RolePrincipal   Role = "principal"
	RoleAdmin       Role = "admin"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleGuide, RoleHOD, RoleCoordinator, RolePrincipal, RoleAdmin:
		return true
	}
	return false
}

// IsReviewer reports whether the role participates in the review chain.
// Students submit; reviewers decide.
func (r Role) IsReviewer() bool {
	switch r {
	case RoleGuide, RoleHOD, RoleCoordinator, RolePrincipal, RoleAdmin:
		return true
	}
	return false
}

// ReasonCode classifies why a field, file, slot or transition was rejected.
type ReasonCode string

const (
	// Field rejections
	ReasonNotAuthorized ReasonCode = "NOT_AUTHORIZED"
	ReasonUnknownField  ReasonCode = "UNKNOWN_FIELD"

	// Attachment rejections
	ReasonTypeRejected         ReasonCode = "TYPE_REJECTED"
	ReasonSizeExceeded         ReasonCode = "SIZE_EXCEEDED"
	ReasonCardinalityExceeded  ReasonCode = "CARDINALITY_EXCEEDED"
	ReasonExclusivityViolation ReasonCode = "EXCLUSIVITY_VIOLATION"
	ReasonUnknownFileID        ReasonCode = "UNKNOWN_FILE_ID"
	ReasonUnknownSlot          ReasonCode = "UNKNOWN_SLOT"
	ReasonStorageError         ReasonCode = "STORAGE_ERROR"

	// Transition rejections
	ReasonInvalidTransition ReasonCode = "INVALID_TRANSITION"
	ReasonRemarkRequired    ReasonCode = "REMARK_REQUIRED"

	// Whole-request failures
	ReasonConflict         ReasonCode = "CONFLICT"
	ReasonPersistenceError ReasonCode = "PERSISTENCE_ERROR"
)

// ErrorCode is a machine-readable API error code returned to HTTP clients.
type ErrorCode string

const (
	ErrorCodeBadRequest          ErrorCode = "BAD_REQUEST"
	ErrorCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrorCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrorCodeConflict            ErrorCode = "CONFLICT"
	ErrorCodeMethodNotAllowed    ErrorCode = "METHOD_NOT_ALLOWED"
	ErrorCodeInternalError       ErrorCode = "INTERNAL_ERROR"
	ErrorCodeUnsupportedFormType ErrorCode = "UNSUPPORTED_FORM_TYPE"
)

// Log operations
const (
	OpCreateApplication = "create application"
	OpUpdateApplication = "update application"
	OpGetApplication    = "get application"
	OpListApplications  = "list applications"
	OpReconcileSlot     = "reconcile attachment slot"
	OpTransitionStatus  = "transition status"
	OpNotifyOwner       = "notify owner"
)

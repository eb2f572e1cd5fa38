package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/campus-dx/grant-engine/pkg/monitoring"
	"github.com/campus-dx/grant-engine/v1/middleware"
	"github.com/campus-dx/grant-engine/v1/models"
	"github.com/campus-dx/grant-engine/v1/services"
)

// maxMultipartMemory bounds the in-memory portion of multipart parsing.
// Larger file parts spill to temp files.
const maxMultipartMemory = 64 << 20

// ApplicationHandler serves the application submission API.
type ApplicationHandler struct {
	service *services.SubmissionService
}

// NewApplicationHandler creates a new application handler.
func NewApplicationHandler(service *services.SubmissionService) *ApplicationHandler {
	return &ApplicationHandler{service: service}
}

// HealthCheck handles GET /api/v1/health
func (h *ApplicationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Submit handles POST /api/v1/applications
// Creates a new application from a JSON or multipart submission.
func (h *ApplicationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := parseSubmissionRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	// Create only: the path carries no id, so none may be smuggled in the body.
	req.ApplicationID = ""

	h.handleSubmission(w, r, "create", req)
}

// Update handles PATCH /api/v1/applications/{applicationId}
// Applies a field, attachment and status delta to an existing application.
func (h *ApplicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		respondWithError(w, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
		return
	}

	applicationID := r.PathValue("applicationId")
	if applicationID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "applicationId is required")
		return
	}

	req, err := parseSubmissionRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	req.ApplicationID = applicationID

	h.handleSubmission(w, r, "update", req)
}

func (h *ApplicationHandler) handleSubmission(w http.ResponseWriter, r *http.Request, action string, req models.SubmissionRequest) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Actor not found in request context")
		return
	}

	monitoring.SubmissionInFlightAdd(r.Context(), 1)
	defer monitoring.SubmissionInFlightAdd(r.Context(), -1)

	result, err := h.service.SubmitOrUpdate(r.Context(), actor, req)
	if err != nil {
		monitoring.RecordSubmission(r.Context(), action, false)
		if r.Context().Err() != nil {
			slog.Warn("Request context cancelled during submission", "error", r.Context().Err())
			respondWithError(w, http.StatusRequestTimeout, models.ErrorCodeInternalError, "Request timeout or cancelled")
			return
		}
		switch {
		case errors.Is(err, models.ErrApplicationNotFound):
			respondWithError(w, http.StatusNotFound, models.ErrorCodeNotFound, "Application not found")
		case errors.Is(err, models.ErrNotOwner):
			respondWithError(w, http.StatusForbidden, models.ErrorCodeForbidden, "Application belongs to a different student")
		case errors.Is(err, models.ErrUnknownFormType):
			respondWithError(w, http.StatusBadRequest, models.ErrorCodeUnsupportedFormType, "Unsupported form type")
		case errors.Is(err, models.ErrMalformedRequest):
			respondWithError(w, http.StatusForbidden, models.ErrorCodeForbidden, err.Error())
		default:
			slog.Error("Submission failed", "error", err, "action", action)
			respondWithError(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "An unexpected error occurred")
		}
		return
	}

	if result.Conflict {
		monitoring.RecordSubmission(r.Context(), action, false)
		respondWithJSON(w, http.StatusConflict, result)
		return
	}

	monitoring.RecordSubmission(r.Context(), action, true)

	statusCode := http.StatusOK
	if action == "create" {
		statusCode = http.StatusCreated
	}
	respondWithJSON(w, statusCode, result)
}

// Get handles GET /api/v1/applications/{applicationId}
func (h *ApplicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
		return
	}

	applicationID := r.PathValue("applicationId")
	if applicationID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "applicationId is required")
		return
	}

	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Actor not found in request context")
		return
	}

	app, err := h.service.GetApplication(r.Context(), actor, applicationID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrApplicationNotFound):
			respondWithError(w, http.StatusNotFound, models.ErrorCodeNotFound, "Application not found")
		case errors.Is(err, models.ErrNotOwner):
			respondWithError(w, http.StatusForbidden, models.ErrorCodeForbidden, "Application belongs to a different student")
		default:
			slog.Error("Failed to get application", "error", err)
			respondWithError(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "An unexpected error occurred")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, app)
}

// List handles GET /api/v1/applications
// Reviewers may filter by owner_id and status; students always see only
// their own applications.
func (h *ApplicationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
		return
	}

	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Actor not found in request context")
		return
	}

	var ownerID *string
	if v := r.URL.Query().Get("owner_id"); v != "" {
		ownerID = &v
	}
	var status *models.Status
	if v := r.URL.Query().Get("status"); v != "" {
		s := models.Status(v)
		status = &s
	}

	apps, err := h.service.ListApplications(r.Context(), actor, ownerID, status)
	if err != nil {
		slog.Error("Failed to list applications", "error", err)
		respondWithError(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "An unexpected error occurred")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"applications": apps,
		"count":        len(apps),
	})
}

// Delete handles DELETE /api/v1/applications/{applicationId}
// Admin only; cascades attachment rows and stored blobs.
func (h *ApplicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondWithError(w, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
		return
	}

	applicationID := r.PathValue("applicationId")
	if applicationID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "applicationId is required")
		return
	}

	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Actor not found in request context")
		return
	}

	if err := h.service.DeleteApplication(r.Context(), actor, applicationID); err != nil {
		switch {
		case errors.Is(err, models.ErrApplicationNotFound):
			respondWithError(w, http.StatusNotFound, models.ErrorCodeNotFound, "Application not found")
		case errors.Is(err, models.ErrMalformedRequest):
			respondWithError(w, http.StatusForbidden, models.ErrorCodeForbidden, "Only admin may delete applications")
		default:
			slog.Error("Failed to delete application", "error", err)
			respondWithError(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "An unexpected error occurred")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Application deleted"})
}

// DownloadAttachment handles GET /api/v1/attachments/{attachmentId}
// Streams the stored file back with its original name and type.
func (h *ApplicationHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, models.ErrorCodeMethodNotAllowed, "Method not allowed")
		return
	}

	attachmentID := r.PathValue("attachmentId")
	if attachmentID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "attachmentId is required")
		return
	}

	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Actor not found in request context")
		return
	}

	att, content, err := h.service.OpenAttachment(r.Context(), actor, attachmentID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAttachmentNotFound), errors.Is(err, models.ErrApplicationNotFound):
			respondWithError(w, http.StatusNotFound, models.ErrorCodeNotFound, "Attachment not found")
		case errors.Is(err, models.ErrNotOwner):
			respondWithError(w, http.StatusForbidden, models.ErrorCodeForbidden, "Attachment belongs to a different student")
		default:
			slog.Error("Failed to open attachment", "error", err)
			respondWithError(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "An unexpected error occurred")
		}
		return
	}

	w.Header().Set("Content-Type", att.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.OriginalName}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		slog.Warn("Failed to stream attachment", "attachment_id", attachmentID, "error", err)
	}
}

// parseSubmissionRequest decodes a submission from either a JSON body or a
// multipart form. Multipart requests carry the JSON delta in a "payload"
// part, file uploads in parts named "slot.<name>", and keep/remove lists in
// values named "keep.<name>" and "remove.<name>".
func parseSubmissionRequest(r *http.Request) (models.SubmissionRequest, error) {
	var req models.SubmissionRequest

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return req, fmt.Errorf("invalid content type: %w", err)
	}

	if contentType != "multipart/form-data" {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON: %w", err)
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return req, fmt.Errorf("invalid multipart form: %w", err)
	}

	if payload := r.FormValue("payload"); payload != "" {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return req, fmt.Errorf("invalid payload JSON: %w", err)
		}
	}
	if req.Attachments == nil {
		req.Attachments = make(map[string]models.AttachmentDelta)
	}

	for key, fileHeaders := range r.MultipartForm.File {
		slotName, ok := strings.CutPrefix(key, "slot.")
		if !ok {
			continue
		}
		delta := req.Attachments[slotName]
		for _, fh := range fileHeaders {
			file, err := fh.Open()
			if err != nil {
				return req, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
			}
			content, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				return req, fmt.Errorf("failed to read upload %q: %w", fh.Filename, err)
			}
			delta.Uploads = append(delta.Uploads, models.Upload{
				FileName:  fh.Filename,
				MimeType:  fh.Header.Get("Content-Type"),
				SizeBytes: fh.Size,
				Content:   content,
			})
		}
		req.Attachments[slotName] = delta
	}

	for key, values := range r.MultipartForm.Value {
		if slotName, ok := strings.CutPrefix(key, "keep."); ok {
			delta := req.Attachments[slotName]
			delta.KeepIDs = append(delta.KeepIDs, values...)
			req.Attachments[slotName] = delta
		}
		if slotName, ok := strings.CutPrefix(key, "remove."); ok {
			delta := req.Attachments[slotName]
			delta.RemoveIDs = append(delta.RemoveIDs, values...)
			req.Attachments[slotName] = delta
		}
	}

	if len(req.Attachments) == 0 {
		req.Attachments = nil
	}

	return req, nil
}

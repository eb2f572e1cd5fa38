package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campus-dx/grant-engine/pkg/monitoring"
	"github.com/campus-dx/grant-engine/v1/forms"
	"github.com/campus-dx/grant-engine/v1/models"
)

// SubmissionService is the single entry point for create and update
// submissions. It wires the permission engine, the attachment reconcile
// engine and the state machine over one gorm-backed persistence layer,
// and returns an itemized result so the caller always knows exactly
// which fields and files were not applied.
type SubmissionService struct {
	db        *gorm.DB
	reconcile *ReconcileEngine
	machine   *StateMachine
	sink      NotificationSink
}

// NewSubmissionService creates a submission service.
func NewSubmissionService(db *gorm.DB, store AttachmentStore, sink NotificationSink) *SubmissionService {
	return &SubmissionService{
		db:        db,
		reconcile: NewReconcileEngine(store),
		machine:   NewStateMachine(),
		sink:      sink,
	}
}

// SubmitOrUpdate processes one submission. With an empty ApplicationID a
// new application is created; otherwise the identified application is
// updated under the optimistic-concurrency guard. Field- and file-level
// rejections are collected into the result; only a version conflict or a
// malformed request aborts the whole submission with nothing persisted.
func (s *SubmissionService) SubmitOrUpdate(ctx context.Context, actor models.Actor, req models.SubmissionRequest) (*models.SubmissionResult, error) {
	if req.ApplicationID == "" {
		return s.create(ctx, actor, req)
	}
	return s.update(ctx, actor, req)
}

func (s *SubmissionService) create(ctx context.Context, actor models.Actor, req models.SubmissionRequest) (*models.SubmissionResult, error) {
	form, ok := forms.Lookup(req.FormType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownFormType, req.FormType)
	}
	if actor.Role != models.RoleStudent && actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: role %q may not create applications", models.ErrMalformedRequest, actor.Role)
	}

	app := &models.Application{
		ApplicationID: fmt.Sprintf("app_%s", uuid.New().String()),
		FormType:      string(req.FormType),
		OwnerID:       actor.ID,
		Status:        string(models.StatusPending),
		Fields:        make(map[string]any),
		Remarks:       make(map[string]string),
		Version:       1,
	}

	result := &models.SubmissionResult{
		ApplicationID:   app.ApplicationID,
		PersistedFields: make(map[string]any),
	}

	perm := NewPermissionEngine(form)
	accepted, rejected := perm.FilterWritable(actor.Role, models.StatusPending, req.FieldDelta)
	for k, v := range accepted {
		app.Fields[k] = v
		result.PersistedFields[k] = v
	}
	result.RejectedFields = rejected
	recordFieldRejections(ctx, rejected)

	result.AttachmentResults = s.reconcileSlots(ctx, actor, form, app, models.StatusPending, req.Attachments)
	for _, slotResult := range result.AttachmentResults {
		app.Attachments = append(app.Attachments, slotResult.Accepted...)
	}

	var event *models.NotificationEvent
	if req.Status != nil {
		var statusResult models.StatusResult
		statusResult, event = s.machine.Transition(actor.Role, app, req.Status.Target, req.Status.Remark)
		result.StatusResult = &statusResult
		monitoring.RecordTransition(ctx, string(req.Status.Target), statusResult.Accepted)
	}

	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(app).Error; err != nil {
			return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
		}
		return nil
	})
	monitoring.RecordDBLatency(ctx, "create_application", time.Since(start))
	if err != nil {
		return nil, err
	}

	slog.Info("Created application",
		"operation", models.OpCreateApplication,
		"application_id", app.ApplicationID,
		"form_type", app.FormType,
		"owner_id", app.OwnerID)

	s.emit(ctx, app.OwnerID, event)
	return result, nil
}

func (s *SubmissionService) update(ctx context.Context, actor models.Actor, req models.SubmissionRequest) (*models.SubmissionResult, error) {
	var app models.Application
	err := s.db.WithContext(ctx).Preload("Attachments", func(db *gorm.DB) *gorm.DB {
		return db.Order("slot, position")
	}).First(&app, "application_id = ?", req.ApplicationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrApplicationNotFound, req.ApplicationID)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}
	if actor.Role == models.RoleStudent && app.OwnerID != actor.ID {
		return nil, fmt.Errorf("%w: %s", models.ErrNotOwner, req.ApplicationID)
	}

	form, ok := forms.Lookup(models.FormType(app.FormType))
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownFormType, app.FormType)
	}

	// All authorization below uses the persisted status, never anything
	// asserted in the request body.
	persistedStatus := models.Status(app.Status)
	expectedVersion := app.Version

	result := &models.SubmissionResult{
		ApplicationID:   app.ApplicationID,
		PersistedFields: make(map[string]any),
	}

	perm := NewPermissionEngine(form)
	accepted, rejected := perm.FilterWritable(actor.Role, persistedStatus, req.FieldDelta)
	if app.Fields == nil {
		app.Fields = make(map[string]any)
	}
	for k, v := range accepted {
		app.Fields[k] = v
		result.PersistedFields[k] = v
	}
	result.RejectedFields = rejected
	recordFieldRejections(ctx, rejected)

	result.AttachmentResults = s.reconcileSlots(ctx, actor, form, &app, persistedStatus, req.Attachments)

	var event *models.NotificationEvent
	if req.Status != nil {
		var statusResult models.StatusResult
		statusResult, event = s.machine.Transition(actor.Role, &app, req.Status.Target, req.Status.Remark)
		result.StatusResult = &statusResult
		monitoring.RecordTransition(ctx, string(req.Status.Target), statusResult.Accepted)
	}

	err = s.save(ctx, &app, expectedVersion, result.AttachmentResults)
	if errors.Is(err, models.ErrConflict) {
		// The whole request is void: report the conflict and nothing else,
		// the client must re-fetch and resubmit. Displaced blobs are kept
		// because their rows stay committed; only blobs stored for this
		// request are orphaned.
		return &models.SubmissionResult{ApplicationID: app.ApplicationID, Conflict: true}, nil
	}
	if err != nil {
		return nil, err
	}

	s.deleteRemovedBlobs(ctx, app.ApplicationID, result.AttachmentResults)

	slog.Info("Updated application",
		"operation", models.OpUpdateApplication,
		"application_id", app.ApplicationID,
		"actor_role", actor.Role,
		"status", app.Status)

	s.emit(ctx, app.OwnerID, event)
	return result, nil
}

// reconcileSlots runs the reconcile engine per named slot. Slots resolve
// independently: one slot's fatal violation never blocks another. Only
// the owning student while pending (or admin at any point) may mutate
// attachments.
func (s *SubmissionService) reconcileSlots(ctx context.Context, actor models.Actor, form *forms.FormDefinition, app *models.Application, persistedStatus models.Status, deltas map[string]models.AttachmentDelta) map[string]models.SlotResult {
	if len(deltas) == 0 {
		return nil
	}

	previousBySlot := app.AttachmentsBySlot()
	results := make(map[string]models.SlotResult, len(deltas))

	for slotName, delta := range deltas {
		slot, ok := form.Slot(slotName)
		if !ok {
			results[slotName] = models.SlotResult{
				Rejections: []models.FileRejection{{Reason: models.ReasonUnknownSlot}},
			}
			continue
		}
		if actor.Role != models.RoleAdmin && (actor.Role != models.RoleStudent || persistedStatus != models.StatusPending) {
			results[slotName] = models.SlotResult{
				Accepted:   previousBySlot[slotName],
				Rejections: []models.FileRejection{{Reason: models.ReasonNotAuthorized}},
			}
			continue
		}
		start := time.Now()
		slotResult := s.reconcile.Reconcile(ctx, app.ApplicationID, slot, previousBySlot[slotName], delta)
		monitoring.RecordReconcileDuration(ctx, slotName, time.Since(start))
		for _, rej := range slotResult.Rejections {
			monitoring.RecordRejection(ctx, "file", string(rej.Reason))
		}
		results[slotName] = slotResult
	}
	return results
}

func recordFieldRejections(ctx context.Context, rejected []models.FieldRejection) {
	for _, rej := range rejected {
		monitoring.RecordRejection(ctx, "field", string(rej.Reason))
	}
}

// save persists the application guarded by the version observed at read
// time. A stale version means a concurrent reviewer already changed the
// application; the save is rejected as a conflict instead of silently
// overwriting their decision.
func (s *SubmissionService) save(ctx context.Context, app *models.Application, expectedVersion int64, slotResults map[string]models.SlotResult) error {
	app.Version = expectedVersion + 1
	app.UpdatedAt = time.Now().UTC()

	start := time.Now()
	defer func() {
		monitoring.RecordDBLatency(ctx, "save_application", time.Since(start))
	}()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Application{}).
			Where("application_id = ? AND version = ?", app.ApplicationID, expectedVersion).
			Select("fields", "remarks", "status", "version", "updated_at").
			Updates(app)
		if res.Error != nil {
			return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrConflict
		}

		// Rewrite attachment rows for every reconciled slot with the new
		// committed set.
		for slotName, slotResult := range slotResults {
			if isSlotUntouched(slotResult) {
				continue
			}
			if err := tx.Where("application_id = ? AND slot = ?", app.ApplicationID, slotName).
				Delete(&models.Attachment{}).Error; err != nil {
				return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
			}
			if len(slotResult.Accepted) > 0 {
				records := slotResult.Accepted
				if err := tx.Create(&records).Error; err != nil {
					return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
				}
			}
		}
		return nil
	})
	return err
}

// deleteRemovedBlobs deletes the blobs displaced from each slot's
// committed set. Called only after the guarded save committed; a failed
// delete is logged and the blob is orphaned, never resurrected into the
// committed set.
func (s *SubmissionService) deleteRemovedBlobs(ctx context.Context, applicationID string, slotResults map[string]models.SlotResult) {
	for slotName, slotResult := range slotResults {
		for _, att := range slotResult.Removed {
			if err := s.reconcile.store.Delete(ctx, att.StorageRef); err != nil {
				slog.Warn("Failed to delete displaced attachment blob",
					"operation", models.OpReconcileSlot,
					"application_id", applicationID,
					"slot", slotName,
					"attachment_id", att.AttachmentID,
					"error", err)
			}
		}
	}
}

// isSlotUntouched reports whether a slot delta was rejected outright
// without changing the committed set, so its rows need no rewrite.
func isSlotUntouched(r models.SlotResult) bool {
	if len(r.Rejections) != 1 {
		return false
	}
	switch r.Rejections[0].Reason {
	case models.ReasonUnknownSlot, models.ReasonNotAuthorized,
		models.ReasonUnknownFileID, models.ReasonExclusivityViolation:
		return true
	}
	return false
}

// emit delivers a notification event best-effort. A delivery failure is
// logged and never propagated: the status change already happened.
func (s *SubmissionService) emit(ctx context.Context, recipientID string, event *models.NotificationEvent) {
	if event == nil {
		return
	}
	if err := s.sink.Notify(ctx, recipientID, *event); err != nil {
		slog.Warn("Notification delivery failed",
			"operation", models.OpNotifyOwner,
			"recipient", recipientID,
			"application_id", event.ApplicationID,
			"error", err)
	}
}

// GetApplication loads one application. Students can only read their own.
func (s *SubmissionService) GetApplication(ctx context.Context, actor models.Actor, applicationID string) (*models.ApplicationResponse, error) {
	var app models.Application
	err := s.db.WithContext(ctx).Preload("Attachments", func(db *gorm.DB) *gorm.DB {
		return db.Order("slot, position")
	}).First(&app, "application_id = ?", applicationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrApplicationNotFound, applicationID)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}
	if actor.Role == models.RoleStudent && app.OwnerID != actor.ID {
		return nil, fmt.Errorf("%w: %s", models.ErrNotOwner, applicationID)
	}
	return toApplicationResponse(&app), nil
}

// ListApplications returns applications visible to the actor, newest
// first. A student sees only their own; reviewers may filter by owner
// and status.
func (s *SubmissionService) ListApplications(ctx context.Context, actor models.Actor, ownerID *string, status *models.Status) ([]models.ApplicationResponse, error) {
	query := s.db.WithContext(ctx).Model(&models.Application{}).Preload("Attachments")
	if actor.Role == models.RoleStudent {
		query = query.Where("owner_id = ?", actor.ID)
	} else if ownerID != nil && *ownerID != "" {
		query = query.Where("owner_id = ?", *ownerID)
	}
	if status != nil && *status != "" {
		query = query.Where("status = ?", string(*status))
	}
	query = query.Order("created_at DESC")

	var apps []models.Application
	if err := query.Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}

	responses := make([]models.ApplicationResponse, 0, len(apps))
	for i := range apps {
		responses = append(responses, *toApplicationResponse(&apps[i]))
	}
	return responses, nil
}

// GetAttachment resolves one attachment record for download, enforcing
// the same visibility rule as the application itself.
func (s *SubmissionService) GetAttachment(ctx context.Context, actor models.Actor, attachmentID string) (*models.Attachment, error) {
	var att models.Attachment
	err := s.db.WithContext(ctx).First(&att, "attachment_id = ?", attachmentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrAttachmentNotFound, attachmentID)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}
	if actor.Role == models.RoleStudent {
		var app models.Application
		if err := s.db.WithContext(ctx).First(&app, "application_id = ?", att.ApplicationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", models.ErrApplicationNotFound, att.ApplicationID)
			}
			return nil, fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
		}
		if app.OwnerID != actor.ID {
			return nil, fmt.Errorf("%w: %s", models.ErrNotOwner, att.ApplicationID)
		}
	}
	return &att, nil
}

// OpenAttachment returns the stored bytes for an attachment.
func (s *SubmissionService) OpenAttachment(ctx context.Context, actor models.Actor, attachmentID string) (*models.Attachment, []byte, error) {
	att, err := s.GetAttachment(ctx, actor, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	content, err := s.reconcile.store.Get(ctx, att.StorageRef)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}
	return att, content, nil
}

// DeleteApplication removes an application and cascades its attachment
// rows and blobs. Admin only.
func (s *SubmissionService) DeleteApplication(ctx context.Context, actor models.Actor, applicationID string) error {
	if actor.Role != models.RoleAdmin {
		return fmt.Errorf("%w: only admin may delete applications", models.ErrMalformedRequest)
	}
	var app models.Application
	err := s.db.WithContext(ctx).Preload("Attachments").First(&app, "application_id = ?", applicationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", models.ErrApplicationNotFound, applicationID)
		}
		return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("application_id = ?", applicationID).Delete(&models.Attachment{}).Error; err != nil {
			return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
		}
		if err := tx.Delete(&models.Application{}, "application_id = ?", applicationID).Error; err != nil {
			return fmt.Errorf("%w: %w", models.ErrPersistenceFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Blob deletion is best-effort after the rows are gone.
	for _, att := range app.Attachments {
		if err := s.reconcile.store.Delete(ctx, att.StorageRef); err != nil {
			slog.Warn("Failed to delete attachment blob during cascade",
				"application_id", applicationID,
				"attachment_id", att.AttachmentID,
				"error", err)
		}
	}

	slog.Info("Deleted application", "application_id", applicationID)
	return nil
}

// toApplicationResponse converts an entity to its API view.
func toApplicationResponse(app *models.Application) *models.ApplicationResponse {
	return &models.ApplicationResponse{
		ApplicationID: app.ApplicationID,
		FormType:      app.FormType,
		OwnerID:       app.OwnerID,
		Status:        app.Status,
		Fields:        app.Fields,
		Remarks:       app.Remarks,
		Attachments:   app.AttachmentsBySlot(),
		Version:       app.Version,
		CreatedAt:     app.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     app.UpdatedAt.Format(time.RFC3339),
	}
}

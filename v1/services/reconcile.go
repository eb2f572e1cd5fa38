package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campus-dx/grant-engine/v1/forms"
	"github.com/campus-dx/grant-engine/v1/models"
)

// BlobMetadata describes a blob handed to the attachment store.
type BlobMetadata struct {
	ApplicationID string
	Slot          string
	FileName      string
	MimeType      string
}

// AttachmentStore is the blob collaborator. Put returns the opaque
// storage ref used for later retrieval and deletion. Implementations are
// expected to honor context cancellation so a caller-supplied timeout
// surfaces instead of hanging the request.
type AttachmentStore interface {
	Put(ctx context.Context, content []byte, meta BlobMetadata) (string, error)
	Delete(ctx context.Context, ref string) error
	Get(ctx context.Context, ref string) ([]byte, error)
}

// ReconcileEngine computes, per slot, the new committed attachment set
// from the previous committed set and a client-submitted delta, and
// performs the store/delete side effects against the attachment store.
type ReconcileEngine struct {
	store AttachmentStore
}

// NewReconcileEngine creates a reconcile engine over the given store.
func NewReconcileEngine(store AttachmentStore) *ReconcileEngine {
	return &ReconcileEngine{store: store}
}

// Reconcile resolves one slot. Per-file violations are collected, not
// fatal; a slot-level violation (unknown remove id, mixed exclusive
// kinds) rejects the whole delta for this slot and leaves the committed
// set untouched with zero files stored. Re-running with an identical
// delta and no new uploads yields the same committed set.
func (e *ReconcileEngine) Reconcile(ctx context.Context, applicationID string, slot forms.SlotDefinition, previous []models.Attachment, delta models.AttachmentDelta) models.SlotResult {
	// Remove-list must reference files that actually exist; anything else
	// is rejected outright rather than silently ignored, so a client never
	// deletes files it did not intend to.
	prevByID := make(map[string]models.Attachment, len(previous))
	for _, att := range previous {
		prevByID[att.AttachmentID] = att
	}
	for _, id := range delta.RemoveIDs {
		if _, ok := prevByID[id]; !ok {
			return models.SlotResult{
				Accepted:   previous,
				Rejections: []models.FileRejection{{FileName: id, Reason: models.ReasonUnknownFileID}},
			}
		}
	}

	var rejections []models.FileRejection

	// Per-file type and size validation. Violations reject that file only.
	valid := make([]models.Upload, 0, len(delta.Uploads))
	for _, up := range delta.Uploads {
		if !slot.Allows(up.FileName, up.MimeType) {
			rejections = append(rejections, models.FileRejection{FileName: up.FileName, Reason: models.ReasonTypeRejected})
			continue
		}
		if up.SizeBytes > slot.MaxSizeBytes {
			rejections = append(rejections, models.FileRejection{FileName: up.FileName, Reason: models.ReasonSizeExceeded})
			continue
		}
		valid = append(valid, up)
	}

	// Exclusivity: archive and non-archive kinds cannot coexist in one
	// submission batch. A mixed batch rejects the whole slot with nothing
	// stored.
	if slot.ExclusivityGroup != "" && len(valid) > 0 {
		archives, documents := 0, 0
		for _, up := range valid {
			if forms.IsArchive(up.FileName, up.MimeType) {
				archives++
			} else {
				documents++
			}
		}
		if archives > 0 && documents > 0 {
			return models.SlotResult{
				Accepted:   previous,
				Rejections: []models.FileRejection{{Reason: models.ReasonExclusivityViolation}},
			}
		}
	}

	// Retained = previously committed files the client kept and did not
	// explicitly remove.
	removeSet := make(map[string]bool, len(delta.RemoveIDs))
	for _, id := range delta.RemoveIDs {
		removeSet[id] = true
	}
	keepSet := make(map[string]bool, len(delta.KeepIDs))
	for _, id := range delta.KeepIDs {
		keepSet[id] = true
	}
	retained := make([]models.Attachment, 0, len(previous))
	for _, att := range previous {
		if keepSet[att.AttachmentID] && !removeSet[att.AttachmentID] {
			retained = append(retained, att)
		}
	}

	// An accepted archive replaces retained documents in the same
	// exclusivity group, and vice versa.
	if slot.ExclusivityGroup != "" && len(valid) > 0 {
		newIsArchive := forms.IsArchive(valid[0].FileName, valid[0].MimeType)
		filtered := retained[:0]
		for _, att := range retained {
			if forms.IsArchive(att.OriginalName, att.MimeType) == newIsArchive {
				filtered = append(filtered, att)
			}
		}
		retained = filtered
	}

	// Cardinality: retained files win, then new uploads in submission
	// order until the slot is full. Excess uploads are rejected, never
	// silently dropped.
	capacity := slot.MaxCount() - len(retained)
	if capacity < 0 {
		capacity = 0
	}
	accepted := valid
	if len(valid) > capacity {
		accepted = valid[:capacity]
		for _, up := range valid[capacity:] {
			rejections = append(rejections, models.FileRejection{FileName: up.FileName, Reason: models.ReasonCardinalityExceeded})
		}
	}

	// Store accepted uploads. A file is either fully stored with a minted
	// id before joining the committed set, or it is not added at all; one
	// failed store does not abort the rest.
	final := retained
	for _, up := range accepted {
		ref, err := e.store.Put(ctx, up.Content, BlobMetadata{
			ApplicationID: applicationID,
			Slot:          slot.Name,
			FileName:      up.FileName,
			MimeType:      up.MimeType,
		})
		if err != nil {
			slog.Error("Failed to store attachment",
				"operation", models.OpReconcileSlot,
				"application_id", applicationID,
				"slot", slot.Name,
				"file", up.FileName,
				"error", err)
			rejections = append(rejections, models.FileRejection{FileName: up.FileName, Reason: models.ReasonStorageError})
			continue
		}
		final = append(final, models.Attachment{
			AttachmentID:  fmt.Sprintf("att_%s", uuid.New().String()),
			ApplicationID: applicationID,
			Slot:          slot.Name,
			OriginalName:  up.FileName,
			MimeType:      up.MimeType,
			SizeBytes:     up.SizeBytes,
			StorageRef:    ref,
			CreatedAt:     time.Now().UTC(),
		})
	}

	// Dropped files are only reported here; their blobs are deleted by the
	// caller after the committed set is durably saved. Deleting earlier
	// would leave the still-committed rows dangling if the save conflicts.
	finalIDs := make(map[string]bool, len(final))
	for _, att := range final {
		finalIDs[att.AttachmentID] = true
	}
	var removed []models.Attachment
	for _, att := range previous {
		if !finalIDs[att.AttachmentID] {
			removed = append(removed, att)
		}
	}

	// Reindex positions over the final committed order.
	for i := range final {
		final[i].Position = i
	}

	return models.SlotResult{Accepted: final, Rejections: rejections, Removed: removed}
}

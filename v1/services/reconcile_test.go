package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-dx/grant-engine/v1/forms"
	"github.com/campus-dx/grant-engine/v1/models"
)

func documentsSlotDef() forms.SlotDefinition {
	return forms.SlotDefinition{
		Name:             "pdfDocuments",
		Cardinality:      forms.Cardinality{Max: 5},
		AllowedTypes:     []string{".pdf", ".zip", "application/pdf", "application/zip"},
		MaxSizeBytes:     25 * 1024 * 1024,
		ExclusivityGroup: "documents",
	}
}

func signatureSlotDef() forms.SlotDefinition {
	return forms.SlotDefinition{
		Name:         "studentSignature",
		Cardinality:  forms.Cardinality{Single: true},
		AllowedTypes: []string{".jpg", ".jpeg", ".png", "image/jpeg", "image/png"},
		MaxSizeBytes: 5 * 1024 * 1024,
	}
}

func pdfUpload(name string, size int64) models.Upload {
	return models.Upload{FileName: name, MimeType: "application/pdf", SizeBytes: size, Content: []byte("%PDF-1.4")}
}

func zipUpload(name string, size int64) models.Upload {
	return models.Upload{FileName: name, MimeType: "application/zip", SizeBytes: size, Content: []byte("PK")}
}

func reasonsOf(rejections []models.FileRejection) []models.ReasonCode {
	out := make([]models.ReasonCode, 0, len(rejections))
	for _, r := range rejections {
		out = append(out, r.Reason)
	}
	return out
}

func TestReconcile_AcceptsUploadsInOrder(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), nil, models.AttachmentDelta{
		Uploads: []models.Upload{pdfUpload("a.pdf", 100), pdfUpload("b.pdf", 200)},
	})

	require.Len(t, result.Accepted, 2)
	assert.Empty(t, result.Rejections)
	assert.Equal(t, "a.pdf", result.Accepted[0].OriginalName)
	assert.Equal(t, "b.pdf", result.Accepted[1].OriginalName)
	assert.Equal(t, 0, result.Accepted[0].Position)
	assert.Equal(t, 1, result.Accepted[1].Position)
	assert.Equal(t, 2, store.blobCount())

	for _, att := range result.Accepted {
		assert.Regexp(t, `^att_`, att.AttachmentID)
		assert.Equal(t, "app_1", att.ApplicationID)
		assert.Equal(t, "pdfDocuments", att.Slot)
	}
}

func TestReconcile_CardinalityFirstListedWins(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	uploads := make([]models.Upload, 6)
	for i := range uploads {
		uploads[i] = pdfUpload(fmt.Sprintf("doc%d.pdf", i), 100)
	}

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), nil, models.AttachmentDelta{Uploads: uploads})

	require.Len(t, result.Accepted, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("doc%d.pdf", i), result.Accepted[i].OriginalName)
	}
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "doc5.pdf", result.Rejections[0].FileName)
	assert.Equal(t, models.ReasonCardinalityExceeded, result.Rejections[0].Reason)
	// The rejected file must never reach storage.
	assert.Equal(t, 5, store.blobCount())
}

func TestReconcile_SingleSlotReplacement(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	previous := []models.Attachment{{
		AttachmentID: "att_old", ApplicationID: "app_1", Slot: "studentSignature",
		OriginalName: "old.png", MimeType: "image/png", StorageRef: "mem/old",
	}}
	store.blobs["mem/old"] = []byte("old")

	// Not keeping the old file and uploading a new one replaces it.
	result := engine.Reconcile(context.Background(), "app_1", signatureSlotDef(), previous, models.AttachmentDelta{
		Uploads: []models.Upload{{FileName: "new.png", MimeType: "image/png", SizeBytes: 10, Content: []byte("new")}},
	})

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "new.png", result.Accepted[0].OriginalName)
	assert.Empty(t, result.Rejections)
	// The displaced blob is reported for deletion, not deleted yet: the
	// committed set must be durably saved first.
	require.Len(t, result.Removed, 1)
	assert.Equal(t, "att_old", result.Removed[0].AttachmentID)
	_, err := store.Get(context.Background(), "mem/old")
	assert.NoError(t, err)
}

func TestReconcile_TypeAndSizeViolationsPerFile(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), nil, models.AttachmentDelta{
		Uploads: []models.Upload{
			pdfUpload("ok.pdf", 100),
			{FileName: "notes.txt", MimeType: "text/plain", SizeBytes: 10},
			pdfUpload("huge.pdf", 26*1024*1024),
		},
	})

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "ok.pdf", result.Accepted[0].OriginalName)
	assert.ElementsMatch(t,
		[]models.ReasonCode{models.ReasonTypeRejected, models.ReasonSizeExceeded},
		reasonsOf(result.Rejections))
}

func TestReconcile_MixedExclusiveKindsRejectWholeSlot(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	previous := []models.Attachment{{
		AttachmentID: "att_prev", ApplicationID: "app_1", Slot: "pdfDocuments",
		OriginalName: "prev.pdf", MimeType: "application/pdf", StorageRef: "mem/prev",
	}}

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), previous, models.AttachmentDelta{
		Uploads: []models.Upload{pdfUpload("a.pdf", 100), zipUpload("bundle.zip", 100)},
		KeepIDs: []string{"att_prev"},
	})

	assert.Equal(t, previous, result.Accepted, "committed set must be untouched")
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, models.ReasonExclusivityViolation, result.Rejections[0].Reason)
	assert.Equal(t, 0, store.blobCount(), "nothing may be stored on a slot-fatal violation")
}

func TestReconcile_ArchiveReplacesRetainedDocuments(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	previous := []models.Attachment{
		{AttachmentID: "att_1", ApplicationID: "app_1", Slot: "pdfDocuments", OriginalName: "a.pdf", MimeType: "application/pdf", StorageRef: "mem/a"},
		{AttachmentID: "att_2", ApplicationID: "app_1", Slot: "pdfDocuments", OriginalName: "b.pdf", MimeType: "application/pdf", StorageRef: "mem/b"},
	}
	store.blobs["mem/a"] = []byte("a")
	store.blobs["mem/b"] = []byte("b")

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), previous, models.AttachmentDelta{
		Uploads: []models.Upload{zipUpload("bundle.zip", 100)},
		KeepIDs: []string{"att_1", "att_2"},
	})

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "bundle.zip", result.Accepted[0].OriginalName)
	assert.Empty(t, result.Rejections)
	// Documents are displaced even though they were on the keep list.
	require.Len(t, result.Removed, 2)
	assert.ElementsMatch(t,
		[]string{"att_1", "att_2"},
		[]string{result.Removed[0].AttachmentID, result.Removed[1].AttachmentID})
}

func TestReconcile_UnknownRemoveIDRejectsSlot(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	previous := []models.Attachment{{
		AttachmentID: "att_1", ApplicationID: "app_1", Slot: "pdfDocuments",
		OriginalName: "a.pdf", MimeType: "application/pdf", StorageRef: "mem/a",
	}}
	store.blobs["mem/a"] = []byte("a")

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), previous, models.AttachmentDelta{
		RemoveIDs: []string{"att_does_not_exist"},
		KeepIDs:   []string{"att_1"},
	})

	assert.Equal(t, previous, result.Accepted)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, models.ReasonUnknownFileID, result.Rejections[0].Reason)
	assert.Equal(t, 1, store.blobCount())
}

func TestReconcile_RemoveDropsFileFromCommittedSet(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	previous := []models.Attachment{
		{AttachmentID: "att_1", ApplicationID: "app_1", Slot: "pdfDocuments", OriginalName: "a.pdf", MimeType: "application/pdf", StorageRef: "mem/a", Position: 0},
		{AttachmentID: "att_2", ApplicationID: "app_1", Slot: "pdfDocuments", OriginalName: "b.pdf", MimeType: "application/pdf", StorageRef: "mem/b", Position: 1},
	}
	store.blobs["mem/a"] = []byte("a")
	store.blobs["mem/b"] = []byte("b")

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), previous, models.AttachmentDelta{
		KeepIDs:   []string{"att_2"},
		RemoveIDs: []string{"att_1"},
	})

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "att_2", result.Accepted[0].AttachmentID)
	assert.Equal(t, 0, result.Accepted[0].Position, "positions must be reindexed")
	assert.Empty(t, result.Rejections)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, "att_1", result.Removed[0].AttachmentID)
	_, err := store.Get(context.Background(), "mem/a")
	assert.NoError(t, err, "blob deletion waits for the committed set to be saved")
}

func TestReconcile_StorageFailureIsolatedPerFile(t *testing.T) {
	store := newMemStore()
	store.failPuts["bad.pdf"] = true
	engine := NewReconcileEngine(store)

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), nil, models.AttachmentDelta{
		Uploads: []models.Upload{pdfUpload("good.pdf", 100), pdfUpload("bad.pdf", 100)},
	})

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "good.pdf", result.Accepted[0].OriginalName)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, "bad.pdf", result.Rejections[0].FileName)
	assert.Equal(t, models.ReasonStorageError, result.Rejections[0].Reason)
}

func TestReconcile_NeverDeletesBlobsItself(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	previous := []models.Attachment{{
		AttachmentID: "att_1", ApplicationID: "app_1", Slot: "pdfDocuments",
		OriginalName: "a.pdf", MimeType: "application/pdf", StorageRef: "mem/a",
	}}
	store.blobs["mem/a"] = []byte("a")

	result := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), previous, models.AttachmentDelta{
		RemoveIDs: []string{"att_1"},
	})

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Removed, 1)
	assert.Equal(t, 1, store.blobCount(), "engine reports removals, the orchestrator deletes")
}

func TestReconcile_IdempotentKeepOnlyDelta(t *testing.T) {
	store := newMemStore()
	engine := NewReconcileEngine(store)

	first := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), nil, models.AttachmentDelta{
		Uploads: []models.Upload{pdfUpload("a.pdf", 100)},
	})
	require.Len(t, first.Accepted, 1)

	keep := models.AttachmentDelta{KeepIDs: []string{first.Accepted[0].AttachmentID}}
	second := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), first.Accepted, keep)
	third := engine.Reconcile(context.Background(), "app_1", documentsSlotDef(), second.Accepted, keep)

	assert.Equal(t, second.Accepted, third.Accepted)
	assert.Empty(t, third.Rejections)
	assert.Equal(t, 1, store.blobCount())
}

package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campus-dx/grant-engine/v1/models"
)

func setupMockService(t *testing.T) (*SubmissionService, *memStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := newMemStore()
	return NewSubmissionService(db, store, &recordingSink{}), store, mock
}

// A concurrent reviewer bumped the version between this client's read and its
// guarded write: zero rows match the expected version and the whole request is
// reported as a conflict with nothing persisted.
func TestSubmitOrUpdate_VersionConflict(t *testing.T) {
	svc, _, mock := setupMockService(t)

	now := time.Now().UTC()
	appRows := sqlmock.NewRows([]string{
		"application_id", "form_type", "owner_id", "status", "fields", "remarks", "version", "created_at", "updated_at",
	}).AddRow("app_42", "UG1", "stu_001", "pending", `{"projectTitle":"Draft"}`, `{}`, int64(3), now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "applications"`)).WillReturnRows(appRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "attachments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"attachment_id", "application_id", "slot", "original_name", "mime_type", "size_bytes", "storage_ref", "position", "created_at"}))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "applications" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	result, err := svc.SubmitOrUpdate(context.Background(), student, models.SubmissionRequest{
		ApplicationID: "app_42",
		FieldDelta:    map[string]any{"projectTitle": "Edited"},
	})

	require.NoError(t, err)
	assert.True(t, result.Conflict)
	assert.Equal(t, "app_42", result.ApplicationID)
	assert.Empty(t, result.PersistedFields)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitOrUpdate_GuardedUpdateSucceeds(t *testing.T) {
	svc, _, mock := setupMockService(t)

	now := time.Now().UTC()
	appRows := sqlmock.NewRows([]string{
		"application_id", "form_type", "owner_id", "status", "fields", "remarks", "version", "created_at", "updated_at",
	}).AddRow("app_42", "UG1", "stu_001", "pending", `{}`, `{}`, int64(3), now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "applications"`)).WillReturnRows(appRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "attachments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"attachment_id", "application_id", "slot", "original_name", "mime_type", "size_bytes", "storage_ref", "position", "created_at"}))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "applications" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.SubmitOrUpdate(context.Background(), student, models.SubmissionRequest{
		ApplicationID: "app_42",
		FieldDelta:    map[string]any{"projectTitle": "Edited"},
	})

	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, "Edited", result.PersistedFields["projectTitle"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A conflicted save must leave the committed attachment rows and their blobs
// fully intact: the blob backing a row that stays in the database may only be
// deleted once a save without that row has committed.
func TestSubmitOrUpdate_ConflictKeepsCommittedBlobs(t *testing.T) {
	svc, store, mock := setupMockService(t)
	store.blobs["mem/a"] = []byte("a")

	now := time.Now().UTC()
	appRows := sqlmock.NewRows([]string{
		"application_id", "form_type", "owner_id", "status", "fields", "remarks", "version", "created_at", "updated_at",
	}).AddRow("app_42", "UG1", "stu_001", "pending", `{}`, `{}`, int64(3), now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "applications"`)).WillReturnRows(appRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "attachments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"attachment_id", "application_id", "slot", "original_name", "mime_type", "size_bytes", "storage_ref", "position", "created_at"}).
			AddRow("att_1", "app_42", "pdfDocuments", "a.pdf", "application/pdf", int64(100), "mem/a", 0, now))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "applications" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	result, err := svc.SubmitOrUpdate(context.Background(), student, models.SubmissionRequest{
		ApplicationID: "app_42",
		Attachments: map[string]models.AttachmentDelta{
			"pdfDocuments": {RemoveIDs: []string{"att_1"}},
		},
	})

	require.NoError(t, err)
	assert.True(t, result.Conflict)
	content, getErr := store.Get(context.Background(), "mem/a")
	require.NoError(t, getErr, "conflicted save must not delete committed blobs")
	assert.Equal(t, []byte("a"), content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

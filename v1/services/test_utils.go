package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campus-dx/grant-engine/v1/models"
)

// SetupSQLiteTestDB creates an in-memory SQLite database for testing
func SetupSQLiteTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to SQLite test database: %v", err)
	}

	if err := db.AutoMigrate(&models.Application{}, &models.Attachment{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// memStore is an in-memory AttachmentStore for tests. Individual puts and
// deletes can be forced to fail to exercise storage error handling.
type memStore struct {
	mu          sync.Mutex
	blobs       map[string][]byte
	putCount    int
	failPuts    map[string]bool // keyed by file name
	failDeletes map[string]bool // keyed by storage ref
}

func newMemStore() *memStore {
	return &memStore{
		blobs:       make(map[string][]byte),
		failPuts:    make(map[string]bool),
		failDeletes: make(map[string]bool),
	}
}

func (s *memStore) Put(ctx context.Context, content []byte, meta BlobMetadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts[meta.FileName] {
		return "", errors.New("storage unavailable")
	}
	s.putCount++
	ref := fmt.Sprintf("mem/%s/%s/%d", meta.ApplicationID, meta.FileName, s.putCount)
	s.blobs[ref] = append([]byte(nil), content...)
	return ref, nil
}

func (s *memStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDeletes[ref] {
		return errors.New("storage unavailable")
	}
	delete(s.blobs, ref)
	return nil
}

func (s *memStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", ref)
	}
	return content, nil
}

func (s *memStore) blobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// recordingSink captures emitted notification events.
type recordingSink struct {
	mu     sync.Mutex
	events []models.NotificationEvent
	err    error
}

func (s *recordingSink) Notify(ctx context.Context, recipientID string, event models.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

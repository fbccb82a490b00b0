// Package db tests for repository CRUD operations.
package db

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/models"
)

// newTestRepository opens a migrated database in a temp dir.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "tillsync.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(db.DB); err != nil {
		t.Fatalf("RunMigrations() failed: %v", err)
	}

	repo := NewRepository(db.DB)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// mustCreateItem inserts a queue item and fails the test on error.
func mustCreateItem(t *testing.T, repo *Repository, item *models.QueueItem) *models.QueueItem {
	t.Helper()
	if item.Type == "" {
		item.Type = models.OpCreateSaleRecord
	}
	if item.Payload == nil {
		item.Payload = []byte(`{}`)
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = 5
	}
	if err := repo.CreateQueueItem(item); err != nil {
		t.Fatalf("CreateQueueItem() failed: %v", err)
	}
	return item
}

// setCreatedAt rewrites an item's created_at for deterministic ordering.
func setCreatedAt(t *testing.T, repo *Repository, id models.UUID, createdAt int64) {
	t.Helper()
	if _, err := repo.db.Exec("UPDATE queue_items SET created_at = ? WHERE id = ?", createdAt, id); err != nil {
		t.Fatalf("Failed to set created_at: %v", err)
	}
}

// =====================================================
// Prepared Statement Cache
// =====================================================

// TestPrepareStmt verifies statements are cached and reused.
func TestPrepareStmt(t *testing.T) {
	repo := newTestRepository(t)

	query := "SELECT COUNT(*) FROM queue_items"
	stmt1, err := repo.PrepareStmt(query)
	if err != nil {
		t.Fatalf("PrepareStmt() failed: %v", err)
	}
	stmt2, err := repo.PrepareStmt(query)
	if err != nil {
		t.Fatalf("Second PrepareStmt() failed: %v", err)
	}
	if stmt1 != stmt2 {
		t.Error("PrepareStmt() did not reuse cached statement")
	}

	var count int
	if err := stmt1.QueryRow().Scan(&count); err != nil {
		t.Errorf("Cached statement not usable: %v", err)
	}
}

// TestPrepareStmt_invalidQuery verifies errors propagate.
func TestPrepareStmt_invalidQuery(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.PrepareStmt("SELECT FROM no_such_table WHERE")
	if err == nil {
		t.Error("PrepareStmt() with invalid SQL should return error")
	}
}

// =====================================================
// QueueItem Operations
// =====================================================

// TestCreateQueueItem verifies item creation with generated fields.
func TestCreateQueueItem(t *testing.T) {
	repo := newTestRepository(t)

	item := &models.QueueItem{
		Type:        models.OpCreateSaleRecord,
		Payload:     []byte(`{"receipt_id":"r-1"}`),
		Priority:    models.PriorityHigh,
		Status:      models.StatusPending,
		MaxAttempts: 5,
	}
	if err := repo.CreateQueueItem(item); err != nil {
		t.Fatalf("CreateQueueItem() failed: %v", err)
	}

	if item.ID == "" {
		t.Error("CreateQueueItem() did not assign ID")
	}
	if item.CreatedAt == 0 || item.UpdatedAt == 0 {
		t.Error("CreateQueueItem() did not assign timestamps")
	}

	// Read it back
	got, err := repo.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("GetQueueItem() failed: %v", err)
	}
	if got.Type != models.OpCreateSaleRecord {
		t.Errorf("Type = %q, want %q", got.Type, models.OpCreateSaleRecord)
	}
	if string(got.Payload) != `{"receipt_id":"r-1"}` {
		t.Errorf("Payload = %s, want original JSON", got.Payload)
	}
	if got.Priority != models.PriorityHigh {
		t.Errorf("Priority = %d, want %d", got.Priority, models.PriorityHigh)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusPending)
	}
	if got.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", got.Attempt)
	}
	if got.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", got.MaxAttempts)
	}
}

// TestCreateQueueItem_keepsExplicitID verifies caller-supplied IDs survive.
func TestCreateQueueItem_keepsExplicitID(t *testing.T) {
	repo := newTestRepository(t)

	item := mustCreateItem(t, repo, &models.QueueItem{ID: "explicit-id"})
	if item.ID != "explicit-id" {
		t.Errorf("ID = %q, want explicit-id", item.ID)
	}

	got, err := repo.GetQueueItem("explicit-id")
	if err != nil {
		t.Fatalf("GetQueueItem() failed: %v", err)
	}
	if got.ID != "explicit-id" {
		t.Errorf("Stored ID = %q, want explicit-id", got.ID)
	}
}

// TestCreateQueueItem_rejectsInvalidType verifies the schema CHECK holds.
func TestCreateQueueItem_rejectsInvalidType(t *testing.T) {
	repo := newTestRepository(t)

	item := &models.QueueItem{
		Type:        models.OpType("drop_table"),
		Payload:     []byte(`{}`),
		Status:      models.StatusPending,
		MaxAttempts: 5,
	}
	if err := repo.CreateQueueItem(item); err == nil {
		t.Error("CreateQueueItem() with unknown op type should fail")
	}
}

// TestGetQueueItem_notFound verifies missing items report NOT_FOUND.
func TestGetQueueItem_notFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetQueueItem("no-such-item")
	if err == nil {
		t.Fatal("GetQueueItem() for missing item should fail")
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND error, got: %v", err)
	}
}

// TestUpdateQueueItem verifies mutable field updates.
func TestUpdateQueueItem(t *testing.T) {
	repo := newTestRepository(t)

	item := mustCreateItem(t, repo, &models.QueueItem{})
	created := item.UpdatedAt

	item.Status = models.StatusRetryScheduled
	item.Attempt = 2
	item.LastError = "connection refused"
	item.NextRetryAt = time.Now().Add(4 * time.Second).Unix()
	if err := repo.UpdateQueueItem(item); err != nil {
		t.Fatalf("UpdateQueueItem() failed: %v", err)
	}

	got, err := repo.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("GetQueueItem() failed: %v", err)
	}
	if got.Status != models.StatusRetryScheduled {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusRetryScheduled)
	}
	if got.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", got.Attempt)
	}
	if got.LastError != "connection refused" {
		t.Errorf("LastError = %q, want 'connection refused'", got.LastError)
	}
	if got.NextRetryAt != item.NextRetryAt {
		t.Errorf("NextRetryAt = %d, want %d", got.NextRetryAt, item.NextRetryAt)
	}
	if got.UpdatedAt < created {
		t.Error("UpdatedAt moved backwards")
	}
}

// TestUpdateQueueItem_notFound verifies updates to missing items fail.
func TestUpdateQueueItem_notFound(t *testing.T) {
	repo := newTestRepository(t)

	item := &models.QueueItem{
		ID:          "ghost",
		Type:        models.OpAdjustStock,
		Payload:     []byte(`{}`),
		Status:      models.StatusPending,
		MaxAttempts: 5,
	}
	err := repo.UpdateQueueItem(item)
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND error, got: %v", err)
	}
}

// TestDeleteQueueItem verifies item removal.
func TestDeleteQueueItem(t *testing.T) {
	repo := newTestRepository(t)

	item := mustCreateItem(t, repo, &models.QueueItem{})
	if err := repo.DeleteQueueItem(item.ID); err != nil {
		t.Fatalf("DeleteQueueItem() failed: %v", err)
	}

	_, err := repo.GetQueueItem(item.ID)
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND after delete, got: %v", err)
	}

	// Deleting a missing item is not an error
	if err := repo.DeleteQueueItem("no-such-item"); err != nil {
		t.Errorf("DeleteQueueItem() for missing item failed: %v", err)
	}
}

// TestListQueueItems verifies status filtering and dispatch ordering.
func TestListQueueItems(t *testing.T) {
	repo := newTestRepository(t)

	low := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityLow})
	critical := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityCritical})
	high := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityHigh})
	failed := mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusFailed})

	items, err := repo.ListQueueItems(models.StatusPending, 0)
	if err != nil {
		t.Fatalf("ListQueueItems() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 pending items, got %d", len(items))
	}

	// Urgency order: critical, high, low
	wantOrder := []models.UUID{critical.ID, high.ID, low.ID}
	for i, want := range wantOrder {
		if items[i].ID != want {
			t.Errorf("items[%d].ID = %q, want %q", i, items[i].ID, want)
		}
	}

	// Limit applies
	items, err = repo.ListQueueItems(models.StatusPending, 2)
	if err != nil {
		t.Fatalf("ListQueueItems() with limit failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 items with limit, got %d", len(items))
	}

	// Status filter
	items, err = repo.ListQueueItems(models.StatusFailed, 0)
	if err != nil {
		t.Fatalf("ListQueueItems(failed) failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != failed.ID {
		t.Errorf("Expected only the failed item, got %d items", len(items))
	}

	// Empty status means no filter
	items, err = repo.ListQueueItems("", 0)
	if err != nil {
		t.Fatalf("ListQueueItems(all) failed: %v", err)
	}
	if len(items) != 4 {
		t.Errorf("Expected 4 items without filter, got %d", len(items))
	}
}

// TestListQueueItems_fifoWithinPriority verifies arrival order breaks ties.
func TestListQueueItems_fifoWithinPriority(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Now().Unix()
	first := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityMedium})
	second := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityMedium})
	setCreatedAt(t, repo, first.ID, base-10)
	setCreatedAt(t, repo, second.ID, base-5)

	items, err := repo.ListQueueItems(models.StatusPending, 0)
	if err != nil {
		t.Fatalf("ListQueueItems() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].ID != first.ID || items[1].ID != second.ID {
		t.Error("Items with equal priority not in arrival order")
	}
}

// TestListDispatchable verifies pending plus due retries are returned.
func TestListDispatchable(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().Unix()

	pending := mustCreateItem(t, repo, &models.QueueItem{})
	due := mustCreateItem(t, repo, &models.QueueItem{
		Status:      models.StatusRetryScheduled,
		NextRetryAt: now - 1,
	})
	notDue := mustCreateItem(t, repo, &models.QueueItem{
		Status:      models.StatusRetryScheduled,
		NextRetryAt: now + 3600,
	})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusProcessing})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusFailed})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusCancelled})

	items, err := repo.ListDispatchable(now)
	if err != nil {
		t.Fatalf("ListDispatchable() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 dispatchable items, got %d", len(items))
	}
	ids := map[models.UUID]bool{items[0].ID: true, items[1].ID: true}
	if !ids[pending.ID] || !ids[due.ID] {
		t.Errorf("Dispatchable set missing expected items: %v", ids)
	}
	if ids[notDue.ID] {
		t.Error("Future retry should not be dispatchable")
	}
}

// TestListDispatchable_urgencyFirst verifies a due critical retry outranks
// an older low-priority pending item.
func TestListDispatchable_urgencyFirst(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().Unix()

	older := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityLow})
	retry := mustCreateItem(t, repo, &models.QueueItem{
		Priority:    models.PriorityCritical,
		Status:      models.StatusRetryScheduled,
		NextRetryAt: now - 1,
	})
	setCreatedAt(t, repo, older.ID, now-100)
	setCreatedAt(t, repo, retry.ID, now-10)

	items, err := repo.ListDispatchable(now)
	if err != nil {
		t.Fatalf("ListDispatchable() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].ID != retry.ID {
		t.Error("Critical retry should dispatch before low-priority pending")
	}
}

// TestCountLiveQueueItems verifies capacity accounting.
func TestCountLiveQueueItems(t *testing.T) {
	repo := newTestRepository(t)

	count, err := repo.CountLiveQueueItems()
	if err != nil {
		t.Fatalf("CountLiveQueueItems() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 in empty queue, got %d", count)
	}

	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusPending})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusProcessing})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusRetryScheduled})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusFailed})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusCancelled})

	count, err = repo.CountLiveQueueItems()
	if err != nil {
		t.Fatalf("CountLiveQueueItems() failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected 4 live items (cancelled excluded), got %d", count)
	}
}

// TestOldestPendingInLowestTier verifies eviction candidate selection.
func TestOldestPendingInLowestTier(t *testing.T) {
	repo := newTestRepository(t)
	base := time.Now().Unix()

	critical := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityCritical})
	lowOld := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityLow})
	lowNew := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityLow})
	setCreatedAt(t, repo, critical.ID, base-100)
	setCreatedAt(t, repo, lowOld.ID, base-50)
	setCreatedAt(t, repo, lowNew.ID, base-10)

	candidate, err := repo.OldestPendingInLowestTier()
	if err != nil {
		t.Fatalf("OldestPendingInLowestTier() failed: %v", err)
	}
	// Low outranks critical for eviction; oldest of the low tier wins
	if candidate.ID != lowOld.ID {
		t.Errorf("Eviction candidate = %q, want %q", candidate.ID, lowOld.ID)
	}
}

// TestOldestPendingInLowestTier_uniformPriority verifies plain FIFO eviction
// when every pending item shares one tier.
func TestOldestPendingInLowestTier_uniformPriority(t *testing.T) {
	repo := newTestRepository(t)
	base := time.Now().Unix()

	first := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityMedium})
	second := mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityMedium})
	setCreatedAt(t, repo, first.ID, base-20)
	setCreatedAt(t, repo, second.ID, base-10)

	candidate, err := repo.OldestPendingInLowestTier()
	if err != nil {
		t.Fatalf("OldestPendingInLowestTier() failed: %v", err)
	}
	if candidate.ID != first.ID {
		t.Errorf("Eviction candidate = %q, want oldest %q", candidate.ID, first.ID)
	}
}

// TestOldestPendingInLowestTier_noPending verifies NOT_FOUND when nothing
// is evictable.
func TestOldestPendingInLowestTier_noPending(t *testing.T) {
	repo := newTestRepository(t)

	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusProcessing})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusFailed})

	_, err := repo.OldestPendingInLowestTier()
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND with no pending items, got: %v", err)
	}
}

// TestQueueCounts verifies per-status aggregation.
func TestQueueCounts(t *testing.T) {
	repo := newTestRepository(t)

	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusPending})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusPending})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusFailed})
	mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusRetryScheduled})

	counts, err := repo.QueueCounts()
	if err != nil {
		t.Fatalf("QueueCounts() failed: %v", err)
	}
	if counts[models.StatusPending] != 2 {
		t.Errorf("pending = %d, want 2", counts[models.StatusPending])
	}
	if counts[models.StatusFailed] != 1 {
		t.Errorf("failed = %d, want 1", counts[models.StatusFailed])
	}
	if counts[models.StatusRetryScheduled] != 1 {
		t.Errorf("retry_scheduled = %d, want 1", counts[models.StatusRetryScheduled])
	}
	if counts[models.StatusSucceeded] != 0 {
		t.Errorf("succeeded = %d, want 0", counts[models.StatusSucceeded])
	}
}

// TestOldestPendingCreatedAt verifies oldest-pending age tracking.
func TestOldestPendingCreatedAt(t *testing.T) {
	repo := newTestRepository(t)

	// Empty queue
	oldest, err := repo.OldestPendingCreatedAt()
	if err != nil {
		t.Fatalf("OldestPendingCreatedAt() failed: %v", err)
	}
	if oldest != 0 {
		t.Errorf("Expected 0 for empty queue, got %d", oldest)
	}

	base := time.Now().Unix()
	a := mustCreateItem(t, repo, &models.QueueItem{})
	b := mustCreateItem(t, repo, &models.QueueItem{})
	setCreatedAt(t, repo, a.ID, base-300)
	setCreatedAt(t, repo, b.ID, base-30)

	oldest, err = repo.OldestPendingCreatedAt()
	if err != nil {
		t.Fatalf("OldestPendingCreatedAt() failed: %v", err)
	}
	if oldest != base-300 {
		t.Errorf("Oldest = %d, want %d", oldest, base-300)
	}
}

// TestPendingCountsByPriority verifies per-tier aggregation.
func TestPendingCountsByPriority(t *testing.T) {
	repo := newTestRepository(t)

	mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityCritical})
	mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityHigh})
	mustCreateItem(t, repo, &models.QueueItem{Priority: models.PriorityHigh})
	mustCreateItem(t, repo, &models.QueueItem{
		Priority: models.PriorityHigh,
		Status:   models.StatusFailed,
	})

	counts, err := repo.PendingCountsByPriority()
	if err != nil {
		t.Fatalf("PendingCountsByPriority() failed: %v", err)
	}
	if counts[models.PriorityCritical] != 1 {
		t.Errorf("critical = %d, want 1", counts[models.PriorityCritical])
	}
	if counts[models.PriorityHigh] != 2 {
		t.Errorf("high = %d, want 2 (failed item excluded)", counts[models.PriorityHigh])
	}
}

// TestDeleteTerminalOlderThan verifies cleanup of old terminal items.
func TestDeleteTerminalOlderThan(t *testing.T) {
	repo := newTestRepository(t)
	now := time.Now().Unix()

	oldFailed := mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusFailed})
	oldCancelled := mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusCancelled})
	recentFailed := mustCreateItem(t, repo, &models.QueueItem{Status: models.StatusFailed})
	oldPending := mustCreateItem(t, repo, &models.QueueItem{})

	// Age the old items past the cutoff
	for _, id := range []models.UUID{oldFailed.ID, oldCancelled.ID, oldPending.ID} {
		if _, err := repo.db.Exec("UPDATE queue_items SET updated_at = ? WHERE id = ?", now-7200, id); err != nil {
			t.Fatalf("Failed to age item: %v", err)
		}
	}

	removed, err := repo.DeleteTerminalOlderThan(now - 3600)
	if err != nil {
		t.Fatalf("DeleteTerminalOlderThan() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Removed %d items, want 2", removed)
	}

	// Old pending survives, recent failed survives
	if _, err := repo.GetQueueItem(oldPending.ID); err != nil {
		t.Errorf("Old pending item should survive cleanup: %v", err)
	}
	if _, err := repo.GetQueueItem(recentFailed.ID); err != nil {
		t.Errorf("Recent failed item should survive cleanup: %v", err)
	}
	if _, err := repo.GetQueueItem(oldFailed.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Error("Old failed item should be removed")
	}
}

// =====================================================
// Category Operations
// =====================================================

// TestUpsertCategory verifies insert then update by ID.
func TestUpsertCategory(t *testing.T) {
	repo := newTestRepository(t)

	c := &models.Category{ID: "cat-1", Name: "Beverages", Color: "#00aaff", SortOrder: 1}
	if err := repo.UpsertCategory(c); err != nil {
		t.Fatalf("UpsertCategory() insert failed: %v", err)
	}
	if c.ContentHash == "" {
		t.Error("UpsertCategory() did not compute content hash")
	}
	firstCreated := c.CreatedAt

	// Update keeps created_at
	updated := &models.Category{ID: "cat-1", Name: "Drinks", Color: "#00aaff", SortOrder: 2, CreatedAt: firstCreated}
	if err := repo.UpsertCategory(updated); err != nil {
		t.Fatalf("UpsertCategory() update failed: %v", err)
	}

	categories, err := repo.ListCategories()
	if err != nil {
		t.Fatalf("ListCategories() failed: %v", err)
	}
	if len(categories) != 1 {
		t.Fatalf("Expected 1 category, got %d", len(categories))
	}
	if categories[0].Name != "Drinks" {
		t.Errorf("Name = %q, want Drinks", categories[0].Name)
	}
	if categories[0].CreatedAt != firstCreated {
		t.Error("Update should preserve created_at")
	}
}

// TestListCategories_order verifies display ordering.
func TestListCategories_order(t *testing.T) {
	repo := newTestRepository(t)

	for _, c := range []*models.Category{
		{ID: "c-3", Name: "Snacks", SortOrder: 3},
		{ID: "c-1", Name: "Drinks", SortOrder: 1},
		{ID: "c-2", Name: "Bakery", SortOrder: 1},
	} {
		if err := repo.UpsertCategory(c); err != nil {
			t.Fatalf("UpsertCategory() failed: %v", err)
		}
	}

	categories, err := repo.ListCategories()
	if err != nil {
		t.Fatalf("ListCategories() failed: %v", err)
	}
	if len(categories) != 3 {
		t.Fatalf("Expected 3 categories, got %d", len(categories))
	}

	// sort_order first, then name
	wantNames := []string{"Bakery", "Drinks", "Snacks"}
	for i, want := range wantNames {
		if categories[i].Name != want {
			t.Errorf("categories[%d].Name = %q, want %q", i, categories[i].Name, want)
		}
	}
}

// TestCategoryHashes verifies the hash map used for diffing.
func TestCategoryHashes(t *testing.T) {
	repo := newTestRepository(t)

	a := &models.Category{ID: "c-1", Name: "Drinks"}
	b := &models.Category{ID: "c-2", Name: "Snacks"}
	if err := repo.UpsertCategory(a); err != nil {
		t.Fatalf("UpsertCategory() failed: %v", err)
	}
	if err := repo.UpsertCategory(b); err != nil {
		t.Fatalf("UpsertCategory() failed: %v", err)
	}

	hashes, err := repo.CategoryHashes()
	if err != nil {
		t.Fatalf("CategoryHashes() failed: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("Expected 2 hashes, got %d", len(hashes))
	}
	if hashes["c-1"] != a.ContentHash {
		t.Errorf("hashes[c-1] = %q, want %q", hashes["c-1"], a.ContentHash)
	}
	if hashes["c-1"] == hashes["c-2"] {
		t.Error("Different categories should hash differently")
	}
}

// =====================================================
// Product Operations
// =====================================================

// TestUpsertProduct verifies insert, update, and lookup.
func TestUpsertProduct(t *testing.T) {
	repo := newTestRepository(t)

	p := &models.Product{
		ID:         "p-1",
		Name:       "Espresso",
		Barcode:    "4006381333931",
		CategoryID: "c-1",
		Price:      2.50,
		TaxRate:    0.07,
		StockQty:   100,
		Unit:       "cup",
	}
	if err := repo.UpsertProduct(p); err != nil {
		t.Fatalf("UpsertProduct() insert failed: %v", err)
	}

	got, err := repo.GetProduct("p-1")
	if err != nil {
		t.Fatalf("GetProduct() failed: %v", err)
	}
	if got.Name != "Espresso" || got.Price != 2.50 {
		t.Errorf("Got %q at %.2f, want Espresso at 2.50", got.Name, got.Price)
	}

	// Price change on re-upsert
	p.Price = 2.80
	p.ContentHash = ""
	if err := repo.UpsertProduct(p); err != nil {
		t.Fatalf("UpsertProduct() update failed: %v", err)
	}
	got, err = repo.GetProduct("p-1")
	if err != nil {
		t.Fatalf("GetProduct() failed: %v", err)
	}
	if got.Price != 2.80 {
		t.Errorf("Price = %.2f, want 2.80", got.Price)
	}
}

// TestGetProduct_notFound verifies missing products report NOT_FOUND.
func TestGetProduct_notFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetProduct("no-such-product")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND error, got: %v", err)
	}
}

// TestGetProductByBarcode verifies scan lookup skips disabled products.
func TestGetProductByBarcode(t *testing.T) {
	repo := newTestRepository(t)

	active := &models.Product{ID: "p-1", Name: "Espresso", Barcode: "111"}
	disabled := &models.Product{ID: "p-2", Name: "Retired", Barcode: "222", IsDisabled: true}
	if err := repo.UpsertProduct(active); err != nil {
		t.Fatalf("UpsertProduct() failed: %v", err)
	}
	if err := repo.UpsertProduct(disabled); err != nil {
		t.Fatalf("UpsertProduct() failed: %v", err)
	}

	got, err := repo.GetProductByBarcode("111")
	if err != nil {
		t.Fatalf("GetProductByBarcode() failed: %v", err)
	}
	if got.ID != "p-1" {
		t.Errorf("ID = %q, want p-1", got.ID)
	}

	_, err = repo.GetProductByBarcode("222")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Disabled product should not resolve, got: %v", err)
	}

	_, err = repo.GetProductByBarcode("999")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Unknown barcode should report NOT_FOUND, got: %v", err)
	}
}

// TestSearchProductsByName verifies prefix search for register lookups.
func TestSearchProductsByName(t *testing.T) {
	repo := newTestRepository(t)

	for _, p := range []*models.Product{
		{ID: "p-1", Name: "Espresso"},
		{ID: "p-2", Name: "Espresso Doppio"},
		{ID: "p-3", Name: "Latte"},
		{ID: "p-4", Name: "Espresso Retired", IsDisabled: true},
	} {
		if err := repo.UpsertProduct(p); err != nil {
			t.Fatalf("UpsertProduct() failed: %v", err)
		}
	}

	products, err := repo.SearchProductsByName("Espresso", 0)
	if err != nil {
		t.Fatalf("SearchProductsByName() failed: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(products))
	}
	for _, p := range products {
		if p.IsDisabled {
			t.Error("Disabled product in search results")
		}
	}

	// Limit applies
	products, err = repo.SearchProductsByName("Espresso", 1)
	if err != nil {
		t.Fatalf("SearchProductsByName() with limit failed: %v", err)
	}
	if len(products) != 1 {
		t.Errorf("Expected 1 match with limit, got %d", len(products))
	}
}

// TestProductHashes verifies the product diff map.
func TestProductHashes(t *testing.T) {
	repo := newTestRepository(t)

	p := &models.Product{ID: "p-1", Name: "Espresso", Price: 2.50}
	if err := repo.UpsertProduct(p); err != nil {
		t.Fatalf("UpsertProduct() failed: %v", err)
	}

	hashes, err := repo.ProductHashes()
	if err != nil {
		t.Fatalf("ProductHashes() failed: %v", err)
	}
	if hashes["p-1"] != p.ContentHash {
		t.Errorf("hashes[p-1] = %q, want %q", hashes["p-1"], p.ContentHash)
	}
}

// =====================================================
// Customer Operations
// =====================================================

// TestUpsertCustomer verifies insert with normalization.
func TestUpsertCustomer(t *testing.T) {
	repo := newTestRepository(t)

	c := &models.Customer{ID: "cust-1", Name: "Ada Lovelace", Phone: "+44 20 7946 0000"}
	if err := repo.UpsertCustomer(c); err != nil {
		t.Fatalf("UpsertCustomer() failed: %v", err)
	}

	got, err := repo.GetCustomer("cust-1")
	if err != nil {
		t.Fatalf("GetCustomer() failed: %v", err)
	}
	if got.Name != "Ada Lovelace" {
		t.Errorf("Name = %q, want Ada Lovelace", got.Name)
	}
	if got.Synced {
		t.Error("New customer should not be marked synced")
	}
}

// TestUpsertCustomer_emptyNameDefaultsWalkIn verifies anonymous sales.
func TestUpsertCustomer_emptyNameDefaultsWalkIn(t *testing.T) {
	repo := newTestRepository(t)

	c := &models.Customer{ID: "cust-1"}
	if err := repo.UpsertCustomer(c); err != nil {
		t.Fatalf("UpsertCustomer() failed: %v", err)
	}

	got, err := repo.GetCustomer("cust-1")
	if err != nil {
		t.Fatalf("GetCustomer() failed: %v", err)
	}
	if got.Name != models.WalkInCustomerName {
		t.Errorf("Name = %q, want %q", got.Name, models.WalkInCustomerName)
	}
}

// TestGetCustomer_notFound verifies missing customers report NOT_FOUND.
func TestGetCustomer_notFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetCustomer("no-such-customer")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND error, got: %v", err)
	}
}

// TestCustomerHashes verifies the customer diff map.
func TestCustomerHashes(t *testing.T) {
	repo := newTestRepository(t)

	c := &models.Customer{ID: "cust-1", Name: "Ada Lovelace"}
	if err := repo.UpsertCustomer(c); err != nil {
		t.Fatalf("UpsertCustomer() failed: %v", err)
	}

	hashes, err := repo.CustomerHashes()
	if err != nil {
		t.Fatalf("CustomerHashes() failed: %v", err)
	}
	if hashes["cust-1"] != c.ContentHash {
		t.Errorf("hashes[cust-1] = %q, want %q", hashes["cust-1"], c.ContentHash)
	}
}

// =====================================================
// Receipt Operations
// =====================================================

func testReceipt(total float64) *models.Receipt {
	r := &models.Receipt{
		Subtotal: total,
		Total:    total,
		Paid:     total,
	}
	r.SetLines([]models.ReceiptLine{
		{ProductID: "p-1", Name: "Espresso", Qty: 1, UnitPrice: total, Total: total},
	})
	return r
}

// TestCreateReceipt verifies creation with generated number.
func TestCreateReceipt(t *testing.T) {
	repo := newTestRepository(t)

	r := testReceipt(2.50)
	if err := repo.CreateReceipt(r); err != nil {
		t.Fatalf("CreateReceipt() failed: %v", err)
	}
	if r.ID == "" {
		t.Error("CreateReceipt() did not assign ID")
	}
	if r.Status != models.ReceiptStatusCompleted {
		t.Errorf("Status = %q, want completed", r.Status)
	}

	wantNumber := fmt.Sprintf("R-%s-0001", time.Now().Format("20060102"))
	if r.Number != wantNumber {
		t.Errorf("Number = %q, want %q", r.Number, wantNumber)
	}

	got, err := repo.GetReceipt(r.ID)
	if err != nil {
		t.Fatalf("GetReceipt() failed: %v", err)
	}
	if got.Total != 2.50 {
		t.Errorf("Total = %.2f, want 2.50", got.Total)
	}
	lines, err := got.DecodeLines()
	if err != nil {
		t.Fatalf("DecodeLines() failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Name != "Espresso" {
		t.Errorf("Lines did not round-trip: %+v", lines)
	}
}

// TestCreateReceipt_numberSequence verifies daily sequential numbering.
func TestCreateReceipt_numberSequence(t *testing.T) {
	repo := newTestRepository(t)

	day := time.Now().Format("20060102")
	for i, want := range []string{
		fmt.Sprintf("R-%s-0001", day),
		fmt.Sprintf("R-%s-0002", day),
		fmt.Sprintf("R-%s-0003", day),
	} {
		r := testReceipt(1.00)
		if err := repo.CreateReceipt(r); err != nil {
			t.Fatalf("CreateReceipt() #%d failed: %v", i+1, err)
		}
		if r.Number != want {
			t.Errorf("Receipt #%d number = %q, want %q", i+1, r.Number, want)
		}
	}
}

// TestCreateReceipt_keepsExplicitNumber verifies caller numbers survive.
func TestCreateReceipt_keepsExplicitNumber(t *testing.T) {
	repo := newTestRepository(t)

	r := testReceipt(5.00)
	r.Number = "R-20240101-0042"
	if err := repo.CreateReceipt(r); err != nil {
		t.Fatalf("CreateReceipt() failed: %v", err)
	}
	if r.Number != "R-20240101-0042" {
		t.Errorf("Number = %q, want explicit number", r.Number)
	}
}

// TestGetReceipt_notFound verifies missing receipts report NOT_FOUND.
func TestGetReceipt_notFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetReceipt("no-such-receipt")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND error, got: %v", err)
	}
}

// TestListUnsyncedReceipts verifies push candidates and ordering.
func TestListUnsyncedReceipts(t *testing.T) {
	repo := newTestRepository(t)

	first := testReceipt(1.00)
	second := testReceipt(2.00)
	voided := testReceipt(3.00)
	voided.Status = models.ReceiptStatusVoid
	synced := testReceipt(4.00)

	for _, r := range []*models.Receipt{first, second, voided, synced} {
		if err := repo.CreateReceipt(r); err != nil {
			t.Fatalf("CreateReceipt() failed: %v", err)
		}
	}
	if err := repo.MarkReceiptSynced(synced.ID, time.Now()); err != nil {
		t.Fatalf("MarkReceiptSynced() failed: %v", err)
	}

	// Force distinct creation times
	if _, err := repo.db.Exec("UPDATE receipts SET created_at = created_at - 100 WHERE id = ?", first.ID); err != nil {
		t.Fatalf("Failed to age receipt: %v", err)
	}

	receipts, err := repo.ListUnsyncedReceipts(0)
	if err != nil {
		t.Fatalf("ListUnsyncedReceipts() failed: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("Expected 2 unsynced receipts, got %d", len(receipts))
	}
	if receipts[0].ID != first.ID {
		t.Error("Unsynced receipts not in oldest-first order")
	}

	// Limit applies
	receipts, err = repo.ListUnsyncedReceipts(1)
	if err != nil {
		t.Fatalf("ListUnsyncedReceipts() with limit failed: %v", err)
	}
	if len(receipts) != 1 {
		t.Errorf("Expected 1 receipt with limit, got %d", len(receipts))
	}
}

// TestMarkReceiptSynced verifies backend acceptance recording.
func TestMarkReceiptSynced(t *testing.T) {
	repo := newTestRepository(t)

	r := testReceipt(2.50)
	if err := repo.CreateReceipt(r); err != nil {
		t.Fatalf("CreateReceipt() failed: %v", err)
	}

	at := time.Now()
	if err := repo.MarkReceiptSynced(r.ID, at); err != nil {
		t.Fatalf("MarkReceiptSynced() failed: %v", err)
	}

	got, err := repo.GetReceipt(r.ID)
	if err != nil {
		t.Fatalf("GetReceipt() failed: %v", err)
	}
	if !got.Synced {
		t.Error("Receipt not marked synced")
	}
	if got.SyncedAt != at.Unix() {
		t.Errorf("SyncedAt = %d, want %d", got.SyncedAt, at.Unix())
	}

	// Missing receipt
	err = repo.MarkReceiptSynced("no-such-receipt", at)
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND error, got: %v", err)
	}
}

// TestCountUnsyncedReceipts verifies the backlog counter.
func TestCountUnsyncedReceipts(t *testing.T) {
	repo := newTestRepository(t)

	count, err := repo.CountUnsyncedReceipts()
	if err != nil {
		t.Fatalf("CountUnsyncedReceipts() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 with no receipts, got %d", count)
	}

	a := testReceipt(1.00)
	b := testReceipt(2.00)
	for _, r := range []*models.Receipt{a, b} {
		if err := repo.CreateReceipt(r); err != nil {
			t.Fatalf("CreateReceipt() failed: %v", err)
		}
	}
	if err := repo.MarkReceiptSynced(a.ID, time.Now()); err != nil {
		t.Fatalf("MarkReceiptSynced() failed: %v", err)
	}

	count, err = repo.CountUnsyncedReceipts()
	if err != nil {
		t.Fatalf("CountUnsyncedReceipts() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 unsynced receipt, got %d", count)
	}
}

// =====================================================
// Credential Operations
// =====================================================

// TestCredential_roundTrip verifies store and fetch of the single credential.
func TestCredential_roundTrip(t *testing.T) {
	repo := newTestRepository(t)

	// Nothing configured yet
	_, err := repo.GetCredential()
	if !apperrors.Is(err, apperrors.ErrSyncNotConfigured) {
		t.Errorf("Expected SYNC_NOT_CONFIGURED error, got: %v", err)
	}

	c := &models.Credential{
		BaseURL:            "https://erp.example.com",
		APIKeyEncrypted:    "sealed-key",
		APISecretEncrypted: "sealed-secret",
		IsEnabled:          true,
	}
	if err := repo.SetCredential(c); err != nil {
		t.Fatalf("SetCredential() failed: %v", err)
	}

	got, err := repo.GetCredential()
	if err != nil {
		t.Fatalf("GetCredential() failed: %v", err)
	}
	if got.BaseURL != "https://erp.example.com" {
		t.Errorf("BaseURL = %q, want https://erp.example.com", got.BaseURL)
	}
	if got.APIKeyEncrypted != "sealed-key" || got.APISecretEncrypted != "sealed-secret" {
		t.Error("Sealed credential fields did not round-trip")
	}
	if !got.IsEnabled {
		t.Error("IsEnabled did not round-trip")
	}
}

// TestSetCredential_replaces verifies there is only ever one credential row.
func TestSetCredential_replaces(t *testing.T) {
	repo := newTestRepository(t)

	first := &models.Credential{BaseURL: "https://old.example.com", IsEnabled: true}
	if err := repo.SetCredential(first); err != nil {
		t.Fatalf("SetCredential() failed: %v", err)
	}
	second := &models.Credential{BaseURL: "https://new.example.com", IsEnabled: true}
	if err := repo.SetCredential(second); err != nil {
		t.Fatalf("Second SetCredential() failed: %v", err)
	}

	got, err := repo.GetCredential()
	if err != nil {
		t.Fatalf("GetCredential() failed: %v", err)
	}
	if got.BaseURL != "https://new.example.com" {
		t.Errorf("BaseURL = %q, want https://new.example.com", got.BaseURL)
	}

	var count int
	if err := repo.db.QueryRow("SELECT COUNT(*) FROM credentials").Scan(&count); err != nil {
		t.Fatalf("Failed to count credentials: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 credential row, got %d", count)
	}
}

package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"constructlink/internal/config"
	"constructlink/internal/domain"
	"constructlink/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func filterAll() models.BatchFilter { return models.BatchFilter{} }

var seq int

func seedBatch(t *testing.T, db *DB, itemCount int, mutate ...func(*models.BorrowingBatch, []*models.BorrowingItem)) *models.BorrowingBatch {
	t.Helper()
	seq++
	now := time.Now().UTC()
	batch := &models.BorrowingBatch{
		Reference:       fmt.Sprintf("BRW-TEST-%d", seq),
		BorrowerName:    "Juan Dela Cruz",
		BorrowerContact: "0917",
		BorrowerProject: "Tower A",
		Purpose:         "Formworks",
		CreatedBy:       1,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          models.StatusPendingVerification,
	}
	items := make([]*models.BorrowingItem, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		items = append(items, &models.BorrowingItem{
			AssetID:   int64(100 + i),
			AssetName: fmt.Sprintf("Drill %d", i),
			Quantity:  1,
			Status:    models.StatusPendingVerification,
		})
	}
	for _, m := range mutate {
		m(batch, items)
	}

	err := db.WithinTx(context.Background(), func(tx domain.WorkflowTx) error {
		return tx.InsertBatch(context.Background(), batch, items)
	})
	require.NoError(t, err)
	return batch
}

func borrowed(expected time.Time) func(*models.BorrowingBatch, []*models.BorrowingItem) {
	return func(b *models.BorrowingBatch, items []*models.BorrowingItem) {
		b.Status = models.StatusBorrowed
		for _, it := range items {
			it.Status = models.StatusBorrowed
			e := expected
			it.ExpectedReturn = &e
		}
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestOpen_SQLiteUsesOneConnection(t *testing.T) {
	logger := zerolog.Nop()
	db, err := Open(config.DatabaseConfig{
		Driver:         DriverSQLite,
		Path:           filepath.Join(t.TempDir(), "serial.db"),
		MaxConnections: 10,
	}, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 1, db.Stats().MaxOpenConnections, "sqlite writes serialize on a single connection")
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	logger := zerolog.Nop()
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, &logger)
	assert.Error(t, err)
}

func TestInsertAndGetBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	batch := seedBatch(t, db, 3)
	assert.NotZero(t, batch.ID)
	assert.Equal(t, int64(1), batch.Version)

	got, items, err := db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.Reference, got.Reference)
	assert.Equal(t, models.StatusPendingVerification, got.Status)
	assert.False(t, got.Verified.Done())
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, batch.ID, it.BatchID)
		assert.Nil(t, it.ExpectedReturn)
	}

	_, _, err = db.GetBatch(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertBatch_RequiresItems(t *testing.T) {
	db := setupTestDB(t)
	err := db.WithinTx(context.Background(), func(tx domain.WorkflowTx) error {
		return tx.InsertBatch(context.Background(), &models.BorrowingBatch{Reference: "BRW-EMPTY"}, nil)
	})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestUpdateBatch_OptimisticLocking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	batch := seedBatch(t, db, 1)

	by := int64(5)
	at := time.Now().UTC()
	err := db.WithinTx(ctx, func(tx domain.WorkflowTx) error {
		locked, _, err := tx.LockBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		locked.Status = models.StatusPendingApproval
		locked.Verified = models.Stamp{By: &by, At: &at, Notes: "checked"}
		locked.UpdatedAt = at
		return tx.UpdateBatch(ctx, locked)
	})
	require.NoError(t, err)

	got, _, err := db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, models.StatusPendingApproval, got.Status)
	require.NotNil(t, got.Verified.By)
	assert.Equal(t, by, *got.Verified.By)
	assert.Equal(t, "checked", got.Verified.Notes)
	assert.WithinDuration(t, at, *got.Verified.At, time.Second)

	// Stale version.
	err = db.WithinTx(ctx, func(tx domain.WorkflowTx) error {
		stale := *batch
		stale.UpdatedAt = time.Now()
		return tx.UpdateBatch(ctx, &stale)
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	batch := seedBatch(t, db, 2)

	boom := errors.New("boom")
	err := db.WithinTx(ctx, func(tx domain.WorkflowTx) error {
		locked, items, err := tx.LockBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			it.Status = models.StatusCanceled
		}
		if err := tx.UpdateItems(ctx, items); err != nil {
			return err
		}
		locked.Status = models.StatusCanceled
		locked.UpdatedAt = time.Now()
		if err := tx.UpdateBatch(ctx, locked); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, items, err := db.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingVerification, got.Status)
	assert.Equal(t, int64(1), got.Version)
	for _, it := range items {
		assert.Equal(t, models.StatusPendingVerification, it.Status)
	}
}

func TestUpdateItems_UnknownItem(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	batch := seedBatch(t, db, 1)

	err := db.WithinTx(ctx, func(tx domain.WorkflowTx) error {
		return tx.UpdateItems(ctx, []*models.BorrowingItem{{ID: 4242, BatchID: batch.ID, Status: models.StatusApproved}})
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAudit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	batch := seedBatch(t, db, 1)

	appendEntry := func(tr models.Transition, key string) error {
		return db.WithinTx(ctx, func(tx domain.WorkflowTx) error {
			return tx.AppendAudit(ctx, &models.AuditEntry{
				EventID:        fmt.Sprintf("evt-%s-%s", tr, key),
				BatchID:        batch.ID,
				Transition:     tr,
				ToStatus:       models.StatusPendingApproval,
				ActorID:        2,
				ActorName:      "PM",
				ActorRole:      models.RoleProjectManager,
				IdempotencyKey: key,
				CreatedAt:      time.Now(),
			})
		})
	}

	require.NoError(t, appendEntry(models.TransitionSubmit, ""))
	require.NoError(t, appendEntry(models.TransitionSchedule, ""))
	require.NoError(t, appendEntry(models.TransitionVerify, "k-1"))

	err := appendEntry(models.TransitionApprove, "k-1")
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	all, err := db.ListAudit(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.TransitionSubmit, all[0].Transition)
	assert.Equal(t, models.TransitionVerify, all[2].Transition)

	recent, err := db.RecentAudit(ctx, batch.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.TransitionVerify, recent[0].Transition)

	found, err := db.FindAuditByKey(ctx, batch.ID, "k-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransitionVerify, found.Transition)
	assert.Equal(t, "k-1", found.IdempotencyKey)

	_, err = db.FindAuditByKey(ctx, batch.ID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBatches(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	pending := seedBatch(t, db, 1)
	late := seedBatch(t, db, 2, borrowed(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)))
	onTime := seedBatch(t, db, 1, borrowed(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)))
	other := seedBatch(t, db, 1, func(b *models.BorrowingBatch, _ []*models.BorrowingItem) {
		b.BorrowerName = "Maria Santos"
		b.BorrowerProject = "Bridge B"
		b.CreatedBy = 9
	})

	ids := func(batches []*models.BorrowingBatch) []int64 {
		out := make([]int64, 0, len(batches))
		for _, b := range batches {
			out = append(out, b.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter models.BatchFilter
		want   []int64
	}{
		{"all newest first", models.BatchFilter{}, []int64{other.ID, onTime.ID, late.ID, pending.ID}},
		{"overdue", models.BatchFilter{Status: models.StatusOverdue}, []int64{late.ID}},
		{"borrowed excludes overdue", models.BatchFilter{Status: models.StatusBorrowed}, []int64{onTime.ID}},
		{"stored status", models.BatchFilter{Status: models.StatusPendingVerification}, []int64{other.ID, pending.ID}},
		{"borrower name", models.BatchFilter{BorrowerName: "maria"}, []int64{other.ID}},
		{"project", models.BatchFilter{BorrowerProject: "Tower A"}, []int64{onTime.ID, late.ID, pending.ID}},
		{"creator", models.BatchFilter{CreatedBy: 9}, []int64{other.ID}},
		{"paging", models.BatchFilter{Limit: 2, Offset: 1}, []int64{onTime.ID, late.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ListBatches(ctx, tt.filter, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	t.Run("boundary is not overdue", func(t *testing.T) {
		got, err := db.ListBatches(ctx, models.BatchFilter{Status: models.StatusOverdue},
			time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, []int64{late.ID}, ids(got))
	})
}

func TestGetItemsForBatches(t *testing.T) {
	db := setupTestDB(t)
	a := seedBatch(t, db, 2)
	b := seedBatch(t, db, 3)

	items, err := db.GetItemsForBatches(context.Background(), []int64{a.ID, b.ID})
	require.NoError(t, err)
	assert.Len(t, items[a.ID], 2)
	assert.Len(t, items[b.ID], 3)

	empty, err := db.GetItemsForBatches(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

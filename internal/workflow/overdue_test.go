package workflow

import (
	"errors"
	"testing"
	"time"

	"constructlink/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(t time.Time) *time.Time { return &t }

func TestEffectiveStatus(t *testing.T) {
	due := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	item := models.BorrowingItem{ID: 1, Status: models.StatusBorrowed, ExpectedReturn: ptr(due)}

	tests := []struct {
		name string
		now  time.Time
		want models.Status
	}{
		{"before due", due.Add(-time.Hour), models.StatusBorrowed},
		{"exactly due", due, models.StatusBorrowed},
		{"one nanosecond late", due.Add(time.Nanosecond), models.StatusOverdue},
		{"days late", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), models.StatusOverdue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := item
			assert.Equal(t, tt.want, EffectiveStatus(item, tt.now))
			assert.Equal(t, before, item, "stored data is untouched")
		})
	}
}

func TestEffectiveStatus_OnlyBorrowedBecomesOverdue(t *testing.T) {
	late := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	due := ptr(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	for _, s := range models.StoredStatuses() {
		if s == models.StatusBorrowed {
			continue
		}
		item := models.BorrowingItem{Status: s, ExpectedReturn: due}
		assert.Equal(t, s, EffectiveStatus(item, late), s)
	}

	noDue := models.BorrowingItem{Status: models.StatusBorrowed}
	assert.Equal(t, models.StatusBorrowed, EffectiveStatus(noDue, late))
}

func TestOverdueBy(t *testing.T) {
	due := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	item := models.BorrowingItem{Status: models.StatusBorrowed, ExpectedReturn: ptr(due)}

	assert.Equal(t, 5*24*time.Hour, OverdueBy(item, due.AddDate(0, 0, 5)))
	assert.Zero(t, OverdueBy(item, due))
}

func TestAggregateStatus(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	early := ptr(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	later := ptr(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))

	item := func(id int64, s models.Status, due *time.Time) *models.BorrowingItem {
		return &models.BorrowingItem{ID: id, BatchID: 9, Status: s, ExpectedReturn: due}
	}

	t.Run("shared status", func(t *testing.T) {
		got, err := AggregateStatus([]*models.BorrowingItem{
			item(1, models.StatusApproved, nil),
			item(2, models.StatusApproved, later),
		}, now)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, got)
	})

	t.Run("all overdue", func(t *testing.T) {
		got, err := AggregateStatus([]*models.BorrowingItem{
			item(1, models.StatusBorrowed, early),
			item(2, models.StatusBorrowed, early),
		}, now)
		require.NoError(t, err)
		assert.Equal(t, models.StatusOverdue, got)
	})

	t.Run("one item overdue", func(t *testing.T) {
		got, err := AggregateStatus([]*models.BorrowingItem{
			item(1, models.StatusBorrowed, later),
			item(2, models.StatusBorrowed, early),
		}, now)
		require.NoError(t, err)
		assert.Equal(t, models.StatusOverdue, got)
	})

	t.Run("disagreeing items", func(t *testing.T) {
		_, err := AggregateStatus([]*models.BorrowingItem{
			item(1, models.StatusApproved, nil),
			item(2, models.StatusBorrowed, later),
		}, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConsistency))
		we, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, int64(9), we.BatchID)
	})

	t.Run("empty batch", func(t *testing.T) {
		_, err := AggregateStatus(nil, now)
		assert.ErrorIs(t, err, ErrConsistency)
	})

	t.Run("unknown stored status", func(t *testing.T) {
		_, err := AggregateStatus([]*models.BorrowingItem{item(1, models.Status("Lost"), nil)}, now)
		assert.ErrorIs(t, err, ErrConsistency)
	})
}

func TestItemViews(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	items := []*models.BorrowingItem{
		{ID: 1, Status: models.StatusBorrowed, ExpectedReturn: ptr(now.Add(-time.Hour))},
		{ID: 2, Status: models.StatusBorrowed, ExpectedReturn: ptr(now.Add(time.Hour))},
	}
	views := ItemViews(items, now)
	require.Len(t, views, 2)
	assert.Equal(t, models.StatusOverdue, views[0].EffectiveStatus)
	assert.Equal(t, models.StatusBorrowed, views[0].Status)
	assert.Equal(t, models.StatusBorrowed, views[1].EffectiveStatus)
}

func TestTransitionsTable(t *testing.T) {
	assert.True(t, ValidFrom(models.TransitionReturn, models.StatusOverdue))
	assert.False(t, ValidFrom(models.TransitionCancel, models.StatusBorrowed))
	assert.False(t, ValidFrom(models.TransitionSubmit, models.StatusPendingVerification))

	post, ok := PostState(models.TransitionRelease)
	assert.True(t, ok)
	assert.Equal(t, models.StatusBorrowed, post)
	_, ok = PostState(models.TransitionSchedule)
	assert.False(t, ok)

	for _, s := range []models.Status{models.StatusReturned, models.StatusCanceled} {
		for _, tr := range models.AllTransitions() {
			assert.False(t, ValidFrom(tr, s), "%s from %s", tr, s)
		}
	}
}

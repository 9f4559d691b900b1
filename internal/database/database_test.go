package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/nutritrack/internal/models"
)

func openTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "meals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCommitAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	logged := time.Date(2026, 3, 14, 12, 30, 0, 5000, time.UTC)
	rec := &models.LogRecord{
		UserID:              "sam",
		FoodName:            "Greek Yogurt",
		FoodDescription:     "plain",
		DetectedName:        "Yogurt",
		DetectedDescription: "Strained yogurt",
		Confidence:          0.15,
		LowConfidence:       true,
		AmountGrams:         150,
		MealType:            models.MealBreakfast,
		ImageURI:            "file:///tmp/a.jpg",
		Timestamp:           logged,
	}
	require.NoError(t, db.Commit(ctx, rec))
	require.NotEmpty(t, rec.ID)

	got, err := db.GetLogRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, logged.Equal(got.Timestamp))
	got.Timestamp = rec.Timestamp
	assert.Equal(t, rec, got)

	missing, err := db.GetLogRecord(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCommitRejectsDuplicatesAndAnonymous(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := &models.LogRecord{ID: "fixed", UserID: "sam", FoodName: "Pizza", Timestamp: time.Now()}
	require.NoError(t, db.Commit(ctx, rec))
	assert.Error(t, db.Commit(ctx, rec))

	assert.ErrorContains(t, db.Commit(ctx, &models.LogRecord{FoodName: "Pizza"}), "no user id")
}

func TestRecentOrdersNewestFirstPerUser(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	for i, name := range []string{"Oats", "Salad", "Pizza"} {
		require.NoError(t, db.Commit(ctx, &models.LogRecord{
			UserID:    "sam",
			FoodName:  name,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, db.Commit(ctx, &models.LogRecord{UserID: "alex", FoodName: "Soup", Timestamp: base}))

	recs, err := db.Recent(ctx, "sam", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Pizza", recs[0].FoodName)
	assert.Equal(t, "Salad", recs[1].FoodName)

	recs, err = db.Recent(ctx, "alex", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Soup", recs[0].FoodName)

	recs, err = db.Recent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSinceReturnsEveryRecordFromPoint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	from := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Commit(ctx, &models.LogRecord{UserID: "sam", FoodName: "Old", Timestamp: from.Add(-time.Second)}))
	for i := 0; i < 28; i++ {
		require.NoError(t, db.Commit(ctx, &models.LogRecord{
			UserID:    "sam",
			FoodName:  "Meal",
			Timestamp: from.Add(time.Duration(i) * 5 * time.Hour),
		}))
	}
	require.NoError(t, db.Commit(ctx, &models.LogRecord{UserID: "alex", FoodName: "Soup", Timestamp: from.Add(time.Hour)}))

	recs, err := db.Since(ctx, "sam", from)
	require.NoError(t, err)
	require.Len(t, recs, 28)
	assert.True(t, from.Equal(recs[27].Timestamp))
	assert.True(t, recs[0].Timestamp.After(recs[1].Timestamp))

	recent, err := db.Recent(ctx, "sam", 0)
	require.NoError(t, err)
	assert.Len(t, recent, 20)
}

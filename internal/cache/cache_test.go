package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

func testStore(t *testing.T, ttl time.Duration) interfaces.RecordCache {
	t.Helper()

	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)

	db := &BadgerDB{store: store}
	cache := NewStore(db, ttl, arbor.NewLogger())
	t.Cleanup(func() { cache.Close() })

	return cache
}

func terminalRecord(id string, kind models.JobKind) *models.JobRecord {
	record := models.NewJobRecord(id, kind)
	record.Status = models.JobStatusCompleted
	record.Progress = 100
	record.Metrics = map[string]float64{"articles_processed": 345}
	return record
}

func TestSetAndGet(t *testing.T) {
	cache := testStore(t, time.Hour)
	ctx := context.Background()

	record := terminalRecord("job-1", models.JobKindSearch)
	key := interfaces.RecordKey(record.Kind, record.ID)

	require.NoError(t, cache.Set(ctx, key, record))

	got, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 345.0, got.Metrics["articles_processed"])

	// Mutating the returned record must not affect the stored copy
	got.Metrics["articles_processed"] = 0
	again, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 345.0, again.Metrics["articles_processed"])
}

func TestGetMiss(t *testing.T) {
	cache := testStore(t, time.Hour)

	_, err := cache.Get(context.Background(), "jobrecord:search:missing")
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)
}

func TestExpiredEntryEvictedOnRead(t *testing.T) {
	cache := testStore(t, 10*time.Millisecond)
	ctx := context.Background()

	record := terminalRecord("job-1", models.JobKindTraining)
	key := interfaces.RecordKey(record.Kind, record.ID)
	require.NoError(t, cache.Set(ctx, key, record))

	time.Sleep(30 * time.Millisecond)

	_, err := cache.Get(ctx, key)
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)
}

func TestInvalidate(t *testing.T) {
	cache := testStore(t, time.Hour)
	ctx := context.Background()

	record := terminalRecord("job-1", models.JobKindSearch)
	key := interfaces.RecordKey(record.Kind, record.ID)
	require.NoError(t, cache.Set(ctx, key, record))

	require.NoError(t, cache.Invalidate(ctx, key))
	_, err := cache.Get(ctx, key)
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)

	// Missing keys are not an error
	assert.NoError(t, cache.Invalidate(ctx, key))
}

func TestInvalidatePrefix(t *testing.T) {
	cache := testStore(t, time.Hour)
	ctx := context.Background()

	searchIDs := []string{"job-1", "job-2", "job-3"}
	for _, id := range searchIDs {
		record := terminalRecord(id, models.JobKindSearch)
		require.NoError(t, cache.Set(ctx, interfaces.RecordKey(models.JobKindSearch, id), record))
	}
	training := terminalRecord("job-9", models.JobKindTraining)
	trainingKey := interfaces.RecordKey(models.JobKindTraining, "job-9")
	require.NoError(t, cache.Set(ctx, trainingKey, training))

	removed, err := cache.InvalidatePrefix(ctx, interfaces.KindPrefix(models.JobKindSearch))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	for _, id := range searchIDs {
		_, err := cache.Get(ctx, interfaces.RecordKey(models.JobKindSearch, id))
		assert.ErrorIs(t, err, interfaces.ErrCacheMiss)
	}

	// Entries of other kinds are untouched
	got, err := cache.Get(ctx, trainingKey)
	require.NoError(t, err)
	assert.Equal(t, "job-9", got.ID)
}

func TestSetOverwritePreservesCreatedAt(t *testing.T) {
	cache := testStore(t, time.Hour)
	ctx := context.Background()

	record := terminalRecord("job-1", models.JobKindSearch)
	key := interfaces.RecordKey(record.Kind, record.ID)
	require.NoError(t, cache.Set(ctx, key, record))

	updated := record.Clone()
	updated.Metrics["articles_processed"] = 500
	require.NoError(t, cache.Set(ctx, key, updated))

	got, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.Metrics["articles_processed"])
}

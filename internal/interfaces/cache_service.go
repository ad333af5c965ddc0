package interfaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/choisimo/newsinsight-monitor/internal/models"
)

// RecordKeyPrefix namespaces job record cache entries
const RecordKeyPrefix = "jobrecord:"

// RecordKey builds the cache key for a job record: "jobrecord:<kind>:<id>"
func RecordKey(kind models.JobKind, jobID string) string {
	return fmt.Sprintf("%s%s:%s", RecordKeyPrefix, kind, jobID)
}

// KindPrefix builds the key prefix covering every record of one kind
func KindPrefix(kind models.JobKind) string {
	return fmt.Sprintf("%s%s:", RecordKeyPrefix, kind)
}

// ErrCacheMiss is returned when a key is absent or its entry has expired
var ErrCacheMiss = errors.New("cache miss")

// CachedRecord is a stored job record with expiry metadata
type CachedRecord struct {
	Key       string            `json:"key" badgerhold:"key"`
	Record    *models.JobRecord `json:"record"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// RecordCache is an explicit cache for job records with a defined key schema
// and invalidation API. Keys follow "jobrecord:<kind>:<id>"; see RecordKey.
type RecordCache interface {
	// Get returns the cached record for a key, or ErrCacheMiss
	Get(ctx context.Context, key string) (*models.JobRecord, error)

	// Set stores a record under a key with the cache's configured TTL
	Set(ctx context.Context, key string, record *models.JobRecord) error

	// Invalidate removes a single key. Missing keys are not an error.
	Invalidate(ctx context.Context, key string) error

	// InvalidatePrefix removes every key with the given prefix and returns
	// the number of entries removed
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)

	// Close releases the underlying store
	Close() error
}

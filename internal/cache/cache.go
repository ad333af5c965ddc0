package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

// Store implements the RecordCache interface for Badger. Expiry is lazy:
// entries past their TTL are removed when read, not by a background sweep.
type Store struct {
	db     *BadgerDB
	ttl    time.Duration
	logger arbor.ILogger
}

// NewStore creates a record cache with the given entry TTL.
// A zero TTL means entries never expire.
func NewStore(db *BadgerDB, ttl time.Duration, logger arbor.ILogger) interfaces.RecordCache {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Store{
		db:     db,
		ttl:    ttl,
		logger: logger,
	}
}

// Get retrieves a cached record by key
func (s *Store) Get(ctx context.Context, key string) (*models.JobRecord, error) {
	var cached interfaces.CachedRecord
	err := s.db.Store().Get(key, &cached)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached record: %w", err)
	}

	if !cached.ExpiresAt.IsZero() && time.Now().After(cached.ExpiresAt) {
		if err := s.db.Store().Delete(key, &interfaces.CachedRecord{}); err != nil && err != badgerhold.ErrNotFound {
			s.logger.Warn().Str("key", key).Err(err).Msg("Failed to evict expired cache entry")
		}
		return nil, interfaces.ErrCacheMiss
	}

	if cached.Record == nil {
		return nil, interfaces.ErrCacheMiss
	}
	return cached.Record.Clone(), nil
}

// Set inserts or updates a cached record under the given key
func (s *Store) Set(ctx context.Context, key string, record *models.JobRecord) error {
	if key == "" {
		return fmt.Errorf("cache key cannot be empty")
	}
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	now := time.Now()
	cached := interfaces.CachedRecord{
		Key:       key,
		Record:    record.Clone(),
		CreatedAt: now,
	}
	if s.ttl > 0 {
		cached.ExpiresAt = now.Add(s.ttl)
	}

	// Preserve CreatedAt on overwrite
	var existing interfaces.CachedRecord
	if err := s.db.Store().Get(key, &existing); err == nil {
		cached.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Store().Upsert(key, &cached); err != nil {
		return fmt.Errorf("failed to cache record: %w", err)
	}
	return nil
}

// Invalidate removes a single cache entry. Missing keys are not an error.
func (s *Store) Invalidate(ctx context.Context, key string) error {
	err := s.db.Store().Delete(key, &interfaces.CachedRecord{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to invalidate cache key: %w", err)
	}
	return nil
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns the number of entries removed
func (s *Store) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("prefix cannot be empty")
	}

	var entries []interfaces.CachedRecord
	if err := s.db.Store().Find(&entries, nil); err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Key, prefix) {
			continue
		}
		if err := s.db.Store().Delete(entry.Key, &interfaces.CachedRecord{}); err != nil {
			s.logger.Warn().Str("key", entry.Key).Err(err).Msg("Failed to delete cache entry during prefix invalidation")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug().
			Str("prefix", prefix).
			Int("count", removed).
			Msg("Invalidated cache entries by prefix")
	}
	return removed, nil
}

// Close closes the underlying store
func (s *Store) Close() error {
	return s.db.Close()
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context) (int, error)
}

// CacheService caches source rows between runs. Cache failures are logged
// and treated as misses; they never fail a run.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// SourceKey derives the cache key of one source query.
func SourceKey(kind models.SourceKind, q models.SourceQuery) string {
	norm := models.SourceQuery{
		Units:      sortedCopy(q.Units),
		CutoffStrm: q.CutoffStrm,
		EmplIDs:    sortedCopy(q.EmplIDs),
	}
	payload, _ := json.Marshal(norm)
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("source:%s:%s", strings.ToLower(string(kind)), hex.EncodeToString(sum[:12]))
}

// GetRows returns cached rows for the key. The bool is false on a miss.
func (s *CacheService) GetRows(ctx context.Context, key string) ([]models.SourceRow, bool) {
	if !s.Enabled() {
		return nil, false
	}
	var rows []models.SourceRow
	err := s.repo.Get(ctx, key, &rows)
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		s.metrics.RecordCacheLookup(false)
		return nil, false
	}
	s.metrics.RecordCacheLookup(true)
	return rows, true
}

// SetRows stores rows under the key with the default TTL.
func (s *CacheService) SetRows(ctx context.Context, key string, rows []models.SourceRow) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Set(ctx, key, rows, s.defaultTTL); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every cached source query.
func (s *CacheService) Invalidate(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	n, err := s.repo.Invalidate(ctx)
	if err != nil {
		s.logger.Warn("cache invalidate failed", zap.Error(err))
		return err
	}
	s.logger.Debug("source cache invalidated", zap.Int("keys", n))
	return nil
}

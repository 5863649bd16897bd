package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
)

// SourceReader fetches one kind of row from the student-records source.
type SourceReader interface {
	Fetch(ctx context.Context, kind models.SourceKind, q models.SourceQuery) ([]models.SourceRow, error)
}

// SourceService reads every row kind up front, going through the cache when
// one is configured.
type SourceService struct {
	reader  SourceReader
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
}

// NewSourceService constructs a SourceService. cache may be nil.
func NewSourceService(reader SourceReader, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *SourceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceService{reader: reader, cache: cache, metrics: metrics, logger: logger}
}

// FetchAll returns the rows of every kind, in fetch order.
func (s *SourceService) FetchAll(ctx context.Context, q models.SourceQuery) ([]models.SourceRow, error) {
	all := make([]models.SourceRow, 0)
	for _, kind := range models.SourceKinds {
		rows, err := s.fetch(ctx, kind, q)
		if err != nil {
			return nil, err
		}
		s.metrics.RecordSourceRows(kind, len(rows))
		s.logger.Debug("fetched source rows", zap.String("kind", string(kind)), zap.Int("rows", len(rows)))
		all = append(all, rows...)
	}
	return all, nil
}

func (s *SourceService) fetch(ctx context.Context, kind models.SourceKind, q models.SourceQuery) ([]models.SourceRow, error) {
	key := SourceKey(kind, q)
	if rows, ok := s.cache.GetRows(ctx, key); ok {
		return rows, nil
	}
	rows, err := s.reader.Fetch(ctx, kind, q)
	if err != nil {
		return nil, err
	}
	s.cache.SetRows(ctx, key, rows)
	return rows, nil
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

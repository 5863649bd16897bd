package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sfu-fas/coursys-sub000/internal/models"
	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

type readerStub struct {
	mu    sync.Mutex
	calls map[models.SourceKind]int
	err   error
}

func (r *readerStub) Fetch(_ context.Context, kind models.SourceKind, q models.SourceQuery) ([]models.SourceRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[models.SourceKind]int{}
	}
	r.calls[kind]++
	if r.err != nil {
		return nil, r.err
	}
	return []models.SourceRow{{Kind: kind, EmplID: "300000001", Unit: q.Units[0], EffDate: day("2013-08-20")}}, nil
}

type memoryCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) Invalidate(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = map[string][]byte{}
	return n, nil
}

func TestSourceServiceFetchAllReadsEveryKind(t *testing.T) {
	reader := &readerStub{}
	svc := NewSourceService(reader, nil, nil, zap.NewNop())

	rows, err := svc.FetchAll(context.Background(), models.SourceQuery{Units: []string{"CMPT"}})
	require.NoError(t, err)
	require.Len(t, rows, len(models.SourceKinds))
	for i, kind := range models.SourceKinds {
		assert.Equal(t, kind, rows[i].Kind)
		assert.Equal(t, 1, reader.calls[kind])
	}
}

func TestSourceServiceUsesCache(t *testing.T) {
	reader := &readerStub{}
	metrics := NewMetricsService()
	cache := NewCacheService(newMemoryCacheRepo(), metrics, time.Minute, zap.NewNop(), true)
	svc := NewSourceService(reader, cache, metrics, zap.NewNop())
	q := models.SourceQuery{Units: []string{"CMPT"}, CutoffStrm: "1101"}

	first, err := svc.FetchAll(context.Background(), q)
	require.NoError(t, err)
	second, err := svc.FetchAll(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second))
	require.NotNil(t, second[0].EffDate)
	assert.True(t, first[0].EffDate.Equal(*second[0].EffDate))
	for _, kind := range models.SourceKinds {
		assert.Equal(t, 1, reader.calls[kind], kind)
	}
	assert.Equal(t, float64(len(models.SourceKinds)), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(len(models.SourceKinds)), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("miss")))

	require.NoError(t, cache.Invalidate(context.Background()))
	_, err = svc.FetchAll(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls[models.SourceProgramStatus])
}

func TestSourceServiceCacheFailureFallsBackToSource(t *testing.T) {
	reader := &readerStub{}
	repo := newMemoryCacheRepo()
	repo.getErr = errors.New("redis: connection refused")
	cache := NewCacheService(repo, nil, time.Minute, zap.NewNop(), true)
	svc := NewSourceService(reader, cache, nil, zap.NewNop())

	rows, err := svc.FetchAll(context.Background(), models.SourceQuery{Units: []string{"CMPT"}})
	require.NoError(t, err)
	assert.Len(t, rows, len(models.SourceKinds))
}

func TestSourceServicePropagatesReaderErrors(t *testing.T) {
	svc := NewSourceService(&readerStub{err: errors.New("permission denied for ps_acad_prog")}, nil, nil, nil)
	_, err := svc.FetchAll(context.Background(), models.SourceQuery{Units: []string{"CMPT"}})
	require.Error(t, err)
}

func TestSourceKeyIgnoresOrder(t *testing.T) {
	a := SourceKey(models.SourceCommittee, models.SourceQuery{Units: []string{"CMPT", "ENSC"}, EmplIDs: []string{"2", "1"}})
	b := SourceKey(models.SourceCommittee, models.SourceQuery{Units: []string{"ENSC", "CMPT"}, EmplIDs: []string{"1", "2"}})
	c := SourceKey(models.SourceMetadata, models.SourceQuery{Units: []string{"CMPT", "ENSC"}, EmplIDs: []string{"1", "2"}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "source:committeemembership:")
}

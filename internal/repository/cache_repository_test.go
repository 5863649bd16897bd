package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/sfu-fas/coursys-sub000/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "gradsync")
	assert.False(t, repo.Enabled())

	var dest []string
	err := repo.Get(context.Background(), "source:k", &dest)
	require.ErrorIs(t, err, appErrors.ErrCacheMiss)

	require.NoError(t, repo.Set(context.Background(), "source:k", []string{"x"}, time.Minute))
	n, err := repo.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, repo.Close())
}

func TestCacheRepositoryKeyPrefix(t *testing.T) {
	assert.Equal(t, "gradsync:source:abc", NewCacheRepository(nil, "gradsync").key("source:abc"))
	assert.Equal(t, "source:abc", NewCacheRepository(nil, "").key("source:abc"))
}

package service

import (
	"context"

	"github.com/sfu-fas/coursys-sub000/internal/importer"
	"github.com/sfu-fas/coursys-sub000/internal/importer/memstore"
	"github.com/sfu-fas/coursys-sub000/internal/repository"
)

// TxRunner runs one person's reconciliation inside a transaction that
// commits only when fn succeeds and commit is true.
type TxRunner interface {
	WithinTx(ctx context.Context, commit bool, fn func(importer.Store) error) error
}

var (
	_ importer.Store = (*repository.GradTx)(nil)
	_ importer.Store = (*memstore.Store)(nil)
)

// GradTxRunner runs transactions against the PostgreSQL local store.
type GradTxRunner struct {
	repo *repository.GradRepository
}

// NewGradTxRunner constructs a GradTxRunner.
func NewGradTxRunner(repo *repository.GradRepository) *GradTxRunner {
	return &GradTxRunner{repo: repo}
}

// WithinTx implements TxRunner.
func (r *GradTxRunner) WithinTx(ctx context.Context, commit bool, fn func(importer.Store) error) error {
	return r.repo.WithinTx(ctx, commit, func(tx *repository.GradTx) error {
		return fn(tx)
	})
}

// MemTxRunner runs transactions against an in-memory store.
type MemTxRunner struct {
	store *memstore.Store
}

// NewMemTxRunner constructs a MemTxRunner.
func NewMemTxRunner(store *memstore.Store) *MemTxRunner {
	return &MemTxRunner{store: store}
}

// WithinTx implements TxRunner.
func (r *MemTxRunner) WithinTx(ctx context.Context, commit bool, fn func(importer.Store) error) error {
	return r.store.WithinTx(ctx, commit, func(s *memstore.Store) error {
		return fn(s)
	})
}

// Package store persists the vote ledger. Every backend is append-only: there
// is no update or delete path. Uniqueness of (subject, voter hash) is not a
// storage constraint; callers enforce it by running their duplicate check and
// append inside Tx.RunInTx for the pair's key.
package store

import (
	"context"

	"civicledger/internal/ledger/models"
)

// Store is the ledger persistence contract.
type Store interface {
	// Append durably persists rec.
	Append(ctx context.Context, rec *models.VoteRecord) error
	// FindBySubjectAndVoterHash returns sentinel.ErrNotFound when no record exists.
	FindBySubjectAndVoterHash(ctx context.Context, subjectID, voterHash string) (*models.VoteRecord, error)
	// All returns every record in insertion order.
	All(ctx context.Context) ([]*models.VoteRecord, error)
}

// Tx provides a transactional boundary scoped to a uniqueness key (see
// models.Key). fn receives a Store whose reads and writes are isolated from
// any other transaction on the same key.
type Tx interface {
	RunInTx(ctx context.Context, key string, fn func(store Store) error) error
}

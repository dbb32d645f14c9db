package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"civicledger/internal/ledger/models"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/sentinel"
)

// DefaultPostgresTable is used when no table name is configured.
const DefaultPostgresTable = "vote_records"

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists the ledger in a single append-only table. The seq
// column carries insertion order.
type PostgresStore struct {
	db      *sql.DB
	table   string
	timeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresTable overrides the ledger table name.
func WithPostgresTable(name string) PostgresOption {
	return func(s *PostgresStore) {
		if name != "" {
			s.table = pq.QuoteIdentifier(name)
		}
	}
}

// WithPostgresTxTimeout overrides the default transaction deadline.
func WithPostgresTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewPostgresStore constructs a PostgreSQL-backed ledger.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:      db,
		table:   pq.QuoteIdentifier(DefaultPostgresTable),
		timeout: defaultLedgerTxTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// EnsureSchema creates the ledger table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq           BIGSERIAL PRIMARY KEY,
			id            TEXT NOT NULL UNIQUE,
			subject_id    TEXT NOT NULL,
			vote_type     TEXT NOT NULL,
			voter_hash    TEXT NOT NULL,
			region        TEXT NOT NULL DEFAULT '',
			timestamp_ms  BIGINT NOT NULL,
			receipt_hash  TEXT NOT NULL,
			voter_address TEXT NOT NULL DEFAULT ''
		)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec *models.VoteRecord) error {
	return appendPostgres(ctx, s.db, s.table, rec)
}

func (s *PostgresStore) FindBySubjectAndVoterHash(ctx context.Context, subjectID, voterHash string) (*models.VoteRecord, error) {
	return findPostgres(ctx, s.db, s.table, subjectID, voterHash)
}

func (s *PostgresStore) All(ctx context.Context) ([]*models.VoteRecord, error) {
	return allPostgres(ctx, s.db, s.table)
}

// RunInTx takes a transaction-scoped advisory lock on key, so concurrent
// transactions for the same pair queue behind each other until commit.
func (s *PostgresStore) RunInTx(ctx context.Context, key string, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
		return fmt.Errorf("lock ledger key: %w", err)
	}

	if err := fn(&postgresTxStore{tx: tx, table: s.table}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

type postgresTxStore struct {
	tx    *sql.Tx
	table string
}

func (s *postgresTxStore) Append(ctx context.Context, rec *models.VoteRecord) error {
	return appendPostgres(ctx, s.tx, s.table, rec)
}

func (s *postgresTxStore) FindBySubjectAndVoterHash(ctx context.Context, subjectID, voterHash string) (*models.VoteRecord, error) {
	return findPostgres(ctx, s.tx, s.table, subjectID, voterHash)
}

func (s *postgresTxStore) All(ctx context.Context) ([]*models.VoteRecord, error) {
	return allPostgres(ctx, s.tx, s.table)
}

const recordColumns = `id, subject_id, vote_type, voter_hash, region, timestamp_ms, receipt_hash, voter_address`

func appendPostgres(ctx context.Context, q querier, table string, rec *models.VoteRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, table, recordColumns)
	_, err := q.ExecContext(ctx, query,
		rec.ID, rec.SubjectID, string(rec.VoteType), rec.VoterHash,
		rec.Region, rec.Timestamp, rec.ReceiptHash, rec.VoterAddress,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return dErrors.Wrap(err, dErrors.CodeConflict, "record id already exists")
		}
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func findPostgres(ctx context.Context, q querier, table, subjectID, voterHash string) (*models.VoteRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE subject_id = $1 AND voter_hash = $2 ORDER BY seq LIMIT 1`, recordColumns, table)
	rec, err := scanRecord(q.QueryRowContext(ctx, query, subjectID, voterHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return rec, nil
}

func allPostgres(ctx context.Context, q querier, table string) ([]*models.VoteRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY seq`, recordColumns, table)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*models.VoteRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.VoteRecord, error) {
	var (
		rec      models.VoteRecord
		voteType string
	)
	if err := row.Scan(
		&rec.ID, &rec.SubjectID, &voteType, &rec.VoterHash,
		&rec.Region, &rec.Timestamp, &rec.ReceiptHash, &rec.VoterAddress,
	); err != nil {
		return nil, err
	}
	rec.VoteType = models.VoteType(voteType)
	return &rec, nil
}

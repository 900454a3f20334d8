package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxRepository exposes the transactional ledger operations. Callers that
// post alongside their own side effects embed this interface in their own
// transactional port and run everything in one WithTx scope.
type TxRepository interface {
	InsertTransaction(ctx context.Context, in PostingInput, totalDebit, totalCredit decimal.Decimal) (Transaction, error)
	InsertLines(ctx context.Context, companyID, transactionID uuid.UUID, lines []LineInput) error
	GetTransaction(ctx context.Context, companyID, id uuid.UUID) (Transaction, error)
	GetTransactionWithLines(ctx context.Context, companyID, id uuid.UUID) (Transaction, []Line, error)
	ValidateAccounts(ctx context.Context, companyID uuid.UUID, accountIDs []uuid.UUID) error
	CloseExists(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (bool, error)
	NumberExists(ctx context.Context, companyID uuid.UUID, number string) (bool, error)
	CorrectionNumbers(ctx context.Context, companyID uuid.UUID, base string) ([]string, error)
	MarkReversed(ctx context.Context, originalID, reversalID, actorID uuid.UUID, reason string, at time.Time) error
	LinkCorrection(ctx context.Context, correctionID, originalID uuid.UUID, reason string) error
	FindCorrectionOf(ctx context.Context, companyID, originalID uuid.UUID) (Transaction, bool, error)
	LatestUnreversed(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (Transaction, error)
	SetLock(ctx context.Context, companyID, id uuid.UUID, actorID *uuid.UUID, reason string, locked bool, at time.Time) error
	LockRange(ctx context.Context, companyID uuid.UUID, txType string, from, to time.Time, actorID uuid.UUID, reason string, at time.Time) (int64, error)
	RecentByType(ctx context.Context, companyID uuid.UUID, txType string, since time.Time) ([]Transaction, error)
	AdvisoryLock(ctx context.Context, key int64) error
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Repository persists ledger entities through pgx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction. Any error rolls
// the whole scope back; nothing is durable until commit.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// TxFrom wraps an existing pgx transaction so composed repositories can
// share one atomic scope.
func TxFrom(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

const transactionColumns = `id, company_id, transaction_number, transaction_type, transaction_date,
currency, base_currency, description, reference_type, reference_id, metadata,
total_debit, total_credit, is_locked, locked_by_user_id, locked_at, lock_reason,
reversed_by_id, reversal_of_id, corrects_transaction_id, amendment_reason, amended_at, amended_by_user_id,
posted_by_user_id, posted_at, created_at, updated_at, deleted_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.CompanyID, &t.Number, &t.Type, &t.Date,
		&t.Currency, &t.BaseCurrency, &t.Description, &t.ReferenceType, &t.ReferenceID, &t.Metadata,
		&t.TotalDebit, &t.TotalCredit, &t.IsLocked, &t.LockedBy, &t.LockedAt, &t.LockReason,
		&t.ReversedByID, &t.ReversalOfID, &t.CorrectsTransactionID, &t.AmendmentReason, &t.AmendedAt, &t.AmendedBy,
		&t.PostedBy, &t.PostedAt, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, in PostingInput, totalDebit, totalCredit decimal.Decimal) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO gl_transactions
(company_id, transaction_number, transaction_type, transaction_date, currency, base_currency,
 description, reference_type, reference_id, metadata, total_debit, total_credit,
 reversal_of_id, status, posted_by_user_id, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'posted',$14,NOW())
RETURNING `+transactionColumns,
		in.CompanyID, in.Number, in.Type, in.Date, in.Currency, in.BaseCurrency,
		in.Description, in.ReferenceType, in.ReferenceID, in.Metadata, totalDebit, totalCredit,
		in.ReversalOfID, in.ActorID)
	return scanTransaction(row)
}

func (r *txRepository) InsertLines(ctx context.Context, companyID, transactionID uuid.UUID, lines []LineInput) error {
	for idx, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO gl_lines
(company_id, transaction_id, account_id, line_number, side, amount, description)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			companyID, transactionID, line.AccountID, idx+1, line.Side, line.Amount, line.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetTransaction(ctx context.Context, companyID, id uuid.UUID) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM gl_transactions
WHERE company_id=$1 AND id=$2 AND deleted_at IS NULL`, companyID, id)
	return scanTransaction(row)
}

func (r *txRepository) GetTransactionWithLines(ctx context.Context, companyID, id uuid.UUID) (Transaction, []Line, error) {
	entry, err := r.GetTransaction(ctx, companyID, id)
	if err != nil {
		return Transaction{}, nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, transaction_id, account_id, line_number, side, amount, description
FROM gl_lines WHERE transaction_id=$1 ORDER BY line_number ASC`, id)
	if err != nil {
		return Transaction{}, nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.AccountID, &line.LineNumber, &line.Side, &line.Amount, &line.Description); err != nil {
			return Transaction{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return Transaction{}, nil, err
	}
	return entry, lines, nil
}

func (r *txRepository) ValidateAccounts(ctx context.Context, companyID uuid.UUID, accountIDs []uuid.UUID) error {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts
WHERE company_id=$1 AND id = ANY($2) AND is_active AND deleted_at IS NULL`, companyID, accountIDs).Scan(&count)
	if err != nil {
		return err
	}
	if count != len(accountIDs) {
		return ErrInvalidAccount
	}
	return nil
}

func (r *txRepository) CloseExists(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM gl_transactions
WHERE company_id=$1 AND transaction_type=$2 AND transaction_date=$3 AND deleted_at IS NULL)`,
		companyID, txType, date).Scan(&exists)
	return exists, err
}

func (r *txRepository) NumberExists(ctx context.Context, companyID uuid.UUID, number string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM gl_transactions
WHERE company_id=$1 AND transaction_number=$2 AND deleted_at IS NULL)`, companyID, number).Scan(&exists)
	return exists, err
}

func (r *txRepository) CorrectionNumbers(ctx context.Context, companyID uuid.UUID, base string) ([]string, error) {
	rows, err := r.tx.Query(ctx, `SELECT transaction_number FROM gl_transactions
WHERE company_id=$1 AND transaction_number LIKE $2 AND deleted_at IS NULL`, companyID, base+"-C%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

func (r *txRepository) MarkReversed(ctx context.Context, originalID, reversalID, actorID uuid.UUID, reason string, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_transactions
SET reversed_by_id=$2, amendment_reason=$3, amended_at=$4, amended_by_user_id=$5, updated_at=NOW()
WHERE id=$1 AND reversed_by_id IS NULL`, originalID, reversalID, reason, at, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotAmendable
	}
	return nil
}

func (r *txRepository) LinkCorrection(ctx context.Context, correctionID, originalID uuid.UUID, reason string) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_transactions
SET corrects_transaction_id=$2, amendment_reason=$3, updated_at=NOW() WHERE id=$1`,
		correctionID, originalID, reason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) FindCorrectionOf(ctx context.Context, companyID, originalID uuid.UUID) (Transaction, bool, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM gl_transactions
WHERE company_id=$1 AND corrects_transaction_id=$2 AND deleted_at IS NULL
ORDER BY created_at ASC LIMIT 1`, companyID, originalID)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, err
	}
	return t, true, nil
}

func (r *txRepository) LatestUnreversed(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM gl_transactions
WHERE company_id=$1 AND transaction_type=$2 AND transaction_date=$3
  AND reversed_by_id IS NULL AND deleted_at IS NULL
ORDER BY created_at DESC LIMIT 1`, companyID, txType, date)
	return scanTransaction(row)
}

func (r *txRepository) SetLock(ctx context.Context, companyID, id uuid.UUID, actorID *uuid.UUID, reason string, locked bool, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_transactions
SET is_locked=$3, locked_by_user_id=$4, locked_at=$5, lock_reason=$6, updated_at=NOW()
WHERE company_id=$1 AND id=$2 AND deleted_at IS NULL`,
		companyID, id, locked, actorID, nullableTime(locked, at), reason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) LockRange(ctx context.Context, companyID uuid.UUID, txType string, from, to time.Time, actorID uuid.UUID, reason string, at time.Time) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_transactions
SET is_locked=TRUE, locked_by_user_id=$5, locked_at=$6, lock_reason=$7, updated_at=NOW()
WHERE company_id=$1 AND transaction_type=$2 AND transaction_date BETWEEN $3 AND $4
  AND NOT is_locked AND reversed_by_id IS NULL AND deleted_at IS NULL`,
		companyID, txType, from, to, actorID, at, reason)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *txRepository) RecentByType(ctx context.Context, companyID uuid.UUID, txType string, since time.Time) ([]Transaction, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+transactionColumns+` FROM gl_transactions
WHERE company_id=$1 AND transaction_type=$2 AND transaction_date >= $3 AND deleted_at IS NULL
ORDER BY transaction_date DESC`, companyID, txType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AdvisoryLock serialises correction numbering and other check-then-act
// sections on a per-company key for the life of the transaction.
func (r *txRepository) AdvisoryLock(ctx context.Context, key int64) error {
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	return err
}

func nullableTime(set bool, at time.Time) any {
	if !set {
		return nil
	}
	return at
}

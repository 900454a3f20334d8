package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/stationledger/stationledger/internal/jobs"
	"github.com/stationledger/stationledger/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// integrityScanConcurrency bounds the per-company fan-out.
const integrityScanConcurrency = 4

// Imbalance is a posted transaction whose debits and credits disagree,
// either on the header totals or between the header and its lines.
type Imbalance struct {
	TransactionID uuid.UUID
	Number        string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

// IntegrityStore reads the ledger state inspected by the scan.
type IntegrityStore interface {
	CompanyIDs(ctx context.Context) ([]uuid.UUID, error)
	HeaderImbalances(ctx context.Context, companyID uuid.UUID) ([]Imbalance, error)
	LineMismatches(ctx context.Context, companyID uuid.UUID) ([]Imbalance, error)
}

// IntegrityDB is the pgx-backed IntegrityStore.
type IntegrityDB struct {
	pool *pgxpool.Pool
}

// NewIntegrityDB wraps a pool for integrity queries.
func NewIntegrityDB(pool *pgxpool.Pool) *IntegrityDB {
	return &IntegrityDB{pool: pool}
}

// CompanyIDs lists every company with posted transactions.
func (d *IntegrityDB) CompanyIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := d.pool.Query(ctx, `SELECT DISTINCT company_id FROM gl_transactions
WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HeaderImbalances returns transactions whose stored totals differ by
// more than a cent.
func (d *IntegrityDB) HeaderImbalances(ctx context.Context, companyID uuid.UUID) ([]Imbalance, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, transaction_number, total_debit, total_credit
FROM gl_transactions
WHERE company_id=$1 AND deleted_at IS NULL AND ABS(total_debit - total_credit) > 0.01`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanImbalances(rows)
}

// LineMismatches returns transactions whose line sums disagree with the
// header totals.
func (d *IntegrityDB) LineMismatches(ctx context.Context, companyID uuid.UUID) ([]Imbalance, error) {
	rows, err := d.pool.Query(ctx, `SELECT t.id, t.transaction_number,
COALESCE(SUM(l.amount) FILTER (WHERE l.side='debit'), 0),
COALESCE(SUM(l.amount) FILTER (WHERE l.side='credit'), 0)
FROM gl_transactions t
JOIN gl_lines l ON l.transaction_id = t.id
WHERE t.company_id=$1 AND t.deleted_at IS NULL
GROUP BY t.id, t.transaction_number, t.total_debit, t.total_credit
HAVING COALESCE(SUM(l.amount) FILTER (WHERE l.side='debit'), 0) <> t.total_debit
    OR COALESCE(SUM(l.amount) FILTER (WHERE l.side='credit'), 0) <> t.total_credit`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanImbalances(rows)
}

type imbalanceRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanImbalances(rows imbalanceRows) ([]Imbalance, error) {
	var out []Imbalance
	for rows.Next() {
		var im Imbalance
		if err := rows.Scan(&im.TransactionID, &im.Number, &im.Debit, &im.Credit); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

// integrityLockTTL bounds how long a crashed sweep holds its company lock.
const integrityLockTTL = 5 * time.Minute

// GLIntegrityJob re-verifies the balance invariant over posted
// transactions. Findings are logged and counted, never auto-repaired.
type GLIntegrityJob struct {
	Store   IntegrityStore
	Locker  *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob initialises the integrity scan handler. The locker is
// optional; when set, companies already being swept by another worker are
// skipped.
func NewGLIntegrityJob(store IntegrityStore, locker *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Store:   store,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity scan.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskGLIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	companies, err := j.companies(ctx, payload)
	if err != nil {
		resultErr = err
		j.logger().Error("list companies", slog.Any("error", err))
		return resultErr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(integrityScanConcurrency)
	counts := make([]int, len(companies))
	for i, companyID := range companies {
		g.Go(func() error {
			n, err := j.scanCompany(gctx, companyID)
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		j.logger().Error("integrity scan failed", slog.Any("error", err))
		return resultErr
	}
	var total int
	for _, n := range counts {
		total += n
	}

	j.logger().Info("integrity scan completed",
		slog.Int("companies", len(companies)),
		slog.Int("findings", total),
		slog.Duration("took", j.now().Sub(start)),
	)
	return nil
}

func (j *GLIntegrityJob) companies(ctx context.Context, payload GLIntegrityPayload) ([]uuid.UUID, error) {
	if payload.CompanyID != uuid.Nil {
		return []uuid.UUID{payload.CompanyID}, nil
	}
	return j.Store.CompanyIDs(ctx)
}

func (j *GLIntegrityJob) scanCompany(ctx context.Context, companyID uuid.UUID) (int, error) {
	if j.Locker != nil {
		key := shared.IntegrityLockKey(companyID)
		acquired, err := j.Locker.SetNX(ctx, key, "1", integrityLockTTL).Result()
		if err != nil {
			return 0, err
		}
		if !acquired {
			j.logger().Info("integrity sweep already running, skipping",
				slog.String("company_id", companyID.String()))
			return 0, nil
		}
		defer j.Locker.Del(context.WithoutCancel(ctx), key)
	}
	headers, err := j.Store.HeaderImbalances(ctx, companyID)
	if err != nil {
		return 0, err
	}
	lines, err := j.Store.LineMismatches(ctx, companyID)
	if err != nil {
		return 0, err
	}
	for _, im := range headers {
		j.logger().Warn("unbalanced transaction header",
			slog.String("company_id", companyID.String()),
			slog.String("transaction_id", im.TransactionID.String()),
			slog.String("number", im.Number),
			slog.String("debit", im.Debit.String()),
			slog.String("credit", im.Credit.String()),
		)
	}
	for _, im := range lines {
		j.logger().Warn("transaction lines disagree with header",
			slog.String("company_id", companyID.String()),
			slog.String("transaction_id", im.TransactionID.String()),
			slog.String("number", im.Number),
			slog.String("line_debit", im.Debit.String()),
			slog.String("line_credit", im.Credit.String()),
		)
	}
	j.metrics().AddFindings("header_imbalance", companyID.String(), len(headers))
	j.metrics().AddFindings("line_mismatch", companyID.String(), len(lines))
	return len(headers) + len(lines), nil
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

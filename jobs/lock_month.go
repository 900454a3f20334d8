package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stationledger/stationledger/internal/ledger"
	jobmetrics "github.com/stationledger/stationledger/internal/jobs"
	"github.com/stationledger/stationledger/internal/shared"
)

// MonthLocker bulk-locks close transactions for a calendar month.
// Satisfied by ledger.Service.
type MonthLocker interface {
	LockMonth(ctx context.Context, companyID uuid.UUID, txType string, year int, month time.Month, actorID uuid.UUID) (int64, error)
}

// monthLockTTL bounds how long a crashed run holds the month-end lock.
const monthLockTTL = time.Minute

// LockMonthJob applies month-end locking to close transactions so
// amendments after the cut-off go through correction entries.
type LockMonthJob struct {
	Ledger  MonthLocker
	Locker  *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLockMonthJob wires dependencies for the lock handler. The redis
// locker is optional; when set, duplicate submissions for the same
// company and month are dropped instead of re-locking.
func NewLockMonthJob(ledgerSvc MonthLocker, locker *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *LockMonthJob {
	return &LockMonthJob{Ledger: ledgerSvc, Locker: locker, Logger: logger, Metrics: metrics}
}

// Handle processes month-end lock tasks.
func (j *LockMonthJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("lock month: handler not configured")
	}
	var payload LockMonthPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.CompanyID == uuid.Nil || payload.Year < 2000 || payload.Month < 1 || payload.Month > 12 {
		return asynq.SkipRetry
	}
	if payload.TxType == "" {
		payload.TxType = ledger.TypeDailyClose
	}

	tracker := j.metrics().Track(TaskLockMonth)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Locker != nil {
		month := time.Date(payload.Year, time.Month(payload.Month), 1, 0, 0, 0, 0, time.UTC)
		key := shared.MonthLockKey(payload.CompanyID, month)
		acquired, err := j.Locker.SetNX(ctx, key, "1", monthLockTTL).Result()
		if err != nil {
			resultErr = err
			return resultErr
		}
		if !acquired {
			j.logger().Info("month lock already in progress, skipping",
				slog.String("company_id", payload.CompanyID.String()),
				slog.Int("year", payload.Year),
				slog.Int("month", payload.Month),
			)
			return nil
		}
		defer j.Locker.Del(context.WithoutCancel(ctx), key)
	}

	locked, err := j.Ledger.LockMonth(ctx, payload.CompanyID, payload.TxType, payload.Year, time.Month(payload.Month), payload.ActorID)
	if err != nil {
		resultErr = err
		j.logger().Error("lock month failed",
			slog.String("company_id", payload.CompanyID.String()),
			slog.Int("year", payload.Year),
			slog.Int("month", payload.Month),
			slog.Any("error", err),
		)
		return resultErr
	}

	j.logger().Info("month locked",
		slog.String("company_id", payload.CompanyID.String()),
		slog.String("transaction_type", payload.TxType),
		slog.Int("year", payload.Year),
		slog.Int("month", payload.Month),
		slog.Int64("locked", locked),
	)
	return nil
}

func (j *LockMonthJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *LockMonthJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/stationledger/stationledger/internal/jobs"
	"github.com/stationledger/stationledger/internal/shared"
)

type memIntegrityStore struct {
	mu        sync.Mutex
	companies []uuid.UUID
	headers   map[uuid.UUID][]Imbalance
	lines     map[uuid.UUID][]Imbalance
	scanned   []uuid.UUID
	failOn    uuid.UUID
}

func newMemIntegrityStore() *memIntegrityStore {
	return &memIntegrityStore{
		headers: map[uuid.UUID][]Imbalance{},
		lines:   map[uuid.UUID][]Imbalance{},
	}
}

func (s *memIntegrityStore) CompanyIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.companies, nil
}

func (s *memIntegrityStore) HeaderImbalances(ctx context.Context, companyID uuid.UUID) ([]Imbalance, error) {
	s.mu.Lock()
	s.scanned = append(s.scanned, companyID)
	s.mu.Unlock()
	if companyID == s.failOn {
		return nil, errors.New("query failed")
	}
	return s.headers[companyID], nil
}

func (s *memIntegrityStore) LineMismatches(ctx context.Context, companyID uuid.UUID) ([]Imbalance, error) {
	if companyID == s.failOn {
		return nil, errors.New("query failed")
	}
	return s.lines[companyID], nil
}

func testIntegrityJob(store IntegrityStore) *GLIntegrityJob {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	return NewGLIntegrityJob(store, nil, nil, metrics)
}

func integrityTask(t *testing.T, companyID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := NewGLIntegrityTask(companyID)
	require.NoError(t, err)
	return task
}

func TestGLIntegrityScansEveryCompany(t *testing.T) {
	store := newMemIntegrityStore()
	companyA := uuid.New()
	companyB := uuid.New()
	store.companies = []uuid.UUID{companyA, companyB}
	store.headers[companyA] = []Imbalance{{
		TransactionID: uuid.New(),
		Number:        "DC-20240115-XYZ",
		Debit:         decimal.RequireFromString("100.00"),
		Credit:        decimal.RequireFromString("90.00"),
	}}
	store.lines[companyB] = []Imbalance{{
		TransactionID: uuid.New(),
		Number:        "REVAL-AB12CD34",
		Debit:         decimal.RequireFromString("55.00"),
		Credit:        decimal.RequireFromString("55.00"),
	}}

	job := testIntegrityJob(store)
	err := job.Handle(context.Background(), integrityTask(t, uuid.Nil))
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{companyA, companyB}, store.scanned)
}

func TestGLIntegrityScopedToOneCompany(t *testing.T) {
	store := newMemIntegrityStore()
	companyA := uuid.New()
	companyB := uuid.New()
	store.companies = []uuid.UUID{companyA, companyB}

	job := testIntegrityJob(store)
	err := job.Handle(context.Background(), integrityTask(t, companyB))
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{companyB}, store.scanned)
}

func TestGLIntegrityPropagatesStoreError(t *testing.T) {
	store := newMemIntegrityStore()
	company := uuid.New()
	store.companies = []uuid.UUID{company}
	store.failOn = company

	job := testIntegrityJob(store)
	err := job.Handle(context.Background(), integrityTask(t, uuid.Nil))
	require.Error(t, err)
}

func TestGLIntegrityMalformedPayloadSkipsRetry(t *testing.T) {
	job := testIntegrityJob(newMemIntegrityStore())
	task := asynq.NewTask(TaskGLIntegrity, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestGLIntegritySkipsCompanyUnderSweep(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemIntegrityStore()
	companyA := uuid.New()
	companyB := uuid.New()
	store.companies = []uuid.UUID{companyA, companyB}

	require.NoError(t, client.SetNX(context.Background(),
		shared.IntegrityLockKey(companyA), "1", time.Minute).Err())

	job := testIntegrityJob(store)
	job.Locker = client
	err := job.Handle(context.Background(), integrityTask(t, uuid.Nil))
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{companyB}, store.scanned)
}

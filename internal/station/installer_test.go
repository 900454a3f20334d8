package station

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stationledger/stationledger/internal/coa"
)

type memChart struct {
	byCode map[string]coa.Account
}

func newMemChart() *memChart {
	return &memChart{byCode: map[string]coa.Account{}}
}

func (c *memChart) ActiveByCode(ctx context.Context, companyID uuid.UUID, code string) (coa.Account, bool, error) {
	a, ok := c.byCode[code]
	return a, ok, nil
}

func (c *memChart) ActiveByCodeAndName(ctx context.Context, companyID uuid.UUID, code, namePattern string) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (c *memChart) FirstBySubtype(ctx context.Context, companyID uuid.UUID, subtype string, order coa.Order) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (c *memChart) FirstByType(ctx context.Context, companyID uuid.UUID, accType string, order coa.Order) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (c *memChart) FirstByName(ctx context.Context, companyID uuid.UUID, accType, namePattern string) (coa.Account, bool, error) {
	return coa.Account{}, false, nil
}

func (c *memChart) InsertIfAbsent(ctx context.Context, a coa.Account) error {
	if _, ok := c.byCode[a.Code]; ok {
		return nil
	}
	a.ID = uuid.New()
	c.byCode[a.Code] = a
	return nil
}

func TestSeedChartCreatesMissingAccounts(t *testing.T) {
	chart := newMemChart()
	companyID := uuid.New()

	created, err := SeedChart(context.Background(), chart, companyID, "PKR")
	require.NoError(t, err)
	require.Equal(t, len(seedChart), created)

	cash, ok := chart.byCode["1050"]
	require.True(t, ok)
	require.Equal(t, coa.TypeAsset, cash.Type)
	require.Equal(t, "cash", cash.Subtype)
	require.True(t, cash.IsActive)

	sales, ok := chart.byCode["4100"]
	require.True(t, ok)
	require.Equal(t, coa.TypeRevenue, sales.Type)
}

func TestSeedChartIdempotent(t *testing.T) {
	chart := newMemChart()
	companyID := uuid.New()

	existing := coa.Account{ID: uuid.New(), Code: "1050", Name: "Till Cash", Type: coa.TypeAsset, IsActive: true}
	chart.byCode["1050"] = existing

	created, err := SeedChart(context.Background(), chart, companyID, "PKR")
	require.NoError(t, err)
	require.Equal(t, len(seedChart)-1, created)
	require.Equal(t, existing, chart.byCode["1050"], "existing account untouched")

	again, err := SeedChart(context.Background(), chart, companyID, "PKR")
	require.NoError(t, err)
	require.Zero(t, again)
}

func TestEnsureInstalledRefusesConcurrentRun(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	companyID := uuid.New()

	require.NoError(t, client.SetNX(context.Background(), InstallLockKey(companyID), "1", time.Minute).Err())

	installer := NewInstaller(nil, client, nil)
	err := installer.EnsureInstalled(context.Background(), companyID)
	require.ErrorIs(t, err, ErrInstallInProgress)
}

func TestInstallLockKeyPerCompany(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	require.NotEqual(t, InstallLockKey(a), InstallLockKey(b))
	require.Contains(t, InstallLockKey(a), a.String())
}

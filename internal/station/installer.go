package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stationledger/stationledger/internal/coa"
)

// ErrInstallInProgress reports that another process holds the install
// lock for the company.
var ErrInstallInProgress = errors.New("station: install already in progress")

// InstallLockKey builds the redis key guarding a company's installation.
func InstallLockKey(companyID uuid.UUID) string {
	return fmt.Sprintf("station:install:%s:lock", companyID)
}

// installLockTTL bounds how long a crashed installer can hold the lock.
const installLockTTL = 30 * time.Second

type seedAccount struct {
	code    string
	name    string
	accType string
	subtype string
}

// seedChart is the fuel-station chart of accounts. Codes line up with
// the role resolution chains, so a freshly installed company resolves
// every role without overrides.
var seedChart = []seedAccount{
	{"1000", "Operating Bank Account", coa.TypeAsset, "bank"},
	{"1030", "Fuel Card Clearing", coa.TypeAsset, "current_asset"},
	{"1040", "Card Clearing Account", coa.TypeAsset, "current_asset"},
	{"1050", "Cash on Hand", coa.TypeAsset, "cash"},
	{"1070", "Undeposited Funds", coa.TypeAsset, "current_asset"},
	{"1150", "Employee Advances", coa.TypeAsset, "current_asset"},
	{"1200", "Fuel Inventory", coa.TypeAsset, "inventory"},
	{"2100", "Investor Deposits", coa.TypeLiability, "current_liability"},
	{"2200", "Customer Amanat Deposits", coa.TypeLiability, "current_liability"},
	{"2210", "Partner Deposits", coa.TypeLiability, "current_liability"},
	{"3200", "Partner Drawings", coa.TypeEquity, "equity"},
	{"4100", "Fuel Sales", coa.TypeRevenue, "operating_revenue"},
	{"4900", "Inventory Revaluation Gain", coa.TypeRevenue, "other_income"},
	{"5100", "Fuel Cost of Goods Sold", coa.TypeExpense, "cogs"},
	{"5900", "Fuel Shrinkage Loss", coa.TypeExpense, "operating_expense"},
	{"6100", "Commission Expense", coa.TypeExpense, "operating_expense"},
	{"6180", "Cash Over/Short", coa.TypeExpense, "operating_expense"},
	{"6300", "Inventory Revaluation Loss", coa.TypeExpense, "operating_expense"},
}

// Installer seeds a company's fuel-station chart of accounts and
// settings row. Safe to run on every startup.
type Installer struct {
	pool    *pgxpool.Pool
	locker  *redis.Client
	logger  *slog.Logger
	lockTTL time.Duration
}

// NewInstaller constructs Installer.
func NewInstaller(pool *pgxpool.Pool, locker *redis.Client, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{pool: pool, locker: locker, logger: logger, lockTTL: installLockTTL}
}

// WithLockTTL overrides how long the install lock is held before a
// crashed run releases it.
func (i *Installer) WithLockTTL(ttl time.Duration) *Installer {
	if ttl > 0 {
		i.lockTTL = ttl
	}
	return i
}

// EnsureInstalled seeds the chart of accounts and settings row for a
// company. Seeding is idempotent; the redis lock only prevents two
// processes from racing the same company at once.
func (i *Installer) EnsureInstalled(ctx context.Context, companyID uuid.UUID) error {
	key := InstallLockKey(companyID)
	acquired, err := i.locker.SetNX(ctx, key, "1", i.lockTTL).Result()
	if err != nil {
		return err
	}
	if !acquired {
		return ErrInstallInProgress
	}
	defer i.locker.Del(context.WithoutCancel(ctx), key)

	created, err := SeedChart(ctx, coa.NewRepo(i.pool), companyID, DefaultCurrency)
	if err != nil {
		return err
	}

	if _, err := i.pool.Exec(ctx, `INSERT INTO station_settings (company_id, base_currency)
VALUES ($1,$2) ON CONFLICT (company_id) DO NOTHING`, companyID, DefaultCurrency); err != nil {
		return err
	}

	if created > 0 {
		i.logger.Info("station chart seeded", "company_id", companyID, "accounts_created", created)
	}
	return nil
}

// SeedChart inserts the missing seed accounts for a company and reports
// how many were created.
func SeedChart(ctx context.Context, store coa.AccountStore, companyID uuid.UUID, currency string) (int, error) {
	created := 0
	for _, seed := range seedChart {
		if _, found, err := store.ActiveByCode(ctx, companyID, seed.code); err != nil {
			return created, err
		} else if found {
			continue
		}
		if err := store.InsertIfAbsent(ctx, coa.Account{
			CompanyID: companyID,
			Code:      seed.code,
			Name:      seed.name,
			Type:      seed.accType,
			Subtype:   seed.subtype,
			IsActive:  true,
			Currency:  currency,
		}); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

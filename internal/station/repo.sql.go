package station

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stationledger/stationledger/internal/coa"
)

// Querier is the minimal query surface a settings lookup needs; both
// *pgxpool.Pool and pgx.Tx satisfy it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads station settings through any querier.
type Store struct {
	q Querier
}

// NewStore constructs Store.
func NewStore(q Querier) *Store {
	return &Store{q: q}
}

// SettingsFor loads a company's station settings. A company without a
// settings row gets the zero Settings, not an error.
func (s *Store) SettingsFor(ctx context.Context, companyID uuid.UUID) (Settings, error) {
	var (
		out          Settings
		overridesRaw []byte
		channelsRaw  []byte
		baseCurrency *string
	)
	err := s.q.QueryRow(ctx, `SELECT base_currency, account_overrides, payment_channels
FROM station_settings WHERE company_id=$1`, companyID).
		Scan(&baseCurrency, &overridesRaw, &channelsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{CompanyID: companyID}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	out.CompanyID = companyID
	if baseCurrency != nil {
		out.BaseCurrency = *baseCurrency
	}
	if len(overridesRaw) > 0 {
		var byRole map[string]uuid.UUID
		if err := json.Unmarshal(overridesRaw, &byRole); err != nil {
			return Settings{}, err
		}
		out.AccountOverrides = make(coa.Overrides, len(byRole))
		for role, id := range byRole {
			out.AccountOverrides[coa.Role(role)] = id
		}
	}
	if len(channelsRaw) > 0 {
		if err := json.Unmarshal(channelsRaw, &out.PaymentChannels); err != nil {
			return Settings{}, err
		}
	}
	return out, nil
}

package coa

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AccountStore is the lookup surface the resolver needs. *Repo implements
// it over pgx; tests supply an in-memory chart.
type AccountStore interface {
	ActiveByCode(ctx context.Context, companyID uuid.UUID, code string) (Account, bool, error)
	ActiveByCodeAndName(ctx context.Context, companyID uuid.UUID, code, namePattern string) (Account, bool, error)
	FirstBySubtype(ctx context.Context, companyID uuid.UUID, subtype string, order Order) (Account, bool, error)
	FirstByType(ctx context.Context, companyID uuid.UUID, accType string, order Order) (Account, bool, error)
	FirstByName(ctx context.Context, companyID uuid.UUID, accType, namePattern string) (Account, bool, error)
	InsertIfAbsent(ctx context.Context, a Account) error
}

// Resolve walks one role's resolution chain: settings override, well-known
// code, extra code probes, then the typed or name-pattern fallback.
// Returns uuid.Nil without error when an optional role has no account.
func Resolve(ctx context.Context, store AccountStore, companyID uuid.UUID, role Role, overrides Overrides) (uuid.UUID, error) {
	if id, ok := overrides[role]; ok && id != uuid.Nil {
		return id, nil
	}
	spec, ok := roleSpecs[role]
	if !ok {
		return uuid.Nil, fmt.Errorf("coa: unknown account role %q", role)
	}

	if spec.code != "" {
		if a, found, err := store.ActiveByCode(ctx, companyID, spec.code); err != nil {
			return uuid.Nil, err
		} else if found {
			return a.ID, nil
		}
	}
	for _, probe := range spec.extraCodes {
		var (
			a     Account
			found bool
			err   error
		)
		if probe.namePattern == "" {
			a, found, err = store.ActiveByCode(ctx, companyID, probe.code)
		} else {
			a, found, err = store.ActiveByCodeAndName(ctx, companyID, probe.code, probe.namePattern)
		}
		if err != nil {
			return uuid.Nil, err
		}
		if found {
			return a.ID, nil
		}
	}
	if spec.subtype != "" {
		if a, found, err := store.FirstBySubtype(ctx, companyID, spec.subtype, spec.order); err != nil {
			return uuid.Nil, err
		} else if found {
			return a.ID, nil
		}
	} else if spec.accType != "" && len(spec.namePatterns) == 0 {
		if a, found, err := store.FirstByType(ctx, companyID, spec.accType, spec.order); err != nil {
			return uuid.Nil, err
		} else if found {
			return a.ID, nil
		}
	}
	for _, pattern := range spec.namePatterns {
		if a, found, err := store.FirstByName(ctx, companyID, spec.accType, pattern); err != nil {
			return uuid.Nil, err
		} else if found {
			return a.ID, nil
		}
	}
	if spec.fallbackToCash {
		return Resolve(ctx, store, companyID, RoleCashOnHand, overrides)
	}
	return uuid.Nil, nil
}

// ResolveSet resolves every requested role. Missing mandatory roles abort
// with MissingAccountError before the caller writes anything; optional
// roles resolve to uuid.Nil and are skipped by the posting builders.
func ResolveSet(ctx context.Context, store AccountStore, companyID uuid.UUID, roles []Role, overrides Overrides) (Set, error) {
	set := make(Set, len(roles))
	for _, role := range roles {
		id, err := Resolve(ctx, store, companyID, role, overrides)
		if err != nil {
			return nil, err
		}
		set[role] = id
	}
	for _, role := range mandatoryRoles {
		if _, requested := set[role]; requested && !set.Has(role) {
			return nil, &MissingAccountError{Role: role}
		}
	}
	return set, nil
}

// EnsureAccount resolves a role, creating its opinionated default account
// when the chart has none. Only roles with a default definition are
// auto-creatable; anything else surfaces MissingAccountError.
func EnsureAccount(ctx context.Context, store AccountStore, companyID uuid.UUID, role Role, currency string) (Account, error) {
	id, err := Resolve(ctx, store, companyID, role, nil)
	if err != nil {
		return Account{}, err
	}
	def, creatable := defaultAccounts[role]
	if id != uuid.Nil {
		// Already in the chart; re-read by code only when the default
		// exists so callers get the full row.
		if creatable {
			if a, found, err := store.ActiveByCode(ctx, companyID, def.Code); err == nil && found && a.ID == id {
				return a, nil
			}
		}
		return Account{ID: id, CompanyID: companyID}, nil
	}
	if !creatable {
		return Account{}, &MissingAccountError{Role: role}
	}
	def.CompanyID = companyID
	def.IsActive = true
	def.Currency = currency
	if err := store.InsertIfAbsent(ctx, def); err != nil {
		return Account{}, err
	}
	a, found, err := store.ActiveByCode(ctx, companyID, def.Code)
	if err != nil {
		return Account{}, err
	}
	if !found {
		return Account{}, &MissingAccountError{Role: role}
	}
	return a, nil
}

// EnsureNamedAccount creates an arbitrary account if absent and re-reads
// it. Used for per-entity accounts such as individual investor liability
// sub-accounts.
func EnsureNamedAccount(ctx context.Context, store AccountStore, a Account) (Account, error) {
	a.IsActive = true
	if err := store.InsertIfAbsent(ctx, a); err != nil {
		return Account{}, err
	}
	created, found, err := store.ActiveByCode(ctx, a.CompanyID, a.Code)
	if err != nil {
		return Account{}, err
	}
	if !found {
		return Account{}, fmt.Errorf("coa: account %s not found after insert", a.Code)
	}
	return created, nil
}

package amanat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/ledger"
)

// Service manages customer trust deposits: money held against future
// fuel, returned on demand, drawn down on purchase.
type Service struct {
	repo   RepositoryPort
	audit  ledger.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the amanat service.
func NewService(repo RepositoryPort, audit ledger.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Deposit books money into a customer's amanat balance: Dr cash, Cr the
// amanat liability. The customer becomes an amanat holder on first
// deposit.
func (s *Service) Deposit(ctx context.Context, companyID uuid.UUID, req DepositRequest, actorID uuid.UUID) (Transaction, error) {
	if err := req.Validate(); err != nil {
		return Transaction{}, err
	}
	var out Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		profile, err := tx.ProfileForUpdate(ctx, companyID, req.CustomerID)
		if err != nil {
			return err
		}
		if !profile.IsAmanatHolder {
			if err := tx.MarkHolder(ctx, companyID, req.CustomerID); err != nil {
				return err
			}
		}
		cashID, liabilityID, currency, err := s.accounts(ctx, tx, companyID)
		if err != nil {
			return err
		}

		lineDescription := fmt.Sprintf("Amanat deposit - %s", profile.CustomerName)
		entry, err := ledger.Post(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:     companyID,
			Number:        fmt.Sprintf("AMANAT-DEP-%s-%s", shortID(req.CustomerID), s.now().Format("20060102")),
			Type:          ledger.TypeAmanatDeposit,
			Date:          s.closeDate(),
			Currency:      currency,
			BaseCurrency:  currency,
			Description:   fmt.Sprintf("Amanat deposit from: %s", profile.CustomerName),
			ReferenceType: "fuel.amanat_transactions",
			ActorID:       actorID,
			Lines: []ledger.LineInput{
				{AccountID: cashID, Side: ledger.SideDebit, Amount: req.Amount, Description: lineDescription},
				{AccountID: liabilityID, Side: ledger.SideCredit, Amount: req.Amount, Description: lineDescription},
			},
		})
		if err != nil {
			return err
		}

		out, err = tx.InsertAmanat(ctx, Transaction{
			CompanyID:     companyID,
			CustomerID:    req.CustomerID,
			Type:          TypeDeposit,
			Amount:        req.Amount,
			Reference:     req.Reference,
			Notes:         req.Notes,
			RecordedBy:    actorID,
			TransactionID: entry.ID,
		})
		if err != nil {
			return err
		}
		return tx.AdjustBalance(ctx, companyID, req.CustomerID, req.Amount)
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, actorID, companyID, "amanat.deposit", out.ID, map[string]any{
		"customer_id": req.CustomerID.String(),
		"amount":      req.Amount.String(),
	})
	return out, nil
}

// Withdraw returns money from a customer's amanat balance: Dr the amanat
// liability, Cr cash. Bounded by the held balance.
func (s *Service) Withdraw(ctx context.Context, companyID uuid.UUID, req WithdrawRequest, actorID uuid.UUID) (Transaction, error) {
	if err := req.Validate(); err != nil {
		return Transaction{}, err
	}
	var out Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		profile, err := tx.ProfileForUpdate(ctx, companyID, req.CustomerID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(profile.Balance) {
			return ErrInsufficientBalance
		}
		cashID, liabilityID, currency, err := s.accounts(ctx, tx, companyID)
		if err != nil {
			return err
		}

		lineDescription := fmt.Sprintf("Amanat withdrawal - %s", profile.CustomerName)
		entry, err := ledger.Post(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:     companyID,
			Number:        fmt.Sprintf("AMANAT-WDR-%s-%s", shortID(req.CustomerID), s.now().Format("20060102")),
			Type:          ledger.TypeAmanatWithdrawal,
			Date:          s.closeDate(),
			Currency:      currency,
			BaseCurrency:  currency,
			Description:   fmt.Sprintf("Amanat withdrawal to: %s", profile.CustomerName),
			ReferenceType: "fuel.amanat_transactions",
			ActorID:       actorID,
			Lines: []ledger.LineInput{
				{AccountID: liabilityID, Side: ledger.SideDebit, Amount: req.Amount, Description: lineDescription},
				{AccountID: cashID, Side: ledger.SideCredit, Amount: req.Amount, Description: lineDescription},
			},
		})
		if err != nil {
			return err
		}

		out, err = tx.InsertAmanat(ctx, Transaction{
			CompanyID:     companyID,
			CustomerID:    req.CustomerID,
			Type:          TypeWithdrawal,
			Amount:        req.Amount,
			Reference:     req.Reference,
			Notes:         req.Notes,
			RecordedBy:    actorID,
			TransactionID: entry.ID,
		})
		if err != nil {
			return err
		}
		return tx.AdjustBalance(ctx, companyID, req.CustomerID, req.Amount.Neg())
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, actorID, companyID, "amanat.withdraw", out.ID, map[string]any{
		"customer_id": req.CustomerID.String(),
		"amount":      req.Amount.String(),
	})
	return out, nil
}

// ApplyToFuelPurchase recognises revenue against a customer's amanat
// balance when fuel is taken: Dr the amanat liability, Cr fuel sales.
// Bounded by the held balance.
func (s *Service) ApplyToFuelPurchase(ctx context.Context, companyID uuid.UUID, req FuelPurchaseRequest, actorID uuid.UUID) (Transaction, error) {
	if err := req.Validate(); err != nil {
		return Transaction{}, err
	}
	var out Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		profile, err := tx.ProfileForUpdate(ctx, companyID, req.CustomerID)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(profile.Balance) {
			return ErrInsufficientBalance
		}
		settings, err := tx.Settings(ctx, companyID)
		if err != nil {
			return err
		}
		currency := settings.Currency()
		liability, err := coa.EnsureAccount(ctx, tx.Accounts(), companyID, coa.RoleAmanatDeposits, currency)
		if err != nil {
			return err
		}
		salesID, err := coa.Resolve(ctx, tx.Accounts(), companyID, coa.RoleFuelSales, settings.AccountOverrides)
		if err != nil {
			return err
		}
		if salesID == uuid.Nil {
			return &coa.MissingAccountError{Role: coa.RoleFuelSales}
		}

		entry, err := ledger.Post(ctx, tx.Ledger(), ledger.PostingInput{
			CompanyID:     companyID,
			Number:        fmt.Sprintf("AMANAT-FUEL-%s-%s", shortID(req.CustomerID), s.now().Format("20060102150405")),
			Type:          ledger.TypeAmanatFuelPurchase,
			Date:          s.closeDate(),
			Currency:      currency,
			BaseCurrency:  currency,
			Description:   fmt.Sprintf("Amanat fuel purchase by: %s (%sL)", profile.CustomerName, req.Quantity),
			ReferenceType: "fuel.amanat_transactions",
			ActorID:       actorID,
			Lines: []ledger.LineInput{
				{AccountID: liability.ID, Side: ledger.SideDebit, Amount: req.Amount,
					Description: fmt.Sprintf("Amanat fuel purchase - %s", profile.CustomerName)},
				{AccountID: salesID, Side: ledger.SideCredit, Amount: req.Amount,
					Description: fmt.Sprintf("Fuel sale from amanat - %s", profile.CustomerName)},
			},
		})
		if err != nil {
			return err
		}

		itemID := req.ItemID
		out, err = tx.InsertAmanat(ctx, Transaction{
			CompanyID:     companyID,
			CustomerID:    req.CustomerID,
			Type:          TypeFuelPurchase,
			Amount:        req.Amount,
			FuelItemID:    &itemID,
			FuelQuantity:  req.Quantity,
			Reference:     req.Reference,
			RecordedBy:    actorID,
			TransactionID: entry.ID,
		})
		if err != nil {
			return err
		}
		return tx.AdjustBalance(ctx, companyID, req.CustomerID, req.Amount.Neg())
	})
	if err != nil {
		return Transaction{}, err
	}
	s.recordAudit(ctx, actorID, companyID, "amanat.fuel_purchase", out.ID, map[string]any{
		"customer_id": req.CustomerID.String(),
		"amount":      req.Amount.String(),
		"quantity":    req.Quantity.String(),
	})
	return out, nil
}

// Balance returns a customer's held amanat balance.
func (s *Service) Balance(ctx context.Context, companyID, customerID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.Balance(ctx, companyID, customerID)
}

// AmanatSummary aggregates holders and held balance for the dashboard.
func (s *Service) AmanatSummary(ctx context.Context, companyID uuid.UUID) (Summary, error) {
	return s.repo.Summary(ctx, companyID)
}

// RecentTransactions lists a customer's latest amanat movements.
func (s *Service) RecentTransactions(ctx context.Context, companyID, customerID uuid.UUID, limit int) ([]Transaction, error) {
	return s.repo.RecentTransactions(ctx, companyID, customerID, limit)
}

// accounts resolves the cash and amanat liability accounts, creating the
// liability account on first use.
func (s *Service) accounts(ctx context.Context, tx TxRepository, companyID uuid.UUID) (uuid.UUID, uuid.UUID, string, error) {
	settings, err := tx.Settings(ctx, companyID)
	if err != nil {
		return uuid.Nil, uuid.Nil, "", err
	}
	currency := settings.Currency()
	cashID, err := coa.Resolve(ctx, tx.Accounts(), companyID, coa.RoleCashOnHand, settings.AccountOverrides)
	if err != nil {
		return uuid.Nil, uuid.Nil, "", err
	}
	if cashID == uuid.Nil {
		return uuid.Nil, uuid.Nil, "", &coa.MissingAccountError{Role: coa.RoleCashOnHand}
	}
	liability, err := coa.EnsureAccount(ctx, tx.Accounts(), companyID, coa.RoleAmanatDeposits, currency)
	if err != nil {
		return uuid.Nil, uuid.Nil, "", err
	}
	return cashID, liability.ID, currency, nil
}

func (s *Service) closeDate() time.Time {
	return s.now().Truncate(24 * time.Hour)
}

func (s *Service) recordAudit(ctx context.Context, actorID, companyID uuid.UUID, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, ledger.AuditEvent{
		ActorID:   actorID,
		CompanyID: companyID,
		Action:    action,
		EntityID:  entityID,
		Meta:      meta,
		At:        s.now(),
	})
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}

package coa

import (
	"fmt"

	"github.com/google/uuid"
)

// Role names a posting slot in the fuel-station chart of accounts. Every
// journal builder asks for accounts by role, never by hard-coded ID.
type Role string

const (
	RoleCashOnHand       Role = "cash_on_hand"
	RoleOperatingBank    Role = "operating_bank"
	RoleCardClearing     Role = "card_clearing"
	RoleFuelCardClearing Role = "fuel_card_clearing"
	RoleUndepositedFunds Role = "undeposited_funds"
	RoleFuelSales        Role = "fuel_sales"
	RoleFuelCOGS         Role = "fuel_cogs"
	RoleFuelInventory    Role = "fuel_inventory"
	RoleCashOverShort    Role = "cash_over_short"
	RoleAmanatDeposits   Role = "amanat_deposits"
	RolePartnerDeposits  Role = "partner_deposits"
	RolePartnerDrawings  Role = "partner_drawings"
	RoleEmployeeAdvances Role = "employee_advances"
	RoleFuelShrinkage    Role = "fuel_shrinkage"
	RoleFuelVarianceGain Role = "fuel_variance_gain"
	RoleRevaluationGain  Role = "revaluation_gain"
	RoleRevaluationLoss  Role = "revaluation_loss"
	RoleInvestorDeposits Role = "investor_liability"
	RoleCommissionExp    Role = "commission_expense"
)

// Account classification values.
const (
	TypeAsset     = "asset"
	TypeLiability = "liability"
	TypeEquity    = "equity"
	TypeRevenue   = "revenue"
	TypeCOGS      = "cogs"
	TypeExpense   = "expense"
)

// Account is a chart-of-accounts row.
type Account struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Code      string
	Name      string
	Type      string
	Subtype   string
	ParentID  *uuid.UUID
	IsActive  bool
	Currency  string
}

// MissingAccountError reports an unresolvable mandatory role. The station
// chart of accounts has to be installed before closes can post.
type MissingAccountError struct {
	Role Role
}

func (e *MissingAccountError) Error() string {
	return fmt.Sprintf("coa: required account missing for role %q; ensure the fuel station chart of accounts is set up", e.Role)
}

// Set holds resolved role-to-account assignments for one company.
type Set map[Role]uuid.UUID

// Has reports whether a role resolved to a real account.
func (s Set) Has(role Role) bool {
	id, ok := s[role]
	return ok && id != uuid.Nil
}

// Overrides carries the per-station settings assignments that win over
// code-based resolution.
type Overrides map[Role]uuid.UUID

// mandatoryRoles abort resolution when missing; every other role either
// falls back or is skipped by the caller.
var mandatoryRoles = []Role{RoleCashOnHand, RoleFuelSales, RoleFuelCOGS, RoleFuelInventory}

// Order controls typed-fallback selection: lowest code first for
// most roles, highest first for equity drawings and employee receivables.
type Order int

const (
	LowestCode Order = iota
	HighestCode
)

// codeLookup is an extra well-known-code probe, optionally gated on a
// name pattern for charts that reused generic codes.
type codeLookup struct {
	code        string
	namePattern string
}

// roleSpec describes the resolution chain for one role: settings override,
// well-known code, extra code probes, then a typed or name-pattern
// fallback.
type roleSpec struct {
	code           string
	extraCodes     []codeLookup
	subtype        string
	accType        string
	namePatterns   []string
	order          Order
	fallbackToCash bool
}

var roleSpecs = map[Role]roleSpec{
	RoleCashOnHand:       {code: "1050", subtype: "cash"},
	RoleOperatingBank:    {code: "1000", subtype: "bank"},
	RoleCardClearing:     {code: "1040", fallbackToCash: true},
	RoleFuelCardClearing: {code: "1030", fallbackToCash: true},
	RoleUndepositedFunds: {code: "1070", fallbackToCash: true},
	RoleFuelInventory:    {code: "1200", subtype: "inventory"},
	RoleFuelSales:        {code: "4100", accType: TypeRevenue},
	RoleFuelCOGS:         {code: "5100", accType: TypeCOGS},
	RoleCashOverShort:    {code: "6180", accType: TypeExpense},
	RoleAmanatDeposits:   {code: "2200"},
	RolePartnerDeposits:  {code: "2210"},
	RolePartnerDrawings:  {code: "3200", accType: TypeEquity, order: HighestCode},
	RoleEmployeeAdvances: {code: "1150", subtype: "receivable", order: HighestCode, fallbackToCash: true},
	RoleFuelShrinkage: {
		code:         "5900",
		extraCodes:   []codeLookup{{code: "6300", namePattern: "%Shrinkage%"}},
		namePatterns: []string{"%Shrinkage%"},
	},
	RoleFuelVarianceGain: {code: "4900", namePatterns: []string{"%Variance Gain%"}},
	RoleRevaluationGain: {
		code:         "4900",
		extraCodes:   []codeLookup{{code: "4910"}},
		namePatterns: []string{"%Revaluation Gain%", "%Variance Gain%"},
	},
	RoleRevaluationLoss: {
		code:         "6300",
		extraCodes:   []codeLookup{{code: "6310"}},
		namePatterns: []string{"%Revaluation Loss%", "%Shrinkage%"},
	},
	RoleInvestorDeposits: {accType: TypeLiability, namePatterns: []string{"%Investor%Deposit%"}},
	RoleCommissionExp:    {accType: TypeExpense, namePatterns: []string{"%Commission%"}},
}

// defaultAccounts are the opinionated definitions EnsureAccount creates
// when a station is missing one of the auto-creatable accounts.
var defaultAccounts = map[Role]Account{
	RoleAmanatDeposits:   {Code: "2200", Name: "Customer Amanat Deposits", Type: TypeLiability, Subtype: "current_liability"},
	RolePartnerDeposits:  {Code: "2210", Name: "Partner Deposits", Type: TypeLiability, Subtype: "current_liability"},
	RoleCommissionExp:    {Code: "6100", Name: "Investor Commission Expense", Type: TypeExpense, Subtype: "operating_expense"},
	RoleInvestorDeposits: {Code: "2100", Name: "Investor Deposits", Type: TypeLiability, Subtype: "current_liability"},
}

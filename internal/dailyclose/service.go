package dailyclose

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stationledger/stationledger/internal/coa"
	"github.com/stationledger/stationledger/internal/inventory"
	"github.com/stationledger/stationledger/internal/ledger"
	"github.com/stationledger/stationledger/internal/station"
	"github.com/stationledger/stationledger/internal/tankvar"
)

// closeRoles is every account role the daily close may touch. Only the
// globally mandatory ones abort the close when missing; optional legs are
// simply skipped.
var closeRoles = []coa.Role{
	coa.RoleCashOnHand,
	coa.RoleOperatingBank,
	coa.RoleCardClearing,
	coa.RoleFuelCardClearing,
	coa.RoleFuelSales,
	coa.RoleFuelCOGS,
	coa.RoleFuelInventory,
	coa.RoleCashOverShort,
	coa.RoleAmanatDeposits,
	coa.RolePartnerDeposits,
	coa.RolePartnerDrawings,
	coa.RoleEmployeeAdvances,
	coa.RoleFuelShrinkage,
	coa.RoleFuelVarianceGain,
}

// RateLookup resolves the regulated sale rate in force for an item on a
// date. Wired to the rate-change history; nil means no fallback and the
// caller must supply rates explicitly.
type RateLookup interface {
	SaleRateOn(ctx context.Context, companyID, itemID uuid.UUID, date time.Time) (decimal.Decimal, bool, error)
}

// Service runs the daily and shift close workflows.
type Service struct {
	repo   RepositoryPort
	audit  ledger.AuditPort
	rates  RateLookup
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the close service.
func NewService(repo RepositoryPort, audit ledger.AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithRates wires the rate-change fallback for shift closes.
func (s *Service) WithRates(rates RateLookup) {
	s.rates = rates
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ProcessDailyClose aggregates one day's takings into a single balanced
// posting. The whole close is one atomic scope: the GL entry, tank and
// nozzle readings, partner movements, and salary advances all commit
// together or not at all.
func (s *Service) ProcessDailyClose(ctx context.Context, companyID uuid.UUID, req CloseRequest, actorID uuid.UUID) (CloseResult, error) {
	if err := req.Validate(); err != nil {
		return CloseResult{}, err
	}
	var result CloseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.close(ctx, tx, companyID, req, actorID, false)
		return err
	})
	if err != nil {
		return CloseResult{}, err
	}
	s.recordAudit(ctx, actorID, companyID, "dailyclose.post", result.TransactionID, map[string]any{
		"number": result.TransactionNumber,
	})
	return result, nil
}

// AmendDailyClose reverses a posted close and re-runs the workflow with
// corrected data as a -C{n} correction on the original date.
func (s *Service) AmendDailyClose(ctx context.Context, companyID, transactionID uuid.UUID, req CloseRequest, actorID uuid.UUID, reason string) (AmendResult, error) {
	var result AmendResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gl := tx.Ledger()
		original, lines, err := gl.GetTransactionWithLines(ctx, companyID, transactionID)
		if err != nil {
			return err
		}
		reversal, err := ledger.Reverse(ctx, gl, original, lines, actorID, reason, s.now())
		if err != nil {
			return err
		}
		// The correction replaces the original, so it carries the
		// original's date regardless of what the form says.
		req.Date = original.Date
		if err := req.Validate(); err != nil {
			return err
		}
		correction, err := s.close(ctx, tx, companyID, req, actorID, true)
		if err != nil {
			return err
		}
		if err := gl.LinkCorrection(ctx, correction.TransactionID, original.ID, reason); err != nil {
			return err
		}
		result = AmendResult{
			OriginalID:       original.ID,
			OriginalNumber:   original.Number,
			ReversalID:       reversal.ID,
			ReversalNumber:   reversal.Number,
			CorrectionID:     correction.TransactionID,
			CorrectionNumber: correction.TransactionNumber,
		}
		return nil
	})
	if err != nil {
		return AmendResult{}, err
	}
	s.recordAudit(ctx, actorID, companyID, "dailyclose.amend", result.OriginalID, map[string]any{
		"reversal":   result.ReversalNumber,
		"correction": result.CorrectionNumber,
		"reason":     reason,
	})
	return result, nil
}

// PreviousDayClosing reports the closing cash of the most recent close
// before a date, for pre-filling the next day's opening cash.
func (s *Service) PreviousDayClosing(ctx context.Context, companyID uuid.UUID, date time.Time) (PreviousClosing, error) {
	entry, found, err := s.repo.LatestCloseBefore(ctx, companyID, date)
	if err != nil {
		return PreviousClosing{}, err
	}
	if !found {
		return PreviousClosing{}, nil
	}
	return PreviousClosing{
		Date:        entry.Date,
		ClosingCash: metaDecimal(entry.Metadata, "closing_cash"),
		Exists:      true,
	}, nil
}

// RecentCloses lists close summaries for the history view, newest first.
// Days defaults to 30.
func (s *Service) RecentCloses(ctx context.Context, companyID uuid.UUID, days int) ([]CloseSummary, error) {
	if days <= 0 {
		days = 30
	}
	since := s.now().AddDate(0, 0, -days).Truncate(24 * time.Hour)
	entries, err := s.repo.RecentCloses(ctx, companyID, since)
	if err != nil {
		return nil, err
	}
	out := make([]CloseSummary, 0, len(entries))
	for _, t := range entries {
		out = append(out, CloseSummary{
			ID:            t.ID,
			Number:        t.Number,
			Date:          t.Date,
			OpeningCash:   metaDecimal(t.Metadata, "opening_cash"),
			ClosingCash:   metaDecimal(t.Metadata, "closing_cash"),
			TotalRevenue:  metaDecimal(t.Metadata, "total_revenue"),
			Variance:      metaDecimal(t.Metadata, "variance"),
			IsLocked:      t.IsLocked,
			IsAmendable:   t.IsAmendable(),
			HasAmendments: t.ReversedByID != nil,
		})
	}
	return out, nil
}

// close runs the aggregation inside an existing transactional scope.
func (s *Service) close(ctx context.Context, tx TxRepository, companyID uuid.UUID, req CloseRequest, actorID uuid.UUID, isCorrection bool) (CloseResult, error) {
	date := req.Date.Truncate(24 * time.Hour)
	gl := tx.Ledger()
	stock := tx.Stock()

	settings, err := tx.Settings(ctx, companyID)
	if err != nil {
		return CloseResult{}, err
	}
	currency := settings.Currency()

	accounts, err := coa.ResolveSet(ctx, tx.Accounts(), companyID, closeRoles, settings.AccountOverrides)
	if err != nil {
		return CloseResult{}, err
	}

	base := ledger.CloseNumber(ledger.DailyClosePrefix, date)
	number := base
	if isCorrection {
		number, err = ledger.CorrectionNumber(ctx, gl, companyID, base)
		if err != nil {
			return CloseResult{}, err
		}
	} else if err := ledger.EnsureOriginalClose(ctx, gl, companyID, ledger.TypeDailyClose, date); err != nil {
		return CloseResult{}, err
	}

	metadata := map[string]any{
		"date":         date.Format("2006-01-02"),
		"opening_cash": req.OpeningCash,
		"closing_cash": req.ClosingCash,
	}

	// 1. Fuel sales from nozzle readings: revenue at the reported sale
	// rate, COGS at the item's weighted average cost.
	totalRevenue := decimal.Zero
	totalCOGS := decimal.Zero
	salesByFuel := map[string]FuelCategoryTotals{}
	items := map[uuid.UUID]inventory.Item{}
	nozzleRows := make([]NozzleReadingRow, 0, len(req.NozzleReadings))

	for _, reading := range req.NozzleReadings {
		item, ok := items[reading.ItemID]
		if !ok {
			item, err = stock.GetItemForUpdate(ctx, companyID, reading.ItemID)
			if err != nil {
				return CloseResult{}, err
			}
			items[reading.ItemID] = item
		}
		revenue := reading.LitersSold.Mul(reading.SaleRate).Round(2)
		cogs := reading.LitersSold.Mul(item.AvgCost).Round(2)
		if reading.LitersSold.IsPositive() {
			totalRevenue = totalRevenue.Add(revenue)
			totalCOGS = totalCOGS.Add(cogs)
			category := item.FuelCategory
			if category == "" {
				category = "unknown"
			}
			totals := salesByFuel[category]
			totals.Liters = totals.Liters.Add(reading.LitersSold)
			totals.Revenue = totals.Revenue.Add(revenue)
			totals.COGS = totals.COGS.Add(cogs)
			salesByFuel[category] = totals
		}
		nozzleRows = append(nozzleRows, NozzleReadingRow{
			CompanyID:         companyID,
			NozzleID:          reading.NozzleID,
			ItemID:            reading.ItemID,
			ReadingDate:       date,
			OpeningElectronic: reading.OpeningElectronic,
			ClosingElectronic: reading.ClosingElectronic,
			OpeningManual:     reading.OpeningManual,
			ClosingManual:     reading.ClosingManual,
			LitersDispensed:   reading.LitersSold,
			Revenue:           revenue,
			SaleRate:          reading.SaleRate,
		})
	}
	metadata["fuel_sales"] = salesByFuel
	metadata["total_revenue"] = totalRevenue
	metadata["total_cogs"] = totalCOGS

	// 2. Other sales (lubricants, sundries) add straight to revenue.
	otherSalesTotal := decimal.Zero
	for _, sale := range req.OtherSales {
		otherSalesTotal = otherSalesTotal.Add(sale.Amount)
	}
	metadata["other_sales"] = otherSalesTotal
	metadata["other_sales_details"] = req.OtherSales
	totalRevenue = totalRevenue.Add(otherSalesTotal)

	// 3. Tank dips: reconcile each tank against its expected volume and
	// persist the reading as posted alongside the close.
	totalShrinkage := decimal.Zero
	totalGain := decimal.Zero
	tankVariances := []TankVarianceSummary{}

	for _, dip := range req.TankReadings {
		tank, err := stock.GetTank(ctx, companyID, dip.TankID)
		if err != nil {
			return CloseResult{}, err
		}
		if tank.ItemID == uuid.Nil {
			continue
		}
		prior, hasPrior, err := tx.LastDipBefore(ctx, companyID, dip.TankID, date)
		if err != nil {
			return CloseResult{}, err
		}
		opening := decimal.Zero
		receipts := decimal.Zero
		if hasPrior {
			opening = prior.DipLiters
			totals, err := stock.TankMovementTotals(ctx, companyID, dip.TankID, prior.ReadingDate, date)
			if err != nil {
				return CloseResult{}, err
			}
			receipts = totals.Receipts
		}
		dispensed := decimal.Zero
		for _, row := range nozzleRows {
			if row.ItemID == tank.ItemID {
				dispensed = dispensed.Add(row.LitersDispensed)
			}
		}
		system := opening.Add(receipts).Sub(dispensed).Round(2)
		varianceLiters := dip.DipLiters.Sub(system).Round(2)
		varianceType := tankvar.Classify(varianceLiters)

		item, ok := items[tank.ItemID]
		if !ok {
			item, err = stock.GetItemForUpdate(ctx, companyID, tank.ItemID)
			if err != nil {
				return CloseResult{}, err
			}
			items[tank.ItemID] = item
		}
		amount := varianceLiters.Abs().Mul(item.AvgCost).Round(2)

		switch {
		case varianceType == tankvar.VarianceLoss && amount.IsPositive():
			totalShrinkage = totalShrinkage.Add(amount)
			tankVariances = append(tankVariances, TankVarianceSummary{
				TankName: tank.Name, ItemName: item.Name,
				Type: tankvar.VarianceLoss, Liters: varianceLiters.Abs(), Amount: amount,
			})
		case varianceType == tankvar.VarianceGain && amount.IsPositive():
			totalGain = totalGain.Add(amount)
			tankVariances = append(tankVariances, TankVarianceSummary{
				TankName: tank.Name, ItemName: item.Name,
				Type: tankvar.VarianceGain, Liters: varianceLiters, Amount: amount,
			})
		}

		if err := tx.UpsertPostedReading(ctx, TankReadingRow{
			CompanyID:      companyID,
			TankID:         dip.TankID,
			ItemID:         tank.ItemID,
			ReadingDate:    date,
			DipLiters:      dip.DipLiters,
			SystemLiters:   system,
			VarianceLiters: varianceLiters,
			VarianceType:   varianceType,
			RecordedBy:     actorID,
		}); err != nil {
			return CloseResult{}, err
		}
	}
	metadata["tank_variances"] = tankVariances
	metadata["total_shrinkage"] = totalShrinkage
	metadata["total_gain"] = totalGain

	// 4. Money in: partner deposits add to the till and are recorded as
	// capital movements.
	partnerDepositsTotal := decimal.Zero
	for _, deposit := range req.PartnerDeposits {
		partnerDepositsTotal = partnerDepositsTotal.Add(deposit.Amount)
		if err := tx.InsertPartnerTransaction(ctx, PartnerTransaction{
			CompanyID:     companyID,
			PartnerID:     deposit.PartnerID,
			Date:          date,
			Type:          PartnerInvestment,
			Amount:        deposit.Amount,
			Description:   "Daily deposit",
			PaymentMethod: "cash",
			RecordedBy:    actorID,
		}); err != nil {
			return CloseResult{}, err
		}
	}
	metadata["partner_deposits"] = partnerDepositsTotal

	// 4b. Non-cash receipts, categorised by the channel's configured type.
	paymentReceiptTotals := map[string]decimal.Decimal{}
	bankTransfersTotal := decimal.Zero
	cardSwipesTotal := decimal.Zero
	fuelCardsTotal := decimal.Zero
	for code, entries := range req.PaymentReceipts {
		channelTotal := decimal.Zero
		for _, entry := range entries {
			channelTotal = channelTotal.Add(entry.Amount)
		}
		paymentReceiptTotals[code] = channelTotal
		switch settings.ChannelType(code) {
		case station.ChannelCardPOS:
			cardSwipesTotal = cardSwipesTotal.Add(channelTotal)
		case station.ChannelFuelCard:
			fuelCardsTotal = fuelCardsTotal.Add(channelTotal)
		case station.ChannelBankTransfer, station.ChannelMobileWallet:
			bankTransfersTotal = bankTransfersTotal.Add(channelTotal)
		}
	}
	metadata["payment_receipts"] = paymentReceiptTotals
	metadata["bank_transfers_received"] = bankTransfersTotal
	metadata["card_swipes"] = cardSwipesTotal
	metadata["fuel_cards"] = fuelCardsTotal

	// 5. Money out.
	bankDepositsTotal := decimal.Zero
	for _, deposit := range req.BankDeposits {
		bankDepositsTotal = bankDepositsTotal.Add(deposit.Amount)
	}
	metadata["bank_deposits"] = bankDepositsTotal

	partnerWithdrawalsTotal := decimal.Zero
	for _, withdrawal := range req.PartnerWithdrawals {
		partnerWithdrawalsTotal = partnerWithdrawalsTotal.Add(withdrawal.Amount)
		if err := tx.InsertPartnerTransaction(ctx, PartnerTransaction{
			CompanyID:     companyID,
			PartnerID:     withdrawal.PartnerID,
			Date:          date,
			Type:          PartnerWithdrawal,
			Amount:        withdrawal.Amount,
			Description:   "Daily withdrawal",
			PaymentMethod: "cash",
			RecordedBy:    actorID,
		}); err != nil {
			return CloseResult{}, err
		}
		if err := tx.IncrementPartnerWithdrawn(ctx, companyID, withdrawal.PartnerID, withdrawal.Amount); err != nil {
			return CloseResult{}, err
		}
	}
	metadata["partner_withdrawals"] = partnerWithdrawalsTotal

	employeeAdvancesTotal := decimal.Zero
	for _, advance := range req.EmployeeAdvances {
		employeeAdvancesTotal = employeeAdvancesTotal.Add(advance.Amount)
		reason := advance.Reason
		if reason == "" {
			reason = "Daily advance"
		}
		if err := tx.InsertSalaryAdvance(ctx, SalaryAdvance{
			CompanyID:   companyID,
			EmployeeID:  advance.EmployeeID,
			AdvanceDate: date,
			Amount:      advance.Amount,
			Outstanding: advance.Amount,
			Reason:      reason,
			Status:      "pending",
			RecordedBy:  actorID,
		}); err != nil {
			return CloseResult{}, err
		}
	}
	metadata["employee_advances"] = employeeAdvancesTotal

	amanatTotal := decimal.Zero
	for _, disbursement := range req.AmanatDisbursements {
		amanatTotal = amanatTotal.Add(disbursement.Amount)
	}
	metadata["amanat_disbursements"] = amanatTotal

	expensesTotal := decimal.Zero
	expenseOrder := []uuid.UUID{}
	expensesByAccount := map[uuid.UUID]decimal.Decimal{}
	for idx, expense := range req.Expenses {
		if expense.AccountID == uuid.Nil {
			s.logger.Warn("skipping expense line without account",
				"index", idx, "description", expense.Description)
			continue
		}
		if !expense.Amount.IsPositive() {
			continue
		}
		expensesTotal = expensesTotal.Add(expense.Amount)
		if _, seen := expensesByAccount[expense.AccountID]; !seen {
			expenseOrder = append(expenseOrder, expense.AccountID)
		}
		expensesByAccount[expense.AccountID] = expensesByAccount[expense.AccountID].Add(expense.Amount)
	}
	metadata["expenses"] = expensesTotal

	// 6. Reconcile the till and build the journal.
	cashFromSales := totalRevenue.Sub(cardSwipesTotal).Sub(fuelCardsTotal).Sub(bankTransfersTotal)
	totalCashIn := req.OpeningCash.Add(partnerDepositsTotal).Add(cashFromSales)
	totalCashOut := bankDepositsTotal.Add(partnerWithdrawalsTotal).
		Add(employeeAdvancesTotal).Add(amanatTotal).Add(expensesTotal)
	expectedClosing := totalCashIn.Sub(totalCashOut)
	variance := req.ClosingCash.Sub(expectedClosing).Round(2)

	metadata["expected_closing"] = expectedClosing
	metadata["variance"] = variance
	metadata["form_input"] = req

	var lines []ledger.LineInput
	addLine := func(accountID uuid.UUID, side ledger.EntrySide, amount decimal.Decimal, description string) {
		lines = append(lines, ledger.LineInput{
			AccountID: accountID, Side: side, Amount: amount.Round(2), Description: description,
		})
	}

	if totalRevenue.IsPositive() {
		addLine(accounts[coa.RoleFuelSales], ledger.SideCredit, totalRevenue, "Daily fuel + oil sales")
	}
	if totalCOGS.IsPositive() {
		addLine(accounts[coa.RoleFuelCOGS], ledger.SideDebit, totalCOGS, "Cost of goods sold")
		addLine(accounts[coa.RoleFuelInventory], ledger.SideCredit, totalCOGS, "Inventory reduction")
	}
	if cashChange := req.ClosingCash.Sub(req.OpeningCash); !cashChange.IsZero() {
		side := ledger.SideCredit
		if cashChange.IsPositive() {
			side = ledger.SideDebit
		}
		addLine(accounts[coa.RoleCashOnHand], side, cashChange.Abs(), "Net cash change")
	}
	if bankDepositsTotal.IsPositive() && accounts.Has(coa.RoleOperatingBank) {
		addLine(accounts[coa.RoleOperatingBank], ledger.SideDebit, bankDepositsTotal, "Cash deposited to bank")
	}
	if cardSwipesTotal.IsPositive() && accounts.Has(coa.RoleCardClearing) {
		addLine(accounts[coa.RoleCardClearing], ledger.SideDebit, cardSwipesTotal, "Card swipes pending settlement")
	}
	if fuelCardsTotal.IsPositive() && accounts.Has(coa.RoleFuelCardClearing) {
		addLine(accounts[coa.RoleFuelCardClearing], ledger.SideDebit, fuelCardsTotal, "Fuel card sales pending settlement")
	}
	if bankTransfersTotal.IsPositive() && accounts.Has(coa.RoleOperatingBank) {
		addLine(accounts[coa.RoleOperatingBank], ledger.SideDebit, bankTransfersTotal, "Customer bank transfers received")
	}
	if partnerDepositsTotal.IsPositive() {
		if !accounts.Has(coa.RolePartnerDeposits) {
			return CloseResult{}, &coa.MissingAccountError{Role: coa.RolePartnerDeposits}
		}
		addLine(accounts[coa.RolePartnerDeposits], ledger.SideCredit, partnerDepositsTotal, "Partner deposits")
	}
	if partnerWithdrawalsTotal.IsPositive() && accounts.Has(coa.RolePartnerDrawings) {
		addLine(accounts[coa.RolePartnerDrawings], ledger.SideDebit, partnerWithdrawalsTotal, "Partner withdrawals")
	}
	if employeeAdvancesTotal.IsPositive() && accounts.Has(coa.RoleEmployeeAdvances) {
		addLine(accounts[coa.RoleEmployeeAdvances], ledger.SideDebit, employeeAdvancesTotal, "Employee salary advances")
	}
	if amanatTotal.IsPositive() {
		if !accounts.Has(coa.RoleAmanatDeposits) {
			return CloseResult{}, &coa.MissingAccountError{Role: coa.RoleAmanatDeposits}
		}
		addLine(accounts[coa.RoleAmanatDeposits], ledger.SideDebit, amanatTotal, "Amanat disbursements")
	}
	for _, accountID := range expenseOrder {
		addLine(accountID, ledger.SideDebit, expensesByAccount[accountID], "Daily expenses")
	}
	if variance.Abs().GreaterThan(ledger.BalanceTolerance) && accounts.Has(coa.RoleCashOverShort) {
		side := ledger.SideDebit
		description := "Cash short"
		if variance.IsPositive() {
			side = ledger.SideCredit
			description = "Cash over"
		}
		addLine(accounts[coa.RoleCashOverShort], side, variance.Abs(), description)
	}
	if totalShrinkage.IsPositive() && accounts.Has(coa.RoleFuelShrinkage) {
		addLine(accounts[coa.RoleFuelShrinkage], ledger.SideDebit, totalShrinkage, "Fuel shrinkage loss")
		addLine(accounts[coa.RoleFuelInventory], ledger.SideCredit, totalShrinkage, "Inventory reduction (shrinkage)")
	}
	if totalGain.IsPositive() && accounts.Has(coa.RoleFuelVarianceGain) {
		addLine(accounts[coa.RoleFuelInventory], ledger.SideDebit, totalGain, "Inventory increase (gain)")
		addLine(accounts[coa.RoleFuelVarianceGain], ledger.SideCredit, totalGain, "Fuel variance gain")
	}

	entry, err := ledger.Post(ctx, gl, ledger.PostingInput{
		CompanyID:     companyID,
		Number:        number,
		Type:          ledger.TypeDailyClose,
		Date:          date,
		Currency:      currency,
		BaseCurrency:  currency,
		Description:   fmt.Sprintf("Daily close - %s", date.Format("2006-01-02")),
		ReferenceType: "fuel.daily_close",
		Metadata:      metadata,
		ActorID:       actorID,
		Lines:         lines,
	})
	if err != nil {
		return CloseResult{}, err
	}

	// 7. Persist nozzle readings and roll the totalizers forward.
	for _, row := range nozzleRows {
		row.CloseTransactionID = entry.ID
		if err := tx.UpsertNozzleReading(ctx, row); err != nil {
			return CloseResult{}, err
		}
		if err := tx.UpdateNozzleTotalizer(ctx, companyID, row.NozzleID, row.ClosingElectronic, row.ClosingManual); err != nil {
			return CloseResult{}, err
		}
	}

	return CloseResult{
		TransactionID:     entry.ID,
		TransactionNumber: number,
		Metadata:          metadata,
	}, nil
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

// metaDecimal pulls a decimal out of stored metadata, tolerating both the
// string and the raw-number JSON encodings.
func metaDecimal(meta map[string]any, key string) decimal.Decimal {
	switch v := meta[key].(type) {
	case decimal.Decimal:
		return v
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	}
	return decimal.Zero
}

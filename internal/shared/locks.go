package shared

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MonthLockKey builds redis keys for the month-end ledger lock critical
// section.
func MonthLockKey(companyID uuid.UUID, month time.Time) string {
	return fmt.Sprintf("ledger:%s:month:%s:lock", companyID, month.Format("200601"))
}

// IntegrityLockKey builds redis keys guarding a company's GL integrity
// sweep.
func IntegrityLockKey(companyID uuid.UUID) string {
	return fmt.Sprintf("ledger:%s:integrity:lock", companyID)
}

package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity re-verifies the double-entry balance invariant
	// across posted transactions.
	TaskGLIntegrity = "gl:integrity"
	// TaskLockMonth bulk-locks close transactions for a calendar month.
	TaskLockMonth = "ledger:lock_month"
)

// GLIntegrityPayload scopes an integrity scan. A zero CompanyID scans
// every company.
type GLIntegrityPayload struct {
	CompanyID uuid.UUID `json:"company_id"`
}

// NewGLIntegrityTask constructs an Asynq task for an integrity scan.
func NewGLIntegrityTask(companyID uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(GLIntegrityPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// LockMonthPayload identifies the close transactions to lock.
type LockMonthPayload struct {
	CompanyID uuid.UUID `json:"company_id"`
	TxType    string    `json:"transaction_type"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	ActorID   uuid.UUID `json:"actor_id"`
}

// NewLockMonthTask constructs an Asynq task for month-end locking.
func NewLockMonthTask(payload LockMonthPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLockMonth, body, asynq.Queue(QueueDefault)), nil
}

// PreviousMonth returns the year and month preceding the given instant.
// Nightly schedules use it to lock the month that just closed.
func PreviousMonth(at time.Time) (int, time.Month) {
	first := time.Date(at.UTC().Year(), at.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}

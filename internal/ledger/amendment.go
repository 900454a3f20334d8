package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxChainDepth bounds amendment-chain walks. A real chain is a handful of
// entries deep; hitting the bound means the links are corrupt.
const maxChainDepth = 100

// Reverse posts the mirror of an amendable transaction inside the caller's
// transactional scope and marks the original as reversed. The reversal is
// dated today, not on the original date, so the audit trail shows when the
// correction happened.
func Reverse(ctx context.Context, tx TxRepository, original Transaction, lines []Line, actorID uuid.UUID, reason string, now time.Time) (Transaction, error) {
	if !original.IsAmendable() {
		return Transaction{}, ErrNotAmendable
	}
	reversal, err := Post(ctx, tx, PostingInput{
		CompanyID:     original.CompanyID,
		Number:        ReversalNumber(original.Number),
		Type:          original.Type + "_reversal",
		Date:          now.Truncate(24 * time.Hour),
		Currency:      original.Currency,
		BaseCurrency:  original.BaseCurrency,
		Description:   fmt.Sprintf("Reversal of %s - %s", original.Number, reason),
		ReferenceType: original.ReferenceType,
		ReversalOfID:  &original.ID,
		ActorID:       actorID,
		Metadata: map[string]any{
			"reverses_date":               original.Date.Format("2006-01-02"),
			"reason":                      reason,
			"original_transaction_number": original.Number,
			"original_metadata":           original.Metadata,
		},
		Lines: ReverseLines(lines),
	})
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.MarkReversed(ctx, original.ID, reversal.ID, actorID, reason, now); err != nil {
		return Transaction{}, err
	}
	return reversal, nil
}

// AmendmentChain walks to the chain root and rebuilds the ordered history:
// root, its reversal if any, then the correction subtree.
func (s *Service) AmendmentChain(ctx context.Context, companyID, transactionID uuid.UUID) ([]ChainEntry, error) {
	var chain []ChainEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		root, err := findRoot(ctx, tx, companyID, transactionID)
		if err != nil {
			return err
		}
		chain, err = buildChain(ctx, tx, companyID, root)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// EffectiveTransaction returns the single non-reversed leaf of the chain
// for a close date: the latest correction, or the original if never
// amended.
func (s *Service) EffectiveTransaction(ctx context.Context, companyID uuid.UUID, txType string, date time.Time) (Transaction, error) {
	var entry Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.LatestUnreversed(ctx, companyID, txType, date)
		return err
	})
	return entry, err
}

// findRoot follows corrects_transaction_id, then reversal_of_id, until
// neither is set. The walk is iterative with a depth guard; a cycle in the
// links is a data-integrity error, not a stack overflow.
func findRoot(ctx context.Context, tx TxRepository, companyID, id uuid.UUID) (Transaction, error) {
	visited := make(map[uuid.UUID]struct{}, 4)
	current, err := tx.GetTransaction(ctx, companyID, id)
	if err != nil {
		return Transaction{}, err
	}
	for depth := 0; ; depth++ {
		if depth >= maxChainDepth {
			return Transaction{}, ErrChainCycle
		}
		if _, ok := visited[current.ID]; ok {
			return Transaction{}, ErrChainCycle
		}
		visited[current.ID] = struct{}{}

		var next *uuid.UUID
		switch {
		case current.CorrectsTransactionID != nil:
			next = current.CorrectsTransactionID
		case current.ReversalOfID != nil:
			next = current.ReversalOfID
		default:
			return current, nil
		}
		parent, err := tx.GetTransaction(ctx, companyID, *next)
		if err != nil {
			return Transaction{}, err
		}
		current = parent
	}
}

func buildChain(ctx context.Context, tx TxRepository, companyID uuid.UUID, root Transaction) ([]ChainEntry, error) {
	var chain []ChainEntry
	current := root
	for depth := 0; ; depth++ {
		if depth >= maxChainDepth {
			return nil, ErrChainCycle
		}
		status := ChainStatusActive
		if current.ReversedByID != nil {
			status = ChainStatusReversed
		}
		kind := "original"
		if current.CorrectsTransactionID != nil {
			kind = "correction"
		}
		chain = append(chain, ChainEntry{
			ID:     current.ID,
			Number: current.Number,
			Date:   current.Date,
			Type:   kind,
			Status: status,
			Reason: current.AmendmentReason,
		})
		if current.ReversedByID == nil {
			return chain, nil
		}
		reversal, err := tx.GetTransaction(ctx, companyID, *current.ReversedByID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, ChainEntry{
			ID:     reversal.ID,
			Number: reversal.Number,
			Date:   reversal.Date,
			Type:   "reversal",
			Status: ChainStatusReversal,
		})
		correction, ok, err := tx.FindCorrectionOf(ctx, companyID, current.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return chain, nil
		}
		current = correction
	}
}

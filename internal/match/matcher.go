package match

import (
	"context"
	"fmt"
	"time"

	"github.com/merchantops/reconcile/internal/gateway"
	"github.com/merchantops/reconcile/internal/notify"
	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
)

// Result reports one matching pass over a file's transactions.
type Result struct {
	Attempted int
	Matched   int
	Failed    int
}

// Matcher reconciles pending transactions against the gateway dataset with a
// bounded number of attempts per transaction. Matching never blocks
// ingestion: a processed file may carry only pending transactions.
type Matcher struct {
	catalog     store.Catalog
	gw          gateway.Client
	maxAttempts int
	notifier    notify.Notifier
	log         log.LoggerService
}

func NewMatcher(catalog store.Catalog, gw gateway.Client, maxAttempts int, notifier notify.Notifier, logger log.LoggerService) *Matcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Matcher{
		catalog:     catalog,
		gw:          gw,
		maxAttempts: maxAttempts,
		notifier:    notifier,
		log:         logger.Named("matcher"),
	}
}

// Match attempts to reconcile every unresolved transaction of the file.
// With force, already-matched transactions are re-attempted as well; the
// attempt log stays append-only either way.
func (m *Matcher) Match(ctx context.Context, fileID uint, force bool) (*Result, error) {
	var txns []models.Transaction
	var err error
	if force {
		txns, err = m.catalog.ListTransactionsByFile(ctx, fileID)
	} else {
		txns, err = m.catalog.ListUnresolvedTransactions(ctx, fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for file %d: %w", fileID, err)
	}

	res := &Result{}
	for i := range txns {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		txn := &txns[i]
		if !force && txn.Resolved() {
			continue
		}

		res.Attempted++
		if err := m.matchOne(ctx, txn); err != nil {
			return res, err
		}
		if txn.IsMatched {
			res.Matched++
		} else if txn.Status == models.TransactionStatusFailed {
			res.Failed++
		}
	}

	if complete, err := m.Complete(ctx, fileID); err == nil && complete {
		m.notifier.Notify(ctx, notify.EventMatchingCompleted, map[string]any{
			"file_id": fileID,
			"matched": res.Matched,
			"failed":  res.Failed,
		})
	}

	return res, nil
}

// Complete reports whether matching for the file reached its terminal state:
// every transaction either matched or permanently failed. Batch commands use
// this predicate to skip files that need no further matching.
func (m *Matcher) Complete(ctx context.Context, fileID uint) (bool, error) {
	total, err := m.catalog.CountTransactionsByFile(ctx, fileID)
	if err != nil {
		return false, err
	}
	matched, err := m.catalog.CountTransactionsByStatus(ctx, fileID, models.TransactionStatusMatched)
	if err != nil {
		return false, err
	}
	failed, err := m.catalog.CountTransactionsByStatus(ctx, fileID, models.TransactionStatusFailed)
	if err != nil {
		return false, err
	}
	return matched+failed >= total, nil
}

func (m *Matcher) matchOne(ctx context.Context, txn *models.Transaction) error {
	keys := gateway.Keys{
		PaymentID:  txn.PaymentID,
		Amount:     txn.Amount,
		Currency:   txn.Currency,
		MerchantID: txn.MerchantID,
		Reference:  txn.Reference,
		Timestamp:  txn.TransactionAt,
	}

	result, queryErr := m.gw.Query(ctx, keys)
	now := time.Now().UTC()

	attempt := &models.MatchingAttempt{
		TransactionID: txn.ID,
		Strategy:      m.gw.Strategy(),
		AttemptedAt:   now,
	}

	switch {
	case queryErr != nil:
		attempt.Outcome = models.AttemptOutcomeError
		attempt.Error = queryErr.Error()
	case result != nil:
		attempt.Outcome = models.AttemptOutcomeMatched
	default:
		attempt.Outcome = models.AttemptOutcomeNoMatch
	}

	if err := m.catalog.AppendAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record attempt for transaction %d: %w", txn.ID, err)
	}

	if result != nil {
		txn.Status = models.TransactionStatusMatched
		txn.IsMatched = true
		txn.MatchedAt = &now
		txn.GatewayID = result.GatewayID
		txn.GatewayReference = result.Reference
		if err := m.catalog.UpdateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to update matched transaction %d: %w", txn.ID, err)
		}
		return nil
	}

	if txn.IsMatched {
		// Forced re-attempt that found nothing: keep the existing linkage,
		// the attempt log already records the outcome.
		return nil
	}

	attempts, err := m.catalog.CountAttempts(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("failed to count attempts for transaction %d: %w", txn.ID, err)
	}

	exhausted := attempts >= int64(m.maxAttempts)
	terminal := queryErr != nil && gateway.IsNonRetryable(queryErr)

	if exhausted || terminal {
		txn.Status = models.TransactionStatusFailed
		txn.IsMatched = false
		if err := m.catalog.UpdateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to fail transaction %d: %w", txn.ID, err)
		}
		m.log.Debug("Transaction %d failed permanently after %d attempt(s)", txn.ID, attempts)
	}

	return nil
}

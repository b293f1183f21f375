package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
	"github.com/shopspring/decimal"
)

// ErrNoRowsProcessed means a nonempty file produced zero stored transactions.
// Callers must treat this as a hard failure, never a silent success.
var ErrNoRowsProcessed = errors.New("no rows processed")

// Result reports one ingestion pass over a file.
type Result struct {
	Processed int
	Failed    int
	Skipped   int
	TotalRows int

	Resumed     bool
	Reprocessed bool
}

// Ingestor parses report files into transactions. Ingestion is resumable and
// idempotent: a re-run after a crash continues from the stored row count, and
// duplicate (file, payment id) pairs are skipped silently.
type Ingestor struct {
	catalog store.Catalog
	log     log.LoggerService
}

func NewIngestor(catalog store.Catalog, logger log.LoggerService) *Ingestor {
	return &Ingestor{
		catalog: catalog,
		log:     logger.Named("ingestor"),
	}
}

// Ingest parses content for the given file and stores the resulting
// transactions. The caller decides the file's terminal status from the
// returned counts and error.
func (ing *Ingestor) Ingest(ctx context.Context, file *models.ReportFile, content []byte) (*Result, error) {
	return ing.ingest(ctx, file, content, true)
}

// TotalRows derives the data-row count from live file content without
// touching the catalog.
func (ing *Ingestor) TotalRows(content []byte) int {
	lines := normalizeLines(content)
	if len(lines) <= 1 {
		return 0
	}
	return len(lines) - 1
}

func (ing *Ingestor) ingest(ctx context.Context, file *models.ReportFile, content []byte, allowReprocess bool) (*Result, error) {
	lines := normalizeLines(content)
	if len(lines) == 0 {
		return nil, fmt.Errorf("file %s is empty", file.Filename)
	}

	delim := detectDelimiter(lines[0])
	header := parseHeader(lines[0], delim)
	totalRows := len(lines) - 1
	res := &Result{TotalRows: totalRows}

	if totalRows == 0 {
		return res, fmt.Errorf("file %s has a header but no data rows", file.Filename)
	}

	existing, err := ing.catalog.CountTransactionsByFile(ctx, file.ID)
	if err != nil {
		return res, fmt.Errorf("failed to count stored transactions: %w", err)
	}

	if existing >= int64(totalRows) {
		ing.log.Debug("File %s already has %d of %d rows stored", file.Filename, existing, totalRows)
	} else {
		start := int(existing)
		if start > 0 {
			res.Resumed = true
			ing.log.Info("Resuming %s from row %d of %d", file.Filename, start, totalRows)
		}

		for i, line := range lines[1+start:] {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			rowNum := start + i + 1
			fields := splitRow(line, delim, len(header))
			record := make(map[string]string, len(header))
			for j, col := range header {
				record[col] = fields[j]
			}

			txn, err := ing.buildTransaction(file.ID, record, line)
			if err != nil {
				res.Failed++
				ing.log.Warn("Row %d of %s failed: %v", rowNum, file.Filename, err)
				continue
			}

			if txn.PaymentID != "" {
				exists, err := ing.catalog.TransactionExists(ctx, file.ID, txn.PaymentID)
				if err != nil {
					return res, fmt.Errorf("failed to check for duplicate at row %d: %w", rowNum, err)
				}
				if exists {
					res.Skipped++
					continue
				}
			}

			if err := ing.catalog.CreateTransaction(ctx, txn); err != nil {
				res.Failed++
				ing.log.Warn("Row %d of %s could not be stored: %v", rowNum, file.Filename, err)
				continue
			}
			res.Processed++
		}
	}

	stored, err := ing.catalog.CountTransactionsByFile(ctx, file.ID)
	if err != nil {
		return res, fmt.Errorf("failed to count stored transactions: %w", err)
	}
	missing, err := ing.catalog.CountMissingPaymentIDs(ctx, file.ID)
	if err != nil {
		return res, fmt.Errorf("failed to check payment ids: %w", err)
	}

	if stored > int64(totalRows) || missing > 0 {
		if !allowReprocess {
			return res, fmt.Errorf("file %s still inconsistent after reprocessing (stored=%d rows=%d missing_ids=%d)",
				file.Filename, stored, totalRows, missing)
		}

		ing.log.Warn("Data-quality anomaly in %s (stored=%d rows=%d missing_ids=%d), reprocessing from scratch",
			file.Filename, stored, totalRows, missing)

		if err := ing.catalog.DeleteTransactionsByFile(ctx, file.ID); err != nil {
			return res, fmt.Errorf("failed to clear transactions for reprocessing: %w", err)
		}

		fresh, err := ing.ingest(ctx, file, content, false)
		if fresh != nil {
			fresh.Reprocessed = true
		}
		return fresh, err
	}

	if stored == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoRowsProcessed, file.Filename)
	}

	return res, nil
}

func (ing *Ingestor) buildTransaction(fileID uint, record map[string]string, raw string) (*models.Transaction, error) {
	txn := &models.Transaction{
		FileID:     fileID,
		PaymentID:  firstValue(record, paymentIDColumns),
		Currency:   firstValue(record, currencyColumns),
		MerchantID: firstValue(record, merchantColumns),
		Reference:  firstValue(record, referenceColumns),
		Raw:        raw,
		Status:     models.TransactionStatusPending,
	}

	if v := firstValue(record, amountColumns); v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", v, err)
		}
		txn.Amount = amount
	}

	if v := firstValue(record, timestampColumns); v != "" {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				txn.TransactionAt = &ts
				break
			}
		}
		// Unparseable timestamps are tolerated; the field stays nil.
	}

	return txn, nil
}

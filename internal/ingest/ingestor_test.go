package ingest

import (
	"context"
	"testing"

	config "github.com/merchantops/reconcile/internal/config"
	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.LoggerService {
	return log.NewLoggerService("test", config.LogConfig{
		Level:      "ERROR",
		TimeFormat: "15:04:05",
		NoColor:    true,
	})
}

func newTestCatalog(t *testing.T) *store.SQLiteCatalog {
	t.Helper()

	catalog, err := store.NewSQLiteCatalog(store.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, catalog.Connect(ctx))
	require.NoError(t, catalog.Migrate(ctx))

	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func newTestFile(t *testing.T, catalog *store.SQLiteCatalog) *models.ReportFile {
	t.Helper()

	file := &models.ReportFile{
		Filename:   "TRANSACTION_REPORT_20250601.csv",
		RemotePath: "/reports/TRANSACTION_REPORT_20250601.csv",
		FileType:   models.FileTypeCSV,
		Status:     models.FileStatusProcessing,
	}
	require.NoError(t, catalog.CreateFile(context.Background(), file))
	return file
}

func TestIngestValidFile(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())

	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,10.50,EUR\npay-2,20.00,EUR\npay-3,5.25,USD\n")

	res, err := ing.Ingest(context.Background(), file, content)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 3, res.TotalRows)

	txns, err := catalog.ListTransactionsByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, "pay-1", txns[0].PaymentID)
	assert.True(t, txns[0].Amount.Equal(decimal.RequireFromString("10.50")))
	assert.Equal(t, "EUR", txns[0].Currency)
	assert.Equal(t, models.TransactionStatusPending, txns[0].Status)
}

func TestIngestIsIdempotent(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())

	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,10.50,EUR\npay-2,20.00,EUR\n")

	_, err := ing.Ingest(context.Background(), file, content)
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), file, content)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	count, err := catalog.CountTransactionsByFile(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIngestResumesFromStoredCount(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())
	ctx := context.Background()

	// Two rows already stored by a previous, interrupted run.
	for _, id := range []string{"pay-1", "pay-2"} {
		require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
			FileID:    file.ID,
			PaymentID: id,
			Status:    models.TransactionStatusPending,
		}))
	}

	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,10.50,EUR\npay-2,20.00,EUR\npay-3,5.25,USD\n")

	res, err := ing.Ingest(ctx, file, content)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 1, res.Processed)

	count, err := catalog.CountTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestIngestSkipsDuplicatePaymentIDs(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())
	ctx := context.Background()

	// The stored count says one row, but it is the second row of the file:
	// overlapping ranges must be caught by the duplicate check.
	require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
		FileID:    file.ID,
		PaymentID: "pay-2",
		Status:    models.TransactionStatusPending,
	}))

	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,10.50,EUR\npay-2,20.00,EUR\n")

	res, err := ing.Ingest(ctx, file, content)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.Skipped)

	count, err := catalog.CountTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIngestSemicolonDelimiterAndBOM(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())

	content := []byte("\uFEFFpayment_id;amount;ccy\r\npay-1;10.50;EUR\r\npay-2;20.00;EUR\r\n")

	res, err := ing.Ingest(context.Background(), file, content)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	txns, err := catalog.ListTransactionsByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "pay-1", txns[0].PaymentID)
}

func TestIngestPadsShortRows(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())

	// Second row misses the currency column; it is padded, not rejected.
	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,10.50,EUR\npay-2,20.00\n")

	res, err := ing.Ingest(context.Background(), file, content)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Failed)

	txns, err := catalog.ListTransactionsByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "", txns[1].Currency)
}

func TestIngestCountsBadRowsWithoutAborting(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())

	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,not-a-number,EUR\npay-2,20.00,EUR\n")

	res, err := ing.Ingest(context.Background(), file, content)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
}

func TestIngestEmptyFileIsFatal(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())

	_, err := ing.Ingest(context.Background(), file, []byte(""))
	assert.Error(t, err)

	_, err = ing.Ingest(context.Background(), file, []byte("PAYMENT_ID,AMOUNT,CCY\n"))
	assert.Error(t, err)
}

func TestIngestNoRowsProcessedIsAnError(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())

	// Every row fails to parse; zero stored rows is a hard failure.
	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,bad,EUR\npay-2,worse,EUR\n")

	_, err := ing.Ingest(context.Background(), file, content)
	assert.ErrorIs(t, err, ErrNoRowsProcessed)
}

func TestIngestReprocessesOnMissingPaymentIDs(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())
	ctx := context.Background()

	// A stored transaction without a payment id trips the data-quality
	// check and forces a full reingest.
	require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
		FileID: file.ID,
		Status: models.TransactionStatusPending,
	}))

	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,10.50,EUR\npay-2,20.00,EUR\n")

	res, err := ing.Ingest(ctx, file, content)
	require.NoError(t, err)
	assert.True(t, res.Reprocessed)
	assert.Equal(t, 2, res.Processed)

	missing, err := catalog.CountMissingPaymentIDs(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), missing)

	count, err := catalog.CountTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIngestReprocessesWhenStoredExceedsRows(t *testing.T) {
	catalog := newTestCatalog(t)
	file := newTestFile(t, catalog)
	ing := NewIngestor(catalog, testLogger())
	ctx := context.Background()

	for _, id := range []string{"stale-1", "stale-2", "stale-3"} {
		require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
			FileID:    file.ID,
			PaymentID: id,
			Status:    models.TransactionStatusPending,
		}))
	}

	content := []byte("PAYMENT_ID,AMOUNT,CCY\npay-1,10.50,EUR\npay-2,20.00,EUR\n")

	res, err := ing.Ingest(ctx, file, content)
	require.NoError(t, err)
	assert.True(t, res.Reprocessed)

	txns, err := catalog.ListTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "pay-1", txns[0].PaymentID)
	assert.Equal(t, "pay-2", txns[1].PaymentID)
}

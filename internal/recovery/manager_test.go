package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	config "github.com/merchantops/reconcile/internal/config"
	"github.com/merchantops/reconcile/internal/ingest"
	"github.com/merchantops/reconcile/internal/notify"
	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reportContent = "PAYMENT_ID,AMOUNT,CCY\npay-1,10.50,EUR\npay-2,20.00,EUR\npay-3,5.25,USD\n"

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

func newTestManager(t *testing.T, catalog *store.SQLiteCatalog) *Manager {
	t.Helper()
	ingestor := ingest.NewIngestor(catalog, testLogger())
	return NewManager(catalog, ingestor, 2*time.Hour, notify.NopNotifier{}, testLogger())
}

func writeReport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "TRANSACTION_REPORT_20250601.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func createProcessingFile(t *testing.T, catalog *store.SQLiteCatalog, localPath string, age time.Duration) *models.ReportFile {
	t.Helper()
	ctx := context.Background()

	file := &models.ReportFile{
		Filename:  filepath.Base(localPath),
		LocalPath: localPath,
		FileType:  models.FileTypeCSV,
		Status:    models.FileStatusProcessing,
	}
	require.NoError(t, catalog.CreateFile(ctx, file))

	if age > 0 {
		require.NoError(t, catalog.DB().
			Model(&models.ReportFile{}).
			Where("id = ?", file.ID).
			UpdateColumn("updated_at", time.Now().UTC().Add(-age)).Error)
	}
	return file
}

func TestRecoverStuckIgnoresFreshFiles(t *testing.T) {
	catalog := newTestCatalog(t)
	createProcessingFile(t, catalog, writeReport(t, reportContent), 0)

	report, err := newTestManager(t, catalog).RecoverStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Examined)
}

func TestRecoverStuckResetsFileWithoutTransactions(t *testing.T) {
	catalog := newTestCatalog(t)
	file := createProcessingFile(t, catalog, writeReport(t, reportContent), 3*time.Hour)

	report, err := newTestManager(t, catalog).RecoverStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Reset)

	reloaded, err := catalog.GetFileByID(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusPending, reloaded.Status)
}

func TestRecoverStuckResumesPartialFile(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	file := createProcessingFile(t, catalog, writeReport(t, reportContent), 3*time.Hour)

	// One of three rows made it before the crash.
	require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
		FileID:    file.ID,
		PaymentID: "pay-1",
		Status:    models.TransactionStatusPending,
	}))

	report, err := newTestManager(t, catalog).RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resumed)

	reloaded, err := catalog.GetFileByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusProcessed, reloaded.Status)
	require.NotNil(t, reloaded.ProcessedAt)

	count, err := catalog.CountTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRecoverStuckFailsWhenLocalCopyIsGone(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	file := createProcessingFile(t, catalog, "/nonexistent/report.csv", 3*time.Hour)

	require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
		FileID:    file.ID,
		PaymentID: "pay-1",
		Status:    models.TransactionStatusPending,
	}))

	report, err := newTestManager(t, catalog).RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	reloaded, err := catalog.GetFileByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "not resumable")
}

func TestResumeAlreadyCompleteMarksProcessed(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	file := createProcessingFile(t, catalog, writeReport(t, reportContent), 0)

	for _, id := range []string{"pay-1", "pay-2", "pay-3"} {
		require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
			FileID:    file.ID,
			PaymentID: id,
			Status:    models.TransactionStatusPending,
		}))
	}

	require.NoError(t, newTestManager(t, catalog).Resume(ctx, file.ID))

	reloaded, err := catalog.GetFileByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusProcessed, reloaded.Status)
}

func TestResumeMissingLocalFile(t *testing.T) {
	catalog := newTestCatalog(t)
	file := createProcessingFile(t, catalog, "/nonexistent/report.csv", 0)

	err := newTestManager(t, catalog).Resume(context.Background(), file.ID)
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestVerifyReportsDeltaWithoutMutating(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	file := createProcessingFile(t, catalog, writeReport(t, reportContent), 0)

	require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
		FileID:    file.ID,
		PaymentID: "pay-1",
		Status:    models.TransactionStatusPending,
	}))

	report, err := newTestManager(t, catalog).Verify(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.TotalRows)
	assert.Equal(t, int64(1), report.Stored)
	assert.Equal(t, int64(2), report.Delta)
	assert.False(t, report.Complete)

	// Nothing changed behind the report's back.
	count, err := catalog.CountTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	reloaded, err := catalog.GetFileByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusProcessing, reloaded.Status)
}

func TestCleanupResetsEmptyProcessedFiles(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	processedAt := time.Now().UTC()
	empty := &models.ReportFile{
		Filename:    "empty.csv",
		FileType:    models.FileTypeCSV,
		Status:      models.FileStatusProcessed,
		ProcessedAt: &processedAt,
	}
	require.NoError(t, catalog.CreateFile(ctx, empty))

	report, err := newTestManager(t, catalog).Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesReset)
	assert.Equal(t, int64(0), report.OrphansRemoved)

	reloaded, err := catalog.GetFileByID(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusPending, reloaded.Status)
	assert.Nil(t, reloaded.ProcessedAt)
}

func TestCleanupRemovesOrphanTransactions(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	file := createProcessingFile(t, catalog, writeReport(t, reportContent), 0)
	require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
		FileID:    file.ID,
		PaymentID: "pay-1",
		Status:    models.TransactionStatusPending,
	}))

	require.NoError(t, catalog.DB().Exec("DELETE FROM report_files WHERE id = ?", file.ID).Error)

	report, err := newTestManager(t, catalog).Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.OrphansRemoved)
}

func TestRetryFailedResetsFileAndTransactions(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	file := &models.ReportFile{
		Filename:     "failed.csv",
		FileType:     models.FileTypeCSV,
		Status:       models.FileStatusFailed,
		ErrorMessage: "ingestion interrupted after 1 row(s)",
	}
	require.NoError(t, catalog.CreateFile(ctx, file))

	require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
		FileID:    file.ID,
		PaymentID: "pay-1",
		Status:    models.TransactionStatusFailed,
	}))

	require.NoError(t, newTestManager(t, catalog).RetryFailed(ctx, file.ID))

	reloaded, err := catalog.GetFileByID(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusPending, reloaded.Status)
	assert.Empty(t, reloaded.ErrorMessage)

	pending, err := catalog.CountTransactionsByStatus(ctx, file.ID, models.TransactionStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestRetryFailedRejectsNonFailedFile(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	file := createProcessingFile(t, catalog, writeReport(t, reportContent), 0)
	assert.Error(t, newTestManager(t, catalog).RetryFailed(ctx, file.ID))
}

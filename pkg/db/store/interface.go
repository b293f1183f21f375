package store

import (
	"context"
	"time"

	"github.com/merchantops/reconcile/pkg/db/models"
)

// Catalog defines the interface for file and transaction persistence.
// The relational store is the single source of truth: callers must not hold
// File or Transaction state across operations without re-validating status.
type Catalog interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// File operations
	CreateFile(ctx context.Context, file *models.ReportFile) error
	GetFileByID(ctx context.Context, id uint) (*models.ReportFile, error)
	GetFileByName(ctx context.Context, filename string) (*models.ReportFile, error)
	UpdateFile(ctx context.Context, file *models.ReportFile) error
	ListFilesByStatus(ctx context.Context, status models.FileStatus) ([]models.ReportFile, error)
	DeleteFile(ctx context.Context, id uint) error

	// ClaimFile transitions a file between statuses with a single conditional
	// update. It returns false when the file was not in the expected status,
	// meaning another worker owns it.
	ClaimFile(ctx context.Context, id uint, from, to models.FileStatus) (bool, error)

	// Recovery queries
	StaleProcessingFiles(ctx context.Context, olderThan time.Time) ([]models.ReportFile, error)
	ProcessedFilesWithoutTransactions(ctx context.Context) ([]models.ReportFile, error)

	// Transaction operations
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	UpdateTransaction(ctx context.Context, txn *models.Transaction) error
	TransactionExists(ctx context.Context, fileID uint, paymentID string) (bool, error)
	CountTransactionsByFile(ctx context.Context, fileID uint) (int64, error)
	CountTransactionsByStatus(ctx context.Context, fileID uint, status models.TransactionStatus) (int64, error)
	CountMissingPaymentIDs(ctx context.Context, fileID uint) (int64, error)
	ListTransactionsByFile(ctx context.Context, fileID uint) ([]models.Transaction, error)
	ListUnresolvedTransactions(ctx context.Context, fileID uint) ([]models.Transaction, error)
	DeleteTransactionsByFile(ctx context.Context, fileID uint) error
	ResetFailedTransactions(ctx context.Context, fileID uint) (int64, error)

	// Attempt operations
	AppendAttempt(ctx context.Context, attempt *models.MatchingAttempt) error
	CountAttempts(ctx context.Context, transactionID uint) (int64, error)

	// Orphan cleanup
	DeleteOrphanTransactions(ctx context.Context) (int64, error)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/merchantops/reconcile/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteCatalog implements Catalog using SQLite
type SQLiteCatalog struct {
	db   *gorm.DB
	path string
}

// DB returns the underlying GORM database instance
func (s *SQLiteCatalog) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path     string
	LogLevel logger.LogLevel
}

// NewSQLiteCatalog creates a new SQLite-backed catalog
func NewSQLiteCatalog(cfg SQLiteConfig) (*SQLiteCatalog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteCatalog{
		db:   db,
		path: cfg.Path,
	}, nil
}

// Connect initializes the database connection
func (s *SQLiteCatalog) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// SQLite only supports 1 writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Cascade deletes depend on FK enforcement
	if err := s.db.WithContext(ctx).Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteCatalog) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

// Migrate runs database migrations
func (s *SQLiteCatalog) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.ReportFile{},
		&models.Transaction{},
		&models.MatchingAttempt{},
	)
}

// Health checks database connectivity
func (s *SQLiteCatalog) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// File operations

func (s *SQLiteCatalog) CreateFile(ctx context.Context, file *models.ReportFile) error {
	return s.db.WithContext(ctx).Create(file).Error
}

func (s *SQLiteCatalog) GetFileByID(ctx context.Context, id uint) (*models.ReportFile, error) {
	var file models.ReportFile
	err := s.db.WithContext(ctx).First(&file, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (s *SQLiteCatalog) GetFileByName(ctx context.Context, filename string) (*models.ReportFile, error) {
	var file models.ReportFile
	err := s.db.WithContext(ctx).Where("filename = ?", filename).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (s *SQLiteCatalog) UpdateFile(ctx context.Context, file *models.ReportFile) error {
	return s.db.WithContext(ctx).Save(file).Error
}

func (s *SQLiteCatalog) ListFilesByStatus(ctx context.Context, status models.FileStatus) ([]models.ReportFile, error) {
	var files []models.ReportFile
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&files).Error
	return files, err
}

func (s *SQLiteCatalog) DeleteFile(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&models.ReportFile{}, id).Error
}

// ClaimFile performs an atomic conditional status transition. At most one
// caller observes RowsAffected == 1 for a given (id, from) pair.
func (s *SQLiteCatalog) ClaimFile(ctx context.Context, id uint, from, to models.FileStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ReportFile{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Recovery queries

func (s *SQLiteCatalog) StaleProcessingFiles(ctx context.Context, olderThan time.Time) ([]models.ReportFile, error) {
	var files []models.ReportFile
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.FileStatusProcessing, olderThan).
		Order("updated_at ASC").
		Find(&files).Error
	return files, err
}

func (s *SQLiteCatalog) ProcessedFilesWithoutTransactions(ctx context.Context) ([]models.ReportFile, error) {
	var files []models.ReportFile
	sub := s.db.Model(&models.Transaction{}).
		Select("1").
		Where("transactions.file_id = report_files.id")
	err := s.db.WithContext(ctx).
		Where("status = ?", models.FileStatusProcessed).
		Where("NOT EXISTS (?)", sub).
		Find(&files).Error
	return files, err
}

// Transaction operations

func (s *SQLiteCatalog) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return s.db.WithContext(ctx).Create(txn).Error
}

func (s *SQLiteCatalog) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	return s.db.WithContext(ctx).Save(txn).Error
}

func (s *SQLiteCatalog) TransactionExists(ctx context.Context, fileID uint, paymentID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("file_id = ? AND payment_id = ?", fileID, paymentID).
		Count(&count).Error
	return count > 0, err
}

func (s *SQLiteCatalog) CountTransactionsByFile(ctx context.Context, fileID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("file_id = ?", fileID).
		Count(&count).Error
	return count, err
}

func (s *SQLiteCatalog) CountTransactionsByStatus(ctx context.Context, fileID uint, status models.TransactionStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("file_id = ? AND status = ?", fileID, status).
		Count(&count).Error
	return count, err
}

func (s *SQLiteCatalog) CountMissingPaymentIDs(ctx context.Context, fileID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("file_id = ? AND (payment_id IS NULL OR payment_id = '')", fileID).
		Count(&count).Error
	return count, err
}

func (s *SQLiteCatalog) ListTransactionsByFile(ctx context.Context, fileID uint) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.WithContext(ctx).
		Preload("Attempts").
		Where("file_id = ?", fileID).
		Order("id ASC").
		Find(&txns).Error
	return txns, err
}

func (s *SQLiteCatalog) ListUnresolvedTransactions(ctx context.Context, fileID uint) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.WithContext(ctx).
		Preload("Attempts").
		Where("file_id = ? AND is_matched = ? AND status != ?", fileID, false, models.TransactionStatusFailed).
		Order("id ASC").
		Find(&txns).Error
	return txns, err
}

func (s *SQLiteCatalog) DeleteTransactionsByFile(ctx context.Context, fileID uint) error {
	return s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Delete(&models.Transaction{}).Error
}

func (s *SQLiteCatalog) ResetFailedTransactions(ctx context.Context, fileID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("file_id = ? AND status = ?", fileID, models.TransactionStatusFailed).
		Updates(map[string]any{
			"status":     models.TransactionStatusPending,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// Attempt operations

func (s *SQLiteCatalog) AppendAttempt(ctx context.Context, attempt *models.MatchingAttempt) error {
	return s.db.WithContext(ctx).Create(attempt).Error
}

func (s *SQLiteCatalog) CountAttempts(ctx context.Context, transactionID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.MatchingAttempt{}).
		Where("transaction_id = ?", transactionID).
		Count(&count).Error
	return count, err
}

// Orphan cleanup

func (s *SQLiteCatalog) DeleteOrphanTransactions(ctx context.Context) (int64, error) {
	sub := s.db.Model(&models.ReportFile{}).Select("id")

	attempts := s.db.WithContext(ctx).
		Where("transaction_id IN (?)",
			s.db.Model(&models.Transaction{}).Select("id").Where("file_id NOT IN (?)", sub)).
		Delete(&models.MatchingAttempt{})
	if attempts.Error != nil {
		return 0, attempts.Error
	}

	res := s.db.WithContext(ctx).
		Where("file_id NOT IN (?)", sub).
		Delete(&models.Transaction{})
	return res.RowsAffected, res.Error
}

package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/merchantops/reconcile/internal/ingest"
	"github.com/merchantops/reconcile/internal/notify"
	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
)

// ErrNotResumable marks a stuck file whose local copy is gone; it cannot be
// re-ingested and is failed instead.
var ErrNotResumable = errors.New("local file missing, not resumable")

// StuckReport summarizes one stuck-file scan.
type StuckReport struct {
	Examined int
	Reset    int
	Resumed  int
	Failed   int
}

// VerifyReport compares live CSV content to the stored transaction count
// without mutating anything.
type VerifyReport struct {
	FileID    uint
	Filename  string
	TotalRows int
	Stored    int64
	Delta     int64
	Complete  bool
}

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	FilesReset     int
	OrphansRemoved int64
}

// Manager detects and repairs inconsistent states left behind by crashes,
// timeouts and interrupted batches. Every operation is idempotent and safe
// to run repeatedly, concurrently with batch ingestion.
type Manager struct {
	catalog    store.Catalog
	ingestor   *ingest.Ingestor
	staleAfter time.Duration
	notifier   notify.Notifier
	log        log.LoggerService
}

func NewManager(catalog store.Catalog, ingestor *ingest.Ingestor, staleAfter time.Duration, notifier notify.Notifier, logger log.LoggerService) *Manager {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Hour
	}
	return &Manager{
		catalog:    catalog,
		ingestor:   ingestor,
		staleAfter: staleAfter,
		notifier:   notifier,
		log:        logger.Named("recovery"),
	}
}

// RecoverStuck scans for files claimed longer ago than the staleness
// threshold and resolves each one: reset when no transactions were stored,
// resume when the local file is still readable, fail otherwise. Staleness is
// computed from updated_at so a file still making progress is never reclaimed.
func (m *Manager) RecoverStuck(ctx context.Context) (*StuckReport, error) {
	cutoff := time.Now().UTC().Add(-m.staleAfter)
	files, err := m.catalog.StaleProcessingFiles(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for stuck files: %w", err)
	}

	report := &StuckReport{Examined: len(files)}
	for i := range files {
		file := &files[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}

		count, err := m.catalog.CountTransactionsByFile(ctx, file.ID)
		if err != nil {
			return report, fmt.Errorf("failed to count transactions for %s: %w", file.Filename, err)
		}

		switch {
		case count == 0:
			file.Status = models.FileStatusPending
			file.ErrorMessage = ""
			if err := m.catalog.UpdateFile(ctx, file); err != nil {
				return report, fmt.Errorf("failed to reset %s: %w", file.Filename, err)
			}
			m.log.Info("Reset stuck file %s to pending (no transactions stored)", file.Filename)
			m.notifyAction(ctx, file, "reset")
			report.Reset++

		default:
			content, readErr := os.ReadFile(file.LocalPath)
			if readErr != nil {
				file.Status = models.FileStatusFailed
				file.ErrorMessage = fmt.Sprintf("%v: %v", ErrNotResumable, readErr)
				if err := m.catalog.UpdateFile(ctx, file); err != nil {
					return report, fmt.Errorf("failed to fail %s: %w", file.Filename, err)
				}
				m.log.Warn("Stuck file %s failed: %v", file.Filename, readErr)
				m.notifyAction(ctx, file, "failed")
				report.Failed++
				continue
			}

			if err := m.resume(ctx, file, content); err != nil {
				m.log.Warn("Could not resume stuck file %s: %v", file.Filename, err)
				report.Failed++
				continue
			}
			m.notifyAction(ctx, file, "resumed")
			report.Resumed++
		}
	}

	return report, nil
}

// Resume re-derives the row count from the live file content and, when the
// stored transactions fall short, ingests the remainder before marking the
// file processed.
func (m *Manager) Resume(ctx context.Context, fileID uint) error {
	file, err := m.catalog.GetFileByID(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to load file %d: %w", fileID, err)
	}

	content, err := os.ReadFile(file.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotResumable, err)
	}

	return m.resume(ctx, file, content)
}

func (m *Manager) resume(ctx context.Context, file *models.ReportFile, content []byte) error {
	totalRows := m.ingestor.TotalRows(content)
	stored, err := m.catalog.CountTransactionsByFile(ctx, file.ID)
	if err != nil {
		return fmt.Errorf("failed to count transactions: %w", err)
	}

	if stored < int64(totalRows) {
		res, err := m.ingestor.Ingest(ctx, file, content)
		if err != nil {
			// Partial progress stays resumable: keep the file in processing
			// with an informative error instead of failing it.
			file.Status = models.FileStatusProcessing
			file.ErrorMessage = fmt.Sprintf("resume incomplete: %v", err)
			if uerr := m.catalog.UpdateFile(ctx, file); uerr != nil {
				return fmt.Errorf("failed to record resume error: %v (original: %w)", uerr, err)
			}
			return err
		}
		m.log.Info("Resumed %s: %d processed, %d failed", file.Filename, res.Processed, res.Failed)
	}

	now := time.Now().UTC()
	file.Status = models.FileStatusProcessed
	file.ErrorMessage = ""
	file.ProcessedAt = &now
	if err := m.catalog.UpdateFile(ctx, file); err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", file.Filename, err)
	}

	return nil
}

// Verify reports the delta between live CSV row count and stored
// transactions for a file. It never mutates state.
func (m *Manager) Verify(ctx context.Context, fileID uint) (*VerifyReport, error) {
	file, err := m.catalog.GetFileByID(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load file %d: %w", fileID, err)
	}

	content, err := os.ReadFile(file.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file.LocalPath, err)
	}

	totalRows := m.ingestor.TotalRows(content)
	stored, err := m.catalog.CountTransactionsByFile(ctx, file.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	return &VerifyReport{
		FileID:    file.ID,
		Filename:  file.Filename,
		TotalRows: totalRows,
		Stored:    stored,
		Delta:     int64(totalRows) - stored,
		Complete:  stored >= int64(totalRows),
	}, nil
}

// Cleanup repairs structural inconsistencies: processed files with zero
// transactions go back to pending, and transactions whose owning file no
// longer exists are removed.
func (m *Manager) Cleanup(ctx context.Context) (*CleanupReport, error) {
	report := &CleanupReport{}

	files, err := m.catalog.ProcessedFilesWithoutTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan processed files: %w", err)
	}

	for i := range files {
		file := &files[i]
		file.Status = models.FileStatusPending
		file.ProcessedAt = nil
		file.ErrorMessage = ""
		if err := m.catalog.UpdateFile(ctx, file); err != nil {
			return report, fmt.Errorf("failed to reset %s: %w", file.Filename, err)
		}
		m.log.Info("Reset %s: processed with zero transactions", file.Filename)
		m.notifyAction(ctx, file, "reset_empty")
		report.FilesReset++
	}

	orphans, err := m.catalog.DeleteOrphanTransactions(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to remove orphan transactions: %w", err)
	}
	if orphans > 0 {
		m.log.Warn("Removed %d orphan transaction(s)", orphans)
	}
	report.OrphansRemoved = orphans

	return report, nil
}

// RetryFailed resets a failed file back to pending for manual retry and
// clears its failed transactions for another matching round.
func (m *Manager) RetryFailed(ctx context.Context, fileID uint) error {
	file, err := m.catalog.GetFileByID(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to load file %d: %w", fileID, err)
	}
	if file.Status != models.FileStatusFailed {
		return fmt.Errorf("file %s is %s, not failed", file.Filename, file.Status)
	}

	reset, err := m.catalog.ResetFailedTransactions(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to reset transactions: %w", err)
	}

	file.Status = models.FileStatusPending
	file.ErrorMessage = ""
	if err := m.catalog.UpdateFile(ctx, file); err != nil {
		return fmt.Errorf("failed to reset %s: %w", file.Filename, err)
	}

	m.log.Info("Reset failed file %s to pending (%d transaction(s) reset)", file.Filename, reset)
	m.notifyAction(ctx, file, "retry")
	return nil
}

func (m *Manager) notifyAction(ctx context.Context, file *models.ReportFile, action string) {
	m.notifier.Notify(ctx, notify.EventRecoveryAction, map[string]any{
		"file_id":  file.ID,
		"filename": file.Filename,
		"action":   action,
	})
}

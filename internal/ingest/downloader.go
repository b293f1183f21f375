package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/merchantops/reconcile/internal/notify"
	"github.com/merchantops/reconcile/internal/remote"
	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
)

// DownloadError wraps transport and verification failures. A failed download
// never creates or mutates a catalog row.
type DownloadError struct {
	Filename string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s failed: %v", e.Filename, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Downloader fetches remote report files into the date-partitioned local
// layout and registers them in the catalog as pending work.
type Downloader struct {
	catalog  store.Catalog
	client   remote.Client
	baseDir  string
	notifier notify.Notifier
	log      log.LoggerService
}

func NewDownloader(catalog store.Catalog, client remote.Client, baseDir string, notifier notify.Notifier, logger log.LoggerService) *Downloader {
	return &Downloader{
		catalog:  catalog,
		client:   client,
		baseDir:  baseDir,
		notifier: notifier,
		log:      logger.Named("downloader"),
	}
}

// LocalPath computes the date-partitioned destination for a descriptor:
// <base>/<YYYY>/<MM>/<DD>/<filename>.
func (d *Downloader) LocalPath(desc remote.Descriptor) string {
	date := desc.BusinessDate
	return filepath.Join(d.baseDir,
		date.Format("2006"), date.Format("01"), date.Format("02"),
		desc.Name)
}

// Download fetches a descriptor unless the file is already fully processed.
// It returns the catalog row and whether the descriptor was skipped.
func (d *Downloader) Download(ctx context.Context, desc remote.Descriptor, force bool) (*models.ReportFile, bool, error) {
	existing, err := d.catalog.GetFileByName(ctx, desc.Name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up %s: %w", desc.Name, err)
	}

	if existing != nil && existing.Status == models.FileStatusProcessed && !force {
		d.log.Debug("Skipping %s: already processed", desc.Name)
		return existing, true, nil
	}

	localPath := d.LocalPath(desc)
	if err := d.client.Download(ctx, desc.RemotePath, localPath); err != nil {
		return nil, false, &DownloadError{Filename: desc.Name, Err: err}
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, false, &DownloadError{Filename: desc.Name, Err: fmt.Errorf("local copy missing: %w", err)}
	}
	if info.Size() == 0 {
		os.Remove(localPath)
		return nil, false, &DownloadError{Filename: desc.Name, Err: fmt.Errorf("local copy is empty")}
	}

	now := time.Now().UTC()
	if existing != nil {
		existing.RemotePath = desc.RemotePath
		existing.LocalPath = localPath
		existing.SizeBytes = info.Size()
		existing.Status = models.FileStatusPending
		existing.ErrorMessage = ""
		existing.DownloadedAt = now
		existing.BusinessDate = desc.BusinessDate
		existing.Forced = force
		existing.ProcessedAt = nil

		if err := d.catalog.UpdateFile(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("failed to update file record for %s: %w", desc.Name, err)
		}

		d.log.Info("Re-downloaded %s (%d bytes)", desc.Name, info.Size())
		d.notifyDownloaded(ctx, existing)
		return existing, false, nil
	}

	file := &models.ReportFile{
		Filename:     desc.Name,
		RemotePath:   desc.RemotePath,
		LocalPath:    localPath,
		SizeBytes:    info.Size(),
		FileType:     models.FileTypeCSV,
		Status:       models.FileStatusPending,
		DownloadedAt: now,
		BusinessDate: desc.BusinessDate,
		Forced:       force,
	}

	if err := d.catalog.CreateFile(ctx, file); err != nil {
		return nil, false, fmt.Errorf("failed to register %s: %w", desc.Name, err)
	}

	d.log.Info("Downloaded %s (%d bytes)", desc.Name, info.Size())
	d.notifyDownloaded(ctx, file)
	return file, false, nil
}

func (d *Downloader) notifyDownloaded(ctx context.Context, file *models.ReportFile) {
	d.notifier.Notify(ctx, notify.EventFileDownloaded, map[string]any{
		"file_id":  file.ID,
		"filename": file.Filename,
		"size":     file.SizeBytes,
	})
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	config "github.com/merchantops/reconcile/internal/config"
	"github.com/merchantops/reconcile/internal/ingest"
	"github.com/merchantops/reconcile/internal/match"
	"github.com/merchantops/reconcile/internal/notify"
	"github.com/merchantops/reconcile/internal/remote"
	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
)

// ErrAlreadyClaimed means another worker owns the file.
var ErrAlreadyClaimed = errors.New("file already claimed")

// Summary aggregates the counts of one batch run. Every batch command
// reports these and exits non-zero when Failed > 0.
type Summary struct {
	RunID string

	Found      int
	Downloaded int
	Skipped    int
	Processed  int
	Failed     int
	Matched    int
	Unmatched  int
}

// Runner drives the pipeline: discovery, download, ingestion and matching.
// Files are processed one at a time per worker; each file is claimed with an
// atomic status transition so at most one worker ever owns it.
type Runner struct {
	catalog    store.Catalog
	remote     remote.Client
	locator    *remote.Locator
	downloader *ingest.Downloader
	ingestor   *ingest.Ingestor
	matcher    *match.Matcher
	notifier   notify.Notifier
	log        log.LoggerService

	reportDir   string
	workers     int
	pause       time.Duration
	fileTimeout time.Duration
}

func NewRunner(
	catalog store.Catalog,
	client remote.Client,
	locator *remote.Locator,
	downloader *ingest.Downloader,
	ingestor *ingest.Ingestor,
	matcher *match.Matcher,
	notifier notify.Notifier,
	logger log.LoggerService,
	cfg *config.BaseConfig,
) *Runner {
	workers := cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		catalog:     catalog,
		remote:      client,
		locator:     locator,
		downloader:  downloader,
		ingestor:    ingestor,
		matcher:     matcher,
		notifier:    notifier,
		log:         logger.Named("pipeline"),
		reportDir:   cfg.Remote.ReportDir,
		workers:     workers,
		pause:       config.Duration(cfg.Pipeline.Pause, 2*time.Second),
		fileTimeout: config.Duration(cfg.Pipeline.FileTimeout, 30*time.Minute),
	}
}

// Run executes the full pipeline for the date range: locate, download,
// ingest, match. One file's error never aborts the batch; remaining files
// are still processed and the failure is reflected in the summary.
func (r *Runner) Run(ctx context.Context, from, to time.Time, force bool) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString()}
	r.log.Info("Starting run %s for %s..%s", sum.RunID, from.Format("2006-01-02"), to.Format("2006-01-02"))

	descs, err := r.locator.Find(ctx, r.reportDir, from, to)
	if err != nil {
		return sum, err
	}
	sum.Found = len(descs)

	var files []*models.ReportFile
	for _, desc := range descs {
		file, skipped, err := r.downloader.Download(ctx, desc, force)
		if err != nil {
			r.log.Error("Download of %s failed: %v", desc.Name, err)
			sum.Failed++
			continue
		}
		if skipped {
			sum.Skipped++
			continue
		}
		sum.Downloaded++
		files = append(files, file)
	}

	r.processAll(ctx, files, force, sum)
	return sum, nil
}

// ProcessPending ingests and matches every file currently pending in the
// catalog, without touching the remote server.
func (r *Runner) ProcessPending(ctx context.Context, force bool) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString()}

	pending, err := r.catalog.ListFilesByStatus(ctx, models.FileStatusPending)
	if err != nil {
		return sum, fmt.Errorf("failed to list pending files: %w", err)
	}
	sum.Found = len(pending)

	files := make([]*models.ReportFile, len(pending))
	for i := range pending {
		files[i] = &pending[i]
	}

	r.processAll(ctx, files, force, sum)
	return sum, nil
}

// processAll fans the files out over the worker pool. With a single worker
// this is plain sequential processing with a pause between files.
func (r *Runner) processAll(ctx context.Context, files []*models.ReportFile, force bool, sum *Summary) {
	if len(files) == 0 {
		return
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	queue := make(chan *models.ReportFile)

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range queue {
				matchRes, err := r.ProcessFile(ctx, file, force)

				mu.Lock()
				switch {
				case errors.Is(err, ErrAlreadyClaimed):
					sum.Skipped++
				case err != nil:
					sum.Failed++
				default:
					sum.Processed++
				}
				if matchRes != nil {
					sum.Matched += matchRes.Matched
					sum.Unmatched += matchRes.Failed
				}
				mu.Unlock()

				select {
				case <-ctx.Done():
					return
				case <-time.After(r.pause):
				}
			}
		}()
	}

	for _, file := range files {
		select {
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			return
		case queue <- file:
		}
	}
	close(queue)
	wg.Wait()
}

// ProcessFile claims, ingests and matches one file under the per-file
// deadline. The claim is an atomic conditional update; losing it returns
// ErrAlreadyClaimed.
func (r *Runner) ProcessFile(ctx context.Context, file *models.ReportFile, force bool) (*match.Result, error) {
	claimed, err := r.catalog.ClaimFile(ctx, file.ID, models.FileStatusPending, models.FileStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s: %w", file.Filename, err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, file.Filename)
	}
	file.Status = models.FileStatusProcessing

	// The per-file deadline only bounds the ingest and match work; status
	// bookkeeping uses the caller's context so an expired deadline can
	// still be recorded.
	ictx, cancel := context.WithTimeout(ctx, r.fileTimeout)
	defer cancel()

	content, err := os.ReadFile(file.LocalPath)
	if err != nil {
		r.markFailed(ctx, file, fmt.Sprintf("unreadable local file: %v", err))
		return nil, fmt.Errorf("failed to read %s: %w", file.LocalPath, err)
	}

	res, err := r.ingestor.Ingest(ictx, file, content)
	if err != nil {
		if r.storedProgress(ctx, file, res) {
			// Stored rows are preserved: the file stays in processing
			// with an informative message and remains resumable.
			file.ErrorMessage = fmt.Sprintf("ingestion interrupted, stored rows kept: %v", err)
			if uerr := r.catalog.UpdateFile(ctx, file); uerr != nil {
				r.log.Error("Failed to record partial progress for %s: %v", file.Filename, uerr)
			}
			return nil, err
		}

		r.markFailed(ctx, file, err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	file.Status = models.FileStatusProcessed
	file.ErrorMessage = ""
	file.ProcessedAt = &now
	if err := r.catalog.UpdateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to mark %s processed: %w", file.Filename, err)
	}

	if moved, err := MoveToCategory(file.LocalPath, CategoryProcessed); err != nil {
		r.log.Warn("Could not sort %s into %s/: %v", file.Filename, CategoryProcessed, err)
	} else if moved != file.LocalPath {
		file.LocalPath = moved
		if err := r.catalog.UpdateFile(ctx, file); err != nil {
			r.log.Warn("Could not record new path for %s: %v", file.Filename, err)
		}
	}
	r.moveRemote(ctx, file, CategoryProcessed)

	r.log.Info("Processed %s: %d row(s), %d failed, %d skipped", file.Filename, res.Processed, res.Failed, res.Skipped)
	r.notifier.Notify(ctx, notify.EventFileProcessed, map[string]any{
		"file_id":   file.ID,
		"filename":  file.Filename,
		"processed": res.Processed,
		"failed":    res.Failed,
	})

	return r.matchFile(ictx, file, force)
}

// storedProgress reports whether any of the file's rows made it into the
// catalog, counting rows stored by earlier interrupted passes as well. Such
// a file is kept resumable instead of failed.
func (r *Runner) storedProgress(ctx context.Context, file *models.ReportFile, res *ingest.Result) bool {
	if res != nil && (res.Processed > 0 || res.Resumed) {
		return true
	}
	stored, err := r.catalog.CountTransactionsByFile(ctx, file.ID)
	return err == nil && stored > 0
}

// moveRemote sorts the remote original into the category subdirectory. The
// client is nil for catalog-only commands; move failures are logged, never
// fatal, and the catalog keeps the old path for a later retry.
func (r *Runner) moveRemote(ctx context.Context, file *models.ReportFile, category string) {
	if r.remote == nil || file.RemotePath == "" {
		return
	}

	dest := remote.CategoryPath(file.RemotePath, category)
	if dest == file.RemotePath {
		return
	}

	if err := r.remote.Move(ctx, file.RemotePath, category); err != nil {
		r.log.Warn("Could not sort remote %s into %s/: %v", file.Filename, category, err)
		return
	}

	file.RemotePath = dest
	if err := r.catalog.UpdateFile(ctx, file); err != nil {
		r.log.Warn("Could not record new remote path for %s: %v", file.Filename, err)
	}
}

// MatchFile runs matching for one file unless it is already complete.
func (r *Runner) MatchFile(ctx context.Context, fileID uint, force bool) (*match.Result, error) {
	file, err := r.catalog.GetFileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return r.matchFile(ctx, file, force)
}

func (r *Runner) matchFile(ctx context.Context, file *models.ReportFile, force bool) (*match.Result, error) {
	if r.matcher == nil {
		// No gateway configured: ingestion still completes, matching is
		// deferred to a later `match` run.
		return &match.Result{}, nil
	}

	if !force {
		complete, err := r.matcher.Complete(ctx, file.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check matching completeness: %w", err)
		}
		if complete {
			r.log.Debug("Matching for %s already complete", file.Filename)
			return &match.Result{}, nil
		}
	}

	return r.matcher.Match(ctx, file.ID, force)
}

// markFailed transitions the file to failed and sorts its local copy into
// the failed subdirectory. Re-failing a file that already lives there only
// updates the message with a retry counter, it is never moved again.
func (r *Runner) markFailed(ctx context.Context, file *models.ReportFile, msg string) {
	dest := CategoryPath(file.LocalPath, CategoryFailed)
	if dest == file.LocalPath {
		file.RetryCount++
		msg = fmt.Sprintf("%s (retry %d)", msg, file.RetryCount)
	} else if moved, err := MoveToCategory(file.LocalPath, CategoryFailed); err != nil {
		r.log.Warn("Could not sort %s into %s/: %v", file.Filename, CategoryFailed, err)
	} else {
		file.LocalPath = moved
	}

	file.Status = models.FileStatusFailed
	file.ErrorMessage = msg
	if err := r.catalog.UpdateFile(ctx, file); err != nil {
		r.log.Error("Failed to mark %s failed: %v", file.Filename, err)
		return
	}
	r.moveRemote(ctx, file, CategoryFailed)

	r.notifier.Notify(ctx, notify.EventFileFailed, map[string]any{
		"file_id":  file.ID,
		"filename": file.Filename,
		"error":    msg,
	})
}

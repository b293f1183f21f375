package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/merchantops/reconcile/internal/notify"
	"github.com/merchantops/reconcile/internal/remote"
	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	payload []byte
	err     error
}

func (f *fakeRemote) List(ctx context.Context, dir string) ([]remote.Entry, error) {
	return nil, nil
}

func (f *fakeRemote) Download(ctx context.Context, remotePath, localPath string) error {
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, f.payload, 0644)
}

func (f *fakeRemote) Move(ctx context.Context, remotePath, category string) error {
	return nil
}

func (f *fakeRemote) Close() error {
	return nil
}

func testDescriptor() remote.Descriptor {
	date, _ := time.Parse("2006-01-02", "2025-06-01")
	return remote.Descriptor{
		Name:         "TRANSACTION_REPORT_20250601.csv",
		RemotePath:   "/reports/TRANSACTION_REPORT_20250601.csv",
		Size:         42,
		BusinessDate: date,
	}
}

func TestDownloadRegistersPendingFile(t *testing.T) {
	catalog := newTestCatalog(t)
	dir := t.TempDir()
	client := &fakeRemote{payload: []byte("PAYMENT_ID,AMOUNT\npay-1,10.00\n")}
	dl := NewDownloader(catalog, client, dir, notify.NopNotifier{}, testLogger())

	file, skipped, err := dl.Download(context.Background(), testDescriptor(), false)
	require.NoError(t, err)
	assert.False(t, skipped)

	assert.Equal(t, models.FileStatusPending, file.Status)
	assert.Equal(t, filepath.Join(dir, "2025", "06", "01", "TRANSACTION_REPORT_20250601.csv"), file.LocalPath)
	assert.FileExists(t, file.LocalPath)
	assert.Equal(t, int64(len(client.payload)), file.SizeBytes)
	assert.False(t, file.DownloadedAt.IsZero())
}

func TestDownloadSkipsProcessedFiles(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	desc := testDescriptor()

	require.NoError(t, catalog.CreateFile(ctx, &models.ReportFile{
		Filename: desc.Name,
		FileType: models.FileTypeCSV,
		Status:   models.FileStatusProcessed,
	}))

	client := &fakeRemote{payload: []byte("data")}
	dl := NewDownloader(catalog, client, t.TempDir(), notify.NopNotifier{}, testLogger())

	file, skipped, err := dl.Download(ctx, desc, false)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Equal(t, models.FileStatusProcessed, file.Status)
}

func TestDownloadForceRedownloadsProcessedFile(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	desc := testDescriptor()

	processedAt := time.Now().UTC()
	require.NoError(t, catalog.CreateFile(ctx, &models.ReportFile{
		Filename:    desc.Name,
		FileType:    models.FileTypeCSV,
		Status:      models.FileStatusProcessed,
		ProcessedAt: &processedAt,
	}))

	client := &fakeRemote{payload: []byte("data")}
	dl := NewDownloader(catalog, client, t.TempDir(), notify.NopNotifier{}, testLogger())

	file, skipped, err := dl.Download(ctx, desc, true)
	require.NoError(t, err)
	assert.False(t, skipped)

	// The existing row is reset in place, no duplicate is created.
	assert.Equal(t, models.FileStatusPending, file.Status)
	assert.True(t, file.Forced)
	assert.Nil(t, file.ProcessedAt)

	reloaded, err := catalog.GetFileByName(ctx, desc.Name)
	require.NoError(t, err)
	assert.Equal(t, file.ID, reloaded.ID)
}

func TestDownloadFailureLeavesNoRecord(t *testing.T) {
	catalog := newTestCatalog(t)
	desc := testDescriptor()

	client := &fakeRemote{err: errors.New("connection reset")}
	dl := NewDownloader(catalog, client, t.TempDir(), notify.NopNotifier{}, testLogger())

	_, _, err := dl.Download(context.Background(), desc, false)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, desc.Name, dlErr.Filename)

	_, err = catalog.GetFileByName(context.Background(), desc.Name)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDownloadEmptyFileIsRejected(t *testing.T) {
	catalog := newTestCatalog(t)
	desc := testDescriptor()

	client := &fakeRemote{payload: []byte{}}
	dl := NewDownloader(catalog, client, t.TempDir(), notify.NopNotifier{}, testLogger())

	_, _, err := dl.Download(context.Background(), desc, false)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)

	// The empty local copy is removed again.
	assert.NoFileExists(t, dl.LocalPath(desc))
}

package models

import (
	"time"
)

// FileStatus is the processing lifecycle state of a report file.
// The values are persisted as-is and also consumed by external
// reporting queries, so they must stay stable.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusProcessed  FileStatus = "processed"
	FileStatusFailed     FileStatus = "failed"
)

// FileTypeCSV is currently the only recognized tabular format.
const FileTypeCSV = "csv"

// ReportFile represents one downloaded transaction-report file and its
// processing lifecycle. Exactly one row exists per filename; a re-download
// updates the row in place instead of inserting a duplicate.
type ReportFile struct {
	ID       uint   `gorm:"primaryKey"`
	Filename string `gorm:"type:text;not null;uniqueIndex"`

	RemotePath string `gorm:"type:text;not null"`
	LocalPath  string `gorm:"type:text"`
	SizeBytes  int64  `gorm:"not null"`
	FileType   string `gorm:"type:text;not null"`

	Status       FileStatus `gorm:"type:text;not null;index"`
	ErrorMessage string     `gorm:"type:text"`
	RetryCount   int        `gorm:"default:0"`

	// Download provenance, kept as fixed columns instead of a metadata blob.
	DownloadedAt time.Time
	BusinessDate time.Time `gorm:"index"`
	Forced       bool      `gorm:"default:false"`

	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Relationships
	Transactions []Transaction `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE"`
}

// IsTerminal reports whether the file reached a terminal lifecycle state.
func (f *ReportFile) IsTerminal() bool {
	return f.Status == FileStatusProcessed || f.Status == FileStatusFailed
}

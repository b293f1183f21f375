package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the matching lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusMatched TransactionStatus = "matched"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// Attempt outcomes recorded in the matching log.
const (
	AttemptOutcomeMatched = "matched"
	AttemptOutcomeNoMatch = "no_match"
	AttemptOutcomeError   = "error"
)

// Transaction is one parsed data row, owned exclusively by its file.
// A transaction is a duplicate when the (FileID, PaymentID) pair already
// exists; uniqueness is enforced at ingestion time because rows without a
// payment id are still stored and flagged later by the data-quality check.
type Transaction struct {
	ID     uint `gorm:"primaryKey"`
	FileID uint `gorm:"not null;index:idx_txn_file_payment"`

	PaymentID string `gorm:"type:text;index:idx_txn_file_payment"`

	// Raw business fields. Opaque to the pipeline beyond being matching keys.
	Amount        decimal.Decimal `gorm:"type:text"`
	Currency      string          `gorm:"type:text"`
	TransactionAt *time.Time
	MerchantID    string `gorm:"type:text"`
	Reference     string `gorm:"type:text"`
	Raw           string `gorm:"type:text"`

	Status    TransactionStatus `gorm:"type:text;not null;index"`
	IsMatched bool              `gorm:"default:false;index"`
	MatchedAt *time.Time

	// Gateway linkage, populated only when matched.
	GatewayID        string `gorm:"type:text"`
	GatewayReference string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relationships
	File     ReportFile        `gorm:"foreignKey:FileID;references:ID"`
	Attempts []MatchingAttempt `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
}

// Resolved reports whether matching reached a terminal outcome.
func (t *Transaction) Resolved() bool {
	return t.IsMatched || t.Status == TransactionStatusFailed
}

// MatchingAttempt is one recorded try to reconcile a transaction against
// the gateway dataset. The log is append-only.
type MatchingAttempt struct {
	ID            uint   `gorm:"primaryKey"`
	TransactionID uint   `gorm:"not null;index"`
	Strategy      string `gorm:"type:text;not null"`
	Outcome       string `gorm:"type:text;not null"`
	Error         string `gorm:"type:text"`
	AttemptedAt   time.Time

	Transaction Transaction `gorm:"foreignKey:TransactionID;references:ID"`
}

// Package domain contains the bulk import job model and contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ImportStatus represents import job lifecycle states.
type ImportStatus string

const (
	ImportStatusRunning ImportStatus = "running"
	ImportStatusDone    ImportStatus = "done"
	ImportStatusFailed  ImportStatus = "failed"
)

// ImportJob records one bulk ingestion attempt. Fingerprint is the
// stable hash of the source payload; a second job with the same
// fingerprint is refused unless explicitly overridden.
type ImportJob struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	Reference     string         `gorm:"type:text;not null;uniqueIndex" json:"reference"`
	Fingerprint   string         `gorm:"type:text;not null;index" json:"fingerprint"`
	Status        ImportStatus   `gorm:"type:text;not null;default:'running';index" json:"status"`
	RowsSeen      int            `gorm:"not null;default:0" json:"rows_seen"`
	RowsValid     int            `gorm:"not null;default:0" json:"rows_valid"`
	RowsPersisted int            `gorm:"not null;default:0" json:"rows_persisted"`
	RowsRejected  int            `gorm:"not null;default:0" json:"rows_rejected"`
	RowsFailed    int            `gorm:"not null;default:0" json:"rows_failed"`
	Report        datatypes.JSON `gorm:"type:jsonb" json:"report,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	FinishedAt    *time.Time     `gorm:"" json:"finished_at,omitempty"`
}

// TableName sets the database table name.
func (ImportJob) TableName() string { return "import_jobs" }

// Row is one parsed source line: enrollment data plus an optional
// payment. Amounts are minor units.
type Row struct {
	Line        int        `json:"line"`
	Email       string     `json:"email" validate:"required,email"`
	FirstName   string     `json:"first_name" validate:"required"`
	LastName    string     `json:"last_name" validate:"required"`
	YearLabel   string     `json:"year_label" validate:"required"`
	TariffCents int64      `json:"tariff_cents" validate:"gte=0"`
	AmountCents int64      `json:"amount_cents"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	Method      string     `json:"method,omitempty"`
	Reference   string     `json:"reference,omitempty"`
}

// HasPayment reports whether the row carries a payment to record.
func (r Row) HasPayment() bool {
	return r.AmountCents != 0 || r.PaidAt != nil
}

// RowOutcome is the per-row audit entry of the job report.
type RowOutcome struct {
	Line     int    `json:"line"`
	Identity string `json:"identity"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
}

const (
	OutcomePersisted    = "persisted"
	OutcomeRejected     = "rejected"
	OutcomeInsertFailed = "insert_failed"
)

type Request struct {
	Fingerprint string `json:"fingerprint" validate:"required"`
	Rows        []Row  `json:"rows"`
	Override    bool   `json:"override"`
}

// Report distinguishes the three loss points: rows seen in the source,
// rows that passed validation, and rows actually persisted.
type Report struct {
	JobReference  string       `json:"job_reference"`
	RowsSeen      int          `json:"rows_seen"`
	RowsValid     int          `json:"rows_valid"`
	RowsPersisted int          `json:"rows_persisted"`
	RowsRejected  int          `json:"rows_rejected"`
	RowsFailed    int          `json:"rows_failed"`
	Outcomes      []RowOutcome `json:"outcomes"`
}

// Service ingests bulk payment/student data idempotently.
type Service interface {
	Run(ctx context.Context, req Request) (Report, error)
	GetByReference(ctx context.Context, reference string) (ImportJob, error)
}

var (
	ErrDuplicateImport    = errors.New("duplicate_import")
	ErrEmptyImport        = errors.New("empty_import")
	ErrMissingFingerprint = errors.New("missing_fingerprint")
	ErrJobNotFound        = errors.New("import_job_not_found")
)

// Package domain contains the anomaly model and detection contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AnomalyType enumerates the structural inconsistencies the detector
// looks for.
type AnomalyType string

const (
	AnomalyTypeDuplicateStudent AnomalyType = "duplicate_student"
	AnomalyTypeOrphanPayment    AnomalyType = "orphan_payment"
	AnomalyTypeScheduleMismatch AnomalyType = "schedule_mismatch"
)

// Severity grades how urgently an anomaly needs an operator.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AnomalyStatus represents anomaly lifecycle states. Transitions out of
// open are operator-driven, never the detector's.
type AnomalyStatus string

const (
	AnomalyStatusOpen     AnomalyStatus = "open"
	AnomalyStatusResolved AnomalyStatus = "resolved"
	AnomalyStatusIgnored  AnomalyStatus = "ignored"
)

// Anomaly is one detected inconsistency. DedupeKey keeps repeated scans
// from opening the same finding twice.
type Anomaly struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	Type            AnomalyType       `gorm:"type:text;not null;index" json:"type"`
	Severity        Severity          `gorm:"type:text;not null" json:"severity"`
	Status          AnomalyStatus     `gorm:"type:text;not null;default:'open';index" json:"status"`
	Detail          datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"detail"`
	BillingRecordID *snowflake.ID     `gorm:"index" json:"billing_record_id,omitempty"`
	DedupeKey       string            `gorm:"type:text;not null;uniqueIndex" json:"dedupe_key"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Anomaly) TableName() string { return "anomalies" }

// ScanResult reports a population scan. Success+Errors always equals
// Total so operators can audit completeness.
type ScanResult struct {
	Total           int `json:"total"`
	Success         int `json:"success"`
	Errors          int `json:"errors"`
	AnomaliesOpened int `json:"anomalies_opened"`
}

type ListRequest struct {
	Status AnomalyStatus
	Type   AnomalyType
}

// Service scans the population and manages anomaly lifecycle.
type Service interface {
	Scan(ctx context.Context) (ScanResult, error)
	Resolve(ctx context.Context, id snowflake.ID) error
	Ignore(ctx context.Context, id snowflake.ID) error
	List(ctx context.Context, req ListRequest) ([]Anomaly, error)
}

var (
	ErrAnomalyNotFound = errors.New("anomaly_not_found")
	ErrAnomalyClosed   = errors.New("anomaly_not_open")
)

// Package domain contains the risk evaluation model and contract.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RiskLevel buckets a score for operators.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// FactorCode identifies one scoring rule. The set is fixed; only the
// weights are operator-configurable.
type FactorCode string

const (
	FactorOverdue30Days     FactorCode = "overdue_30_days"
	FactorMultipleOverdue   FactorCode = "multiple_overdue"
	FactorBalanceOverHalf   FactorCode = "balance_over_half"
	FactorBalanceOverNinety FactorCode = "balance_over_ninety"
	FactorCarriedArrears    FactorCode = "carried_arrears"
	FactorNoPayment90Days   FactorCode = "no_payment_90_days"
	FactorRefusedRecent     FactorCode = "refused_payment_recent"
)

// FactorHit is one triggered rule with the points it contributed.
type FactorHit struct {
	Code   FactorCode `json:"code"`
	Label  string     `json:"label"`
	Points int        `json:"points"`
}

// RiskEvaluation persists one scoring run. The (record, day) unique index
// enforces the at-most-one-evaluation-per-day contract.
type RiskEvaluation struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	BillingRecordID snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_risk_evaluations_record_day,priority:1"`
	Score           int            `gorm:"not null"`
	Level           RiskLevel      `gorm:"type:text;not null"`
	Factors         datatypes.JSON `gorm:"type:jsonb"`
	Recommendation  string         `gorm:"type:text;not null"`
	EvaluatedOn     string         `gorm:"type:text;not null;uniqueIndex:ux_risk_evaluations_record_day,priority:2"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RiskEvaluation) TableName() string { return "risk_evaluations" }

// Evaluation is the caller-facing view of a scoring run.
type Evaluation struct {
	BillingRecordID snowflake.ID `json:"billing_record_id"`
	Score           int          `json:"score"`
	Level           RiskLevel    `json:"level"`
	Factors         []FactorHit  `json:"factors"`
	Recommendation  string       `json:"recommendation"`
	EvaluatedOn     string       `json:"evaluated_on"`
}

// Service scores non-payment risk, at most once per record per day.
type Service interface {
	Evaluate(ctx context.Context, recordID snowflake.ID) (Evaluation, error)
}

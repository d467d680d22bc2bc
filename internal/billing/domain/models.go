// Package domain contains the billing record, payment and installment
// models shared by every engine. All monetary amounts are int64 minor
// units (cents); the balance tolerance is one cent.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BalanceToleranceCents absorbs rounding drift in balance comparisons.
const BalanceToleranceCents = int64(1)

// CreditorThresholdCents is the balance below which a record is a creditor.
const CreditorThresholdCents = int64(-1000)

// RecordStatus represents billing record lifecycle states.
type RecordStatus string

const (
	RecordStatusActive     RecordStatus = "active"
	RecordStatusClosed     RecordStatus = "closed"
	RecordStatusTerminated RecordStatus = "terminated"
)

// PaymentState classifies a record's balance for operators.
type PaymentState string

const (
	PaymentStateCurrent    PaymentState = "current"
	PaymentStateCreditor   PaymentState = "creditor"
	PaymentStateInProgress PaymentState = "in_progress"
	PaymentStateLate       PaymentState = "late"
)

// BillingRecord is a student's tuition obligation for one enrollment year.
// It is never physically removed while payments reference it.
type BillingRecord struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	StudentID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_billing_records_student_year,priority:1" json:"student_id"`
	YearLabel    string       `gorm:"type:text;not null;uniqueIndex:ux_billing_records_student_year,priority:2" json:"year_label"`
	TariffCents  int64        `gorm:"not null;default:0" json:"tariff_cents"`
	ArrearsCents int64        `gorm:"not null;default:0" json:"arrears_cents"`
	Status       RecordStatus `gorm:"type:text;not null;default:'active';index" json:"status"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (BillingRecord) TableName() string { return "billing_records" }

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodTransfer    PaymentMethod = "transfer"
	PaymentMethodCheck       PaymentMethod = "check"
	PaymentMethodDirectDebit PaymentMethod = "direct_debit"
	PaymentMethodMobile      PaymentMethod = "mobile"
)

// ValidMethod reports whether m is a known payment method.
func ValidMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer,
		PaymentMethodCheck, PaymentMethodDirectDebit, PaymentMethodMobile:
		return true
	default:
		return false
	}
}

// PaymentStatus represents payment lifecycle states. Only valid payments
// count toward the balance.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusValid     PaymentStatus = "valid"
	PaymentStatusRefused   PaymentStatus = "refused"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusValid, PaymentStatusRefused, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Payment is a recorded money movement against a billing record.
// Payments are never deleted, only status-transitioned.
type Payment struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	BillingRecordID snowflake.ID  `gorm:"not null;index" json:"billing_record_id"`
	AmountCents     int64         `gorm:"not null" json:"amount_cents"`
	PaidAt          time.Time     `gorm:"not null" json:"paid_at"`
	Method          PaymentMethod `gorm:"type:text;not null" json:"method"`
	Status          PaymentStatus `gorm:"type:text;not null;default:'pending';index" json:"status"`
	Reference       string        `gorm:"type:text" json:"reference,omitempty"`
	InstallmentID   *snowflake.ID `gorm:"index" json:"installment_id,omitempty"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// InstallmentStatus represents installment lifecycle states.
type InstallmentStatus string

const (
	InstallmentStatusUpcoming  InstallmentStatus = "upcoming"
	InstallmentStatusPaid      InstallmentStatus = "paid"
	InstallmentStatusOverdue   InstallmentStatus = "overdue"
	InstallmentStatusCancelled InstallmentStatus = "cancelled"
)

// Installment is one scheduled due amount against a billing record.
type Installment struct {
	ID              snowflake.ID      `gorm:"primaryKey" json:"id"`
	BillingRecordID snowflake.ID      `gorm:"not null;index" json:"billing_record_id"`
	AmountCents     int64             `gorm:"not null" json:"amount_cents"`
	DueAt           time.Time         `gorm:"not null;index" json:"due_at"`
	Status          InstallmentStatus `gorm:"type:text;not null;default:'upcoming';index" json:"status"`
	PaymentID       *snowflake.ID     `gorm:"index" json:"payment_id,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Installment) TableName() string { return "installments" }

// ExpectedTotalCents is what the record's schedule and payments must
// ultimately cover.
func (r BillingRecord) ExpectedTotalCents() int64 {
	return r.TariffCents + r.ArrearsCents
}

// WithinTolerance reports whether a cent amount is zero up to rounding.
func WithinTolerance(cents int64) bool {
	if cents < 0 {
		cents = -cents
	}
	return cents <= BalanceToleranceCents
}
